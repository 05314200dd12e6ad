// Copyright 2020 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"context"
	"time"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/metrics"
	"google.golang.org/grpc/metadata"
)

// recordRequest records a request and its latency.
func recordRequest(ctx context.Context, mh metrics.MetricHandle, method metrics.UploadMethod, start time.Time) {
	mh.UploadRequestCount(1, method)
	mh.UploadRequestLatencies(ctx, time.Since(start), method)
}

// NewMonitoringBucket returns a gcs.Bucket whose connections export request
// metrics for monitoring.
func NewMonitoringBucket(b gcs.Bucket, mh metrics.MetricHandle) gcs.Bucket {
	return &monitoringBucket{
		wrapped: b,
		mh:      mh,
	}
}

type monitoringBucket struct {
	wrapped gcs.Bucket
	mh      metrics.MetricHandle
}

func (mb *monitoringBucket) Name() string {
	return mb.wrapped.Name()
}

func (mb *monitoringBucket) CreateAppendableUpload(ctx context.Context, req *gcs.CreateObjectRequest) (gcs.WriterConnection, error) {
	conn, err := mb.wrapped.CreateAppendableUpload(ctx, req)
	if err != nil {
		return nil, err
	}
	return &monitoringConnection{wrapped: conn, mh: mb.mh}, nil
}

func (mb *monitoringBucket) ResumeAppendableUpload(ctx context.Context, uploadID string) (gcs.WriterConnection, error) {
	conn, err := mb.wrapped.ResumeAppendableUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return &monitoringConnection{wrapped: conn, mh: mb.mh}, nil
}

type monitoringConnection struct {
	wrapped gcs.WriterConnection
	mh      metrics.MetricHandle
}

func (mc *monitoringConnection) UploadID() string {
	return mc.wrapped.UploadID()
}

func (mc *monitoringConnection) PersistedState() gcs.PersistedState {
	return mc.wrapped.PersistedState()
}

func (mc *monitoringConnection) Write(ctx context.Context, p cord.Cord) error {
	startTime := time.Now()
	err := mc.wrapped.Write(ctx, p)
	recordRequest(ctx, mc.mh, metrics.UploadMethodWriteAttr, startTime)
	if err == nil {
		mc.mh.UploadSentBytesCount(p.Size(), metrics.UploadMethodWriteAttr)
	}
	return err
}

func (mc *monitoringConnection) Flush(ctx context.Context, p cord.Cord) error {
	startTime := time.Now()
	err := mc.wrapped.Flush(ctx, p)
	recordRequest(ctx, mc.mh, metrics.UploadMethodFlushAttr, startTime)
	if err == nil {
		mc.mh.UploadSentBytesCount(p.Size(), metrics.UploadMethodFlushAttr)
	}
	return err
}

func (mc *monitoringConnection) Finalize(ctx context.Context, p cord.Cord) (*gcs.Object, error) {
	startTime := time.Now()
	o, err := mc.wrapped.Finalize(ctx, p)
	recordRequest(ctx, mc.mh, metrics.UploadMethodFinalizeAttr, startTime)
	if err == nil {
		mc.mh.UploadSentBytesCount(p.Size(), metrics.UploadMethodFinalizeAttr)
	}
	return o, err
}

func (mc *monitoringConnection) Query(ctx context.Context) (int64, error) {
	startTime := time.Now()
	n, err := mc.wrapped.Query(ctx)
	recordRequest(ctx, mc.mh, metrics.UploadMethodQueryAttr, startTime)
	return n, err
}

func (mc *monitoringConnection) Cancel() {
	mc.wrapped.Cancel()
}

func (mc *monitoringConnection) RequestMetadata() metadata.MD {
	return mc.wrapped.RequestMetadata()
}
