// Copyright 2023 Google Inc. All Rights Reserved.
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

package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"google.golang.org/grpc/metadata"
)

// Wrap the supplied bucket in a layer that prints debug messages for every
// upload request, including the requests on the connections it returns.
func NewDebugBucket(
	wrapped gcs.Bucket) (b gcs.Bucket) {
	b = &debugBucket{
		wrapped: wrapped,
	}

	return
}

type debugBucket struct {
	wrapped gcs.Bucket

	nextRequestID atomic.Uint64
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (b *debugBucket) mintRequestID() (id uint64) {
	id = b.nextRequestID.Add(1) - 1
	return
}

func (b *debugBucket) requestLogf(
	id uint64,
	format string,
	v ...any) {
	logger.Tracef("gcs: Req %#16x: %s", id, fmt.Sprintf(format, v...))
}

func (b *debugBucket) startRequest(
	format string,
	v ...any) (id uint64, desc string, start time.Time) {
	start = time.Now()
	id = b.mintRequestID()
	desc = fmt.Sprintf(format, v...)

	b.requestLogf(id, "<- %s", desc)
	return
}

func (b *debugBucket) finishRequest(
	id uint64,
	desc string,
	start time.Time,
	err *error) {
	duration := time.Since(start)

	errDesc := "OK"
	if *err != nil {
		errDesc = (*err).Error()
	}

	b.requestLogf(id, "-> %s (%v): %s", desc, duration, errDesc)
}

////////////////////////////////////////////////////////////////////////
// Connection
////////////////////////////////////////////////////////////////////////

type debugConnection struct {
	bucket  *debugBucket
	wrapped gcs.WriterConnection
}

func (dc *debugConnection) UploadID() string {
	return dc.wrapped.UploadID()
}

func (dc *debugConnection) PersistedState() gcs.PersistedState {
	return dc.wrapped.PersistedState()
}

func (dc *debugConnection) Write(ctx context.Context, p cord.Cord) (err error) {
	id, desc, start := dc.bucket.startRequest("Write(%q, %d bytes)", dc.wrapped.UploadID(), p.Size())
	defer dc.bucket.finishRequest(id, desc, start, &err)

	err = dc.wrapped.Write(ctx, p)
	return
}

func (dc *debugConnection) Flush(ctx context.Context, p cord.Cord) (err error) {
	id, desc, start := dc.bucket.startRequest("Flush(%q, %d bytes)", dc.wrapped.UploadID(), p.Size())
	defer dc.bucket.finishRequest(id, desc, start, &err)

	err = dc.wrapped.Flush(ctx, p)
	return
}

func (dc *debugConnection) Finalize(ctx context.Context, p cord.Cord) (o *gcs.Object, err error) {
	id, desc, start := dc.bucket.startRequest("Finalize(%q, %d bytes)", dc.wrapped.UploadID(), p.Size())
	defer dc.bucket.finishRequest(id, desc, start, &err)

	o, err = dc.wrapped.Finalize(ctx, p)
	return
}

func (dc *debugConnection) Query(ctx context.Context) (size int64, err error) {
	id, desc, start := dc.bucket.startRequest("Query(%q)", dc.wrapped.UploadID())
	defer dc.bucket.finishRequest(id, desc, start, &err)

	size, err = dc.wrapped.Query(ctx)
	return
}

func (dc *debugConnection) Cancel() {
	dc.bucket.requestLogf(dc.bucket.mintRequestID(), "Cancel(%q)", dc.wrapped.UploadID())
	dc.wrapped.Cancel()
}

func (dc *debugConnection) RequestMetadata() metadata.MD {
	return dc.wrapped.RequestMetadata()
}

////////////////////////////////////////////////////////////////////////
// Bucket interface
////////////////////////////////////////////////////////////////////////

func (b *debugBucket) Name() string {
	return b.wrapped.Name()
}

func (b *debugBucket) CreateAppendableUpload(
	ctx context.Context,
	req *gcs.CreateObjectRequest) (conn gcs.WriterConnection, err error) {
	var name string
	if req != nil {
		name = req.Name
	}
	id, desc, start := b.startRequest("CreateAppendableUpload(%q)", name)
	defer b.finishRequest(id, desc, start, &err)

	conn, err = b.wrapped.CreateAppendableUpload(ctx, req)
	if err != nil {
		return
	}
	conn = &debugConnection{bucket: b, wrapped: conn}
	return
}

func (b *debugBucket) ResumeAppendableUpload(
	ctx context.Context,
	uploadID string) (conn gcs.WriterConnection, err error) {
	id, desc, start := b.startRequest("ResumeAppendableUpload(%q)", uploadID)
	defer b.finishRequest(id, desc, start, &err)

	conn, err = b.wrapped.ResumeAppendableUpload(ctx, uploadID)
	if err != nil {
		return
	}
	conn = &debugConnection{bucket: b, wrapped: conn}
	return
}
