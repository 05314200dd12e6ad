// Copyright 2026 Google LLC
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
	"errors"
	"testing"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	storagemock "github.com/googlecloudplatform/gcsasyncwriter/internal/storage/mock"
	"github.com/googlecloudplatform/gcsasyncwriter/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMonitoredConnection(t *testing.T) (gcs.WriterConnection, *storagemock.MockWriterConnection, *metrics.MockMetricHandle) {
	t.Helper()
	conn := new(storagemock.MockWriterConnection)
	b := new(storagemock.TestifyMockBucket)
	mh := new(metrics.MockMetricHandle)
	b.On("CreateAppendableUpload", mock.Anything, mock.Anything).Return(conn, nil)

	wrapped, err := NewMonitoringBucket(b, mh).CreateAppendableUpload(context.Background(), &gcs.CreateObjectRequest{Name: "obj"})

	require.NoError(t, err)
	return wrapped, conn, mh
}

func TestMonitoringConnectionWriteRecordsRequestAndBytes(t *testing.T) {
	ctx := context.Background()
	wrapped, conn, mh := newMonitoredConnection(t)
	conn.On("Write", ctx, "hello").Return(nil)
	mh.On("UploadRequestCount", int64(1), metrics.UploadMethodWriteAttr).Return()
	mh.On("UploadRequestLatencies", ctx, mock.Anything, metrics.UploadMethodWriteAttr).Return()
	mh.On("UploadSentBytesCount", int64(5), metrics.UploadMethodWriteAttr).Return()

	err := wrapped.Write(ctx, cord.FromString("hello"))

	require.NoError(t, err)
	conn.AssertExpectations(t)
	mh.AssertExpectations(t)
}

func TestMonitoringConnectionFailedFlushSkipsSentBytes(t *testing.T) {
	ctx := context.Background()
	wrapped, conn, mh := newMonitoredConnection(t)
	conn.On("Flush", ctx, "abc").Return(errors.New("broken stream"))
	mh.On("UploadRequestCount", int64(1), metrics.UploadMethodFlushAttr).Return()
	mh.On("UploadRequestLatencies", ctx, mock.Anything, metrics.UploadMethodFlushAttr).Return()

	err := wrapped.Flush(ctx, cord.FromString("abc"))

	assert.EqualError(t, err, "broken stream")
	mh.AssertExpectations(t)
	mh.AssertNotCalled(t, "UploadSentBytesCount", mock.Anything, mock.Anything)
}

func TestMonitoringConnectionFinalizeAndQuery(t *testing.T) {
	ctx := context.Background()
	wrapped, conn, mh := newMonitoredConnection(t)
	obj := &gcs.Object{Name: "obj", Size: 3, Generation: 7}
	conn.On("Finalize", ctx, "xyz").Return(obj, nil)
	conn.On("Query", ctx).Return(int64(3), nil)
	mh.On("UploadRequestCount", int64(1), mock.Anything).Return()
	mh.On("UploadRequestLatencies", ctx, mock.Anything, mock.Anything).Return()
	mh.On("UploadSentBytesCount", int64(3), metrics.UploadMethodFinalizeAttr).Return()

	got, err := wrapped.Finalize(ctx, cord.FromString("xyz"))
	require.NoError(t, err)
	n, err := wrapped.Query(ctx)
	require.NoError(t, err)

	assert.Same(t, obj, got)
	assert.EqualValues(t, 3, n)
	mh.AssertCalled(t, "UploadRequestCount", int64(1), metrics.UploadMethodFinalizeAttr)
	mh.AssertCalled(t, "UploadRequestCount", int64(1), metrics.UploadMethodQueryAttr)
}

func TestMonitoringConnectionDelegatesAccessors(t *testing.T) {
	wrapped, conn, _ := newMonitoredConnection(t)
	conn.On("UploadID").Return("bucket/obj#1")
	conn.On("PersistedState").Return(gcs.PersistedOffset(10))
	conn.On("Cancel").Return()
	conn.On("RequestMetadata").Return(nil)

	assert.Equal(t, "bucket/obj#1", wrapped.UploadID())
	assert.Equal(t, gcs.PersistedOffset(10), wrapped.PersistedState())
	assert.Nil(t, wrapped.RequestMetadata())
	wrapped.Cancel()
	conn.AssertCalled(t, "Cancel")
}

func TestMonitoringBucketPropagatesErrors(t *testing.T) {
	b := new(storagemock.TestifyMockBucket)
	b.On("Name").Return("bucket")
	b.On("ResumeAppendableUpload", mock.Anything, "bucket/obj#1").Return(nil, &gcs.NotFoundError{Err: errors.New("gone")})
	mb := NewMonitoringBucket(b, metrics.NewNoopMetrics())

	conn, err := mb.ResumeAppendableUpload(context.Background(), "bucket/obj#1")

	assert.Nil(t, conn)
	var nfe *gcs.NotFoundError
	assert.ErrorAs(t, err, &nfe)
	assert.Equal(t, "bucket", mb.Name())
}
