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

package appendable

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newTestBucketHandle(t *testing.T) gcs.Bucket {
	t.Helper()
	client, err := storage.NewClient(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint("http://localhost:1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewBucketHandle(client, "bucket", "")
}

func TestBucketHandleName(t *testing.T) {
	assert.Equal(t, "bucket", newTestBucketHandle(t).Name())
}

func TestBucketHandleWithBillingProject(t *testing.T) {
	client, err := storage.NewClient(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint("http://localhost:1"))
	require.NoError(t, err)
	defer client.Close()

	bh := NewBucketHandle(client, "bucket", "payer")

	assert.Equal(t, "bucket", bh.Name())
}

func TestResumeRejectsMalformedID(t *testing.T) {
	bh := newTestBucketHandle(t)

	_, err := bh.ResumeAppendableUpload(context.Background(), "bucket/object")

	var iue *gcs.InvalidUploadIDError
	require.True(t, errors.As(err, &iue))
	assert.Equal(t, "bucket/object", iue.UploadID)
}

func TestResumeRejectsForeignBucket(t *testing.T) {
	bh := newTestBucketHandle(t)

	_, err := bh.ResumeAppendableUpload(context.Background(), "other/object#3")

	var iue *gcs.InvalidUploadIDError
	require.True(t, errors.As(err, &iue))
	assert.Contains(t, iue.Reason, `"other"`)
}

func TestCreateRequiresName(t *testing.T) {
	bh := newTestBucketHandle(t)

	_, err := bh.CreateAppendableUpload(context.Background(), &gcs.CreateObjectRequest{})

	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
