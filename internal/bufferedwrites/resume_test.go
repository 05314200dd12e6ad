// Copyright 2024 Google LLC
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

package bufferedwrites

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/fake"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/storageutil"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func testRetryConfig(maxAttempts int) *storageutil.RetryConfig {
	return &storageutil.RetryConfig{
		TotalRetryBudget: time.Minute,
		MaxAttempts:      maxAttempts,
		Backoff:          gax.Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond, Multiplier: 2},
	}
}

func TestResumeFactoryRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	bucket := fake.NewFakeBucket(timeutil.RealClock(), "bucket")
	conn, err := bucket.CreateAppendableUpload(ctx, &gcs.CreateObjectRequest{Name: "object"})
	require.NoError(t, err)
	bucket.InjectError(fake.OpResume, status.Error(codes.Unavailable, "try again"))
	bucket.InjectError(fake.OpResume, status.Error(codes.ResourceExhausted, "slow down"))
	factory := NewResumeFactory(bucket, conn.UploadID(), testRetryConfig(0))

	resumed, err := factory(ctx)

	require.NoError(t, err)
	assert.Equal(t, conn.UploadID(), resumed.UploadID())
	assert.Equal(t, 3, bucket.Resumes())
}

func TestResumeFactoryStopsOnPermanentError(t *testing.T) {
	bucket := fake.NewFakeBucket(timeutil.RealClock(), "bucket")
	factory := NewResumeFactory(bucket, "no-such-upload", testRetryConfig(0))

	_, err := factory(context.Background())

	var nfe *gcs.NotFoundError
	assert.True(t, errors.As(err, &nfe))
	assert.Equal(t, 1, bucket.Resumes())
}

func TestResumeFactoryHonoursAttemptCap(t *testing.T) {
	ctx := context.Background()
	bucket := fake.NewFakeBucket(timeutil.RealClock(), "bucket")
	conn, err := bucket.CreateAppendableUpload(ctx, &gcs.CreateObjectRequest{Name: "object"})
	require.NoError(t, err)
	for range 3 {
		bucket.InjectError(fake.OpResume, status.Error(codes.Unavailable, "try again"))
	}
	factory := NewResumeFactory(bucket, conn.UploadID(), testRetryConfig(2))

	_, err = factory(ctx)

	assert.Equal(t, codes.Unavailable, status.Code(errors.Unwrap(err)))
	assert.Equal(t, 2, bucket.Resumes())
}
