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
	"strings"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/block"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/fake"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	storagemock "github.com/googlecloudplatform/gcsasyncwriter/internal/storage/mock"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/storageutil"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type UploadHandlerTest struct {
	suite.Suite
	ctx       context.Context
	bucket    *fake.Bucket
	blockPool *block.Pool
	uh        *UploadHandler
}

func TestUploadHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(UploadHandlerTest))
}

func (t *UploadHandlerTest) SetupTest() {
	t.ctx = context.Background()
	t.bucket = fake.NewFakeBucket(timeutil.RealClock(), "bucket")
	var err error
	t.blockPool, err = block.NewPool(blockSize, 4, semaphore.NewWeighted(4))
	require.NoError(t.T(), err)
	t.uh = newUploadHandler(&CreateUploadHandlerRequest{
		Bucket:      t.bucket,
		Object:      &gcs.CreateObjectRequest{Name: objectName},
		BlockPool:   t.blockPool,
		Options:     testOptions,
		RetryConfig: testRetryConfig(0),
	})
}

func (t *UploadHandlerTest) TearDownTest() {
	t.uh.Destroy()
	assert.NoError(t.T(), t.blockPool.Close())
}

func (t *UploadHandlerTest) filledBlock(s string) block.Block {
	b, err := t.blockPool.Get(t.ctx)
	require.NoError(t.T(), err)
	_, _ = b.ReadFrom(strings.NewReader(s))
	return b
}

func (t *UploadHandlerTest) TestUploadStartsTheUpload() {
	assert.Empty(t.T(), t.uh.UploadID())

	require.NoError(t.T(), t.uh.Upload(t.ctx, t.filledBlock("abc")))

	assert.NotEmpty(t.T(), t.uh.UploadID())
	assert.Equal(t.T(), 1, t.bucket.Creates())
	require.NoError(t.T(), t.uh.Upload(t.ctx, t.filledBlock("def")))
	assert.Equal(t.T(), 1, t.bucket.Creates())
}

func (t *UploadHandlerTest) TestFinalizeTwiceReturnsSameObject() {
	require.NoError(t.T(), t.uh.Upload(t.ctx, t.filledBlock("abc")))

	o1, err := t.uh.Finalize(t.ctx)
	require.NoError(t.T(), err)
	o2, err := t.uh.Finalize(t.ctx)

	require.NoError(t.T(), err)
	assert.Same(t.T(), o1, o2)
	assert.EqualValues(t.T(), 3, o1.Size)
}

func (t *UploadHandlerTest) TestFinalizedBlocksGoBackToThePool() {
	require.NoError(t.T(), t.uh.Upload(t.ctx, t.filledBlock("abc")))
	_, err := t.uh.Finalize(t.ctx)
	require.NoError(t.T(), err)

	t.uh.Destroy()

	assert.Equal(t.T(), 1, t.blockPool.Free())
	assert.Empty(t.T(), t.uh.inFlight)
}

func (t *UploadHandlerTest) TestCreateFailureReleasesBlock() {
	t.bucket.InjectError(fake.OpCreate, status.Error(codes.PermissionDenied, "no"))

	err := t.uh.Upload(t.ctx, t.filledBlock("abc"))

	assert.Equal(t.T(), codes.PermissionDenied, status.Code(err))
	assert.Equal(t.T(), 1, t.blockPool.Free())
	// Later blocks are rejected without another attempt.
	err = t.uh.Upload(t.ctx, t.filledBlock("def"))
	assert.Equal(t.T(), codes.PermissionDenied, status.Code(err))
	assert.Equal(t.T(), 1, t.bucket.Creates())
	assert.Equal(t.T(), 1, t.blockPool.Free())
}

func (t *UploadHandlerTest) TestDestroyInterruptsResumeBackoff() {
	t.uh.retryConfig = &storageutil.RetryConfig{
		TotalRetryBudget: time.Minute,
		Backoff:          gax.Backoff{Initial: 20 * time.Second, Max: 20 * time.Second, Multiplier: 2},
	}
	t.bucket.InjectError(fake.OpWrite, status.Error(codes.Unavailable, "stream broken"))
	for range 3 {
		t.bucket.InjectError(fake.OpResume, status.Error(codes.Unavailable, "try again"))
	}
	require.NoError(t.T(), t.uh.Upload(t.ctx, t.filledBlock("abc")))
	require.Eventually(t.T(), func() bool { return t.bucket.Resumes() >= 1 }, 5*time.Second, time.Millisecond)

	t.uh.CancelUpload()
	done := make(chan struct{})
	go func() {
		t.uh.Destroy()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t.T(), "Destroy is waiting for the resume backoff")
	}
	assert.Equal(t.T(), 1, t.blockPool.Free())
	assert.Empty(t.T(), t.uh.inFlight)
}

func (t *UploadHandlerTest) TestCancelUploadBeforeStart() {
	t.uh.CancelUpload()

	err := t.uh.Upload(t.ctx, t.filledBlock("abc"))

	assert.ErrorIs(t.T(), err, context.Canceled)
	assert.Equal(t.T(), 0, t.bucket.Creates())
}

func TestCreateRequestIsForwarded(t *testing.T) {
	bucket := new(storagemock.TestifyMockBucket)
	precondition := int64(0)
	req := &gcs.CreateObjectRequest{Name: objectName, GenerationPrecondition: &precondition}
	preconditionErr := &gcs.PreconditionError{Err: status.Error(codes.FailedPrecondition, "exists")}
	bucket.On("CreateAppendableUpload", mock.Anything, req).Return(nil, preconditionErr).Once()
	bp, err := block.NewPool(blockSize, 2, semaphore.NewWeighted(2))
	require.NoError(t, err)
	uh := newUploadHandler(&CreateUploadHandlerRequest{
		Bucket:      bucket,
		Object:      req,
		BlockPool:   bp,
		RetryConfig: testRetryConfig(0),
	})

	_, err = uh.Finalize(context.Background())

	assert.ErrorIs(t, err, preconditionErr)
	bucket.AssertExpectations(t)
	uh.Destroy()
}
