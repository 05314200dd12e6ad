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

package fake

import (
	"context"
	"crypto/md5"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/util"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type BucketTest struct {
	suite.Suite
	ctx    context.Context
	clock  *timeutil.SimulatedClock
	bucket *Bucket
}

func TestBucketSuite(t *testing.T) {
	suite.Run(t, new(BucketTest))
}

func (t *BucketTest) SetupTest() {
	t.ctx = context.Background()
	// Set up a fixed, non-zero time.
	t.clock = &timeutil.SimulatedClock{}
	t.clock.SetTime(time.Date(2012, 8, 15, 22, 56, 0, 0, time.Local))
	t.bucket = NewFakeBucket(t.clock, "some_bucket")
}

func (t *BucketTest) create(name string) gcs.WriterConnection {
	conn, err := t.bucket.CreateAppendableUpload(t.ctx, &gcs.CreateObjectRequest{Name: name})
	t.Require().NoError(err)
	return conn
}

func (t *BucketTest) TestCreateAndFinalize() {
	conn, err := t.bucket.CreateAppendableUpload(t.ctx, &gcs.CreateObjectRequest{
		Name:        "foo",
		ContentType: "text/plain",
		Metadata:    map[string]string{"k": "v"},
	})
	t.Require().NoError(err)
	t.Equal(gcs.PersistedOffset(0), conn.PersistedState())

	t.Require().NoError(conn.Write(t.ctx, cord.FromString("taco")))
	o, err := conn.Finalize(t.ctx, cord.FromString("burrito"))

	t.Require().NoError(err)
	t.Equal("some_bucket", o.Bucket)
	t.Equal("foo", o.Name)
	t.Equal("text/plain", o.ContentType)
	t.EqualValues(len("tacoburrito"), o.Size)
	t.EqualValues(1, o.Generation)
	t.Equal(map[string]string{"k": "v"}, o.Metadata)
	t.Equal(t.clock.Now(), o.Finalized)
	t.Require().NotNil(o.CRC32C)
	t.Equal(util.CRC32C([]byte("tacoburrito")), *o.CRC32C)
	expectedMD5 := md5.Sum([]byte("tacoburrito"))
	t.Equal(&expectedMD5, o.MD5)
	t.True(o.IsFinalized())
	stored, contents, ok := t.bucket.Object("foo")
	t.Require().True(ok)
	t.Equal(o, stored)
	t.Equal("tacoburrito", string(contents))
	t.Equal(gcs.PersistedObject{Object: o}, conn.PersistedState())
}

func (t *BucketTest) TestGenerationsIncrease() {
	c1 := t.create("a")
	c2 := t.create("b")

	o1, err := c1.Finalize(t.ctx, cord.Cord{})
	t.Require().NoError(err)
	o2, err := c2.Finalize(t.ctx, cord.Cord{})
	t.Require().NoError(err)

	t.Less(o1.Generation, o2.Generation)
	t.NotEqual(c1.UploadID(), c2.UploadID())
}

func (t *BucketTest) TestInvalidName() {
	_, err := t.bucket.CreateAppendableUpload(t.ctx, &gcs.CreateObjectRequest{Name: ""})

	t.ErrorContains(err, "invalid object name")
}

func (t *BucketTest) TestDoesNotExistPrecondition() {
	_, err := t.create("foo").Finalize(t.ctx, cord.FromString("x"))
	t.Require().NoError(err)
	var zero int64

	_, err = t.bucket.CreateAppendableUpload(t.ctx, &gcs.CreateObjectRequest{Name: "foo", GenerationPrecondition: &zero})

	var pe *gcs.PreconditionError
	t.ErrorAs(err, &pe)
}

func (t *BucketTest) TestFlushPersistsAndQueryReportsIt() {
	conn := t.create("foo")

	t.Require().NoError(conn.Write(t.ctx, cord.FromString("abc")))
	n, err := conn.Query(t.ctx)
	t.Require().NoError(err)
	t.EqualValues(0, n)

	t.Require().NoError(conn.Flush(t.ctx, cord.FromString("de")))
	n, err = conn.Query(t.ctx)
	t.Require().NoError(err)
	t.EqualValues(5, n)
	t.Equal("abcde", string(t.bucket.Persisted(conn.UploadID())))
	t.Equal(gcs.PersistedOffset(5), conn.PersistedState())
}

func (t *BucketTest) TestInjectedErrorLosesUnflushedData() {
	conn := t.create("foo")
	t.Require().NoError(conn.Flush(t.ctx, cord.FromString("abc")))
	t.Require().NoError(conn.Write(t.ctx, cord.FromString("def")))
	broken := status.Error(codes.Unavailable, "try again")
	t.bucket.InjectError(OpWrite, broken)

	err := conn.Write(t.ctx, cord.FromString("ghi"))

	t.Equal(broken, err)
	// The connection stays broken.
	t.Equal(broken, conn.Flush(t.ctx, cord.Cord{}))
	_, err = conn.Query(t.ctx)
	t.Equal(broken, err)

	resumed, err := t.bucket.ResumeAppendableUpload(t.ctx, conn.UploadID())
	t.Require().NoError(err)
	t.Equal(gcs.PersistedOffset(3), resumed.PersistedState())
	o, err := resumed.Finalize(t.ctx, cord.FromString("xyz"))
	t.Require().NoError(err)
	_, contents, _ := t.bucket.Object("foo")
	t.Equal("abcxyz", string(contents))
	t.EqualValues(6, o.Size)
	t.Equal(1, t.bucket.Resumes())
	t.Equal(1, t.bucket.Creates())
}

func (t *BucketTest) TestInjectedErrorsQueueInOrder() {
	first := errors.New("first")
	second := errors.New("second")
	t.bucket.InjectError(OpCreate, first)
	t.bucket.InjectError(OpCreate, second)

	_, err1 := t.bucket.CreateAppendableUpload(t.ctx, &gcs.CreateObjectRequest{Name: "a"})
	_, err2 := t.bucket.CreateAppendableUpload(t.ctx, &gcs.CreateObjectRequest{Name: "a"})
	_, err3 := t.bucket.CreateAppendableUpload(t.ctx, &gcs.CreateObjectRequest{Name: "a"})

	t.Equal(first, err1)
	t.Equal(second, err2)
	t.NoError(err3)
}

func (t *BucketTest) TestResumeFinalizedUpload() {
	conn := t.create("foo")
	o, err := conn.Finalize(t.ctx, cord.FromString("done"))
	t.Require().NoError(err)

	resumed, err := t.bucket.ResumeAppendableUpload(t.ctx, conn.UploadID())

	t.Require().NoError(err)
	t.Equal(gcs.PersistedObject{Object: o}, resumed.PersistedState())
	n, err := resumed.Query(t.ctx)
	t.NoError(err)
	t.EqualValues(4, n)
	err = resumed.Write(t.ctx, cord.FromString("more"))
	t.Equal(codes.FailedPrecondition, status.Code(err))
}

func (t *BucketTest) TestResumeUnknownAndEmptyIDs() {
	_, err := t.bucket.ResumeAppendableUpload(t.ctx, "nope")
	var nfe *gcs.NotFoundError
	t.ErrorAs(err, &nfe)

	_, err = t.bucket.ResumeAppendableUpload(t.ctx, "")
	var iue *gcs.InvalidUploadIDError
	t.ErrorAs(err, &iue)
}

func (t *BucketTest) TestResumeTakesOverOlderConnection() {
	old := t.create("foo")

	_, err := t.bucket.ResumeAppendableUpload(t.ctx, old.UploadID())
	t.Require().NoError(err)

	err = old.Write(t.ctx, cord.FromString("late"))
	t.Equal(codes.Aborted, status.Code(err))
}

func (t *BucketTest) TestCancel() {
	conn := t.create("foo")

	conn.Cancel()

	t.Equal(codes.Canceled, status.Code(conn.Write(t.ctx, cord.FromString("x"))))
}

func (t *BucketTest) TestCancelledRequestContext() {
	conn := t.create("foo")
	ctx, cancel := context.WithCancel(t.ctx)
	cancel()

	_, err := conn.Query(ctx)

	t.Equal(codes.Canceled, status.Code(err))
}

func (t *BucketTest) TestRequestLogAndMetadata() {
	conn := t.create("foo")
	t.Require().NoError(conn.Write(t.ctx, cord.FromString("ab")))
	t.Require().NoError(conn.Flush(t.ctx, cord.FromString("c")))
	_, err := conn.Query(t.ctx)
	t.Require().NoError(err)

	t.Equal([]Request{{OpWrite, 2}, {OpFlush, 1}, {OpQuery, 0}}, t.bucket.Requests(conn.UploadID()))
	t.Equal(1, t.bucket.MaxInFlight(conn.UploadID()))
	md := conn.RequestMetadata()
	t.Equal([]string{conn.UploadID()}, md.Get("x-goog-upload-id"))
	t.Equal([]string{"bucket=projects/_/buckets/some_bucket"}, md.Get("x-goog-request-params"))
}

func TestStallCountsConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	b := NewFakeBucket(timeutil.RealClock(), "b")
	conn, err := b.CreateAppendableUpload(ctx, &gcs.CreateObjectRequest{Name: "o"})
	require.NoError(t, err)
	b.Stall(OpWrite)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.Write(ctx, cord.FromString("x")))
		}()
	}
	assert.Eventually(t, func() bool { return len(b.Requests(conn.UploadID())) == 2 }, time.Second, time.Millisecond)
	b.Unstall(OpWrite)
	wg.Wait()

	assert.Equal(t, 2, b.MaxInFlight(conn.UploadID()))
}

func TestStalledRequestHonoursContext(t *testing.T) {
	b := NewFakeBucket(timeutil.RealClock(), "b")
	conn, err := b.CreateAppendableUpload(context.Background(), &gcs.CreateObjectRequest{Name: "o"})
	require.NoError(t, err)
	b.Stall(OpFlush)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = conn.Flush(ctx, cord.FromString("x"))

	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "Finalize", OpFinalize.String())
	assert.Equal(t, "Op(42)", Op(42).String())
}
