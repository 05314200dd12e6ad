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

package cmd

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/googlecloudplatform/gcsasyncwriter/cfg"
	"github.com/googlecloudplatform/gcsasyncwriter/common"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/gcsx"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/fake"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/util"
	"github.com/googlecloudplatform/gcsasyncwriter/metrics"
	"github.com/googlecloudplatform/gcsasyncwriter/tracing"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func testConfig() *cfg.Config {
	return &cfg.Config{
		GcsConnection: cfg.GcsConnectionConfig{
			GrpcConnPoolSize: 1,
			LimitBytesPerSec: -1,
			LimitOpsPerSec:   -1,
		},
		GcsRetries: cfg.GcsRetriesConfig{
			InitialBackoff:   time.Millisecond,
			MaxRetrySleep:    10 * time.Millisecond,
			Multiplier:       2,
			MaxRetryAttempts: 5,
			TotalRetryBudget: time.Minute,
		},
		Logging: cfg.LoggingConfig{
			Format:    cfg.TextLogFormat,
			Severity:  cfg.ErrorLogSeverity,
			LogRotate: cfg.LogRotateLoggingConfig{MaxFileSizeMb: 1},
		},
		Upload: cfg.UploadConfig{
			BlockSizeMb:     1,
			BufferLwmMb:     1,
			BufferHwmMb:     2,
			MaxWriteChunkKb: 256,
			ParallelUploads: 2,
		},
	}
}

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type UploadTest struct {
	suite.Suite
	ctx    context.Context
	config *cfg.Config
	bucket *fake.Bucket
	stdin  *bytes.Buffer
	out    *bytes.Buffer
	dir    string
}

func TestUploadSuite(t *testing.T) {
	suite.Run(t, new(UploadTest))
}

func (t *UploadTest) SetupTest() {
	t.ctx = context.Background()
	t.config = testConfig()
	t.bucket = fake.NewFakeBucket(timeutil.RealClock(), "bucket")
	t.stdin = new(bytes.Buffer)
	t.out = new(bytes.Buffer)
	t.dir = t.T().TempDir()
}

func (t *UploadTest) uploadAll(sources ...string) error {
	u, err := newUploader(t.config, gcsx.NewContentTypeBucket(t.bucket), metrics.NewNoopMetrics(), tracing.NewNoopTracer(), t.stdin, t.out)
	t.Require().NoError(err)
	return u.uploadAll(t.ctx, sources)
}

func (t *UploadTest) writeFile(name string, contents []byte) string {
	p := filepath.Join(t.dir, name)
	t.Require().NoError(os.WriteFile(p, contents, 0644))
	return p
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	p := make([]byte, n)
	_, err := rand.Read(p)
	require.NoError(t, err)
	return p
}

func (t *UploadTest) object(name string) (*gcs.Object, []byte) {
	o, contents, ok := t.bucket.Object(name)
	t.Require().True(ok, "object %q not found", name)
	return o, contents
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *UploadTest) TestUploadFiles() {
	large := randomBytes(t.T(), 5*util.MiB/2)
	largePath := t.writeFile("large.bin", large)
	smallPath := t.writeFile("small.txt", []byte("hello"))

	err := t.uploadAll(largePath, smallPath)

	t.Require().NoError(err)
	o, contents := t.object("large.bin")
	t.Equal(large, contents)
	t.Equal(int64(len(large)), o.Size)
	o, contents = t.object("small.txt")
	t.Equal("hello", string(contents))
	t.Equal("text/plain; charset=utf-8", o.ContentType)
	t.Contains(t.out.String(), smallPath+" -> gs://bucket/small.txt generation=")
	t.Contains(t.out.String(), "size=5\n")
	t.Equal(2, strings.Count(t.out.String(), "\n"))
}

func (t *UploadTest) TestMtimeMetadata() {
	p := t.writeFile("a.txt", []byte("abc"))
	mtime := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	t.Require().NoError(os.Chtimes(p, mtime, mtime))

	t.Require().NoError(t.uploadAll(p))

	o, _ := t.object("a.txt")
	t.Equal(mtime.Format(time.RFC3339Nano), o.Metadata[MtimeMetadataKey])
}

func (t *UploadTest) TestObjectPrefixAndStdin() {
	t.config.Upload.ObjectPrefix = "backups/"
	t.stdin.WriteString("from stdin")
	p := t.writeFile("a.txt", []byte("from file"))

	t.Require().NoError(t.uploadAll("-", p))

	_, contents := t.object("backups/stdin")
	t.Equal("from stdin", string(contents))
	_, contents = t.object("backups/a.txt")
	t.Equal("from file", string(contents))
}

func (t *UploadTest) TestStdinTwiceIsRejected() {
	err := t.uploadAll("-", "-")

	t.ErrorContains(err, "stdin")
	t.Equal(0, t.bucket.Creates())
}

func (t *UploadTest) TestExplicitContentType() {
	t.config.Upload.ContentType = "application/x-custom"
	p := t.writeFile("a.txt", []byte("abc"))

	t.Require().NoError(t.uploadAll(p))

	o, _ := t.object("a.txt")
	t.Equal("application/x-custom", o.ContentType)
}

func (t *UploadTest) TestEmptyFile() {
	p := t.writeFile("empty", nil)

	t.Require().NoError(t.uploadAll(p))

	o, contents := t.object("empty")
	t.Empty(contents)
	t.Equal(int64(0), o.Size)
}

func (t *UploadTest) TestMissingSource() {
	err := t.uploadAll(filepath.Join(t.dir, "missing"))

	t.ErrorIs(err, os.ErrNotExist)
	t.Equal(0, t.bucket.Creates())
}

func (t *UploadTest) TestDirectorySource() {
	err := t.uploadAll(t.dir)

	t.ErrorContains(err, "is a directory")
}

func (t *UploadTest) TestBrokenStreamIsResumed() {
	payload := randomBytes(t.T(), 3*util.MiB)
	p := t.writeFile("resumed.bin", payload)
	t.bucket.InjectError(fake.OpFlush, status.Error(codes.Unavailable, "stream broke"))

	t.Require().NoError(t.uploadAll(p))

	_, contents := t.object("resumed.bin")
	t.Equal(payload, contents)
	t.GreaterOrEqual(t.bucket.Resumes(), 1)
}

func (t *UploadTest) TestPermanentCreateFailure() {
	p := t.writeFile("denied.bin", randomBytes(t.T(), 2*util.MiB))
	t.bucket.InjectError(fake.OpCreate, status.Error(codes.PermissionDenied, "denied"))

	err := t.uploadAll(p)

	t.ErrorContains(err, "denied")
	_, _, ok := t.bucket.Object("denied.bin")
	t.False(ok)
}

func (t *UploadTest) TestBytesThrottle() {
	t.config.GcsConnection.LimitBytesPerSec = 1 << 30
	p := t.writeFile("a.txt", []byte("throttled"))

	t.Require().NoError(t.uploadAll(p))

	_, contents := t.object("a.txt")
	t.Equal("throttled", string(contents))
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func TestObjectName(t *testing.T) {
	u := &uploader{config: &cfg.Config{Upload: cfg.UploadConfig{ObjectPrefix: "p/"}}}

	assert.Equal(t, "p/b.txt", u.objectName("/tmp/a/b.txt"))
	assert.Equal(t, "p/b.txt", u.objectName("b.txt"))
	assert.Equal(t, "p/stdin", u.objectName("-"))
}

func TestGetUserAgent(t *testing.T) {
	testCases := []struct {
		name      string
		appName   string
		imageType string
		expected  string
	}{
		{
			name:     "no app name",
			expected: "gcsasyncwriter/" + common.GetVersion() + " (GPN:gcsasyncwriter)",
		},
		{
			name:     "app name",
			appName:  "backup",
			expected: "gcsasyncwriter/" + common.GetVersion() + " (GPN:gcsasyncwriter-backup)",
		},
		{
			name:      "image type",
			appName:   "backup",
			imageType: "cos",
			expected:  "gcsasyncwriter/" + common.GetVersion() + " backup (GPN:gcsasyncwriter-cos)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("GCSASYNCWRITER_METADATA_IMAGE_TYPE", tc.imageType)

			assert.Equal(t, tc.expected, getUserAgent(tc.appName))
		})
	}
}

func TestRunUploadWithFakeBackend(t *testing.T) {
	c := testConfig()
	c.Debug.FakeBackend = true
	p := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0644))
	var out bytes.Buffer

	err := runUpload(c, "bucket", []string{p}, strings.NewReader(""), &out)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), p+" -> gs://bucket/a.txt generation=1 size=3"))
}
