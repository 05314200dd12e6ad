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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/googlecloudplatform/gcsasyncwriter/cfg"
	"github.com/googlecloudplatform/gcsasyncwriter/common"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/asyncwriter"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/bufferedwrites"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/gcsx"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/locker"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/monitor"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/profiler"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/ratelimit"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/appendable"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/fake"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/storageutil"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/util"
	"github.com/googlecloudplatform/gcsasyncwriter/metrics"
	"github.com/googlecloudplatform/gcsasyncwriter/tracing"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

const (
	// MtimeMetadataKey is the object metadata key holding the modification
	// time of the uploaded file, in RFC 3339 format.
	MtimeMetadataKey = "gcsasyncwriter_mtime"

	stdinSource     = "-"
	stdinObjectName = "stdin"

	// The rate limits are averaged over this window.
	throttleWindow = 30 * time.Second

	metricWorkers    = 3
	metricBufferSize = 256
)

func getUserAgent(appName string) string {
	imageType := os.Getenv("GCSASYNCWRITER_METADATA_IMAGE_TYPE")
	if len(imageType) > 0 {
		userAgent := fmt.Sprintf("gcsasyncwriter/%s %s (GPN:gcsasyncwriter-%s)", common.GetVersion(), appName, imageType)
		return strings.Join(strings.Fields(userAgent), " ")
	} else if len(appName) > 0 {
		return fmt.Sprintf("gcsasyncwriter/%s (GPN:gcsasyncwriter-%s)", common.GetVersion(), appName)
	} else {
		return fmt.Sprintf("gcsasyncwriter/%s (GPN:gcsasyncwriter)", common.GetVersion())
	}
}

func newStorageClientConfig(c *cfg.Config) storageutil.StorageClientConfig {
	return storageutil.StorageClientConfig{
		UserAgent:        getUserAgent(c.AppName),
		CustomEndpoint:   c.GcsConnection.CustomEndpoint,
		KeyFile:          string(c.GcsAuth.KeyFile),
		AnonymousAccess:  c.GcsAuth.AnonymousAccess,
		MaxRetrySleep:    c.GcsRetries.MaxRetrySleep,
		RetryMultiplier:  c.GcsRetries.Multiplier,
		MaxRetryAttempts: int(c.GcsRetries.MaxRetryAttempts),
		GrpcConnPoolSize: int(c.GcsConnection.GrpcConnPoolSize),
	}
}

// createBucket returns the bucket uploads go to, wrapped with request
// tracing at TRACE severity, content type guessing, the ops rate limit and
// the metrics. The returned function
// releases the storage client.
func createBucket(ctx context.Context, c *cfg.Config, bucketName string, mh metrics.MetricHandle) (b gcs.Bucket, closeFn func(), err error) {
	closeFn = func() {}
	if c.Debug.FakeBackend {
		logger.Infof("Uploading to the in-memory bucket %q", bucketName)
		b = fake.NewFakeBucket(timeutil.RealClock(), bucketName)
	} else {
		clientConfig := newStorageClientConfig(c)
		logger.Infof("UserAgent = %s", clientConfig.UserAgent)
		client, err := storageutil.NewStorageClient(ctx, &clientConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		closeFn = func() {
			if err := client.Close(); err != nil {
				logger.Warnf("Error while closing the storage client: %v", err)
			}
		}
		b = appendable.NewBucketHandle(client, bucketName, c.GcsConnection.BillingProject)
	}

	opThrottle, err := ratelimit.NewLimitedThrottle(c.GcsConnection.LimitOpsPerSec, throttleWindow)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("invalid limit-ops-per-sec: %w", err)
	}
	if c.Logging.Severity == cfg.TraceLogSeverity {
		b = storage.NewDebugBucket(b)
	}
	b = gcsx.NewContentTypeBucket(b)
	b = ratelimit.NewThrottledBucket(opThrottle, b)
	b = monitor.NewMonitoringBucket(b, mh)
	return b, closeFn, nil
}

func newMetricHandle(ctx context.Context, c *cfg.Config) (metrics.MetricHandle, func(), error) {
	if c.Metrics.PrometheusPort <= 0 && c.Metrics.CloudMetricsExportIntervalSecs <= 0 {
		return metrics.NewNoopMetrics(), func() {}, nil
	}
	mh, err := metrics.NewOTelMetrics(ctx, metricWorkers, metricBufferSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	return mh, mh.Close, nil
}

func newTraceHandle(c *cfg.Config) tracing.TraceHandle {
	if c.Monitoring.ExperimentalTracingMode == cfg.TracingModeDisabled {
		return tracing.NewNoopTracer()
	}
	return tracing.NewOTelTracer()
}

// runUpload uploads every source to bucketName and prints one line per
// object to out. SIGINT and SIGTERM cancel the uploads in progress.
func runUpload(c *cfg.Config, bucketName string, sources []string, stdin io.Reader, out io.Writer) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	if err = logger.InitLogFile(c.Logging); err != nil {
		return fmt.Errorf("init log file: %w", err)
	}
	defer logger.Close()

	if c.Debug.ExitOnInvariantViolation {
		locker.EnableInvariantsCheck()
	}
	if c.Debug.LogMutex {
		locker.EnableDebugMessages()
	}
	// Uploads go on without the profiler.
	_ = profiler.SetupCloudProfiler(&c.Profiling)
	if s, yamlErr := util.YAMLStringify(c); yamlErr == nil {
		logger.Debugf("Effective config:\n%s", s)
	}

	shutdownFn := common.JoinShutdownFunc(monitor.SetupOTelMetricExporters(ctx, c), monitor.SetupTracing(ctx, c))
	defer func() {
		if err := shutdownFn(context.Background()); err != nil {
			logger.Warnf("Error while shutting down telemetry: %v", err)
		}
	}()

	mh, closeMetrics, err := newMetricHandle(ctx, c)
	if err != nil {
		return err
	}
	defer closeMetrics()

	b, closeBucket, err := createBucket(ctx, c, bucketName, mh)
	if err != nil {
		return err
	}
	defer closeBucket()

	u, err := newUploader(c, b, mh, newTraceHandle(c), stdin, out)
	if err != nil {
		return err
	}
	return u.uploadAll(ctx, sources)
}

// uploader streams sources into one bucket. The blocks of all concurrent
// uploads come out of one budget, sized so that no upload waits for a block
// held by another.
type uploader struct {
	bucket        gcs.Bucket
	config        *cfg.Config
	options       asyncwriter.Options
	retryConfig   *storageutil.RetryConfig
	blockSize     int64
	blockSem      *semaphore.Weighted
	bytesThrottle ratelimit.Throttle

	stdin io.Reader

	outMu sync.Mutex
	out   io.Writer
}

func newUploader(c *cfg.Config, b gcs.Bucket, mh metrics.MetricHandle, th tracing.TraceHandle, stdin io.Reader, out io.Writer) (*uploader, error) {
	bytesThrottle, err := ratelimit.NewLimitedThrottle(c.GcsConnection.LimitBytesPerSec, throttleWindow)
	if err != nil {
		return nil, fmt.Errorf("invalid limit-bytes-per-sec: %w", err)
	}

	opts := asyncwriter.Options{
		LowWatermark:  util.MiBsToBytes(c.Upload.BufferLwmMb),
		HighWatermark: util.MiBsToBytes(c.Upload.BufferHwmMb),
		MaxWriteChunk: util.KiBsToBytes(c.Upload.MaxWriteChunkKb),
		MetricHandle:  mh,
		TraceHandle:   th,
	}
	blockSize := util.MiBsToBytes(c.Upload.BlockSizeMb)
	clientConfig := newStorageClientConfig(c)

	return &uploader{
		bucket:        b,
		config:        c,
		options:       opts,
		retryConfig:   storageutil.NewRetryConfig(&clientConfig, c.GcsRetries.TotalRetryBudget, c.GcsRetries.InitialBackoff),
		blockSize:     blockSize,
		blockSem:      semaphore.NewWeighted(c.Upload.ParallelUploads * bufferedwrites.MaxBlocksPerUpload(blockSize, opts)),
		bytesThrottle: bytesThrottle,
		stdin:         stdin,
		out:           out,
	}, nil
}

// uploadAll uploads at most parallel-uploads sources at a time. The first
// failure cancels the other uploads.
func (u *uploader) uploadAll(ctx context.Context, sources []string) error {
	stdinCount := 0
	for _, src := range sources {
		if src == stdinSource {
			stdinCount++
		}
	}
	if stdinCount > 1 {
		return errors.New("stdin can be uploaded only once")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(int(u.config.Upload.ParallelUploads))
	for _, src := range sources {
		g.Go(func() error {
			return u.uploadSource(ctx, src)
		})
	}
	return g.Wait()
}

func (u *uploader) objectName(src string) string {
	if src == stdinSource {
		return u.config.Upload.ObjectPrefix + stdinObjectName
	}
	return u.config.Upload.ObjectPrefix + filepath.Base(src)
}

func (u *uploader) objectRequest(src string, mtime time.Time) *gcs.CreateObjectRequest {
	return &gcs.CreateObjectRequest{
		Name:        u.objectName(src),
		ContentType: u.config.Upload.ContentType,
		Metadata: map[string]string{
			MtimeMetadataKey: mtime.UTC().Format(time.RFC3339Nano),
		},
	}
}

// openSource returns the reader of src and its modification time.
func (u *uploader) openSource(src string) (r io.ReadCloser, mtime time.Time, err error) {
	if src == stdinSource {
		return io.NopCloser(u.stdin), time.Now(), nil
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, time.Time{}, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, time.Time{}, err
	}
	if fi.IsDir() {
		f.Close()
		return nil, time.Time{}, fmt.Errorf("%s is a directory", src)
	}
	return f, fi.ModTime(), nil
}

func (u *uploader) uploadSource(ctx context.Context, src string) (err error) {
	r, mtime, err := u.openSource(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer r.Close()

	req := u.objectRequest(src, mtime)
	bwh, err := bufferedwrites.NewBWHandler(&bufferedwrites.CreateBWHandlerRequest{
		Bucket:             u.bucket,
		Object:             req,
		BlockSize:          u.blockSize,
		GlobalMaxBlocksSem: u.blockSem,
		Options:            u.options,
		RetryConfig:        u.retryConfig,
		BytesThrottle:      u.bytesThrottle,
		ProgressFunc: func(persisted int64) {
			logger.Debugf("%s: %d bytes persisted", req.Name, persisted)
		},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	defer func() {
		if destroyErr := bwh.Destroy(); destroyErr != nil {
			logger.Warnf("%s: error while releasing buffers: %v", src, destroyErr)
		}
	}()
	bwh.SetMtime(mtime)

	hasher := util.NewCRC32C()
	if _, err = bwh.ReadFrom(ctx, io.TeeReader(r, hasher)); err != nil {
		return fmt.Errorf("uploading %s: %w", src, err)
	}
	o, err := bwh.Flush(ctx)
	if err != nil {
		return fmt.Errorf("finalizing %s: %w", src, err)
	}
	if err = util.VerifyCRC32C(o.CRC32C, hasher.Sum32()); err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}

	logger.Infof("Uploaded %s to gs://%s/%s (upload %s)", src, u.bucket.Name(), o.Name, bwh.UploadID())
	u.report(src, o)
	return nil
}

func (u *uploader) report(src string, o *gcs.Object) {
	u.outMu.Lock()
	defer u.outMu.Unlock()
	fmt.Fprintf(u.out, "%s -> gs://%s generation=%d size=%d\n", src, path.Join(u.bucket.Name(), o.Name), o.Generation, o.Size)
}
