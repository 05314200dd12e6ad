// Copyright 2024 Google Inc. All Rights Reserved.
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

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	GcsAuth GcsAuthConfig `yaml:"gcs-auth"`

	GcsConnection GcsConnectionConfig `yaml:"gcs-connection"`

	GcsRetries GcsRetriesConfig `yaml:"gcs-retries"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`

	Monitoring MonitoringConfig `yaml:"monitoring"`

	Profiling ProfilingConfig `yaml:"profiling"`

	Upload UploadConfig `yaml:"upload"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	FakeBackend bool `yaml:"fake-backend"`

	LogMutex bool `yaml:"log-mutex"`
}

type GcsAuthConfig struct {
	AnonymousAccess bool `yaml:"anonymous-access"`

	KeyFile ResolvedPath `yaml:"key-file"`
}

type GcsConnectionConfig struct {
	BillingProject string `yaml:"billing-project"`

	CustomEndpoint string `yaml:"custom-endpoint"`

	GrpcConnPoolSize int64 `yaml:"grpc-conn-pool-size"`

	LimitBytesPerSec float64 `yaml:"limit-bytes-per-sec"`

	LimitOpsPerSec float64 `yaml:"limit-ops-per-sec"`
}

type GcsRetriesConfig struct {
	InitialBackoff time.Duration `yaml:"initial-backoff"`

	MaxRetryAttempts int64 `yaml:"max-retry-attempts"`

	MaxRetrySleep time.Duration `yaml:"max-retry-sleep"`

	Multiplier float64 `yaml:"multiplier"`

	TotalRetryBudget time.Duration `yaml:"total-retry-budget"`
}

type LogRotateLoggingConfig struct {
	BackupFileCount int64 `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`

	MaxFileSizeMb int64 `yaml:"max-file-size-mb"`
}

type LoggingConfig struct {
	AsyncBufferSize int64 `yaml:"async-buffer-size"`

	CloudLoggingProject string `yaml:"cloud-logging-project"`

	FilePath ResolvedPath `yaml:"file-path"`

	Format string `yaml:"format"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`

	Severity LogSeverity `yaml:"severity"`
}

type MetricsConfig struct {
	CloudMetricsExportIntervalSecs int64 `yaml:"cloud-metrics-export-interval-secs"`

	PrometheusPort int64 `yaml:"prometheus-port"`
}

type MonitoringConfig struct {
	ExperimentalTracingMode string `yaml:"experimental-tracing-mode"`

	ExperimentalTracingProjectId string `yaml:"experimental-tracing-project-id"`

	ExperimentalTracingSamplingRatio float64 `yaml:"experimental-tracing-sampling-ratio"`
}

type ProfilingConfig struct {
	AllocatedHeap bool `yaml:"allocated-heap"`

	Cpu bool `yaml:"cpu"`

	Enabled bool `yaml:"enabled"`

	Goroutines bool `yaml:"goroutines"`

	Heap bool `yaml:"heap"`

	Label string `yaml:"label"`

	Mutex bool `yaml:"mutex"`
}

type UploadConfig struct {
	BlockSizeMb int64 `yaml:"block-size-mb"`

	BufferHwmMb int64 `yaml:"buffer-hwm-mb"`

	BufferLwmMb int64 `yaml:"buffer-lwm-mb"`

	ContentType string `yaml:"content-type"`

	MaxWriteChunkKb int64 `yaml:"max-write-chunk-kb"`

	ObjectPrefix string `yaml:"object-prefix"`

	ParallelUploads int64 `yaml:"parallel-uploads"`
}

// BindFlags registers every config flag on flagSet and binds it to its config
// key in v.
func BindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	var err error

	flagSet.BoolP("anonymous-access", "", false, "This flag disables authentication.")

	err = v.BindPFlag("gcs-auth.anonymous-access", flagSet.Lookup("anonymous-access"))
	if err != nil {
		return err
	}

	flagSet.StringP("app-name", "", "", "The application name reported in the user agent of GCS requests.")

	err = v.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return err
	}

	flagSet.StringP("billing-project", "", "", "Project to use for billing when accessing a bucket enabled with \"Requester Pays\".")

	err = v.BindPFlag("gcs-connection.billing-project", flagSet.Lookup("billing-project"))
	if err != nil {
		return err
	}

	flagSet.IntP("block-size-mb", "", 32, "Size of the pieces in which the source is read and handed to the writer, in MiB.")

	err = v.BindPFlag("upload.block-size-mb", flagSet.Lookup("block-size-mb"))
	if err != nil {
		return err
	}

	flagSet.IntP("buffer-hwm-mb", "", 32, "Unacknowledged bytes above which writes block until the buffer drains, in MiB.")

	err = v.BindPFlag("upload.buffer-hwm-mb", flagSet.Lookup("buffer-hwm-mb"))
	if err != nil {
		return err
	}

	flagSet.IntP("buffer-lwm-mb", "", 16, "Unacknowledged bytes at which sends become flushes and blocked writes are released, in MiB.")

	err = v.BindPFlag("upload.buffer-lwm-mb", flagSet.Lookup("buffer-lwm-mb"))
	if err != nil {
		return err
	}

	flagSet.StringP("cloud-logging-project", "", "", "Send logs to Cloud Logging in this project instead of the log file or stdout.")

	err = v.BindPFlag("logging.cloud-logging-project", flagSet.Lookup("cloud-logging-project"))
	if err != nil {
		return err
	}

	flagSet.IntP("cloud-metrics-export-interval-secs", "", 0, "Specifies the interval at which the metrics are uploaded to cloud monitoring. 0 disables the export.")

	err = v.BindPFlag("metrics.cloud-metrics-export-interval-secs", flagSet.Lookup("cloud-metrics-export-interval-secs"))
	if err != nil {
		return err
	}

	flagSet.StringP("content-type", "", "", "Content type of the uploaded objects. Detected from the file extension when empty.")

	err = v.BindPFlag("upload.content-type", flagSet.Lookup("content-type"))
	if err != nil {
		return err
	}

	flagSet.StringP("custom-endpoint", "", "", "Specifies an alternative custom endpoint for fetching data. The endpoint must be a gRPC target.")

	err = v.BindPFlag("gcs-connection.custom-endpoint", flagSet.Lookup("custom-endpoint"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")

	err = v.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")

	err = v.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex"))
	if err != nil {
		return err
	}

	flagSet.BoolP("enable-cloud-profiling", "", false, "Send CPU and memory profiles of the uploads to Cloud Profiler.")

	err = v.BindPFlag("profiling.enabled", flagSet.Lookup("enable-cloud-profiling"))
	if err != nil {
		return err
	}

	flagSet.StringP("experimental-tracing-mode", "", "", "Experimental: specify tracing mode. Value can be '' (disabled), 'stdout' or 'gcptrace'.")

	err = v.BindPFlag("monitoring.experimental-tracing-mode", flagSet.Lookup("experimental-tracing-mode"))
	if err != nil {
		return err
	}

	flagSet.StringP("experimental-tracing-project-id", "", "", "Experimental: project to export traces to in gcptrace mode. Defaults to the project of the credentials.")

	err = v.BindPFlag("monitoring.experimental-tracing-project-id", flagSet.Lookup("experimental-tracing-project-id"))
	if err != nil {
		return err
	}

	flagSet.Float64P("experimental-tracing-sampling-ratio", "", 0.1, "Experimental: fraction of uploads traced in gcptrace mode.")

	err = v.BindPFlag("monitoring.experimental-tracing-sampling-ratio", flagSet.Lookup("experimental-tracing-sampling-ratio"))
	if err != nil {
		return err
	}

	flagSet.BoolP("fake-backend", "", false, "Upload into an in-memory bucket instead of GCS.")

	err = v.BindPFlag("debug.fake-backend", flagSet.Lookup("fake-backend"))
	if err != nil {
		return err
	}

	flagSet.IntP("grpc-conn-pool-size", "", 1, "The number of gRPC channel in grpc client.")

	err = v.BindPFlag("gcs-connection.grpc-conn-pool-size", flagSet.Lookup("grpc-conn-pool-size"))
	if err != nil {
		return err
	}

	flagSet.DurationP("initial-backoff", "", time.Second, "First pause between attempts to resume a broken upload stream.")

	err = v.BindPFlag("gcs-retries.initial-backoff", flagSet.Lookup("initial-backoff"))
	if err != nil {
		return err
	}

	flagSet.StringP("key-file", "", "", "Absolute path to JSON key file for use with GCS. (The default is none, Google application default credentials used)")

	err = v.BindPFlag("gcs-auth.key-file", flagSet.Lookup("key-file"))
	if err != nil {
		return err
	}

	flagSet.Float64P("limit-bytes-per-sec", "", -1, "Bandwidth limit for uploading data, measured over a 30-second window. (use -1 for no limit)")

	err = v.BindPFlag("gcs-connection.limit-bytes-per-sec", flagSet.Lookup("limit-bytes-per-sec"))
	if err != nil {
		return err
	}

	flagSet.Float64P("limit-ops-per-sec", "", -1, "Operations per second limit for starting and resuming uploads, measured over a 30-second window (use -1 for no limit)")

	err = v.BindPFlag("gcs-connection.limit-ops-per-sec", flagSet.Lookup("limit-ops-per-sec"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-async-buffer-size", "", 1000, "Number of log messages queued for the log file before new ones are dropped. 0 writes synchronously.")

	err = v.BindPFlag("logging.async-buffer-size", flagSet.Lookup("log-async-buffer-size"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "The file for storing logs. When not provided, logs are printed to stdout.")

	err = v.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "json", "The format of the log file: 'text' or 'json'.")

	err = v.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-file-count", "", 10, "The maximum number of backup log files to retain after they have been rotated. A value of 0 indicates all backup files are retained.")

	err = v.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-file-count"))
	if err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Controls whether the rotated log files should be compressed using gzip.")

	err = v.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-file-size-mb", "", 512, "The maximum size in megabytes that a log file can reach before it is rotated.")

	err = v.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-file-size-mb"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "info", "Specifies the logging severity expressed as one of [trace, debug, info, warning, error, off]")

	err = v.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-retry-attempts", "", 0, "Maximum attempts to resume a broken upload stream. 0 means no limit.")

	err = v.BindPFlag("gcs-retries.max-retry-attempts", flagSet.Lookup("max-retry-attempts"))
	if err != nil {
		return err
	}

	flagSet.DurationP("max-retry-sleep", "", 30*time.Second, "The maximum duration allowed to sleep in a retry/backoff loop.")

	err = v.BindPFlag("gcs-retries.max-retry-sleep", flagSet.Lookup("max-retry-sleep"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-write-chunk-kb", "", 2048, "Largest payload sent in a single write message, in KiB.")

	err = v.BindPFlag("upload.max-write-chunk-kb", flagSet.Lookup("max-write-chunk-kb"))
	if err != nil {
		return err
	}

	flagSet.StringP("object-prefix", "", "", "Prefix prepended to the base name of each uploaded file to form the object name.")

	err = v.BindPFlag("upload.object-prefix", flagSet.Lookup("object-prefix"))
	if err != nil {
		return err
	}

	flagSet.IntP("parallel-uploads", "", 4, "Number of files uploaded concurrently. -1 uses the number of CPUs.")

	err = v.BindPFlag("upload.parallel-uploads", flagSet.Lookup("parallel-uploads"))
	if err != nil {
		return err
	}

	flagSet.BoolP("profiling-allocated-heap", "", true, "Enables allocated heap (HeapProfileAllocs) profiling when cloud profiling is enabled.")

	err = v.BindPFlag("profiling.allocated-heap", flagSet.Lookup("profiling-allocated-heap"))
	if err != nil {
		return err
	}

	flagSet.BoolP("profiling-cpu", "", true, "Enables cpu profiling when cloud profiling is enabled.")

	err = v.BindPFlag("profiling.cpu", flagSet.Lookup("profiling-cpu"))
	if err != nil {
		return err
	}

	flagSet.BoolP("profiling-goroutines", "", false, "Enables goroutines profiling when cloud profiling is enabled.")

	err = v.BindPFlag("profiling.goroutines", flagSet.Lookup("profiling-goroutines"))
	if err != nil {
		return err
	}

	flagSet.BoolP("profiling-heap", "", true, "Enables heap profiling when cloud profiling is enabled.")

	err = v.BindPFlag("profiling.heap", flagSet.Lookup("profiling-heap"))
	if err != nil {
		return err
	}

	flagSet.StringP("profiling-label", "", "gcsasyncwriter-0.0.0", "Version label reported to Cloud Profiler.")

	err = v.BindPFlag("profiling.label", flagSet.Lookup("profiling-label"))
	if err != nil {
		return err
	}

	flagSet.BoolP("profiling-mutex", "", false, "Enables mutex profiling when cloud profiling is enabled.")

	err = v.BindPFlag("profiling.mutex", flagSet.Lookup("profiling-mutex"))
	if err != nil {
		return err
	}

	flagSet.IntP("prometheus-port", "", 0, "Expose Prometheus metrics endpoint on this port and a path of /metrics.")

	err = v.BindPFlag("metrics.prometheus-port", flagSet.Lookup("prometheus-port"))
	if err != nil {
		return err
	}

	flagSet.Float64P("retry-multiplier", "", 2, "Param for exponential backoff algorithm, which is used to increase waiting time b/w two consecutive retries.")

	err = v.BindPFlag("gcs-retries.multiplier", flagSet.Lookup("retry-multiplier"))
	if err != nil {
		return err
	}

	flagSet.DurationP("total-retry-budget", "", 5*time.Minute, "Total time spent resuming a broken upload stream before giving up. 0 means no limit.")

	err = v.BindPFlag("gcs-retries.total-retry-budget", flagSet.Lookup("total-retry-budget"))
	if err != nil {
		return err
	}

	return nil
}
