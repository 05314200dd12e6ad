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
	"fmt"
	"slices"
)

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidLoggingConfig(config *LoggingConfig) error {
	if !slices.Contains([]string{TextLogFormat, JSONLogFormat}, config.Format) {
		return fmt.Errorf("unsupported log format: %q", config.Format)
	}
	if config.AsyncBufferSize < 0 {
		return fmt.Errorf("async-buffer-size can't be negative")
	}
	if err := isValidLogRotateConfig(&config.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	return nil
}

func isValidURL(u string) error {
	_, err := decodeURL(u)
	return err
}

func isValidRateLimit(name string, limit float64) error {
	if limit == 0 || (limit < 0 && limit != -1) {
		return fmt.Errorf("%s should be positive or -1 for no limit", name)
	}
	return nil
}

func isValidRetryConfig(config *GcsRetriesConfig) error {
	if config.MaxRetryAttempts < 0 {
		return fmt.Errorf("max-retry-attempts can't be negative")
	}
	if config.InitialBackoff <= 0 {
		return fmt.Errorf("initial-backoff should be positive")
	}
	if config.MaxRetrySleep < config.InitialBackoff {
		return fmt.Errorf("max-retry-sleep can't be less than initial-backoff")
	}
	if config.Multiplier < 1 {
		return fmt.Errorf("multiplier should be atleast 1")
	}
	if config.TotalRetryBudget < 0 {
		return fmt.Errorf("total-retry-budget can't be negative")
	}
	return nil
}

func isValidUploadConfig(config *UploadConfig) error {
	if config.BlockSizeMb <= 0 {
		return fmt.Errorf("block-size-mb should be atleast 1")
	}
	if config.BufferLwmMb <= 0 {
		return fmt.Errorf("buffer-lwm-mb should be atleast 1")
	}
	if config.BufferHwmMb < config.BufferLwmMb {
		return fmt.Errorf("buffer-hwm-mb (%d) can't be less than buffer-lwm-mb (%d)", config.BufferHwmMb, config.BufferLwmMb)
	}
	if config.MaxWriteChunkKb <= 0 || config.MaxWriteChunkKb > MaxWriteChunkKB {
		return fmt.Errorf("max-write-chunk-kb should be in [1, %d]", MaxWriteChunkKB)
	}
	if config.ParallelUploads < 1 && config.ParallelUploads != ParallelUploadsNumCPU {
		return fmt.Errorf("parallel-uploads should be atleast 1 or %d", ParallelUploadsNumCPU)
	}
	return nil
}

func isValidMonitoringConfig(config *MonitoringConfig) error {
	if !slices.Contains([]string{TracingModeDisabled, TracingModeStdout, TracingModeGCPTrace}, config.ExperimentalTracingMode) {
		return fmt.Errorf("unsupported tracing mode: %q", config.ExperimentalTracingMode)
	}
	if config.ExperimentalTracingSamplingRatio < 0 || config.ExperimentalTracingSamplingRatio > 1 {
		return fmt.Errorf("experimental-tracing-sampling-ratio should be in [0, 1]")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	var err error

	if err = isValidLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("error parsing logging config: %w", err)
	}

	if err = isValidURL(config.GcsConnection.CustomEndpoint); err != nil {
		return fmt.Errorf("error parsing custom-endpoint config: %w", err)
	}

	if config.GcsConnection.GrpcConnPoolSize < 1 {
		return fmt.Errorf("grpc-conn-pool-size should be atleast 1")
	}

	if err = isValidRateLimit("limit-bytes-per-sec", config.GcsConnection.LimitBytesPerSec); err != nil {
		return err
	}

	if err = isValidRateLimit("limit-ops-per-sec", config.GcsConnection.LimitOpsPerSec); err != nil {
		return err
	}

	if err = isValidRetryConfig(&config.GcsRetries); err != nil {
		return fmt.Errorf("error parsing gcs-retries config: %w", err)
	}

	if err = isValidUploadConfig(&config.Upload); err != nil {
		return fmt.Errorf("error parsing upload config: %w", err)
	}

	if config.Metrics.PrometheusPort < 0 {
		return fmt.Errorf("prometheus-port can't be negative")
	}

	if config.Metrics.CloudMetricsExportIntervalSecs < 0 {
		return fmt.Errorf("cloud-metrics-export-interval-secs can't be negative")
	}

	if err = isValidMonitoringConfig(&config.Monitoring); err != nil {
		return fmt.Errorf("error parsing monitoring config: %w", err)
	}

	return nil
}
