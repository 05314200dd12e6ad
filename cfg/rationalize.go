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

package cfg

import (
	"net/url"
	"runtime"
)

const (
	bufferLwmConfigKey = "upload.buffer-lwm-mb"
	bufferHwmConfigKey = "upload.buffer-hwm-mb"
)

// isSet interface is abstraction over the IsSet() method of viper, specially
// added to keep rationalize method simple. IsSet will be used to resolve
// conflicting configs.
type isSet interface {
	IsSet(string) bool
}

func decodeURL(u string) (string, error) {
	decodedURL, err := url.Parse(u)
	if err != nil {
		return "", err
	}
	return decodedURL.String(), nil
}

// resolveBufferWatermarks raises the high watermark when the user only moved
// the low one above it.
func resolveBufferWatermarks(v isSet, c *UploadConfig) {
	if v.IsSet(bufferLwmConfigKey) && !v.IsSet(bufferHwmConfigKey) && c.BufferHwmMb < c.BufferLwmMb {
		c.BufferHwmMb = 2 * c.BufferLwmMb
	}
}

func resolveParallelUploads(c *UploadConfig) {
	if c.ParallelUploads == ParallelUploadsNumCPU {
		c.ParallelUploads = int64(runtime.NumCPU())
	}
}

// Cloud Logging entries are parsed from json.
func resolveLoggingConfig(c *LoggingConfig) {
	if c.CloudLoggingProject != "" {
		c.Format = JSONLogFormat
	}
}

// Rationalize updates the config fields based on the values of other fields.
func Rationalize(v isSet, c *Config) error {
	var err error
	if c.GcsConnection.CustomEndpoint != "" {
		if c.GcsConnection.CustomEndpoint, err = decodeURL(c.GcsConnection.CustomEndpoint); err != nil {
			return err
		}
	}

	resolveBufferWatermarks(v, &c.Upload)
	resolveParallelUploads(&c.Upload)
	resolveLoggingConfig(&c.Logging)
	return nil
}
