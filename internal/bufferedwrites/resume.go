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

	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/storageutil"
)

// NewResumeFactory returns the factory a BufferedConnection uses to reconnect
// to uploadID after a failure. Each reconnect is retried as long as the
// retry config allows.
func NewResumeFactory(bucket gcs.Bucket, uploadID string, retryConfig *storageutil.RetryConfig) gcs.WriterConnectionFactory {
	return func(ctx context.Context) (gcs.WriterConnection, error) {
		return storageutil.ExecuteWithRetry(ctx, retryConfig, "ResumeAppendableUpload", uploadID,
			func(ctx context.Context) (gcs.WriterConnection, error) {
				return bucket.ResumeAppendableUpload(ctx, uploadID)
			})
	}
}
