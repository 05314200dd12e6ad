// Copyright 2023 Google LLC
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

package ratelimit

import (
	"context"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
)

// NewThrottledBucket returns a bucket that waits for opThrottle before
// starting or resuming an upload. A nil throttle does not limit.
func NewThrottledBucket(
	opThrottle Throttle,
	wrapped gcs.Bucket) (b gcs.Bucket) {
	if opThrottle == nil {
		return wrapped
	}
	b = &throttledBucket{
		opThrottle: opThrottle,
		wrapped:    wrapped,
	}
	return
}

////////////////////////////////////////////////////////////////////////
// throttledBucket
////////////////////////////////////////////////////////////////////////

type throttledBucket struct {
	opThrottle Throttle
	wrapped    gcs.Bucket
}

func (b *throttledBucket) Name() string {
	return b.wrapped.Name()
}

func (b *throttledBucket) CreateAppendableUpload(
	ctx context.Context,
	req *gcs.CreateObjectRequest) (wc gcs.WriterConnection, err error) {
	// Wait for permission to call through.
	err = b.opThrottle.Wait(ctx, 1)
	if err != nil {
		return
	}

	// Call through.
	wc, err = b.wrapped.CreateAppendableUpload(ctx, req)

	return
}

// ResumeAppendableUpload is throttled like creation: every resume opens a
// new stream. Requests on an open stream are not throttled.
func (b *throttledBucket) ResumeAppendableUpload(
	ctx context.Context,
	uploadID string) (wc gcs.WriterConnection, err error) {
	// Wait for permission to call through.
	err = b.opThrottle.Wait(ctx, 1)
	if err != nil {
		return
	}

	// Call through.
	wc, err = b.wrapped.ResumeAppendableUpload(ctx, uploadID)

	return
}
