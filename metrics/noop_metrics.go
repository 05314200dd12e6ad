// Copyright 2025 Google LLC
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

package metrics

import (
	"context"
	"time"
)

type noopMetrics struct{}

func (*noopMetrics) UploadBufferedBytes(inc int64) {}

func (*noopMetrics) UploadFlowControlWaitCount(inc int64) {}

func (*noopMetrics) UploadRequestCount(inc int64, uploadMethod UploadMethod) {}

func (*noopMetrics) UploadRequestLatencies(ctx context.Context, latency time.Duration, uploadMethod UploadMethod) {
}

func (*noopMetrics) UploadResumeCount(inc int64, status ResumeStatus) {}

func (*noopMetrics) UploadSentBytesCount(inc int64, uploadMethod UploadMethod) {}

func NewNoopMetrics() MetricHandle {
	var n noopMetrics
	return &n
}
