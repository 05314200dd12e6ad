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

// UploadMethod is the request kind sent on an upload stream.
type UploadMethod string

const (
	UploadMethodFinalizeAttr UploadMethod = "Finalize"
	UploadMethodFlushAttr    UploadMethod = "Flush"
	UploadMethodQueryAttr    UploadMethod = "Query"
	UploadMethodWriteAttr    UploadMethod = "Write"
)

// ResumeStatus is the outcome of an attempt to reconnect a broken upload.
type ResumeStatus string

const (
	ResumeStatusCancelledAttr  ResumeStatus = "cancelled"
	ResumeStatusFailedAttr     ResumeStatus = "failed"
	ResumeStatusSuccessfulAttr ResumeStatus = "successful"
)

// MetricHandle provides an interface for recording metrics.
// Each method corresponds to one instrument exported under the "upload/" prefix.
type MetricHandle interface {
	// UploadBufferedBytes - The number of bytes held in resend buffers, waiting for the service to persist them.
	UploadBufferedBytes(inc int64)

	// UploadFlowControlWaitCount - The cumulative number of writes that blocked because the resend buffer was above its high watermark.
	UploadFlowControlWaitCount(inc int64)

	// UploadRequestCount - The cumulative number of upload stream requests along with the method.
	UploadRequestCount(inc int64, uploadMethod UploadMethod)

	// UploadRequestLatencies - The cumulative distribution of upload stream request latencies.
	UploadRequestLatencies(ctx context.Context, latency time.Duration, uploadMethod UploadMethod)

	// UploadResumeCount - The cumulative number of attempts to resume a broken upload along with their status: successful, failed or cancelled.
	UploadResumeCount(inc int64, status ResumeStatus)

	// UploadSentBytesCount - The cumulative number of payload bytes sent on upload streams along with the method.
	UploadSentBytesCount(inc int64, uploadMethod UploadMethod)
}
