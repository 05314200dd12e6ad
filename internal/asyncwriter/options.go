// Copyright 2026 Google LLC
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

package asyncwriter

import (
	"fmt"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/util"
	"github.com/googlecloudplatform/gcsasyncwriter/metrics"
	"github.com/googlecloudplatform/gcsasyncwriter/tracing"
)

const (
	DefaultLowWatermark  = 16 * util.MiB
	DefaultHighWatermark = 32 * util.MiB
	// The largest payload the service accepts in one write message.
	DefaultMaxWriteChunk = 2 * util.MiB
)

// Options configure a BufferedConnection. Zero values select the defaults.
type Options struct {
	// Once the resend buffer holds this many bytes, data is sent with Flush
	// and confirmed with Query, and blocked writers are released when the
	// buffer drops below it.
	LowWatermark int64

	// Writes that leave the resend buffer at or above this size block until
	// it drains below LowWatermark.
	HighWatermark int64

	// Sends are split into requests of at most this many bytes.
	MaxWriteChunk int64

	MetricHandle metrics.MetricHandle
	TraceHandle  tracing.TraceHandle
}

func (o Options) withDefaults() (Options, error) {
	if o.LowWatermark == 0 {
		o.LowWatermark = DefaultLowWatermark
	}
	if o.HighWatermark == 0 {
		o.HighWatermark = max(DefaultHighWatermark, o.LowWatermark)
	}
	if o.MaxWriteChunk == 0 {
		o.MaxWriteChunk = DefaultMaxWriteChunk
	}
	if o.MetricHandle == nil {
		o.MetricHandle = metrics.NewNoopMetrics()
	}
	if o.TraceHandle == nil {
		o.TraceHandle = tracing.NewNoopTracer()
	}

	if o.LowWatermark < 0 || o.MaxWriteChunk < 0 {
		return o, fmt.Errorf("watermarks and chunk size must be positive: lwm=%d, chunk=%d", o.LowWatermark, o.MaxWriteChunk)
	}
	if o.HighWatermark < o.LowWatermark {
		return o, fmt.Errorf("high watermark %d is below low watermark %d", o.HighWatermark, o.LowWatermark)
	}
	return o, nil
}
