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

package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

const name = "github.com/googlecloudplatform/gcsasyncwriter"

// MaybePropagateTraceContext carries the span of oldCtx over to newCtx. It is
// used when work outlives the caller's context, e.g. the background write
// loop, so the spans it starts stay children of the caller's span.
func MaybePropagateTraceContext(newCtx context.Context, oldCtx context.Context) context.Context {
	span := trace.SpanFromContext(oldCtx)
	if !span.SpanContext().IsValid() {
		return newCtx
	}
	return trace.ContextWithSpan(newCtx, span)
}
