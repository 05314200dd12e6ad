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

package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	"go.opentelemetry.io/otel/sdk/trace"
)

// SpanInfo holds minimal data for tracking an active span.
type SpanInfo struct {
	Name      string
	SpanID    string
	TraceID   string
	ParentID  string
	StartTime time.Time
}

// OrphanDebugger implements trace.SpanProcessor and reports, when the tracer
// provider shuts down, every span that was started but never ended. For this
// program that means an upload session or RPC that never completed.
type OrphanDebugger struct {
	// OnStart and OnEnd can be called from different goroutines.
	activeSpans sync.Map // map[trace.SpanID]SpanInfo
}

func NewOrphanDebugger() *OrphanDebugger {
	return &OrphanDebugger{}
}

func (p *OrphanDebugger) OnStart(_ context.Context, s trace.ReadWriteSpan) {
	sCtx := s.SpanContext()
	p.activeSpans.Store(sCtx.SpanID(), SpanInfo{
		Name:      s.Name(),
		SpanID:    sCtx.SpanID().String(),
		TraceID:   sCtx.TraceID().String(),
		ParentID:  s.Parent().SpanID().String(),
		StartTime: s.StartTime(),
	})
}

func (p *OrphanDebugger) OnEnd(s trace.ReadOnlySpan) {
	p.activeSpans.Delete(s.SpanContext().SpanID())
}

// Orphans returns the spans that are still open, oldest first.
func (p *OrphanDebugger) Orphans() []SpanInfo {
	var orphans []SpanInfo
	p.activeSpans.Range(func(_, value any) bool {
		orphans = append(orphans, value.(SpanInfo))
		return true
	})
	sort.Slice(orphans, func(i, j int) bool {
		return orphans[i].StartTime.Before(orphans[j].StartTime)
	})
	return orphans
}

// Shutdown logs the orphaned spans.
func (p *OrphanDebugger) Shutdown(context.Context) error {
	for _, o := range p.Orphans() {
		logger.Warnf("Span %q (trace %s, span %s) started at %s was never ended.", o.Name, o.TraceID, o.SpanID, o.StartTime.Format(time.RFC3339Nano))
	}
	return nil
}

func (*OrphanDebugger) ForceFlush(context.Context) error { return nil }
