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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupOTel(ctx context.Context, t *testing.T) (*otelMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)

	m, err := NewOTelMetrics(ctx, 10, 100)
	require.NoError(t, err)
	return m, reader
}

func TestUploadRequestCount(t *testing.T) {
	tests := []struct {
		name     string
		f        func(m *otelMetrics)
		expected map[attribute.Set]int64
	}{
		{
			name: "upload_method_Write",
			f: func(m *otelMetrics) {
				m.UploadRequestCount(5, UploadMethodWriteAttr)
			},
			expected: map[attribute.Set]int64{
				attribute.NewSet(attribute.String("upload_method", "Write")): 5,
			},
		},
		{
			name: "multiple_methods",
			f: func(m *otelMetrics) {
				m.UploadRequestCount(2, UploadMethodFlushAttr)
				m.UploadRequestCount(3, UploadMethodQueryAttr)
				m.UploadRequestCount(1, UploadMethodFlushAttr)
				m.UploadRequestCount(1, UploadMethodFinalizeAttr)
			},
			expected: map[attribute.Set]int64{
				attribute.NewSet(attribute.String("upload_method", "Flush")):    3,
				attribute.NewSet(attribute.String("upload_method", "Query")):    3,
				attribute.NewSet(attribute.String("upload_method", "Finalize")): 1,
			},
		},
		{
			name: "negative_increment_is_ignored",
			f: func(m *otelMetrics) {
				m.UploadRequestCount(4, UploadMethodWriteAttr)
				m.UploadRequestCount(-1, UploadMethodWriteAttr)
			},
			expected: map[attribute.Set]int64{
				attribute.NewSet(attribute.String("upload_method", "Write")): 4,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			m, rd := setupOTel(ctx, t)

			tc.f(m)

			for attrs, v := range tc.expected {
				VerifyCounterMetric(t, ctx, rd, "upload/request_count", attrs, v)
			}
		})
	}
}

func TestUploadSentBytesCount(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)

	m.UploadSentBytesCount(1000, UploadMethodWriteAttr)
	m.UploadSentBytesCount(24, UploadMethodWriteAttr)
	m.UploadSentBytesCount(500, UploadMethodFinalizeAttr)

	VerifyCounterMetric(t, ctx, rd, "upload/sent_bytes_count", attribute.NewSet(attribute.String("upload_method", "Write")), 1024)
	VerifyCounterMetric(t, ctx, rd, "upload/sent_bytes_count", attribute.NewSet(attribute.String("upload_method", "Finalize")), 500)
}

func TestUploadResumeCount(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)

	m.UploadResumeCount(2, ResumeStatusSuccessfulAttr)
	m.UploadResumeCount(1, ResumeStatusFailedAttr)
	m.UploadResumeCount(1, ResumeStatusCancelledAttr)
	m.UploadResumeCount(1, ResumeStatus("unknown"))

	VerifyCounterMetric(t, ctx, rd, "upload/resume_count", attribute.NewSet(attribute.String("status", "successful")), 2)
	VerifyCounterMetric(t, ctx, rd, "upload/resume_count", attribute.NewSet(attribute.String("status", "failed")), 1)
	VerifyCounterMetric(t, ctx, rd, "upload/resume_count", attribute.NewSet(attribute.String("status", "cancelled")), 1)
	assert.Equal(t, "unknown", unrecognizedAttr.Load())
}

func TestUploadFlowControlWaitCount(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)

	m.UploadFlowControlWaitCount(3)

	VerifyCounterMetric(t, ctx, rd, "upload/flow_control_wait_count", *attribute.EmptySet(), 3)
}

func TestUploadBufferedBytesGoesUpAndDown(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)

	m.UploadBufferedBytes(3000)
	m.UploadBufferedBytes(-2000)

	VerifyCounterMetric(t, ctx, rd, "upload/buffered_bytes", *attribute.EmptySet(), 1000)
}

func TestUploadRequestLatencies(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)

	m.UploadRequestLatencies(ctx, 12*time.Millisecond, UploadMethodFlushAttr)
	m.UploadRequestLatencies(ctx, 300*time.Millisecond, UploadMethodFlushAttr)
	m.UploadRequestLatencies(ctx, 5*time.Millisecond, UploadMethodQueryAttr)
	m.Close()

	VerifyHistogramMetric(t, ctx, rd, "upload/request_latencies", attribute.NewSet(attribute.String("upload_method", "Flush")), 2)
	VerifyHistogramMetric(t, ctx, rd, "upload/request_latencies", attribute.NewSet(attribute.String("upload_method", "Query")), 1)
	var rm metricdata.ResourceMetrics
	require.NoError(t, rd.Collect(ctx, &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "upload/request_latencies" {
				continue
			}
			hist := md.Data.(metricdata.Histogram[int64])
			for _, dp := range hist.DataPoints {
				if v, _ := dp.Attributes.Value("upload_method"); v.AsString() == "Flush" {
					assert.Equal(t, int64(312), dp.Sum)
				}
			}
		}
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoopMetrics()

	assert.NotPanics(t, func() {
		m.UploadBufferedBytes(1)
		m.UploadFlowControlWaitCount(1)
		m.UploadRequestCount(1, UploadMethodWriteAttr)
		m.UploadRequestLatencies(context.Background(), time.Second, UploadMethodWriteAttr)
		m.UploadResumeCount(1, ResumeStatusSuccessfulAttr)
		m.UploadSentBytesCount(1, UploadMethodWriteAttr)
	})
}
