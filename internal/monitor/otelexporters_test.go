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

package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/googlecloudplatform/gcsasyncwriter/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type mockExporter struct {
	metric.Exporter
	exportFunc func(context.Context, *metricdata.ResourceMetrics) error
}

func (m *mockExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	if m.exportFunc != nil {
		return m.exportFunc(ctx, rm)
	}
	return nil
}

func TestPermissionAwareExporter_ExportSuccess(t *testing.T) {
	mock := &mockExporter{}
	exporter := &permissionAwareExporter{Exporter: mock}

	err := exporter.Export(context.Background(), &metricdata.ResourceMetrics{})

	assert.NoError(t, err)
	assert.False(t, exporter.disabled.Load())
}

func TestPermissionAwareExporter_ExportPermissionDenied(t *testing.T) {
	calls := 0
	mock := &mockExporter{
		exportFunc: func(ctx context.Context, rm *metricdata.ResourceMetrics) error {
			calls++
			return status.Error(codes.PermissionDenied, "permission denied")
		},
	}
	exporter := &permissionAwareExporter{Exporter: mock}
	err := exporter.Export(context.Background(), &metricdata.ResourceMetrics{})
	require.Error(t, err)
	require.Equal(t, codes.PermissionDenied, status.Code(err))
	require.True(t, exporter.disabled.Load())

	err = exporter.Export(context.Background(), &metricdata.ResourceMetrics{})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPermissionAwareExporter_ExportOtherError(t *testing.T) {
	mock := &mockExporter{
		exportFunc: func(ctx context.Context, rm *metricdata.ResourceMetrics) error {
			return errors.New("some other error")
		},
	}
	exporter := &permissionAwareExporter{Exporter: mock}

	err := exporter.Export(context.Background(), &metricdata.ResourceMetrics{})

	assert.Error(t, err)
	assert.False(t, exporter.disabled.Load())
}

func TestMetricFormatter(t *testing.T) {
	got := metricFormatter(metricdata.Metrics{Name: "upload/request_count"})

	assert.Equal(t, "custom.googleapis.com/gcsasyncwriter/upload/request_count", got)
}

func TestSetupOTelMetricExportersDisabled(t *testing.T) {
	c := &cfg.Config{}

	assert.Nil(t, SetupOTelMetricExporters(context.Background(), c))
}

func TestSetupPrometheusDisabled(t *testing.T) {
	opts, shutdown := setupPrometheus(0)

	assert.Nil(t, opts)
	assert.Nil(t, shutdown)
}

func freePort(t *testing.T) int64 {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return int64(port)
}

func TestSetupPrometheusServesMetrics(t *testing.T) {
	port := freePort(t)
	opts, shutdown := setupPrometheus(port)
	require.Len(t, opts, 1)
	provider := metric.NewMeterProvider(opts...)
	counter, err := provider.Meter("test").Int64Counter("upload_test_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	var body string
	assert.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/metrics", port))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	assert.Contains(t, body, "upload_test_total 3")
	assert.NoError(t, provider.Shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))
}
