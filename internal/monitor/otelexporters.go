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
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	cloudmetric "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	"github.com/googlecloudplatform/gcsasyncwriter/cfg"
	"github.com/googlecloudplatform/gcsasyncwriter/common"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	serviceName = "gcsasyncwriter"

	// Prefix of the Cloud Monitoring metric descriptors of this binary.
	customMetricPrefix = "custom.googleapis.com/" + serviceName + "/"

	metricsPath = "/metrics"
)

// SetupOTelMetricExporters installs the global meter provider with the
// readers enabled in c: a Prometheus endpoint and a periodic Cloud Monitoring
// export. It returns nil when neither is enabled, otherwise a function that
// flushes and stops them.
func SetupOTelMetricExporters(ctx context.Context, c *cfg.Config) common.ShutdownFn {
	var (
		readers   []metric.Option
		shutdowns []common.ShutdownFn
	)
	for _, setup := range []func() ([]metric.Option, common.ShutdownFn){
		func() ([]metric.Option, common.ShutdownFn) { return setupPrometheus(c.Metrics.PrometheusPort) },
		func() ([]metric.Option, common.ShutdownFn) {
			return setupCloudMonitoring(c.Metrics.CloudMetricsExportIntervalSecs)
		},
	} {
		opts, shutdown := setup()
		readers = append(readers, opts...)
		shutdowns = append(shutdowns, shutdown)
	}
	if len(readers) == 0 {
		return nil
	}

	if res, err := getResource(ctx); err != nil {
		logger.Errorf("Error while fetching resource: %v", err)
	} else {
		readers = append(readers, metric.WithResource(res))
	}
	provider := metric.NewMeterProvider(readers...)
	otel.SetMeterProvider(provider)

	// The provider flushes the readers, so it goes first.
	return common.JoinShutdownFunc(append([]common.ShutdownFn{provider.Shutdown}, shutdowns...)...)
}

// permissionAwareExporter stops exporting after the first PermissionDenied
// error so a missing monitoring role is reported once instead of every
// interval.
type permissionAwareExporter struct {
	metric.Exporter
	disabled atomic.Bool
}

func (p *permissionAwareExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	if p.disabled.Load() {
		return nil
	}
	err := p.Exporter.Export(ctx, rm)
	if status.Code(err) == codes.PermissionDenied && p.disabled.CompareAndSwap(false, true) {
		logger.Errorf("Disabling Cloud Monitoring export, permission denied: %v", err)
	}
	return err
}

// keepPID adds the process id to the labels Cloud Monitoring keeps, so
// concurrent uploaders on one host are told apart.
func keepPID(kv attribute.KeyValue) bool {
	return cloudmetric.DefaultResourceAttributesFilter(kv) || kv.Key == semconv.ProcessPIDKey
}

func setupCloudMonitoring(secs int64) ([]metric.Option, common.ShutdownFn) {
	if secs <= 0 {
		return nil, nil
	}
	exporter, err := cloudmetric.New(
		cloudmetric.WithMetricDescriptorTypeFormatter(metricFormatter),
		cloudmetric.WithFilteredResourceAttributes(keepPID),
	)
	if err != nil {
		logger.Errorf("Error while creating Google Cloud exporter: %v", err)
		return nil, nil
	}

	interval := time.Duration(secs) * time.Second
	r := metric.NewPeriodicReader(&permissionAwareExporter{Exporter: exporter}, metric.WithInterval(interval))
	return []metric.Option{metric.WithReader(r)}, r.Shutdown
}

// metricFormatter maps upload/request_count to
// custom.googleapis.com/gcsasyncwriter/upload/request_count.
func metricFormatter(m metricdata.Metrics) string {
	return customMetricPrefix + strings.ReplaceAll(m.Name, ".", "/")
}

func setupPrometheus(port int64) ([]metric.Option, common.ShutdownFn) {
	if port <= 0 {
		return nil, nil
	}
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithoutUnits(),
		prometheus.WithoutCounterSuffixes(),
		prometheus.WithoutScopeInfo(),
		prometheus.WithoutTargetInfo(),
	)
	if err != nil {
		logger.Errorf("Error while creating prometheus exporter: %v", err)
		return nil, nil
	}

	srv := serveMetrics(port, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return []metric.Option{metric.WithReader(exporter)}, srv.shutdown
}

// metricsServer serves the Prometheus registry until shut down.
type metricsServer struct {
	srv *http.Server
	// Closed once ListenAndServe returned.
	stopped chan struct{}
}

func serveMetrics(port int64, handler http.Handler) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, handler)
	m := &metricsServer{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(m.stopped)
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Prometheus endpoint on port %d failed: %v", port, err)
		}
	}()
	logger.Infof("Serving metrics at localhost:%d%s", port, metricsPath)
	return m
}

func (m *metricsServer) shutdown(ctx context.Context) error {
	err := m.srv.Shutdown(ctx)
	<-m.stopped
	if err != nil {
		return fmt.Errorf("shutting down prometheus endpoint: %w", err)
	}
	logger.Infof("Prometheus endpoint stopped")
	return nil
}

func getResource(ctx context.Context) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithDetectors(gcp.NewDetector()),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(common.GetVersion()),
		),
	)
}
