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

	cloudtrace "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/googlecloudplatform/gcsasyncwriter/cfg"
	"github.com/googlecloudplatform/gcsasyncwriter/common"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func initPropagators() {
	props := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(props)
}

// SetupTracing bootstraps the OpenTelemetry tracing pipeline. It returns nil
// when tracing is disabled or could not be set up.
func SetupTracing(ctx context.Context, c *cfg.Config) common.ShutdownFn {
	tp, err := newTraceProvider(ctx, c)
	if err != nil {
		logger.Errorf("error occurred while setting up tracing: %v", err)
		return nil
	}
	if tp == nil {
		return nil
	}
	otel.SetTracerProvider(tp)
	initPropagators()
	return tp.Shutdown
}

func newTraceProvider(ctx context.Context, c *cfg.Config) (*sdktrace.TracerProvider, error) {
	switch c.Monitoring.ExperimentalTracingMode {
	case cfg.TracingModeStdout:
		return newStdoutTraceProvider()
	case cfg.TracingModeGCPTrace:
		return newGCPCloudTraceExporter(ctx, c)
	default:
		return nil, nil
	}
}

func newStdoutTraceProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithSpanProcessor(NewOrphanDebugger())), nil
}

func newGCPCloudTraceExporter(ctx context.Context, c *cfg.Config) (*sdktrace.TracerProvider, error) {
	var traceOptions []cloudtrace.Option

	if c.Monitoring.ExperimentalTracingProjectId != "" {
		traceOptions = append(traceOptions, cloudtrace.WithProjectID(c.Monitoring.ExperimentalTracingProjectId))
	}

	exporter, err := cloudtrace.New(traceOptions...)
	if err != nil {
		return nil, err
	}
	res, err := getResource(ctx)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.Monitoring.ExperimentalTracingSamplingRatio))),
		sdktrace.WithSpanProcessor(NewOrphanDebugger()),
	), nil
}
