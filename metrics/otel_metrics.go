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
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const logInterval = 5 * time.Minute

var (
	unrecognizedAttr                                  atomic.Value
	uploadRequestCountUploadMethodFinalizeAttrSet     = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Finalize")))
	uploadRequestCountUploadMethodFlushAttrSet        = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Flush")))
	uploadRequestCountUploadMethodQueryAttrSet        = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Query")))
	uploadRequestCountUploadMethodWriteAttrSet        = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Write")))
	uploadRequestLatenciesUploadMethodFinalizeAttrSet = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Finalize")))
	uploadRequestLatenciesUploadMethodFlushAttrSet    = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Flush")))
	uploadRequestLatenciesUploadMethodQueryAttrSet    = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Query")))
	uploadRequestLatenciesUploadMethodWriteAttrSet    = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Write")))
	uploadResumeCountStatusCancelledAttrSet           = metric.WithAttributeSet(attribute.NewSet(attribute.String("status", "cancelled")))
	uploadResumeCountStatusFailedAttrSet              = metric.WithAttributeSet(attribute.NewSet(attribute.String("status", "failed")))
	uploadResumeCountStatusSuccessfulAttrSet          = metric.WithAttributeSet(attribute.NewSet(attribute.String("status", "successful")))
	uploadSentBytesCountUploadMethodFinalizeAttrSet   = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Finalize")))
	uploadSentBytesCountUploadMethodFlushAttrSet      = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Flush")))
	uploadSentBytesCountUploadMethodWriteAttrSet      = metric.WithAttributeSet(attribute.NewSet(attribute.String("upload_method", "Write")))
)

type histogramRecord struct {
	ctx        context.Context
	instrument metric.Int64Histogram
	value      int64
	attributes metric.RecordOption
}

type otelMetrics struct {
	ch                                             chan histogramRecord
	wg                                             *sync.WaitGroup
	uploadBufferedBytesAtomic                      *atomic.Int64
	uploadFlowControlWaitCountAtomic               *atomic.Int64
	uploadRequestCountUploadMethodFinalizeAtomic   *atomic.Int64
	uploadRequestCountUploadMethodFlushAtomic      *atomic.Int64
	uploadRequestCountUploadMethodQueryAtomic      *atomic.Int64
	uploadRequestCountUploadMethodWriteAtomic      *atomic.Int64
	uploadResumeCountStatusCancelledAtomic         *atomic.Int64
	uploadResumeCountStatusFailedAtomic            *atomic.Int64
	uploadResumeCountStatusSuccessfulAtomic        *atomic.Int64
	uploadSentBytesCountUploadMethodFinalizeAtomic *atomic.Int64
	uploadSentBytesCountUploadMethodFlushAtomic    *atomic.Int64
	uploadSentBytesCountUploadMethodWriteAtomic    *atomic.Int64
	uploadRequestLatencies                         metric.Int64Histogram
}

func (o *otelMetrics) UploadBufferedBytes(
	inc int64) {
	o.uploadBufferedBytesAtomic.Add(inc)
}

func (o *otelMetrics) UploadFlowControlWaitCount(
	inc int64) {
	if inc < 0 {
		logger.Errorf("Counter metric upload/flow_control_wait_count received a negative increment: %d", inc)
		return
	}
	o.uploadFlowControlWaitCountAtomic.Add(inc)
}

func (o *otelMetrics) UploadRequestCount(
	inc int64, uploadMethod UploadMethod) {
	if inc < 0 {
		logger.Errorf("Counter metric upload/request_count received a negative increment: %d", inc)
		return
	}
	switch uploadMethod {
	case UploadMethodFinalizeAttr:
		o.uploadRequestCountUploadMethodFinalizeAtomic.Add(inc)
	case UploadMethodFlushAttr:
		o.uploadRequestCountUploadMethodFlushAtomic.Add(inc)
	case UploadMethodQueryAttr:
		o.uploadRequestCountUploadMethodQueryAtomic.Add(inc)
	case UploadMethodWriteAttr:
		o.uploadRequestCountUploadMethodWriteAtomic.Add(inc)
	default:
		updateUnrecognizedAttribute(string(uploadMethod))
		return
	}
}

func (o *otelMetrics) UploadRequestLatencies(
	ctx context.Context, latency time.Duration, uploadMethod UploadMethod) {
	var record histogramRecord
	switch uploadMethod {
	case UploadMethodFinalizeAttr:
		record = histogramRecord{ctx: ctx, instrument: o.uploadRequestLatencies, value: latency.Milliseconds(), attributes: uploadRequestLatenciesUploadMethodFinalizeAttrSet}
	case UploadMethodFlushAttr:
		record = histogramRecord{ctx: ctx, instrument: o.uploadRequestLatencies, value: latency.Milliseconds(), attributes: uploadRequestLatenciesUploadMethodFlushAttrSet}
	case UploadMethodQueryAttr:
		record = histogramRecord{ctx: ctx, instrument: o.uploadRequestLatencies, value: latency.Milliseconds(), attributes: uploadRequestLatenciesUploadMethodQueryAttrSet}
	case UploadMethodWriteAttr:
		record = histogramRecord{ctx: ctx, instrument: o.uploadRequestLatencies, value: latency.Milliseconds(), attributes: uploadRequestLatenciesUploadMethodWriteAttrSet}
	default:
		updateUnrecognizedAttribute(string(uploadMethod))
		return
	}

	select {
	case o.ch <- record: // Do nothing
	default: // Unblock writes to channel if it's full.
	}
}

func (o *otelMetrics) UploadResumeCount(
	inc int64, status ResumeStatus) {
	if inc < 0 {
		logger.Errorf("Counter metric upload/resume_count received a negative increment: %d", inc)
		return
	}
	switch status {
	case ResumeStatusCancelledAttr:
		o.uploadResumeCountStatusCancelledAtomic.Add(inc)
	case ResumeStatusFailedAttr:
		o.uploadResumeCountStatusFailedAtomic.Add(inc)
	case ResumeStatusSuccessfulAttr:
		o.uploadResumeCountStatusSuccessfulAtomic.Add(inc)
	default:
		updateUnrecognizedAttribute(string(status))
		return
	}
}

func (o *otelMetrics) UploadSentBytesCount(
	inc int64, uploadMethod UploadMethod) {
	if inc < 0 {
		logger.Errorf("Counter metric upload/sent_bytes_count received a negative increment: %d", inc)
		return
	}
	switch uploadMethod {
	case UploadMethodFinalizeAttr:
		o.uploadSentBytesCountUploadMethodFinalizeAtomic.Add(inc)
	case UploadMethodFlushAttr:
		o.uploadSentBytesCountUploadMethodFlushAtomic.Add(inc)
	case UploadMethodWriteAttr:
		o.uploadSentBytesCountUploadMethodWriteAtomic.Add(inc)
	default:
		updateUnrecognizedAttribute(string(uploadMethod))
		return
	}
}

// NewOTelMetrics registers the upload instruments on the global meter
// provider. Histogram samples are recorded by workers reading a channel of
// bufferSize entries; samples are dropped when it is full.
func NewOTelMetrics(ctx context.Context, workers int, bufferSize int) (*otelMetrics, error) {
	ch := make(chan histogramRecord, bufferSize)
	var wg sync.WaitGroup
	startSampledLogging(ctx)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range ch {
				if record.attributes != nil {
					record.instrument.Record(record.ctx, record.value, record.attributes)
				} else {
					record.instrument.Record(record.ctx, record.value)
				}
			}
		}()
	}
	meter := otel.Meter("gcsasyncwriter")
	var uploadBufferedBytesAtomic atomic.Int64

	var uploadFlowControlWaitCountAtomic atomic.Int64

	var uploadRequestCountUploadMethodFinalizeAtomic,
		uploadRequestCountUploadMethodFlushAtomic,
		uploadRequestCountUploadMethodQueryAtomic,
		uploadRequestCountUploadMethodWriteAtomic atomic.Int64

	var uploadResumeCountStatusCancelledAtomic,
		uploadResumeCountStatusFailedAtomic,
		uploadResumeCountStatusSuccessfulAtomic atomic.Int64

	var uploadSentBytesCountUploadMethodFinalizeAtomic,
		uploadSentBytesCountUploadMethodFlushAtomic,
		uploadSentBytesCountUploadMethodWriteAtomic atomic.Int64

	_, err0 := meter.Int64ObservableUpDownCounter("upload/buffered_bytes",
		metric.WithDescription("The number of bytes held in resend buffers, waiting for the service to persist them."),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			observeUpDownCounter(obsrv, &uploadBufferedBytesAtomic)
			return nil
		}))

	_, err1 := meter.Int64ObservableCounter("upload/flow_control_wait_count",
		metric.WithDescription("The cumulative number of writes that blocked because the resend buffer was above its high watermark."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			conditionallyObserve(obsrv, &uploadFlowControlWaitCountAtomic)
			return nil
		}))

	_, err2 := meter.Int64ObservableCounter("upload/request_count",
		metric.WithDescription("The cumulative number of upload stream requests along with the method."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			conditionallyObserve(obsrv, &uploadRequestCountUploadMethodFinalizeAtomic, uploadRequestCountUploadMethodFinalizeAttrSet)
			conditionallyObserve(obsrv, &uploadRequestCountUploadMethodFlushAtomic, uploadRequestCountUploadMethodFlushAttrSet)
			conditionallyObserve(obsrv, &uploadRequestCountUploadMethodQueryAtomic, uploadRequestCountUploadMethodQueryAttrSet)
			conditionallyObserve(obsrv, &uploadRequestCountUploadMethodWriteAtomic, uploadRequestCountUploadMethodWriteAttrSet)
			return nil
		}))

	uploadRequestLatencies, err3 := meter.Int64Histogram("upload/request_latencies",
		metric.WithDescription("The cumulative distribution of upload stream request latencies."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 20, 50, 100, 150, 200, 300, 400, 500, 700, 1000, 2000, 5000, 10000, 20000, 50000))

	_, err4 := meter.Int64ObservableCounter("upload/resume_count",
		metric.WithDescription("The cumulative number of attempts to resume a broken upload along with their status: successful, failed or cancelled."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			conditionallyObserve(obsrv, &uploadResumeCountStatusCancelledAtomic, uploadResumeCountStatusCancelledAttrSet)
			conditionallyObserve(obsrv, &uploadResumeCountStatusFailedAtomic, uploadResumeCountStatusFailedAttrSet)
			conditionallyObserve(obsrv, &uploadResumeCountStatusSuccessfulAtomic, uploadResumeCountStatusSuccessfulAttrSet)
			return nil
		}))

	_, err5 := meter.Int64ObservableCounter("upload/sent_bytes_count",
		metric.WithDescription("The cumulative number of payload bytes sent on upload streams along with the method."),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			conditionallyObserve(obsrv, &uploadSentBytesCountUploadMethodFinalizeAtomic, uploadSentBytesCountUploadMethodFinalizeAttrSet)
			conditionallyObserve(obsrv, &uploadSentBytesCountUploadMethodFlushAtomic, uploadSentBytesCountUploadMethodFlushAttrSet)
			conditionallyObserve(obsrv, &uploadSentBytesCountUploadMethodWriteAtomic, uploadSentBytesCountUploadMethodWriteAttrSet)
			return nil
		}))

	errs := []error{err0, err1, err2, err3, err4, err5}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &otelMetrics{
		ch:                                             ch,
		wg:                                             &wg,
		uploadBufferedBytesAtomic:                      &uploadBufferedBytesAtomic,
		uploadFlowControlWaitCountAtomic:               &uploadFlowControlWaitCountAtomic,
		uploadRequestCountUploadMethodFinalizeAtomic:   &uploadRequestCountUploadMethodFinalizeAtomic,
		uploadRequestCountUploadMethodFlushAtomic:      &uploadRequestCountUploadMethodFlushAtomic,
		uploadRequestCountUploadMethodQueryAtomic:      &uploadRequestCountUploadMethodQueryAtomic,
		uploadRequestCountUploadMethodWriteAtomic:      &uploadRequestCountUploadMethodWriteAtomic,
		uploadRequestLatencies:                         uploadRequestLatencies,
		uploadResumeCountStatusCancelledAtomic:         &uploadResumeCountStatusCancelledAtomic,
		uploadResumeCountStatusFailedAtomic:            &uploadResumeCountStatusFailedAtomic,
		uploadResumeCountStatusSuccessfulAtomic:        &uploadResumeCountStatusSuccessfulAtomic,
		uploadSentBytesCountUploadMethodFinalizeAtomic: &uploadSentBytesCountUploadMethodFinalizeAtomic,
		uploadSentBytesCountUploadMethodFlushAtomic:    &uploadSentBytesCountUploadMethodFlushAtomic,
		uploadSentBytesCountUploadMethodWriteAtomic:    &uploadSentBytesCountUploadMethodWriteAtomic,
	}, nil
}

func (o *otelMetrics) Close() {
	close(o.ch)
	o.wg.Wait()
}

func conditionallyObserve(obsrv metric.Int64Observer, counter *atomic.Int64, obsrvOptions ...metric.ObserveOption) {
	if val := counter.Load(); val > 0 {
		obsrv.Observe(val, obsrvOptions...)
	}
}

func observeUpDownCounter(obsrv metric.Int64Observer, counter *atomic.Int64, obsrvOptions ...metric.ObserveOption) {
	obsrv.Observe(counter.Load(), obsrvOptions...)
}

func updateUnrecognizedAttribute(newValue string) {
	unrecognizedAttr.CompareAndSwap("", newValue)
}

// startSampledLogging starts a goroutine that logs unrecognized attributes periodically.
func startSampledLogging(ctx context.Context) {
	unrecognizedAttr.Store("")

	go func() {
		ticker := time.NewTicker(logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logUnrecognizedAttribute()
			}
		}
	}()
}

// logUnrecognizedAttribute retrieves and logs any unrecognized attributes.
func logUnrecognizedAttribute() {
	if currentAttr := unrecognizedAttr.Swap("").(string); currentAttr != "" {
		logger.Tracef("Attribute %s is not declared", currentAttr)
	}
}
