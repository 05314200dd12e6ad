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

// Package asyncwriter implements a resumable object upload on top of a
// gcs.WriterConnection. BufferedConnection keeps every byte until the service
// reports it persisted, applies flow control, and transparently reconnects
// through a gcs.WriterConnectionFactory when a request fails. AsyncWriter is a
// token-based handle that allows a single outstanding call.
package asyncwriter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/locker"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/metrics"
	"github.com/googlecloudplatform/gcsasyncwriter/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

// step is one unit of work of the write loop. It runs without the session
// lock held and returns the next step, or nil when the loop stops.
type step func() step

// flushWaiter is a writer blocked by flow control.
type flushWaiter struct {
	done chan struct{}
	err  error
}

func (w *flushWaiter) resolve(err error) {
	w.err = err
	close(w.done)
}

// notifications are collected under the session lock and delivered after it
// is released.
type notifications struct {
	waiters  []*flushWaiter
	err      error
	terminal chan struct{}
}

func (n *notifications) deliver() {
	for _, w := range n.waiters {
		w.resolve(n.err)
	}
	if n.terminal != nil {
		close(n.terminal)
	}
}

func newPollBackoff() gax.Backoff {
	return gax.Backoff{
		Initial:    10 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
	}
}

// BufferedConnection is a gcs.WriterConnection that survives failures of the
// connection it wraps. Writes are appended to a resend buffer and sent by a
// background loop, at most one request at a time. When a request fails the
// loop obtains a new connection from the factory and resends everything the
// service has not confirmed as persisted.
type BufferedConnection struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	factory      gcs.WriterConnectionFactory
	uploadID     string
	lwm          int64
	hwm          int64
	maxChunk     int64
	metricHandle metrics.MetricHandle
	traceHandle  tracing.TraceHandle

	// Bounds every request made by the loop and the factory calls.
	ctx  context.Context
	span trace.Span

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu locker.Locker

	// The current connection. Replaced on resume.
	//
	// GUARDED_BY(mu)
	impl gcs.WriterConnection

	// GUARDED_BY(mu)
	state writerState

	// Bytes appended but not yet confirmed persisted. The first byte is at
	// offset bufferOffset of the object; bytes before writeOffset were sent on
	// the current connection.
	//
	// INVARIANT: 0 <= writeOffset <= resendBuffer.Size()
	// INVARIANT: bufferOffset >= 0
	//
	// GUARDED_BY(mu)
	resendBuffer cord.Cord
	bufferOffset int64
	writeOffset  int64

	// Set once Finalize was called.
	//
	// GUARDED_BY(mu)
	finalize bool

	// Whether sends must be flushes followed by a Query.
	//
	// GUARDED_BY(mu)
	flush bool

	// GUARDED_BY(mu)
	cancelled bool

	// Terminal results. At most one is set.
	//
	// INVARIANT: state == stateFailed iff resumeErr != nil
	// INVARIANT: state == stateFinalized iff object != nil
	//
	// GUARDED_BY(mu)
	resumeErr error
	object    *gcs.Object

	// Closed when the session reaches a terminal state.
	//
	// GUARDED_BY(mu)
	terminal chan struct{}

	// GUARDED_BY(mu)
	flushWaiters []*flushWaiter

	// Consecutive queries that confirmed nothing new, and the backoff applied
	// between them.
	//
	// GUARDED_BY(mu)
	idlePolls   int
	pollBackoff gax.Backoff
}

var _ gcs.WriterConnection = (*BufferedConnection)(nil)

// NewBufferedConnection wraps impl, a connection to a new or resumed upload.
// ctx bounds the lifetime of the session: it is used for every request the
// background loop makes and is passed to factory when impl fails.
func NewBufferedConnection(ctx context.Context, impl gcs.WriterConnection, factory gcs.WriterConnectionFactory, opts Options) (*BufferedConnection, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("NewBufferedConnection: %w", err)
	}

	b := &BufferedConnection{
		factory:      factory,
		uploadID:     impl.UploadID(),
		lwm:          opts.LowWatermark,
		hwm:          opts.HighWatermark,
		maxChunk:     opts.MaxWriteChunk,
		metricHandle: opts.MetricHandle,
		traceHandle:  opts.TraceHandle,
		impl:         impl,
		state:        stateIdle,
		terminal:     make(chan struct{}),
		pollBackoff:  newPollBackoff(),
	}
	b.ctx, b.span = b.traceHandle.StartSpan(ctx, tracing.SpanUploadSession)
	b.traceHandle.SetAttributes(b.span, attribute.String("upload.id", b.uploadID))
	b.mu = locker.New("BufferedConnection: "+b.uploadID, b.checkInvariants)

	b.mu.Lock()
	var n notifications
	switch s := impl.PersistedState().(type) {
	case gcs.PersistedObject:
		b.finalizedLocked(s.Object, &n)
	case gcs.PersistedOffset:
		b.bufferOffset = int64(s)
	}
	b.mu.Unlock()
	n.deliver()

	return b, nil
}

// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) checkInvariants() {
	if b.writeOffset < 0 || b.writeOffset > b.resendBuffer.Size() {
		panic(fmt.Sprintf("writeOffset %d outside resend buffer of %d bytes", b.writeOffset, b.resendBuffer.Size()))
	}
	if b.bufferOffset < 0 {
		panic(fmt.Sprintf("negative bufferOffset: %d", b.bufferOffset))
	}
	if (b.state == stateFailed) != (b.resumeErr != nil) {
		panic(fmt.Sprintf("state %v with terminal error %v", b.state, b.resumeErr))
	}
	if (b.state == stateFinalized) != (b.object != nil) {
		panic(fmt.Sprintf("state %v with object %v", b.state, b.object))
	}
}

////////////////////////////////////////////////////////////////////////
// Public interface
////////////////////////////////////////////////////////////////////////

func (b *BufferedConnection) UploadID() string {
	return b.uploadID
}

// PersistedState returns the finalized object, or the number of bytes the
// service has confirmed as persisted.
func (b *BufferedConnection) PersistedState() gcs.PersistedState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.object != nil {
		return gcs.PersistedObject{Object: b.object}
	}
	return gcs.PersistedOffset(b.bufferOffset)
}

func (b *BufferedConnection) RequestMetadata() metadata.MD {
	b.mu.Lock()
	impl := b.impl
	b.mu.Unlock()
	return impl.RequestMetadata()
}

// Write appends p to the upload. It returns once p is buffered, unless the
// buffer reached the high watermark, in which case it blocks until the
// buffer drains below the low watermark, the upload fails or ctx is done.
// A ctx error does not remove p from the upload.
func (b *BufferedConnection) Write(ctx context.Context, p cord.Cord) error {
	b.mu.Lock()
	if err := b.writableLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.appendLocked(p)

	var w *flushWaiter
	if b.resendBuffer.Size() >= b.hwm {
		w = &flushWaiter{done: make(chan struct{})}
		b.flushWaiters = append(b.flushWaiters, w)
		b.metricHandle.UploadFlowControlWaitCount(1)
		logger.Debugf("upload %s: %d bytes buffered, waiting for the buffer to drain below %d", b.uploadID, b.resendBuffer.Size(), b.lwm)
	}
	next := b.kickLocked()
	b.mu.Unlock()

	b.start(next)
	if w == nil {
		return nil
	}
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush is the same as Write: whether data is flushed is decided by the
// buffer watermarks.
func (b *BufferedConnection) Flush(ctx context.Context, p cord.Cord) error {
	return b.Write(ctx, p)
}

// Finalize appends p, completes the upload and returns the object. Calls
// after the first one do not append their payload; they wait for and return
// the same result.
func (b *BufferedConnection) Finalize(ctx context.Context, p cord.Cord) (*gcs.Object, error) {
	b.mu.Lock()
	if !b.finalize && !b.state.terminal() {
		b.appendLocked(p)
		b.finalize = true
	}
	next := b.kickLocked()
	terminal := b.terminal
	b.mu.Unlock()

	b.start(next)
	select {
	case <-terminal:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resumeErr != nil {
		return nil, b.resumeErr
	}
	return b.object, nil
}

// Query asks the current connection for the persisted size, outside of the
// write loop.
func (b *BufferedConnection) Query(ctx context.Context) (int64, error) {
	b.mu.Lock()
	if b.resumeErr != nil {
		defer b.mu.Unlock()
		return 0, b.resumeErr
	}
	if b.object != nil {
		defer b.mu.Unlock()
		return b.object.Size, nil
	}
	impl := b.impl
	b.mu.Unlock()

	return impl.Query(ctx)
}

// Cancel makes the next failure terminal instead of triggering a resume, and
// cancels the current connection.
func (b *BufferedConnection) Cancel() {
	b.mu.Lock()
	b.cancelled = true
	impl := b.impl
	b.mu.Unlock()

	logger.Debugf("upload %s: cancelled", b.uploadID)
	impl.Cancel()
}

////////////////////////////////////////////////////////////////////////
// Buffer management
////////////////////////////////////////////////////////////////////////

// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) writableLocked() error {
	switch {
	case b.resumeErr != nil:
		return b.resumeErr
	case b.finalize || b.object != nil:
		return finalizeRequestedError()
	}
	return nil
}

// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) appendLocked(p cord.Cord) {
	b.resendBuffer.AppendCord(p)
	b.metricHandle.UploadBufferedBytes(p.Size())
	b.flush = b.resendBuffer.Size() >= b.lwm
}

// trimLocked applies a persisted size reported by the service.
//
// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) trimLocked(persisted int64, n *notifications) error {
	if persisted < b.bufferOffset {
		return rewindError(persisted, b.bufferOffset)
	}
	end := b.bufferOffset + b.resendBuffer.Size()
	if persisted > end {
		return fastForwardError(persisted, end)
	}

	confirmed := persisted - b.bufferOffset
	b.resendBuffer.RemovePrefix(confirmed)
	b.bufferOffset = persisted
	b.writeOffset = max(b.writeOffset-confirmed, 0)
	b.metricHandle.UploadBufferedBytes(-confirmed)
	if confirmed > 0 {
		b.idlePolls = 0
		b.pollBackoff = newPollBackoff()
	} else {
		b.idlePolls++
	}

	b.flush = b.resendBuffer.Size() >= b.lwm
	if !b.flush {
		n.waiters = append(n.waiters, b.flushWaiters...)
		b.flushWaiters = nil
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Write loop
////////////////////////////////////////////////////////////////////////

// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) setStateLocked(s writerState) {
	if b.state == s {
		return
	}
	logger.Tracef("upload %s: %v -> %v (offset %d, buffered %d, sent %d)", b.uploadID, b.state, s, b.bufferOffset, b.resendBuffer.Size(), b.writeOffset)
	b.traceHandle.AddEvent(b.span, "state", attribute.String("from", b.state.String()), attribute.String("to", s.String()))
	b.state = s
}

// start runs the loop on a new goroutine if next is not nil.
func (b *BufferedConnection) start(next step) {
	if next != nil {
		go b.run(next)
	}
}

func (b *BufferedConnection) run(next step) {
	for next != nil {
		next = next()
	}
}

// kickLocked returns the first step of the loop if it is not running and
// there is work to do.
//
// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) kickLocked() step {
	if b.state != stateIdle {
		return nil
	}
	return b.dispatchLocked()
}

// dispatchLocked picks the next request to send: the Finalize request once
// the unsent tail fits in one message, else the next chunk of unsent data,
// else an empty flush when writers are blocked on data that was already
// sent. It moves the session to Idle if there is nothing to do.
//
// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) dispatchLocked() step {
	if b.state.terminal() {
		return nil
	}
	impl := b.impl
	unsent := b.resendBuffer.Size() - b.writeOffset

	if b.finalize && unsent <= b.maxChunk {
		b.setStateLocked(stateFinalizing)
		return b.finalizeStep(impl, b.resendBuffer.Subcord(b.writeOffset, unsent))
	}

	if unsent > 0 {
		size := min(unsent, b.maxChunk)
		b.setStateLocked(stateWriting)
		return b.writeStep(impl, b.resendBuffer.Subcord(b.writeOffset, size), b.flush, 0)
	}

	if len(b.flushWaiters) > 0 {
		var delay time.Duration
		if b.idlePolls > 0 {
			delay = b.pollBackoff.Pause()
		}
		b.setStateLocked(stateWriting)
		return b.writeStep(impl, cord.Cord{}, true, delay)
	}

	b.setStateLocked(stateIdle)
	return nil
}

func (b *BufferedConnection) writeStep(impl gcs.WriterConnection, data cord.Cord, flush bool, delay time.Duration) step {
	return func() step {
		if delay > 0 {
			if err := gax.Sleep(b.ctx, delay); err != nil {
				return b.onFailure(impl, err)
			}
		}

		var err error
		if flush {
			err = impl.Flush(b.ctx, data)
		} else {
			err = impl.Write(b.ctx, data)
		}
		if err != nil {
			return b.onFailure(impl, err)
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		b.writeOffset += data.Size()
		if flush {
			b.setStateLocked(stateQuerying)
			return b.queryStep(impl)
		}
		return b.dispatchLocked()
	}
}

func (b *BufferedConnection) queryStep(impl gcs.WriterConnection) step {
	return func() step {
		persisted, err := impl.Query(b.ctx)
		if err != nil {
			return b.onFailure(impl, err)
		}

		var n notifications
		b.mu.Lock()
		next := b.applyPersistedLocked(persisted, &n)
		b.mu.Unlock()
		n.deliver()
		return next
	}
}

// applyPersistedLocked trims the buffer to persisted and continues the loop,
// or fails the session on a protocol violation.
//
// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) applyPersistedLocked(persisted int64, n *notifications) step {
	if err := b.trimLocked(persisted, n); err != nil {
		b.failLocked(err, n)
		return nil
	}
	return b.dispatchLocked()
}

func (b *BufferedConnection) finalizeStep(impl gcs.WriterConnection, data cord.Cord) step {
	return func() step {
		ctx, span := b.traceHandle.StartSpan(b.ctx, tracing.SpanUploadFinish)
		b.traceHandle.SetAttributes(span, attribute.Int64("upload.tail_bytes", data.Size()))
		o, err := impl.Finalize(ctx, data)
		b.traceHandle.RecordError(span, err)
		b.traceHandle.EndSpan(span)
		if err != nil {
			return b.onFailure(impl, err)
		}

		var n notifications
		b.mu.Lock()
		b.finalizedLocked(o, &n)
		b.mu.Unlock()
		n.deliver()
		return nil
	}
}

// onFailure handles a failed request on impl: the session resumes unless it
// was cancelled.
func (b *BufferedConnection) onFailure(impl gcs.WriterConnection, err error) step {
	var n notifications
	b.mu.Lock()
	defer func() {
		b.mu.Unlock()
		n.deliver()
	}()

	if b.state.terminal() {
		return nil
	}
	if b.cancelled || b.ctx.Err() != nil {
		b.metricHandle.UploadResumeCount(1, metrics.ResumeStatusCancelledAttr)
		b.failLocked(&CancelledError{Err: err}, &n)
		return nil
	}
	if b.factory == nil {
		b.failLocked(fmt.Errorf("upload %s cannot be resumed: %w", b.uploadID, err), &n)
		return nil
	}

	logger.Warnf("upload %s: request failed at offset %d, resuming: %v", b.uploadID, b.bufferOffset+b.writeOffset, err)
	b.setStateLocked(stateResuming)
	return b.resumeStep(err)
}

func (b *BufferedConnection) resumeStep(cause error) step {
	return func() step {
		ctx, span := b.traceHandle.StartSpan(b.ctx, tracing.SpanUploadResume)
		b.traceHandle.RecordError(span, cause)
		impl, err := b.factory(ctx)
		b.traceHandle.EndSpan(span)

		var n notifications
		b.mu.Lock()
		next := b.onResumeLocked(impl, err, &n)
		b.mu.Unlock()
		n.deliver()
		return next
	}
}

// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) onResumeLocked(impl gcs.WriterConnection, err error, n *notifications) step {
	if err == nil && impl == nil {
		err = errors.New("factory returned no connection")
	}
	if err != nil {
		b.metricHandle.UploadResumeCount(1, metrics.ResumeStatusFailedAttr)
		if b.cancelled {
			err = &CancelledError{Err: err}
		}
		b.failLocked(fmt.Errorf("resuming upload %s: %w", b.uploadID, err), n)
		return nil
	}
	if b.cancelled {
		b.metricHandle.UploadResumeCount(1, metrics.ResumeStatusCancelledAttr)
		impl.Cancel()
		b.failLocked(&CancelledError{Err: errors.New("cancelled while resuming")}, n)
		return nil
	}

	b.metricHandle.UploadResumeCount(1, metrics.ResumeStatusSuccessfulAttr)
	b.impl = impl
	b.writeOffset = 0
	switch s := impl.PersistedState().(type) {
	case gcs.PersistedObject:
		logger.Infof("upload %s: resumed upload is already finalized", b.uploadID)
		b.finalizedLocked(s.Object, n)
		return nil
	case gcs.PersistedOffset:
		logger.Infof("upload %s: resumed at offset %d", b.uploadID, int64(s))
		return b.applyPersistedLocked(int64(s), n)
	default:
		b.failLocked(fmt.Errorf("resuming upload %s: unexpected persisted state %T", b.uploadID, s), n)
		return nil
	}
}

// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) finalizedLocked(o *gcs.Object, n *notifications) {
	b.metricHandle.UploadBufferedBytes(-b.resendBuffer.Size())
	b.resendBuffer.Clear()
	b.writeOffset = 0
	b.bufferOffset = o.Size
	b.object = o
	b.setStateLocked(stateFinalized)
	b.terminateLocked(nil, n)
	logger.Debugf("upload %s: finalized %s/%s generation %d, %d bytes", b.uploadID, o.Bucket, o.Name, o.Generation, o.Size)
}

// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) failLocked(err error, n *notifications) {
	b.metricHandle.UploadBufferedBytes(-b.resendBuffer.Size())
	b.resendBuffer.Clear()
	b.writeOffset = 0
	b.resumeErr = err
	b.setStateLocked(stateFailed)
	b.traceHandle.RecordError(b.span, err)
	b.terminateLocked(err, n)
	logger.Errorf("upload %s: failed: %v", b.uploadID, err)
}

// terminateLocked releases every waiter with err.
//
// LOCKS_REQUIRED(b.mu)
func (b *BufferedConnection) terminateLocked(err error, n *notifications) {
	n.waiters = append(n.waiters, b.flushWaiters...)
	n.err = err
	n.terminal = b.terminal
	b.flushWaiters = nil
	b.traceHandle.EndSpan(b.span)
}
