// Copyright 2023 Google Inc. All Rights Reserved.
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

package fake

import (
	"context"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type connection struct {
	b  *Bucket
	up *upload

	// Cancelled by Cancel or when the connection breaks.
	ctx    context.Context
	cancel context.CancelFunc

	md metadata.MD

	// Bytes received since the last flush.
	//
	// GUARDED_BY(b.mu)
	pending []byte

	// Sticky error after the connection broke.
	//
	// GUARDED_BY(b.mu)
	broken error

	// GUARDED_BY(b.mu)
	state gcs.PersistedState
}

var _ gcs.WriterConnection = (*connection)(nil)

// LOCKS_REQUIRED(b.mu)
func newConnection(ctx context.Context, b *Bucket, up *upload, state gcs.PersistedState) *connection {
	cctx, cancel := context.WithCancel(ctx)
	c := &connection{
		b:      b,
		up:     up,
		ctx:    cctx,
		cancel: cancel,
		md: metadata.Pairs(
			"x-goog-request-params", "bucket=projects/_/buckets/"+b.name,
			"x-goog-upload-id", up.id,
		),
		state: state,
	}
	up.owner = c
	return c
}

func (c *connection) UploadID() string {
	return c.up.id
}

func (c *connection) PersistedState() gcs.PersistedState {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.state
}

func (c *connection) RequestMetadata() metadata.MD {
	return c.md.Copy()
}

func (c *connection) Cancel() {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.breakLocked(status.Error(codes.Canceled, "connection cancelled"))
}

// begin logs the request and waits while its kind is stalled. The caller
// must call end once the request is over, whatever begin returned.
func (c *connection) begin(ctx context.Context, op Op, size int64) error {
	c.b.mu.Lock()
	c.up.requests = append(c.up.requests, Request{Op: op, Size: size})
	c.up.inFlight++
	if c.up.inFlight > c.up.maxInFlight {
		c.up.maxInFlight = c.up.inFlight
	}
	c.b.mu.Unlock()

	if ch := c.b.stallChannel(op); ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
		case <-c.ctx.Done():
		}
	}

	var err error
	if ctx.Err() != nil {
		err = status.FromContextError(ctx.Err()).Err()
	} else if c.ctx.Err() != nil {
		err = status.FromContextError(c.ctx.Err()).Err()
	}
	if err != nil {
		c.b.mu.Lock()
		defer c.b.mu.Unlock()
		c.breakLocked(err)
		return c.broken
	}
	return nil
}

func (c *connection) end() {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.up.inFlight--
}

// LOCKS_REQUIRED(c.b.mu)
func (c *connection) breakLocked(err error) {
	if c.broken == nil {
		c.broken = err
	}
	c.pending = nil
	c.cancel()
}

// failLocked returns the error the request of kind op must fail with, if
// any.
//
// LOCKS_REQUIRED(c.b.mu)
func (c *connection) failLocked(op Op) error {
	if c.broken != nil {
		return c.broken
	}
	if err := c.b.takeInjectedError(op); err != nil {
		c.breakLocked(err)
		return err
	}
	if c.up.owner != c {
		c.breakLocked(status.Error(codes.Aborted, "upload was taken over by another writer"))
		return c.broken
	}
	if c.up.object != nil && op != OpQuery {
		return status.Errorf(codes.FailedPrecondition, "upload %s is already finalized", c.up.id)
	}
	return nil
}

// LOCKS_REQUIRED(c.b.mu)
func (c *connection) persistLocked() {
	c.up.persisted = append(c.up.persisted, c.pending...)
	c.pending = nil
	c.state = gcs.PersistedOffset(len(c.up.persisted))
}

func (c *connection) Write(ctx context.Context, p cord.Cord) error {
	defer c.end()
	if err := c.begin(ctx, OpWrite, p.Size()); err != nil {
		return err
	}

	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if err := c.failLocked(OpWrite); err != nil {
		return err
	}
	c.pending = append(c.pending, p.Bytes()...)
	return nil
}

func (c *connection) Flush(ctx context.Context, p cord.Cord) error {
	defer c.end()
	if err := c.begin(ctx, OpFlush, p.Size()); err != nil {
		return err
	}

	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if err := c.failLocked(OpFlush); err != nil {
		return err
	}
	c.pending = append(c.pending, p.Bytes()...)
	c.persistLocked()
	return nil
}

func (c *connection) Finalize(ctx context.Context, p cord.Cord) (*gcs.Object, error) {
	defer c.end()
	if err := c.begin(ctx, OpFinalize, p.Size()); err != nil {
		return nil, err
	}

	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if err := c.failLocked(OpFinalize); err != nil {
		return nil, err
	}
	c.pending = append(c.pending, p.Bytes()...)
	c.persistLocked()

	o := c.b.mintObject(c.up)
	c.up.object = o
	c.b.objects[o.Name] = o
	c.b.contents[o.Name] = append([]byte(nil), c.up.persisted...)
	c.state = gcs.PersistedObject{Object: copyObject(o)}
	return copyObject(o), nil
}

func (c *connection) Query(ctx context.Context) (int64, error) {
	defer c.end()
	if err := c.begin(ctx, OpQuery, 0); err != nil {
		return 0, err
	}

	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if err := c.failLocked(OpQuery); err != nil {
		return 0, err
	}
	if c.up.object == nil {
		c.state = gcs.PersistedOffset(len(c.up.persisted))
	}
	return int64(len(c.up.persisted)), nil
}
