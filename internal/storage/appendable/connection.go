// Copyright 2023 Google LLC
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

package appendable

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/storageutil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// objectWriter is the subset of *storage.Writer used by a connection.
type objectWriter interface {
	Write(p []byte) (int, error)
	Flush() (int64, error)
	Close() error
	Attrs() *storage.ObjectAttrs
}

var _ objectWriter = (*storage.Writer)(nil)

// statFunc fetches the current attributes of the object being uploaded.
type statFunc func(ctx context.Context) (*storage.ObjectAttrs, error)

// connection adapts an appendable *storage.Writer to gcs.WriterConnection.
//
// Requests on the writer are serialized by the caller; Query goes through a
// separate metadata read so that it can run alongside them.
type connection struct {
	id     uploadID
	w      objectWriter
	stat   statFunc
	cancel context.CancelFunc
	md     metadata.MD

	mu sync.Mutex

	// GUARDED_BY(mu)
	state gcs.PersistedState

	// Sticky error once the writer failed or was cancelled.
	//
	// GUARDED_BY(mu)
	broken error
}

var _ gcs.WriterConnection = (*connection)(nil)

func newConnection(id uploadID, w objectWriter, stat statFunc, cancel context.CancelFunc, state gcs.PersistedState) *connection {
	return &connection{
		id:     id,
		w:      w,
		stat:   stat,
		cancel: cancel,
		md: metadata.Pairs(
			"x-goog-request-params", "bucket=projects/_/buckets/"+id.bucket,
			"x-goog-upload-id", id.String(),
		),
		state: state,
	}
}

func (c *connection) UploadID() string {
	return c.id.String()
}

func (c *connection) PersistedState() gcs.PersistedState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) RequestMetadata() metadata.MD {
	return c.md
}

func (c *connection) Cancel() {
	c.mu.Lock()
	if c.broken == nil {
		c.broken = status.Error(codes.Canceled, "connection cancelled")
	}
	c.mu.Unlock()
	c.cancel()
}

// begin arranges for the writer to be torn down if ctx is done before the
// request completes. The returned func must be called when it does.
func (c *connection) begin(ctx context.Context) (func(), error) {
	c.mu.Lock()
	broken := c.broken
	c.mu.Unlock()
	if broken != nil {
		return nil, broken
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, c.cancel)
	return func() { stop() }, nil
}

// fail breaks the connection. Every later request returns the same error.
func (c *connection) fail(err error) error {
	err = gcs.GetGCSError(err)

	c.mu.Lock()
	if c.broken == nil {
		c.broken = err
	}
	c.mu.Unlock()

	c.cancel()
	logger.Tracef("appendable upload %s broke: %v", c.id, err)
	return err
}

// abort cancels the stream after a failed request and closes the writer to
// collect its final status. Closing must not succeed once the stream failed.
func (c *connection) abort(err error) error {
	c.cancel()
	if closeErr := c.w.Close(); closeErr == nil {
		return c.fail(status.Errorf(codes.Internal, "double finish on upload %s after: %v", c.id, err))
	}
	return c.fail(err)
}

func (c *connection) send(p cord.Cord) error {
	for _, chunk := range p.Chunks() {
		if _, err := c.w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) Write(ctx context.Context, p cord.Cord) error {
	end, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	if err := c.send(p); err != nil {
		return c.abort(err)
	}
	return nil
}

func (c *connection) Flush(ctx context.Context, p cord.Cord) error {
	end, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	if err := c.send(p); err != nil {
		return c.abort(err)
	}
	offset, err := c.w.Flush()
	if err != nil {
		return c.abort(err)
	}

	c.mu.Lock()
	c.state = gcs.PersistedOffset(offset)
	c.mu.Unlock()
	return nil
}

func (c *connection) Finalize(ctx context.Context, p cord.Cord) (*gcs.Object, error) {
	end, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	if err := c.send(p); err != nil {
		return nil, c.fail(err)
	}

	// The writer has to be closed successfully before Attrs is meaningful.
	if err := c.w.Close(); err != nil {
		return nil, c.fail(fmt.Errorf("error in closing writer: %w", err))
	}
	attrs := c.w.Attrs()
	if attrs == nil {
		return nil, c.fail(status.Errorf(codes.Internal, "no object attributes after finalizing %s", c.id))
	}

	o := storageutil.ObjectAttrsToGCSObject(attrs)
	c.mu.Lock()
	c.state = gcs.PersistedObject{Object: o}
	c.broken = status.Error(codes.FailedPrecondition, "upload already finalized")
	c.mu.Unlock()
	return o, nil
}

func (c *connection) Query(ctx context.Context) (int64, error) {
	c.mu.Lock()
	broken := c.broken
	c.mu.Unlock()
	if broken != nil {
		return 0, broken
	}

	attrs, err := c.stat(ctx)
	if err != nil {
		return 0, gcs.GetGCSError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !attrs.Finalized.IsZero() {
		c.state = gcs.PersistedObject{Object: storageutil.ObjectAttrsToGCSObject(attrs)}
	} else {
		c.state = gcs.PersistedOffset(attrs.Size)
	}
	return attrs.Size, nil
}
