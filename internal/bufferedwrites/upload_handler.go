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

package bufferedwrites

import (
	"context"
	"fmt"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/asyncwriter"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/block"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/storageutil"
)

// UploadHandler hands filled blocks to an AsyncWriter and puts them back in
// the pool once the service has persisted their bytes.
//
// Not safe for concurrent use; a BufferedWriteHandler calls it serially.
type UploadHandler struct {
	bucket       gcs.Bucket
	req          *gcs.CreateObjectRequest
	opts         asyncwriter.Options
	retryConfig  *storageutil.RetryConfig
	blockPool    *block.Pool
	progressFunc func(int64)

	// Created with the first block, or by Finalize for an empty object.
	conn   *asyncwriter.BufferedConnection
	writer *asyncwriter.AsyncWriter
	token  asyncwriter.AsyncToken

	// CancelFunc persisted to cancel the upload session.
	cancelFunc context.CancelFunc

	// Blocks handed to the writer whose bytes are not all persisted yet, in
	// upload order.
	inFlight []uploadedBlock

	// Bytes handed to the writer and bytes the service confirmed.
	uploaded  int64
	persisted int64

	// Sticky failure. The writer's token is gone once a call failed.
	err error

	obj *gcs.Object
}

type uploadedBlock struct {
	b   block.Block
	end int64
}

type CreateUploadHandlerRequest struct {
	Bucket       gcs.Bucket
	Object       *gcs.CreateObjectRequest
	BlockPool    *block.Pool
	Options      asyncwriter.Options
	RetryConfig  *storageutil.RetryConfig
	ProgressFunc func(persisted int64)
}

// newUploadHandler creates the UploadHandler struct.
func newUploadHandler(req *CreateUploadHandlerRequest) *UploadHandler {
	return &UploadHandler{
		bucket:       req.Bucket,
		req:          req.Object,
		opts:         req.Options,
		retryConfig:  req.RetryConfig,
		blockPool:    req.BlockPool,
		progressFunc: req.ProgressFunc,
		cancelFunc:   func() {},
	}
}

// createObjectWriter starts the appendable upload.
func (uh *UploadHandler) createObjectWriter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("CreateAppendableUpload for object %s: %w", uh.req.Name, err)
	}

	// We need a new context here: the session outlives the call that happens
	// to start it.
	var sessionCtx context.Context
	sessionCtx, uh.cancelFunc = context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, uh.cancelFunc)
	defer stop()

	conn, err := storageutil.ExecuteWithRetry(sessionCtx, uh.retryConfig, "CreateAppendableUpload", uh.req.Name,
		func(ctx context.Context) (gcs.WriterConnection, error) {
			return uh.bucket.CreateAppendableUpload(ctx, uh.req)
		})
	if err != nil {
		uh.cancelFunc()
		return fmt.Errorf("CreateAppendableUpload failed for object %s: %w", uh.req.Name, err)
	}

	factory := NewResumeFactory(uh.bucket, conn.UploadID(), uh.retryConfig)
	uh.conn, err = asyncwriter.NewBufferedConnection(sessionCtx, conn, factory, uh.opts)
	if err != nil {
		conn.Cancel()
		uh.cancelFunc()
		return err
	}
	uh.writer, uh.token = asyncwriter.NewAsyncWriter(uh.conn)
	logger.Debugf("started upload %s for object %s", conn.UploadID(), uh.req.Name)
	return nil
}

// Upload hands b to the writer. It may block while the resend buffer is
// above its high watermark. The handler owns b from now on, even on error.
func (uh *UploadHandler) Upload(ctx context.Context, b block.Block) error {
	if uh.err != nil {
		uh.blockPool.Put(b)
		return uh.err
	}
	if uh.writer == nil {
		if err := uh.createObjectWriter(ctx); err != nil {
			uh.blockPool.Put(b)
			uh.err = err
			return err
		}
	}

	// A failed write may still have buffered b, so it is tracked either way.
	uh.uploaded += b.Size()
	uh.inFlight = append(uh.inFlight, uploadedBlock{b: b, end: uh.uploaded})

	token, err := uh.writer.Write(ctx, uh.token, b.Bytes())
	if err != nil {
		logger.Errorf("upload failed for object %s: %v", uh.req.Name, err)
		uh.err = fmt.Errorf("upload failed for object %s: %w", uh.req.Name, err)
		return uh.err
	}
	uh.token = token
	uh.releasePersisted()
	return nil
}

// releasePersisted returns fully persisted blocks to the pool.
func (uh *UploadHandler) releasePersisted() {
	offset, ok := uh.writer.PersistedState().(gcs.PersistedOffset)
	if !ok || int64(offset) <= uh.persisted {
		return
	}
	uh.persisted = int64(offset)

	for len(uh.inFlight) > 0 && uh.inFlight[0].end <= uh.persisted {
		uh.blockPool.Put(uh.inFlight[0].b)
		uh.inFlight = uh.inFlight[1:]
	}
	if uh.progressFunc != nil {
		uh.progressFunc(uh.persisted)
	}
}

// Finalize completes the upload and returns the resulting object.
func (uh *UploadHandler) Finalize(ctx context.Context) (*gcs.Object, error) {
	if uh.obj != nil {
		return uh.obj, nil
	}
	if uh.err != nil {
		return nil, uh.err
	}
	if uh.writer == nil {
		// Empty objects never saw a block.
		if err := uh.createObjectWriter(ctx); err != nil {
			uh.err = err
			return nil, err
		}
	}

	obj, err := uh.writer.Finalize(ctx, uh.token)
	if err != nil {
		uh.err = fmt.Errorf("FinalizeUpload failed for object %s: %w", uh.req.Name, err)
		return nil, uh.err
	}
	if obj.Size != uh.uploaded {
		logger.Warnf("object %s finalized with %d bytes, %d were uploaded", uh.req.Name, obj.Size, uh.uploaded)
	}
	uh.obj = obj
	uh.persisted = obj.Size
	if uh.progressFunc != nil {
		uh.progressFunc(uh.persisted)
	}
	return obj, nil
}

// CancelUpload aborts the upload. Later calls fail.
func (uh *UploadHandler) CancelUpload() {
	if uh.conn != nil && uh.obj == nil {
		uh.conn.Cancel()
	}
	if uh.err == nil && uh.obj == nil {
		uh.err = fmt.Errorf("upload of object %s: %w", uh.req.Name, context.Canceled)
	}
}

// UploadID identifies the upload, or is empty before it started.
func (uh *UploadHandler) UploadID() string {
	if uh.writer == nil {
		return ""
	}
	return uh.writer.UploadID()
}

// Destroy waits for the session to stop using the blocks and returns them to
// the pool. The upload is cancelled unless it was finalized.
func (uh *UploadHandler) Destroy() {
	if uh.conn != nil {
		if uh.obj == nil {
			uh.conn.Cancel()
			// A resume in progress retries under the session context.
			uh.cancelFunc()
		}
		// Finalize returns once the session reached a terminal state; after
		// that no request reads the blocks.
		if _, err := uh.conn.Finalize(context.Background(), cord.Cord{}); err != nil && uh.obj == nil {
			logger.Tracef("upload of object %s ended with: %v", uh.req.Name, err)
		}
	}
	uh.cancelFunc()

	for _, ub := range uh.inFlight {
		uh.blockPool.Put(ub.b)
	}
	uh.inFlight = nil
}
