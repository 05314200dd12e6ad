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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/asyncwriter"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/block"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/ratelimit"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/storageutil"
	"golang.org/x/sync/semaphore"
)

// Note: a BufferedWriteHandler serves one upload and is not safe for
// concurrent use; callers serialize writes.

// BufferedWriteHandler is responsible for filling up the blocks with the data
// as it receives and handing them over to the UploadHandler which uploads to
// GCS.
type BufferedWriteHandler struct {
	current       block.Block
	blockPool     *block.Pool
	uploadHandler *UploadHandler
	// Nil when the bandwidth is unlimited.
	bytesThrottle ratelimit.Throttle
	// Total size of data buffered so far. Some part of buffered data might have
	// been uploaded to GCS as well.
	totalSize int64
	// Time of the last write.
	mtime time.Time
}

// WriteFileInfo reports how much data has been buffered so far and when it
// was last written.
type WriteFileInfo struct {
	TotalSize int64
	Mtime     time.Time
}

type CreateBWHandlerRequest struct {
	Bucket             gcs.Bucket
	Object             *gcs.CreateObjectRequest
	BlockSize          int64
	GlobalMaxBlocksSem *semaphore.Weighted
	Options            asyncwriter.Options
	RetryConfig        *storageutil.RetryConfig
	BytesThrottle      ratelimit.Throttle
	ProgressFunc       func(persisted int64)
}

// MaxBlocksPerUpload is the number of blocks one upload needs so that getting
// a block never waits: the resend buffer stays below the high watermark once
// a write returns, plus the block being filled and one spare.
func MaxBlocksPerUpload(blockSize int64, opts asyncwriter.Options) int64 {
	hwm := opts.HighWatermark
	if hwm == 0 {
		hwm = max(asyncwriter.DefaultHighWatermark, opts.LowWatermark)
	}
	return (hwm+blockSize-1)/blockSize + 2
}

// NewBWHandler creates the bufferedWriteHandler struct.
func NewBWHandler(req *CreateBWHandlerRequest) (bwh *BufferedWriteHandler, err error) {
	if req.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid block size: %d", req.BlockSize)
	}
	bp, err := block.NewPool(req.BlockSize, MaxBlocksPerUpload(req.BlockSize, req.Options), req.GlobalMaxBlocksSem)
	if err != nil {
		return
	}

	bwh = &BufferedWriteHandler{
		current:   nil,
		blockPool: bp,
		uploadHandler: newUploadHandler(&CreateUploadHandlerRequest{
			Bucket:       req.Bucket,
			Object:       req.Object,
			BlockPool:    bp,
			Options:      req.Options,
			RetryConfig:  req.RetryConfig,
			ProgressFunc: req.ProgressFunc,
		}),
		bytesThrottle: req.BytesThrottle,
		totalSize:     0,
		mtime:         time.Now(),
	}
	return
}

// Write writes the given data at offset, which must be the current end of the
// upload. Full blocks are handed over to the uploader.
func (wh *BufferedWriteHandler) Write(ctx context.Context, data []byte, offset int64) (err error) {
	if offset != wh.totalSize {
		return fmt.Errorf("non sequential writes: offset %d, buffered %d", offset, wh.totalSize)
	}

	_, err = wh.fill(ctx, bytes.NewReader(data))
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return
}

// ReadFrom copies r to the upload until r is exhausted.
func (wh *BufferedWriteHandler) ReadFrom(ctx context.Context, r io.Reader) (n int64, err error) {
	n, err = wh.fill(ctx, r)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return
}

// fill reads r into blocks until r is exhausted (io.EOF) or fails.
func (wh *BufferedWriteHandler) fill(ctx context.Context, r io.Reader) (total int64, err error) {
	if wh.bytesThrottle != nil {
		r = ratelimit.ThrottledReader(ctx, r, wh.bytesThrottle)
	}

	for {
		if wh.current == nil {
			wh.current, err = wh.blockPool.Get(ctx)
			if err != nil {
				return total, fmt.Errorf("failed to get new block: %w", err)
			}
		}

		n, readErr := wh.current.ReadFrom(r)
		total += n
		wh.totalSize += n
		if n > 0 {
			wh.mtime = time.Now()
		}

		if wh.current.Size() == wh.current.Cap() {
			b := wh.current
			wh.current = nil
			if err = wh.uploadHandler.Upload(ctx, b); err != nil {
				return total, err
			}
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// Flush uploads the partially filled block and finalizes the upload.
func (wh *BufferedWriteHandler) Flush(ctx context.Context) (*gcs.Object, error) {
	if wh.current != nil {
		b := wh.current
		wh.current = nil
		if b.Size() == 0 {
			wh.blockPool.Put(b)
		} else if err := wh.uploadHandler.Upload(ctx, b); err != nil {
			return nil, err
		}
	}
	return wh.uploadHandler.Finalize(ctx)
}

// Cancel aborts the upload.
func (wh *BufferedWriteHandler) Cancel() {
	wh.uploadHandler.CancelUpload()
}

// Destroy releases every block held for the upload, cancelling it unless it
// was finalized.
func (wh *BufferedWriteHandler) Destroy() error {
	wh.uploadHandler.Destroy()
	if wh.current != nil {
		wh.blockPool.Put(wh.current)
		wh.current = nil
	}
	return wh.blockPool.Close()
}

// SetMtime stores the mtime with the bufferedWriteHandler.
func (wh *BufferedWriteHandler) SetMtime(mtime time.Time) {
	wh.mtime = mtime
}

// WriteFileInfo returns the file info i.e, how much data has been buffered so far
// and the mtime.
func (wh *BufferedWriteHandler) WriteFileInfo() WriteFileInfo {
	return WriteFileInfo{
		TotalSize: wh.totalSize,
		Mtime:     wh.mtime,
	}
}

// UploadID identifies the upload once the first block was handed over.
func (wh *BufferedWriteHandler) UploadID() string {
	return wh.uploadHandler.UploadID()
}
