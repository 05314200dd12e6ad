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

	"cloud.google.com/go/storage"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/storageutil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type bucketHandle struct {
	bucket     *storage.BucketHandle
	bucketName string
}

// NewBucketHandle returns a gcs.Bucket that uploads appendable objects to the
// named bucket. The client must use the gRPC transport; appendable uploads are
// not available over JSON. A non-empty billingProject is charged for the
// requests of a Requester Pays bucket.
func NewBucketHandle(client *storage.Client, bucketName string, billingProject string) gcs.Bucket {
	bh := client.Bucket(bucketName)
	if billingProject != "" {
		bh = bh.UserProject(billingProject)
	}
	return &bucketHandle{
		bucket:     bh,
		bucketName: bucketName,
	}
}

func (bh *bucketHandle) Name() string {
	return bh.bucketName
}

func (bh *bucketHandle) CreateAppendableUpload(ctx context.Context, req *gcs.CreateObjectRequest) (gcs.WriterConnection, error) {
	if req == nil || req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "missing object name")
	}
	obj := bh.bucket.Object(req.Name)

	// GenerationPrecondition - If non-nil, the object is created only if its
	// current generation equals the given value. Zero means it must not exist.
	if req.GenerationPrecondition != nil {
		if *req.GenerationPrecondition == 0 {
			obj = obj.If(storage.Conditions{DoesNotExist: true})
		} else {
			obj = obj.If(storage.Conditions{GenerationMatch: *req.GenerationPrecondition})
		}
	}

	// The writer lives as long as the connection, not as long as this call.
	cctx, cancel := context.WithCancel(ctx)
	wc := obj.NewWriter(cctx)
	wc = storageutil.SetAttrsInWriter(wc, req)
	wc.Append = true
	wc.FinalizeOnClose = true
	wc.ProgressFunc = progressLogger(req.Name)

	// An empty flush opens the stream and creates the object, which assigns
	// the generation the upload id is built from.
	offset, err := wc.Flush()
	if err != nil {
		cancel()
		return nil, gcs.GetGCSError(fmt.Errorf("error in creating appendable object %s: %w", req.Name, err))
	}

	gen, err := bh.generationOf(ctx, wc, req.Name)
	if err != nil {
		cancel()
		return nil, err
	}

	id := uploadID{bucket: bh.bucketName, object: req.Name, generation: gen}
	logger.Debugf("created appendable upload %s", id)
	return newConnection(id, wc, bh.statFunc(id), cancel, gcs.PersistedOffset(offset)), nil
}

func (bh *bucketHandle) generationOf(ctx context.Context, wc *storage.Writer, name string) (int64, error) {
	if attrs := wc.Attrs(); attrs != nil && attrs.Generation != 0 {
		return attrs.Generation, nil
	}
	attrs, err := bh.bucket.Object(name).Attrs(ctx)
	if err != nil {
		return 0, gcs.GetGCSError(fmt.Errorf("error in fetching generation of %s: %w", name, err))
	}
	return attrs.Generation, nil
}

func (bh *bucketHandle) ResumeAppendableUpload(ctx context.Context, uploadIDStr string) (gcs.WriterConnection, error) {
	id, err := parseUploadID(uploadIDStr)
	if err != nil {
		return nil, err
	}
	if id.bucket != bh.bucketName {
		return nil, &gcs.InvalidUploadIDError{
			UploadID: uploadIDStr,
			Reason:   fmt.Sprintf("upload belongs to bucket %q, not %q", id.bucket, bh.bucketName),
		}
	}

	stat := bh.statFunc(id)
	attrs, err := stat(ctx)
	if err != nil {
		return nil, gcs.GetGCSError(err)
	}
	if !attrs.Finalized.IsZero() {
		return newFinalizedConnection(id, stat, storageutil.ObjectAttrsToGCSObject(attrs)), nil
	}

	cctx, cancel := context.WithCancel(ctx)
	obj := bh.bucket.Object(id.object).Generation(id.generation)
	wc, offset, err := obj.NewWriterFromAppendableObject(cctx, &storage.AppendableWriterOpts{
		FinalizeOnClose: true,
		ProgressFunc:    progressLogger(id.object),
	})
	if err != nil {
		cancel()
		return nil, gcs.GetGCSError(fmt.Errorf("error in taking over appendable upload %s: %w", id, err))
	}

	logger.Debugf("resumed appendable upload %s at offset %d", id, offset)
	return newConnection(id, wc, stat, cancel, gcs.PersistedOffset(offset)), nil
}

func (bh *bucketHandle) statFunc(id uploadID) statFunc {
	obj := bh.bucket.Object(id.object).Generation(id.generation)
	return obj.Attrs
}

func progressLogger(name string) func(int64) {
	return func(n int64) {
		logger.Tracef("%d bytes persisted so far for object %s", n, name)
	}
}

// newFinalizedConnection returns a connection for an upload that completed
// before it could be resumed. It only reports the resulting object.
func newFinalizedConnection(id uploadID, stat statFunc, o *gcs.Object) *connection {
	c := newConnection(id, nil, stat, func() {}, gcs.PersistedObject{Object: o})
	c.broken = status.Error(codes.FailedPrecondition, "upload already finalized")
	return c
}
