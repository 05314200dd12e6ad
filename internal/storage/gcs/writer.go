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

package gcs

import (
	"context"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"google.golang.org/grpc/metadata"
)

// PersistedState is what the service last reported about an upload: either
// the number of bytes durably stored (PersistedOffset) or, once the upload
// completed, the resulting object (PersistedObject).
//
// The set of variants is closed; use a type switch to inspect it.
type PersistedState interface {
	isPersistedState()
}

// PersistedOffset is the persisted size of an upload still in progress.
type PersistedOffset int64

// PersistedObject holds the metadata of a finalized upload.
type PersistedObject struct {
	Object *Object
}

func (PersistedOffset) isPersistedState() {}
func (PersistedObject) isPersistedState() {}

// WriterConnection is one bidirectional upload stream to GCS. It is the
// low-level contract the buffered writer drives; each blocking method maps to
// a single request on the stream.
//
// Implementations must tolerate Cancel, UploadID, PersistedState and
// RequestMetadata being called concurrently with the blocking methods.
type WriterConnection interface {
	// UploadID identifies the upload. It is stable across reconnects.
	UploadID() string

	// PersistedState returns the state reported by the service when the
	// connection was established, updated by Flush/Query/Finalize results.
	PersistedState() PersistedState

	// Write sends p without asking the service to persist it.
	Write(ctx context.Context, p cord.Cord) error

	// Flush sends p and asks the service to persist everything received so
	// far.
	Flush(ctx context.Context, p cord.Cord) error

	// Finalize sends p, completes the upload and returns the object.
	Finalize(ctx context.Context, p cord.Cord) (*Object, error)

	// Query returns the persisted size of the upload.
	Query(ctx context.Context) (int64, error)

	// Cancel aborts the stream. Blocking calls in progress fail.
	Cancel()

	// RequestMetadata returns the metadata associated with the stream.
	RequestMetadata() metadata.MD
}

// WriterConnectionFactory creates a new connection for an upload that must be
// resumed, already positioned at the offset the service persisted.
type WriterConnectionFactory func(ctx context.Context) (WriterConnection, error)
