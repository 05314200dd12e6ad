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
)

// CreateObjectRequest describes the object an appendable upload creates.
type CreateObjectRequest struct {
	Name            string
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string

	// If non-nil, the upload fails unless the object's current generation
	// matches. Zero means the object must not exist yet.
	GenerationPrecondition *int64
}

// Bucket represents a GCS bucket that supports appendable uploads.
//
// All methods are safe for concurrent access.
type Bucket interface {
	Name() string

	// CreateAppendableUpload starts a new upload for the object described by
	// req. The context bounds the lifetime of the returned connection.
	CreateAppendableUpload(ctx context.Context, req *CreateObjectRequest) (WriterConnection, error)

	// ResumeAppendableUpload reconnects to the upload identified by uploadID,
	// positioned at the offset persisted by the service. If the upload was
	// already finalized, the returned connection reports a PersistedObject.
	ResumeAppendableUpload(ctx context.Context, uploadID string) (WriterConnection, error)
}
