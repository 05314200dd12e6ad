// Copyright 2016 Google Inc. All Rights Reserved.
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

package gcsx

import (
	"context"
	"mime"
	"path"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
)

// NewContentTypeBucket creates a wrapper bucket that guesses MIME types for
// newly created objects when an explicit type is not already set.
func NewContentTypeBucket(b gcs.Bucket) gcs.Bucket {
	return contentTypeBucket{b}
}

type contentTypeBucket struct {
	gcs.Bucket
}

func (b contentTypeBucket) CreateAppendableUpload(
	ctx context.Context,
	req *gcs.CreateObjectRequest) (gcs.WriterConnection, error) {
	// Guess a content type if necessary.
	if req != nil && req.ContentType == "" {
		req.ContentType = mime.TypeByExtension(path.Ext(req.Name))
	}

	// Pass on the request.
	return b.Bucket.CreateAppendableUpload(ctx, req)
}
