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

package appendable

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
)

// uploadID identifies an appendable object by its generation. It is rendered
// as <bucket>/<object>#<generation>.
type uploadID struct {
	bucket     string
	object     string
	generation int64
}

func (u uploadID) String() string {
	return fmt.Sprintf("%s/%s#%d", u.bucket, u.object, u.generation)
}

// parseUploadID parses id. Object names may contain '/' and '#': the bucket
// ends at the first '/' and the generation starts after the last '#'.
func parseUploadID(id string) (uploadID, error) {
	invalid := func(reason string) (uploadID, error) {
		return uploadID{}, &gcs.InvalidUploadIDError{UploadID: id, Reason: reason}
	}

	if id == "" {
		return invalid("empty upload id")
	}
	slash := strings.Index(id, "/")
	if slash <= 0 {
		return invalid("missing bucket name")
	}
	hash := strings.LastIndex(id, "#")
	if hash <= slash+1 {
		return invalid("missing object name or generation")
	}
	gen, err := strconv.ParseInt(id[hash+1:], 10, 64)
	if err != nil || gen <= 0 {
		return invalid("generation must be a positive integer")
	}
	return uploadID{bucket: id[:slash], object: id[slash+1 : hash], generation: gen}, nil
}
