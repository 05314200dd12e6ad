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

package storageutil

import (
	"errors"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// retryableStreamCodes are the codes a broken append stream ends with while
// the upload itself can still be taken over.
var retryableStreamCodes = map[codes.Code]bool{
	codes.Unavailable:       true,
	codes.ResourceExhausted: true,
	codes.DeadlineExceeded:  true,
	codes.Internal:          true,
	codes.Unauthenticated:   true,
}

// ShouldRetry reports whether err from a Cloud Storage call, or from an
// upload stream, is transient.
func ShouldRetry(err error) bool {
	switch {
	case err == nil:
		return false
	case storage.ShouldRetry(err):
		return true
	}

	// A token the client still trusts may already be expired for the service
	// when clocks are skewed.
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized
	}

	if s, ok := status.FromError(err); ok {
		return retryableStreamCodes[s.Code()]
	}
	return false
}
