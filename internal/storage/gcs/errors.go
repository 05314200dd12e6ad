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

package gcs

import (
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// A *NotFoundError value is an error that indicates an object name or a
// particular generation for that name were not found.
type NotFoundError struct {
	Err error
}

func (nfe *NotFoundError) Error() string {
	return fmt.Sprintf("gcs.NotFoundError: %v", nfe.Err)
}

func (nfe *NotFoundError) Unwrap() error {
	return nfe.Err
}

// A *PreconditionError value is an error that indicates a precondition failed.
type PreconditionError struct {
	Err error
}

// Returns pe.Err.Error().
func (pe *PreconditionError) Error() string {
	return fmt.Sprintf("gcs.PreconditionError: %v", pe.Err)
}

func (pe *PreconditionError) Unwrap() error {
	return pe.Err
}

// An *InvalidUploadIDError is returned when an upload id cannot be parsed or
// does not belong to the bucket it is resumed against.
type InvalidUploadIDError struct {
	UploadID string
	Reason   string
}

func (e *InvalidUploadIDError) Error() string {
	return fmt.Sprintf("gcs.InvalidUploadIDError: %q: %s", e.UploadID, e.Reason)
}

// GetGCSError converts an error returned by go-sdk into a common gcs error.
func GetGCSError(err error) error {
	if err == nil {
		return nil
	}

	// Already converted.
	var nfErr *NotFoundError
	var pcErr *PreconditionError
	if errors.As(err, &nfErr) || errors.As(err, &pcErr) {
		return err
	}

	// Http client error.
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusNotFound:
			return &NotFoundError{Err: err}
		case http.StatusPreconditionFailed:
			return &PreconditionError{Err: err}
		}
	}

	// RPC error (all gRPC client including control client).
	if rpcErr, ok := status.FromError(err); ok {
		switch rpcErr.Code() {
		case codes.NotFound:
			return &NotFoundError{Err: err}
		case codes.FailedPrecondition:
			return &PreconditionError{Err: err}
		}
	}

	// If storage object doesn't exist, go-sdk returns as ErrObjectNotExist.
	if errors.Is(err, storage.ErrObjectNotExist) {
		return &NotFoundError{Err: err}
	}

	return err
}
