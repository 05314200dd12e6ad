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

package asyncwriter

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CancelledError is the terminal error of an upload whose request failed
// after Cancel was called or after the session context was done. It wraps
// the failure and reports codes.Canceled to status.Code.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("upload cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

func (e *CancelledError) GRPCStatus() *status.Status {
	return status.New(codes.Canceled, e.Error())
}

func rewindError(persisted, bufferOffset int64) error {
	return status.Errorf(codes.Internal,
		"persisted size rewind: service reported %d bytes but %d bytes were already confirmed", persisted, bufferOffset)
}

func fastForwardError(persisted, end int64) error {
	return status.Errorf(codes.Internal,
		"persisted size fast-forward: service reported %d bytes but only %d bytes were sent", persisted, end)
}

func finalizeRequestedError() error {
	return status.Error(codes.FailedPrecondition, "upload finalization was already requested")
}

func noConnectionError() error {
	return status.Error(codes.Canceled, "writer has no underlying connection")
}

func invalidTokenError() error {
	return status.Error(codes.InvalidArgument, "invalid token, the token must be the one returned by the previous call")
}
