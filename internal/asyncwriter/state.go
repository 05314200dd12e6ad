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

import "fmt"

// writerState is the state of a BufferedConnection's write loop.
type writerState int

const (
	// No loop goroutine is running.
	stateIdle writerState = iota
	// A Write or Flush request is outstanding.
	stateWriting
	// A Query request issued after a flush is outstanding.
	stateQuerying
	// The Finalize request is outstanding.
	stateFinalizing
	// The reconnect factory call is outstanding.
	stateResuming
	// Terminal: the object was created.
	stateFinalized
	// Terminal: the upload failed.
	stateFailed
)

func (s writerState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateWriting:
		return "Writing"
	case stateQuerying:
		return "Querying"
	case stateFinalizing:
		return "Finalizing"
	case stateResuming:
		return "Resuming"
	case stateFinalized:
		return "Finalized"
	case stateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("writerState(%d)", int(s))
	}
}

func (s writerState) terminal() bool {
	return s == stateFinalized || s == stateFailed
}
