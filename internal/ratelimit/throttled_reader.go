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

package ratelimit

import (
	"context"
	"io"
)

// ThrottledReader returns a reader that limits the bandwidth of reads from r
// to what throttle allows. Every read is capped at the throttle's capacity
// and charged for the bytes it returned, so a short read at the end of the
// source does not pay for the whole buffer. Waits honour ctx.
func ThrottledReader(
	ctx context.Context,
	r io.Reader,
	throttle Throttle) io.Reader {
	return &throttledReader{
		ctx:      ctx,
		wrapped:  r,
		throttle: throttle,
	}
}

type throttledReader struct {
	ctx      context.Context
	wrapped  io.Reader
	throttle Throttle
}

func (tr *throttledReader) Read(p []byte) (n int, err error) {
	if err = tr.ctx.Err(); err != nil {
		return
	}

	if c := tr.throttle.Capacity(); uint64(len(p)) > c {
		p = p[:c]
	}

	n, err = tr.wrapped.Read(p)
	if n == 0 {
		return
	}

	// The bytes are already read; a failed wait is reported with them.
	if waitErr := tr.throttle.Wait(tr.ctx, uint64(n)); waitErr != nil && err == nil {
		err = waitErr
	}
	return
}
