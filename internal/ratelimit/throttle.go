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

// Package ratelimit throttles the operations and the bandwidth of uploads.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Unlimited is the configured rate that disables a throttle.
const Unlimited float64 = -1

// Throttle limits the rate of some event, such as bytes sent or sessions
// started. Implementations are safe for concurrent use.
type Throttle interface {
	// Capacity is the largest token count a single Wait may ask for.
	Capacity() uint64

	// Wait blocks until tokens are available or ctx is done.
	Wait(ctx context.Context, tokens uint64) error
}

type tokenBucket struct {
	l *rate.Limiter
}

// NewThrottle returns a token bucket filling at rateHz and holding at most
// capacity tokens.
func NewThrottle(rateHz float64, capacity int) Throttle {
	return &tokenBucket{l: rate.NewLimiter(rate.Limit(rateHz), capacity)}
}

func (b *tokenBucket) Capacity() uint64 {
	return uint64(b.l.Burst())
}

func (b *tokenBucket) Wait(ctx context.Context, tokens uint64) error {
	if c := b.Capacity(); tokens > c {
		return fmt.Errorf("throttle: asked for %d tokens, capacity is %d", tokens, c)
	}
	return b.l.WaitN(ctx, int(tokens))
}

// NewLimitedThrottle returns a throttle holding events to rateHz averaged
// over window. It returns a nil Throttle for Unlimited.
func NewLimitedThrottle(rateHz float64, window time.Duration) (Throttle, error) {
	if rateHz == Unlimited {
		return nil, nil
	}
	capacity, err := ChooseLimiterCapacity(rateHz, window)
	if err != nil {
		return nil, err
	}
	return NewThrottle(rateHz, int(capacity)), nil
}
