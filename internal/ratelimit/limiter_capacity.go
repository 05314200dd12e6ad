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
	"fmt"
	"math"
	"time"
)

// A bucket of capacity c filling at r lets through at most c + r*w events in
// a window w. c is kept to 1/capacityAccuracy of r*w.
const capacityAccuracy = 50

// ChooseLimiterCapacity returns the token bucket capacity that keeps a bucket
// filling at rateHz within 2% of rateHz*window events over any window.
func ChooseLimiterCapacity(rateHz float64, window time.Duration) (uint64, error) {
	switch {
	case !(rateHz > 0) || rateHz >= math.MaxFloat64:
		return 0, fmt.Errorf("invalid rate: %v", rateHz)
	case window <= 0:
		return 0, fmt.Errorf("invalid window: %v", window)
	}

	c := math.Floor(rateHz * window.Seconds() / capacityAccuracy)
	if c < 1 {
		return 0, fmt.Errorf("rate of %v Hz over %v is too low for a token bucket", rateHz, window)
	}
	return uint64(c), nil
}
