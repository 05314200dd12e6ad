// Copyright 2025 Google LLC
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
	"context"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
)

const (
	// Default retry parameters.
	DefaultTotalRetryBudget = 5 * time.Minute
	DefaultInitialBackoff   = 1 * time.Second
)

type RetryConfig struct {
	// Total duration allowed across all the attempts. Zero means no limit.
	TotalRetryBudget time.Duration
	// Number of attempts, the first one included. Zero means no limit.
	MaxAttempts int
	// Pauses between attempts. Each call starts from Backoff.Initial.
	Backoff gax.Backoff
}

func NewRetryConfig(clientConfig *StorageClientConfig, totalRetryBudget, initialBackoff time.Duration) *RetryConfig {
	return &RetryConfig{
		TotalRetryBudget: totalRetryBudget,
		MaxAttempts:      clientConfig.MaxRetryAttempts,
		Backoff: gax.Backoff{
			Initial:    initialBackoff,
			Max:        clientConfig.MaxRetrySleep,
			Multiplier: clientConfig.RetryMultiplier,
		},
	}
}

// ExecuteWithRetry calls apiCall until it succeeds, fails with an error
// ShouldRetry rejects, or the attempts or the budget run out. apiCall gets ctx
// itself, so what it returns may outlive this call.
func ExecuteWithRetry[T any](
	ctx context.Context,
	config *RetryConfig,
	operationName string,
	reqDescription string,
	apiCall func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	// If the context is already cancelled, return immediately.
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	var deadline time.Time
	if config.TotalRetryBudget > 0 {
		deadline = time.Now().Add(config.TotalRetryBudget)
	}

	// The backoff is copied so that every call starts from Initial.
	backoff := config.Backoff
	for attempt := 1; ; attempt++ {
		if attempt == 1 {
			logger.Tracef("Calling %s request for %q", operationName, reqDescription)
		} else {
			logger.Tracef("Retrying %s for %q, attempt %d ...", operationName, reqDescription, attempt)
		}

		result, err := apiCall(ctx)
		if err == nil {
			logger.Tracef("Success %s request for %q", operationName, reqDescription)
			return result, nil
		}

		// If the error is not retryable, return it immediately.
		if !ShouldRetry(err) {
			return zero, fmt.Errorf("%s for %q failed with a non-retryable error: %w", operationName, reqDescription, err)
		}

		if config.MaxAttempts > 0 && attempt >= config.MaxAttempts {
			return zero, fmt.Errorf("%s for %q failed after %d attempts: %w", operationName, reqDescription, attempt, err)
		}

		pause := backoff.Pause()
		if !deadline.IsZero() && time.Now().Add(pause).After(deadline) {
			return zero, fmt.Errorf("%s for %q failed after multiple retries (last server/client error = %v): %w", operationName, reqDescription, err, context.DeadlineExceeded)
		}

		logger.Debugf("%s for %q failed, retrying in %v: %v", operationName, reqDescription, pause, err)
		if sleepErr := gax.Sleep(ctx, pause); sleepErr != nil {
			return zero, fmt.Errorf("%s for %q failed after multiple retries (last server/client error = %v): %w", operationName, reqDescription, err, sleepErr)
		}
	}
}
