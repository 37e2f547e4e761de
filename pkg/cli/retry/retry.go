/* Copyright 2025 Plubot Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package retry runs operations under a bounded retry policy with linear backoff
package retry

import (
	"context"
	"time"
)

// Policy bounds the attempts of an operation. After the n-th failed attempt
// the policy waits n times Backoff before trying again. No jitter is applied.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Sleep waits for the given duration or until ctx is done. It can be
	// replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Linear returns a policy with linear backoff
func Linear(maxAttempts int, backoff time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
	}
}

// Default returns the policy used for remote creation: three attempts,
// waiting one then two seconds
func Default() Policy {
	return Linear(3, time.Second)
}

// Delay returns how long to wait after the given failed attempt, counting from 1
func (p Policy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.Backoff
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}

	return Sleep(ctx, d)
}

// Do calls fn until it succeeds, fails with an error that retryable rejects,
// or the attempts run out. It returns the number of attempts made and the last
// error. A nil retryable retries every error.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) (int, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}

	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if retryable != nil && !retryable(err) {
			return attempt, err
		}
		if attempt == limit {
			break
		}

		if serr := p.sleep(ctx, p.Delay(attempt)); serr != nil {
			return attempt, err
		}
	}

	return limit, err
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
