// Copyright 2026 The Lakestream Authors.
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

package storage

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds retries of operations that fail with ErrUnavailable.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries transient backend failures a few times with
// exponential backoff before surfacing them.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 4,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

// Retry runs op, retrying while it fails with ErrUnavailable, with
// exponential backoff capped at MaxDelay. Any other error, a successful
// attempt, or context expiry ends the loop. On context expiry the last
// backend error is returned wrapped so callers still see ErrUnavailable.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	delay := policy.BaseDelay
	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err = op(); !errors.Is(err, ErrUnavailable) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return err
}
