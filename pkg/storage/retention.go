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
	"log/slog"
	"time"
)

const defaultRetentionInterval = 5 * time.Minute

// RunRetention periodically applies policy to engine until ctx is canceled.
// It is a no-op when the engine does not implement Retainer or when the
// policy sets no bounds.
func RunRetention(ctx context.Context, engine Engine, policy RetentionPolicy, logger *slog.Logger) {
	retainer, ok := engine.(Retainer)
	if !ok || (policy.MaxAge == 0 && policy.MaxBytes == 0) {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "retention")

	interval := policy.Interval
	if interval <= 0 {
		interval = defaultRetentionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := retainer.ApplyRetention(ctx, policy); err != nil {
			logger.Error("retention pass failed", "error", err)
			continue
		}
		logger.Debug("retention pass complete")
	}
}
