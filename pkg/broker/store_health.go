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

package broker

import (
	"sync"
	"time"
)

// StoreHealthState classifies the broker's current view of its backing store.
type StoreHealthState string

const (
	StoreStateHealthy     StoreHealthState = "healthy"
	StoreStateDegraded    StoreHealthState = "degraded"
	StoreStateUnavailable StoreHealthState = "unavailable"
)

// StoreHealthConfig bounds the sliding window the monitor evaluates.
type StoreHealthConfig struct {
	// Window is how far back samples count toward the state.
	Window time.Duration
	// LatencyWarn and LatencyCrit are average-latency thresholds for the
	// degraded and unavailable states.
	LatencyWarn time.Duration
	LatencyCrit time.Duration
	// ErrorWarn and ErrorCrit are error-rate thresholds in [0,1].
	ErrorWarn float64
	ErrorCrit float64
	// MaxSamples caps the window so a hot broker cannot grow it unbounded.
	MaxSamples int
}

type storeSample struct {
	at      time.Time
	latency time.Duration
	failed  bool
}

// StoreHealthMonitor watches object-store call outcomes and derives a
// three-state health signal the dispatcher uses for backpressure. All methods
// are safe for concurrent use.
type StoreHealthMonitor struct {
	cfg StoreHealthConfig

	mu      sync.Mutex
	samples []storeSample
	state   StoreHealthState
	since   time.Time
}

// StoreHealthSnapshot is a point-in-time copy of the monitor's view.
type StoreHealthSnapshot struct {
	State      StoreHealthState
	AvgLatency time.Duration
	ErrorRate  float64
	Since      time.Time
}

// NewStoreHealthMonitor returns a monitor in the healthy state.
func NewStoreHealthMonitor(cfg StoreHealthConfig) *StoreHealthMonitor {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 1024
	}
	return &StoreHealthMonitor{
		cfg:   cfg,
		state: StoreStateHealthy,
		since: time.Now(),
	}
}

// RecordOperation feeds one store call outcome into the window. The op name
// is accepted for symmetry with the metrics hook but does not affect state.
func (m *StoreHealthMonitor) RecordOperation(op string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, storeSample{at: now, latency: latency, failed: err != nil})
	m.pruneLocked(now)
	m.evaluateLocked(now)
}

// RecordUpload records a segment upload outcome.
func (m *StoreHealthMonitor) RecordUpload(latency time.Duration, err error) {
	m.RecordOperation("upload", latency, err)
}

// State returns the current health state.
func (m *StoreHealthMonitor) State() StoreHealthState {
	if m == nil {
		return StoreStateHealthy
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current state plus the window aggregates behind it.
func (m *StoreHealthMonitor) Snapshot() StoreHealthSnapshot {
	if m == nil {
		return StoreHealthSnapshot{State: StoreStateHealthy}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	avg, rate := m.aggregatesLocked()
	return StoreHealthSnapshot{
		State:      m.state,
		AvgLatency: avg,
		ErrorRate:  rate,
		Since:      m.since,
	}
}

func (m *StoreHealthMonitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	keep := 0
	for keep < len(m.samples) && m.samples[keep].at.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		m.samples = append(m.samples[:0], m.samples[keep:]...)
	}
	if excess := len(m.samples) - m.cfg.MaxSamples; excess > 0 {
		m.samples = append(m.samples[:0], m.samples[excess:]...)
	}
}

func (m *StoreHealthMonitor) aggregatesLocked() (time.Duration, float64) {
	if len(m.samples) == 0 {
		return 0, 0
	}
	var total time.Duration
	failed := 0
	for _, s := range m.samples {
		total += s.latency
		if s.failed {
			failed++
		}
	}
	avg := total / time.Duration(len(m.samples))
	return avg, float64(failed) / float64(len(m.samples))
}

func (m *StoreHealthMonitor) evaluateLocked(now time.Time) {
	avg, rate := m.aggregatesLocked()
	next := StoreStateHealthy
	switch {
	case (m.cfg.ErrorCrit > 0 && rate >= m.cfg.ErrorCrit) ||
		(m.cfg.LatencyCrit > 0 && avg >= m.cfg.LatencyCrit):
		next = StoreStateUnavailable
	case (m.cfg.ErrorWarn > 0 && rate >= m.cfg.ErrorWarn) ||
		(m.cfg.LatencyWarn > 0 && avg >= m.cfg.LatencyWarn):
		next = StoreStateDegraded
	}
	if next != m.state {
		m.state = next
		m.since = now
	}
}
