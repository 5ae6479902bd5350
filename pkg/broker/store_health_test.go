package broker

import (
	"errors"
	"testing"
	"time"
)

func TestStoreHealthStateTransitions(t *testing.T) {
	monitor := NewStoreHealthMonitor(StoreHealthConfig{
		Window:      time.Second,
		LatencyWarn: time.Millisecond,
		LatencyCrit: time.Hour,
		ErrorWarn:   0.5,
		ErrorCrit:   0.8,
		MaxSamples:  64,
	})

	if got := monitor.State(); got != StoreStateHealthy {
		t.Fatalf("expected initial state healthy got %s", got)
	}

	monitor.RecordOperation("put_segment", 2*time.Millisecond, nil)
	if got := monitor.State(); got != StoreStateDegraded {
		t.Fatalf("expected degraded after high latency got %s", got)
	}

	for i := 0; i < 10; i++ {
		monitor.RecordOperation("put_segment", 100*time.Microsecond, errors.New("boom"))
	}
	if got := monitor.State(); got != StoreStateUnavailable {
		t.Fatalf("expected unavailable after repeated errors got %s", got)
	}

	// Recover with a run of fast, successful uploads.
	for i := 0; i < 20; i++ {
		monitor.RecordUpload(100*time.Microsecond, nil)
	}
	monitor.RecordOperation("get_segment", 100*time.Microsecond, nil)
	if got := monitor.State(); got != StoreStateHealthy {
		t.Fatalf("expected healthy after recovery got %s", got)
	}
}

func TestStoreHealthWindowExpiry(t *testing.T) {
	monitor := NewStoreHealthMonitor(StoreHealthConfig{
		Window:      10 * time.Millisecond,
		LatencyWarn: time.Millisecond,
		ErrorWarn:   0.5,
		ErrorCrit:   0.9,
	})

	monitor.RecordOperation("put_segment", 5*time.Millisecond, nil)
	if got := monitor.State(); got != StoreStateDegraded {
		t.Fatalf("expected degraded got %s", got)
	}

	time.Sleep(20 * time.Millisecond)
	monitor.RecordOperation("get_segment", 100*time.Microsecond, nil)
	if got := monitor.State(); got != StoreStateHealthy {
		t.Fatalf("expected healthy after window expiry got %s", got)
	}
}

func TestStoreHealthSnapshot(t *testing.T) {
	monitor := NewStoreHealthMonitor(StoreHealthConfig{
		Window:    time.Minute,
		ErrorWarn: 0.5,
		ErrorCrit: 0.9,
	})
	monitor.RecordOperation("put_segment", 2*time.Millisecond, nil)
	monitor.RecordOperation("put_segment", 4*time.Millisecond, errors.New("boom"))

	snap := monitor.Snapshot()
	if snap.AvgLatency != 3*time.Millisecond {
		t.Fatalf("expected avg 3ms got %s", snap.AvgLatency)
	}
	if snap.ErrorRate != 0.5 {
		t.Fatalf("expected error rate 0.5 got %f", snap.ErrorRate)
	}
	if snap.State != StoreStateDegraded {
		t.Fatalf("expected degraded got %s", snap.State)
	}
	if snap.Since.IsZero() {
		t.Fatalf("expected state timestamp")
	}
}
