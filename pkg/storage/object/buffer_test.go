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

package object

import (
	"testing"
	"time"

	"github.com/lakestream-io/lakestream/pkg/batch"
)

func TestWriteBufferThresholds(t *testing.T) {
	cfg := WriteBufferConfig{
		MaxBytes:      10,
		MaxMessages:   5,
		MaxBatches:    3,
		FlushInterval: 50 * time.Millisecond,
	}
	buf := NewWriteBuffer(cfg)

	if buf.ShouldFlush(time.Now()) {
		t.Fatalf("empty buffer should not flush")
	}

	buf.Append(Batch{Bytes: make([]byte, 8), Info: batch.Info{RecordCount: 4}})
	if buf.ShouldFlush(time.Now()) {
		t.Fatalf("below thresholds")
	}

	buf.Append(Batch{Bytes: make([]byte, 4), Info: batch.Info{RecordCount: 2}})
	if !buf.ShouldFlush(time.Now()) {
		t.Fatalf("expected flush by bytes")
	}

	drained := buf.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained batches")
	}
	if buf.Bytes() != 0 {
		t.Fatalf("drain left %d bytes", buf.Bytes())
	}

	buf.Append(Batch{Bytes: make([]byte, 1), Info: batch.Info{RecordCount: 1}})
	time.Sleep(cfg.FlushInterval)
	if !buf.ShouldFlush(time.Now()) {
		t.Fatalf("expected flush by time")
	}
}

func TestWriteBufferMessageThreshold(t *testing.T) {
	buf := NewWriteBuffer(WriteBufferConfig{MaxMessages: 3})
	buf.Append(Batch{Bytes: []byte("a"), Info: batch.Info{RecordCount: 2}})
	if buf.ShouldFlush(time.Now()) {
		t.Fatalf("2 of 3 messages should not flush")
	}
	buf.Append(Batch{Bytes: []byte("b"), Info: batch.Info{RecordCount: 1}})
	if !buf.ShouldFlush(time.Now()) {
		t.Fatalf("expected flush by messages")
	}
}

func TestWriteBufferSnapshotDoesNotDrain(t *testing.T) {
	buf := NewWriteBuffer(WriteBufferConfig{})
	buf.Append(Batch{Bytes: []byte("a"), Info: batch.Info{RecordCount: 1}})
	if len(buf.Snapshot()) != 1 {
		t.Fatalf("snapshot missing batch")
	}
	if len(buf.Drain()) != 1 {
		t.Fatalf("snapshot consumed the buffer")
	}
}
