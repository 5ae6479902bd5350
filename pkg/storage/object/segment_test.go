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
	"encoding/binary"
	"testing"
	"time"

	"github.com/lakestream-io/lakestream/pkg/batch"
)

func TestBuildSegment(t *testing.T) {
	batches := []Batch{
		{
			Info:  batch.Info{BaseOffset: 0, LastOffsetDelta: 1, RecordCount: 2, FirstTimestamp: 1000, MaxTimestamp: 1001},
			Bytes: []byte("batch-1"),
		},
		{
			Info:  batch.Info{BaseOffset: 2, LastOffsetDelta: 0, RecordCount: 1, FirstTimestamp: 1002, MaxTimestamp: 1002},
			Bytes: []byte("batch-2"),
		},
	}
	cfg := SegmentWriterConfig{IndexIntervalMessages: 2}
	created := time.UnixMilli(1700000000000)
	artifact, err := BuildSegment(cfg, batches, created)
	if err != nil {
		t.Fatalf("BuildSegment: %v", err)
	}
	if artifact.MessageCount != 3 {
		t.Fatalf("expected 3 messages got %d", artifact.MessageCount)
	}
	if artifact.BaseOffset != 0 || artifact.LastOffset != 2 {
		t.Fatalf("offset range [%d,%d]", artifact.BaseOffset, artifact.LastOffset)
	}
	if len(artifact.IndexBytes) == 0 {
		t.Fatalf("index bytes missing")
	}
	if artifact.FirstTime.UnixMilli() != 1000 || artifact.LastTime.UnixMilli() != 1002 {
		t.Fatalf("time range [%v,%v]", artifact.FirstTime, artifact.LastTime)
	}

	if string(artifact.SegmentBytes[:4]) != segmentMagic {
		t.Fatalf("segment magic mismatch")
	}
	baseOffset := int64(binary.BigEndian.Uint64(artifact.SegmentBytes[8:16]))
	if baseOffset != 0 {
		t.Fatalf("base offset mismatch: %d", baseOffset)
	}
	messageCount := int32(binary.BigEndian.Uint32(artifact.SegmentBytes[16:20]))
	if messageCount != 3 {
		t.Fatalf("message count mismatch %d", messageCount)
	}

	lastOffset, err := parseSegmentFooter(artifact.SegmentBytes)
	if err != nil {
		t.Fatalf("parseSegmentFooter: %v", err)
	}
	if lastOffset != 2 {
		t.Fatalf("footer last offset %d", lastOffset)
	}

	wantLen := segmentHeaderLen + len("batch-1")+len("batch-2") + segmentFooterLen
	if len(artifact.SegmentBytes) != wantLen {
		t.Fatalf("segment length %d want %d", len(artifact.SegmentBytes), wantLen)
	}
}

func TestBuildSegmentNoBatches(t *testing.T) {
	if _, err := BuildSegment(SegmentWriterConfig{}, nil, time.Now()); err == nil {
		t.Fatalf("expected error when no batches supplied")
	}
}

func TestBuildSegmentIndexPositions(t *testing.T) {
	batches := []Batch{
		{Info: batch.Info{BaseOffset: 0, RecordCount: 1}, Bytes: []byte("aaaa")},
		{Info: batch.Info{BaseOffset: 1, RecordCount: 1}, Bytes: []byte("bbbb")},
	}
	artifact, err := BuildSegment(SegmentWriterConfig{IndexIntervalMessages: 1}, batches, time.Now())
	if err != nil {
		t.Fatalf("BuildSegment: %v", err)
	}
	entries := artifact.RelativeIndex
	if len(entries) != 2 {
		t.Fatalf("expected 2 index entries got %d", len(entries))
	}
	if entries[0].Position != segmentHeaderLen {
		t.Fatalf("first position %d", entries[0].Position)
	}
	if entries[1].Position != segmentHeaderLen+4 {
		t.Fatalf("second position %d", entries[1].Position)
	}
	// Positions point into the segment bytes at the batch payloads.
	if string(artifact.SegmentBytes[entries[1].Position:entries[1].Position+4]) != "bbbb" {
		t.Fatalf("index position does not land on batch")
	}
}

func TestParseSegmentFooterCorrupt(t *testing.T) {
	if _, err := parseSegmentFooter([]byte("short")); err == nil {
		t.Fatalf("expected error for short footer")
	}
	bad := make([]byte, segmentFooterLen)
	if _, err := parseSegmentFooter(bad); err == nil {
		t.Fatalf("expected error for bad footer magic")
	}
}
