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

import "testing"

func TestIndexBuilder(t *testing.T) {
	builder := NewIndexBuilder(2)
	builder.MaybeAdd(0, 32, 1)
	builder.MaybeAdd(5, 64, 1) // interval not yet reached
	builder.MaybeAdd(6, 96, 1) // interval reached

	entries := builder.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries got %d", len(entries))
	}
	if entries[1].Offset != 6 {
		t.Fatalf("unexpected offset %d", entries[1].Offset)
	}

	data, err := builder.BuildBytes()
	if err != nil {
		t.Fatalf("BuildBytes: %v", err)
	}
	parsed, err := ParseIndex(data)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if len(parsed) != 2 || parsed[0].Offset != 0 {
		t.Fatalf("parsed entries mismatch: %#v", parsed)
	}
}

func TestParseIndexRejectsCorrupt(t *testing.T) {
	if _, err := ParseIndex([]byte("xx")); err == nil {
		t.Fatalf("expected error for short index")
	}
	builder := NewIndexBuilder(1)
	builder.MaybeAdd(0, 32, 1)
	data, err := builder.BuildBytes()
	if err != nil {
		t.Fatalf("BuildBytes: %v", err)
	}
	if _, err := ParseIndex(data[:len(data)-1]); err == nil {
		t.Fatalf("expected error for truncated index")
	}
}

func TestFindIndexEntry(t *testing.T) {
	entries := []*IndexEntry{
		{Offset: 0, Position: 32},
		{Offset: 10, Position: 300},
		{Offset: 20, Position: 600},
	}
	cases := []struct {
		offset int64
		want   int32
	}{
		{0, 32},
		{5, 32},
		{10, 300},
		{15, 300},
		{20, 600},
		{99, 600},
	}
	for _, tc := range cases {
		if got := findIndexEntry(entries, tc.offset); got.Position != tc.want {
			t.Fatalf("offset %d: position %d want %d", tc.offset, got.Position, tc.want)
		}
	}
}
