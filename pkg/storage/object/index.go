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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lakestream-io/lakestream/pkg/storage"
)

// IndexEntry maps a record offset to the byte position of its batch inside
// the segment.
type IndexEntry struct {
	Offset   int64
	Position int32
}

const (
	indexMagic   = "LSIX"
	indexVersion = int32(1)
	indexRowLen  = 12
	indexHeadLen = 12 // magic + version + entry count
)

// IndexBuilder accumulates sparse index entries, emitting one entry at least
// every interval messages. The first batch is always indexed.
type IndexBuilder struct {
	interval  int32
	sinceLast int32
	entries   []*IndexEntry
}

// NewIndexBuilder returns a builder emitting an entry every interval
// messages; interval <= 0 indexes every batch.
func NewIndexBuilder(interval int32) *IndexBuilder {
	return &IndexBuilder{interval: interval, sinceLast: interval}
}

// MaybeAdd records an entry for the batch starting at offset/position when
// the message interval has elapsed, then accounts for messages.
func (b *IndexBuilder) MaybeAdd(offset int64, position int32, messages int32) {
	if b.sinceLast >= b.interval {
		b.entries = append(b.entries, &IndexEntry{Offset: offset, Position: position})
		b.sinceLast = 0
	}
	b.sinceLast += messages
}

// Entries returns the accumulated entries in offset order.
func (b *IndexBuilder) Entries() []*IndexEntry {
	return b.entries
}

// BuildBytes serializes the index.
func (b *IndexBuilder) BuildBytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(indexMagic)
	var head [8]byte
	binary.BigEndian.PutUint32(head[0:4], uint32(indexVersion))
	binary.BigEndian.PutUint32(head[4:8], uint32(len(b.entries)))
	buf.Write(head[:])
	var row [indexRowLen]byte
	for _, e := range b.entries {
		binary.BigEndian.PutUint64(row[0:8], uint64(e.Offset))
		binary.BigEndian.PutUint32(row[8:12], uint32(e.Position))
		buf.Write(row[:])
	}
	return buf.Bytes(), nil
}

// ParseIndex deserializes index bytes produced by BuildBytes.
func ParseIndex(data []byte) ([]*IndexEntry, error) {
	if len(data) < indexHeadLen {
		return nil, fmt.Errorf("index too small: %d bytes: %w", len(data), storage.ErrCorrupt)
	}
	if string(data[:4]) != indexMagic {
		return nil, fmt.Errorf("bad index magic: %w", storage.ErrCorrupt)
	}
	version := int32(binary.BigEndian.Uint32(data[4:8]))
	if version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d: %w", version, storage.ErrCorrupt)
	}
	count := int(binary.BigEndian.Uint32(data[8:12]))
	if len(data) != indexHeadLen+count*indexRowLen {
		return nil, fmt.Errorf("index length %d does not match %d entries: %w", len(data), count, storage.ErrCorrupt)
	}
	entries := make([]*IndexEntry, 0, count)
	pos := indexHeadLen
	for i := 0; i < count; i++ {
		entries = append(entries, &IndexEntry{
			Offset:   int64(binary.BigEndian.Uint64(data[pos : pos+8])),
			Position: int32(binary.BigEndian.Uint32(data[pos+8 : pos+12])),
		})
		pos += indexRowLen
	}
	return entries, nil
}

// findIndexEntry returns the last entry at or before offset. Entries are in
// ascending offset order.
func findIndexEntry(entries []*IndexEntry, offset int64) *IndexEntry {
	if len(entries) == 0 {
		return &IndexEntry{}
	}
	lo, hi := 0, len(entries)-1
	if offset <= entries[0].Offset {
		return entries[0]
	}
	if offset >= entries[hi].Offset {
		return entries[hi]
	}
	for lo <= hi {
		mid := (lo + hi) / 2
		if entries[mid].Offset == offset {
			return entries[mid]
		}
		if entries[mid].Offset < offset {
			if entries[mid+1].Offset > offset {
				return entries[mid]
			}
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return entries[0]
}
