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
	"errors"
	"fmt"
	"time"

	"github.com/lakestream-io/lakestream/pkg/storage"
)

// Segment layout: a fixed header, the raw record batches back to back, and a
// fixed footer. Header: magic(4) version(4) baseOffset(8) messageCount(4)
// createdAtMillis(8) reserved(4). Footer: lastOffset(8) messageCount(4)
// magic(4). Byte positions in the sparse index are absolute within the
// segment, so a range read starting at an index position lands on a batch
// boundary.
const (
	segmentMagic     = "LSEG"
	segmentVersion   = int32(1)
	segmentHeaderLen = 32
	segmentFooterLen = 16
)

// SegmentWriterConfig controls segment serialization.
type SegmentWriterConfig struct {
	IndexIntervalMessages int32
}

// SegmentArtifact is a sealed segment plus its index, ready for upload.
type SegmentArtifact struct {
	BaseOffset    int64
	LastOffset    int64
	MessageCount  int32
	FirstTime     time.Time
	LastTime      time.Time
	CreatedAt     time.Time
	SegmentBytes  []byte
	IndexBytes    []byte
	RelativeIndex []*IndexEntry
}

// BuildSegment serializes batches into a sealed segment. Batches must carry
// their final assigned offsets and be in offset order.
func BuildSegment(cfg SegmentWriterConfig, batches []Batch, created time.Time) (*SegmentArtifact, error) {
	if len(batches) == 0 {
		return nil, errors.New("build segment: no batches")
	}
	base := batches[0].Info.BaseOffset
	var messageCount int32
	var bodyLen int
	for _, bt := range batches {
		messageCount += bt.Info.RecordCount
		bodyLen += len(bt.Bytes)
	}
	last := batches[len(batches)-1].Info.LastOffset()

	seg := make([]byte, 0, segmentHeaderLen+bodyLen+segmentFooterLen)
	var header [segmentHeaderLen]byte
	copy(header[0:4], segmentMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(segmentVersion))
	binary.BigEndian.PutUint64(header[8:16], uint64(base))
	binary.BigEndian.PutUint32(header[16:20], uint32(messageCount))
	binary.BigEndian.PutUint64(header[20:28], uint64(created.UnixMilli()))
	seg = append(seg, header[:]...)

	builder := NewIndexBuilder(cfg.IndexIntervalMessages)
	firstTs := batches[0].Info.FirstTimestamp
	lastTs := batches[0].Info.MaxTimestamp
	for _, bt := range batches {
		builder.MaybeAdd(bt.Info.BaseOffset, int32(len(seg)), bt.Info.RecordCount)
		seg = append(seg, bt.Bytes...)
		if bt.Info.FirstTimestamp < firstTs {
			firstTs = bt.Info.FirstTimestamp
		}
		if bt.Info.MaxTimestamp > lastTs {
			lastTs = bt.Info.MaxTimestamp
		}
	}

	var footer [segmentFooterLen]byte
	binary.BigEndian.PutUint64(footer[0:8], uint64(last))
	binary.BigEndian.PutUint32(footer[8:12], uint32(messageCount))
	copy(footer[12:16], segmentMagic)
	seg = append(seg, footer[:]...)

	indexBytes, err := builder.BuildBytes()
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	return &SegmentArtifact{
		BaseOffset:    base,
		LastOffset:    last,
		MessageCount:  messageCount,
		FirstTime:     time.UnixMilli(firstTs),
		LastTime:      time.UnixMilli(lastTs),
		CreatedAt:     created,
		SegmentBytes:  seg,
		IndexBytes:    indexBytes,
		RelativeIndex: builder.Entries(),
	}, nil
}

// parseSegmentFooter extracts the last offset from a segment's trailing
// bytes.
func parseSegmentFooter(data []byte) (int64, error) {
	if len(data) < segmentFooterLen {
		return 0, fmt.Errorf("segment footer too small: %w", storage.ErrCorrupt)
	}
	tail := data[len(data)-segmentFooterLen:]
	if string(tail[12:16]) != segmentMagic {
		return 0, fmt.Errorf("bad segment footer magic: %w", storage.ErrCorrupt)
	}
	return int64(binary.BigEndian.Uint64(tail[0:8])), nil
}
