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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lakestream-io/lakestream/pkg/batch"
	"github.com/lakestream-io/lakestream/pkg/cache"
	"github.com/lakestream-io/lakestream/pkg/storage"
)

type partitionLogConfig struct {
	Buffer            WriteBufferConfig
	Segment           SegmentWriterConfig
	ReadAheadSegments int
	CacheEnabled      bool
	Logger            *slog.Logger
}

// partitionLog coordinates the active tail buffer, segment sealing, object
// uploads, the manifest swap, and cached reads for one partition.
//
// Appends are serialized by the engine sequencer. Reads take mu only to
// snapshot state, then run against immutable sealed segments or the sealing
// snapshot, so a slow object download never blocks an append.
type partitionLog struct {
	namespace string
	topic     string
	partition int32
	client    Client
	cache     *cache.Cache
	cfg       partitionLogConfig
	sem       *semaphore.Weighted
	onStoreOp func(op string, d time.Duration, err error)

	mu              sync.Mutex
	buffer          *WriteBuffer
	sealing         []Batch
	segments        []segmentMeta
	indexes         map[int64][]*IndexEntry
	logStart        int64
	nextOffset      int64
	activeBase      int64
	manifestVersion int64
	flushing        bool
	flushCond       *sync.Cond

	prefetchMu sync.Mutex
}

func newPartitionLog(namespace, topic string, partition int32, client Client, segCache *cache.Cache, cfg partitionLogConfig, sem *semaphore.Weighted, onStoreOp func(string, time.Duration, error)) *partitionLog {
	if namespace == "" {
		namespace = "default"
	}
	l := &partitionLog{
		namespace: namespace,
		topic:     topic,
		partition: partition,
		client:    client,
		cache:     segCache,
		cfg:       cfg,
		sem:       sem,
		onStoreOp: onStoreOp,
		buffer:    NewWriteBuffer(cfg.Buffer),
		indexes:   make(map[int64][]*IndexEntry),
	}
	l.flushCond = sync.NewCond(&l.mu)
	return l
}

func (l *partitionLog) logger() *slog.Logger {
	if l.cfg.Logger != nil {
		return l.cfg.Logger
	}
	return slog.Default()
}

func (l *partitionLog) acquire(ctx context.Context) error {
	if l.sem == nil {
		return nil
	}
	return l.sem.Acquire(ctx, 1)
}

func (l *partitionLog) tryAcquire() bool {
	if l.sem == nil {
		return true
	}
	return l.sem.TryAcquire(1)
}

func (l *partitionLog) release() {
	if l.sem != nil {
		l.sem.Release(1)
	}
}

func (l *partitionLog) prefix() string {
	return path.Join(l.namespace, l.topic, strconv.FormatInt(int64(l.partition), 10))
}

func (l *partitionLog) segmentKey(baseOffset int64) string {
	return path.Join(l.prefix(), fmt.Sprintf("segment-%020d.seg", baseOffset))
}

func (l *partitionLog) indexKey(baseOffset int64) string {
	return path.Join(l.prefix(), fmt.Sprintf("segment-%020d.idx", baseOffset))
}

func (l *partitionLog) cacheKey(baseOffset int64) string {
	return l.segmentKey(baseOffset)
}

// restore loads committed partition state. The manifest pointer is
// authoritative; when it is absent the segment objects themselves are
// scavenged, so a partition written before a crash that lost the very first
// manifest swap still comes back.
func (l *partitionLog) restore(ctx context.Context) error {
	m, err := loadManifest(ctx, l.client, l.prefix())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		m, err = l.scavenge(ctx)
		if err != nil {
			return err
		}
	}
	l.mu.Lock()
	l.segments = m.Segments
	l.logStart = m.LogStart
	l.nextOffset = m.NextOffset
	l.activeBase = m.NextOffset
	l.manifestVersion = m.Version
	l.mu.Unlock()
	return nil
}

// scavenge rebuilds a manifest from segment objects found under the
// partition prefix. Segments without a readable footer or index are
// orphans from an interrupted upload and are skipped.
func (l *partitionLog) scavenge(ctx context.Context) (*manifest, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	objects, err := l.client.List(ctx, l.prefix()+"/")
	l.release()
	if err != nil {
		return nil, err
	}
	var segments []segmentMeta
	for _, obj := range objects {
		base, ok := parseSegmentBaseOffset(obj.Key)
		if !ok || obj.Size < segmentHeaderLen+segmentFooterLen {
			continue
		}
		if err := l.acquire(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		footer, err := l.client.Get(ctx, obj.Key, &ByteRange{Start: obj.Size - segmentFooterLen, End: obj.Size - 1})
		l.release()
		l.observe("get_segment_footer", start, err)
		if err != nil {
			return nil, err
		}
		lastOffset, err := parseSegmentFooter(footer)
		if err != nil {
			l.logger().Warn("skipping segment with corrupt footer",
				"topic", l.topic, "partition", l.partition, "key", obj.Key, "error", err)
			continue
		}
		segments = append(segments, segmentMeta{BaseOffset: base, LastOffset: lastOffset, Size: obj.Size})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].BaseOffset < segments[j].BaseOffset })
	m := &manifest{Version: 1, Segments: segments}
	if len(segments) > 0 {
		m.LogStart = segments[0].BaseOffset
		m.NextOffset = segments[len(segments)-1].LastOffset + 1
	}
	return m, nil
}

func parseSegmentBaseOffset(key string) (int64, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, "segment-") || !strings.HasSuffix(name, ".seg") {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, "segment-"), ".seg")
	base, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return base, true
}

// append assigns offsets to raw, buffers it, and seals the active segment
// when a buffer threshold is crossed. raw is patched in place with the
// assigned base offset.
func (l *partitionLog) append(ctx context.Context, raw []byte) (*storage.AppendResult, error) {
	info, err := batch.Peek(raw)
	if err != nil {
		return nil, fmt.Errorf("append: %w", storage.ErrCorrupt)
	}
	l.mu.Lock()
	base := l.nextOffset
	if err := batch.PatchBaseOffset(raw, base); err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("append: %w", storage.ErrCorrupt)
	}
	info.BaseOffset = base
	l.buffer.Append(Batch{Info: info, Bytes: raw})
	l.nextOffset = base + int64(info.LastOffsetDelta) + 1
	result := &storage.AppendResult{BaseOffset: base, LastOffset: l.nextOffset - 1}

	var artifact *SegmentArtifact
	if l.buffer.ShouldFlush(time.Now()) {
		artifact, err = l.prepareFlush()
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
	}
	l.mu.Unlock()

	if artifact != nil {
		if err := l.uploadFlush(ctx, artifact); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// flush seals and uploads whatever is buffered. If another flush is in
// progress it waits for it, then flushes anything that accumulated since.
func (l *partitionLog) flush(ctx context.Context) error {
	l.mu.Lock()
	for l.flushing {
		if ctx.Err() != nil {
			l.mu.Unlock()
			return ctx.Err()
		}
		l.flushCond.Wait()
	}
	artifact, err := l.prepareFlush()
	l.mu.Unlock()
	if err != nil {
		return err
	}
	if artifact == nil {
		return nil
	}
	return l.uploadFlush(ctx, artifact)
}

// prepareFlush drains the buffer into a sealed segment artifact. The drained
// batches stay readable through l.sealing until the upload commits. Caller
// must hold l.mu.
func (l *partitionLog) prepareFlush() (*SegmentArtifact, error) {
	if l.flushing {
		return nil, nil
	}
	batches := l.buffer.Drain()
	if len(batches) == 0 {
		return nil, nil
	}
	artifact, err := BuildSegment(l.cfg.Segment, batches, time.Now())
	if err != nil {
		return nil, fmt.Errorf("build segment: %w", err)
	}
	l.sealing = batches
	l.activeBase = l.nextOffset
	l.flushing = true
	return artifact, nil
}

// uploadFlush uploads the segment and its index, commits them through the
// manifest swap, and publishes the new segment for reads. On failure the
// sealed batches move back to the front of the buffer so a later flush can
// retry; their offsets are already assigned and do not change. Called
// without l.mu held.
func (l *partitionLog) uploadFlush(ctx context.Context, artifact *SegmentArtifact) error {
	segKey := l.segmentKey(artifact.BaseOffset)
	idxKey := l.indexKey(artifact.BaseOffset)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := l.acquire(gctx); err != nil {
			return err
		}
		defer l.release()
		start := time.Now()
		err := l.client.Put(gctx, segKey, artifact.SegmentBytes)
		l.observe("put_segment", start, err)
		return err
	})
	g.Go(func() error {
		if err := l.acquire(gctx); err != nil {
			return err
		}
		defer l.release()
		start := time.Now()
		err := l.client.Put(gctx, idxKey, artifact.IndexBytes)
		l.observe("put_index", start, err)
		return err
	})
	err := g.Wait()
	if err == nil {
		err = l.commitSegment(ctx, artifact)
	}
	if err != nil {
		l.mu.Lock()
		restored := append([]Batch(nil), l.sealing...)
		restored = append(restored, l.buffer.Drain()...)
		for _, bt := range restored {
			l.buffer.Append(bt)
		}
		l.sealing = nil
		l.activeBase = l.firstBufferedBaseLocked()
		l.flushing = false
		l.flushCond.Broadcast()
		l.mu.Unlock()
		return err
	}

	if l.cache != nil && l.cfg.CacheEnabled {
		l.cache.Set(l.cacheKey(artifact.BaseOffset), artifact.SegmentBytes)
	}

	l.mu.Lock()
	l.sealing = nil
	l.flushing = false
	l.flushCond.Broadcast()
	lastSegIdx := len(l.segments) - 1
	l.mu.Unlock()

	l.startPrefetch(ctx, lastSegIdx)
	return nil
}

func (l *partitionLog) firstBufferedBaseLocked() int64 {
	if snap := l.buffer.Snapshot(); len(snap) > 0 {
		return snap[0].Info.BaseOffset
	}
	return l.nextOffset
}

// commitSegment writes the manifest including the new segment, then updates
// in-memory state.
func (l *partitionLog) commitSegment(ctx context.Context, artifact *SegmentArtifact) error {
	meta := segmentMeta{
		BaseOffset:     artifact.BaseOffset,
		LastOffset:     artifact.LastOffset,
		Size:           int64(len(artifact.SegmentBytes)),
		Messages:       artifact.MessageCount,
		FirstTimestamp: artifact.FirstTime.UnixMilli(),
		MaxTimestamp:   artifact.LastTime.UnixMilli(),
	}
	l.mu.Lock()
	m := &manifest{
		Version:    l.manifestVersion + 1,
		LogStart:   l.logStart,
		NextOffset: l.nextOffset,
		Segments:   append(append([]segmentMeta(nil), l.segments...), meta),
	}
	l.mu.Unlock()

	start := time.Now()
	err := storeManifest(ctx, l.client, l.prefix(), m)
	l.observe("put_manifest", start, err)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.segments = m.Segments
	l.manifestVersion = m.Version
	if artifact.RelativeIndex != nil {
		l.indexes[artifact.BaseOffset] = artifact.RelativeIndex
	}
	l.mu.Unlock()
	return nil
}

// read returns whole batches covering offset, bounded by maxBytes but never
// empty while data exists at or after offset.
func (l *partitionLog) read(ctx context.Context, offset int64, maxBytes int32) (*storage.FetchResult, error) {
	l.mu.Lock()
	logStart := l.logStart
	hwm := l.nextOffset
	if offset == hwm {
		l.mu.Unlock()
		return &storage.FetchResult{LogStart: logStart, HighWatermark: hwm}, nil
	}
	if offset < logStart || offset > hwm {
		l.mu.Unlock()
		return nil, storage.ErrOffsetOutOfRange
	}
	var seg segmentMeta
	segIdx := -1
	for i, s := range l.segments {
		if offset >= s.BaseOffset && offset <= s.LastOffset {
			seg = s
			segIdx = i
			break
		}
	}
	var tail [][]byte
	if segIdx < 0 {
		// Offset is in the sealing snapshot or the active buffer.
		for _, bt := range l.sealing {
			tail = append(tail, bt.Bytes)
		}
		for _, bt := range l.buffer.Snapshot() {
			tail = append(tail, bt.Bytes)
		}
	}
	l.mu.Unlock()

	if segIdx >= 0 {
		raws, err := l.readSegment(ctx, seg, offset, maxBytes)
		if err != nil {
			return nil, err
		}
		l.startPrefetch(ctx, segIdx+1)
		return &storage.FetchResult{Batches: raws, LogStart: logStart, HighWatermark: hwm}, nil
	}
	return &storage.FetchResult{
		Batches:       takeBatches(tail, offset, maxBytes),
		LogStart:      logStart,
		HighWatermark: hwm,
	}, nil
}

// readSegment serves batches from one sealed segment, preferring the cache,
// then an index-guided range read, then a full download.
func (l *partitionLog) readSegment(ctx context.Context, seg segmentMeta, offset int64, maxBytes int32) ([][]byte, error) {
	if l.cache != nil && l.cfg.CacheEnabled {
		if data, ok := l.cache.Get(l.cacheKey(seg.BaseOffset)); ok {
			return l.sliceSegment(seg, data, offset, maxBytes)
		}
	}
	entries, err := l.segmentIndex(ctx, seg.BaseOffset)
	if err != nil {
		l.logger().Warn("segment index unavailable, falling back to full download",
			"topic", l.topic, "partition", l.partition, "segment_base", seg.BaseOffset, "error", err)
	}
	if entries != nil {
		return l.rangeRead(ctx, seg, entries, offset, maxBytes)
	}

	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := l.client.Get(ctx, l.segmentKey(seg.BaseOffset), nil)
	l.release()
	l.observe("get_segment", start, err)
	if err != nil {
		return nil, err
	}
	if l.cache != nil && l.cfg.CacheEnabled {
		l.cache.Set(l.cacheKey(seg.BaseOffset), data)
	}
	return l.sliceSegment(seg, data, offset, maxBytes)
}

// sliceSegment splits an in-memory segment into batches from offset onward.
func (l *partitionLog) sliceSegment(seg segmentMeta, data []byte, offset int64, maxBytes int32) ([][]byte, error) {
	if int64(len(data)) != seg.Size || len(data) < segmentHeaderLen+segmentFooterLen {
		return nil, fmt.Errorf("segment %d size mismatch: %w", seg.BaseOffset, storage.ErrCorrupt)
	}
	body := data[segmentHeaderLen : len(data)-segmentFooterLen]
	raws, partial := splitBatches(body)
	if partial != 0 {
		return nil, fmt.Errorf("segment %d has a truncated batch: %w", seg.BaseOffset, storage.ErrCorrupt)
	}
	out := takeBatches(raws, offset, maxBytes)
	if out == nil {
		return nil, storage.ErrOffsetOutOfRange
	}
	return out, nil
}

// rangeRead fetches only the byte range the sparse index maps the offset to.
// If maxBytes cuts the first batch short, the batch is re-read in full using
// the length from its own header.
func (l *partitionLog) rangeRead(ctx context.Context, seg segmentMeta, entries []*IndexEntry, offset int64, maxBytes int32) ([][]byte, error) {
	entry := findIndexEntry(entries, offset)
	start := int64(entry.Position)
	bodyEnd := seg.Size - segmentFooterLen
	if start < segmentHeaderLen || start >= bodyEnd {
		return nil, fmt.Errorf("segment %d index position %d out of bounds: %w", seg.BaseOffset, start, storage.ErrCorrupt)
	}
	budget := int64(maxBytes)
	if budget < 4096 {
		budget = 4096
	}
	end := start + budget
	if end > bodyEnd {
		end = bodyEnd
	}
	data, err := l.getRange(ctx, seg.BaseOffset, start, end-1)
	if err != nil {
		return nil, err
	}
	raws, partial := splitBatches(data)
	if len(raws) == 0 {
		if partial <= 0 {
			return nil, fmt.Errorf("segment %d unreadable at %d: %w", seg.BaseOffset, start, storage.ErrCorrupt)
		}
		if start+int64(partial) > bodyEnd {
			return nil, fmt.Errorf("segment %d batch overruns body: %w", seg.BaseOffset, storage.ErrCorrupt)
		}
		data, err = l.getRange(ctx, seg.BaseOffset, start, start+int64(partial)-1)
		if err != nil {
			return nil, err
		}
		raws, partial = splitBatches(data)
		if len(raws) == 0 || partial != 0 {
			return nil, fmt.Errorf("segment %d unreadable at %d: %w", seg.BaseOffset, start, storage.ErrCorrupt)
		}
	}
	out := takeBatches(raws, offset, maxBytes)
	if out == nil {
		return nil, storage.ErrOffsetOutOfRange
	}
	return out, nil
}

func (l *partitionLog) getRange(ctx context.Context, baseOffset, start, end int64) ([]byte, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	t := time.Now()
	data, err := l.client.Get(ctx, l.segmentKey(baseOffset), &ByteRange{Start: start, End: end})
	l.release()
	l.observe("get_segment_range", t, err)
	return data, err
}

// segmentIndex returns the sparse index for a sealed segment, downloading
// and memoizing it on first use.
func (l *partitionLog) segmentIndex(ctx context.Context, baseOffset int64) ([]*IndexEntry, error) {
	l.mu.Lock()
	entries, ok := l.indexes[baseOffset]
	l.mu.Unlock()
	if ok {
		return entries, nil
	}
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := l.client.Get(ctx, l.indexKey(baseOffset), nil)
	l.release()
	l.observe("get_index", start, err)
	if err != nil {
		return nil, err
	}
	entries, err = ParseIndex(data)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.indexes[baseOffset] = entries
	l.mu.Unlock()
	return entries, nil
}

func (l *partitionLog) startPrefetch(ctx context.Context, nextIndex int) {
	if l.cfg.ReadAheadSegments <= 0 || nextIndex < 0 || l.cache == nil || !l.cfg.CacheEnabled {
		return
	}
	l.prefetchMu.Lock()
	defer l.prefetchMu.Unlock()

	l.mu.Lock()
	var toFetch []segmentMeta
	for i := 0; i < l.cfg.ReadAheadSegments; i++ {
		idx := nextIndex + i
		if idx >= len(l.segments) {
			break
		}
		seg := l.segments[idx]
		if _, ok := l.cache.Get(l.cacheKey(seg.BaseOffset)); ok {
			continue
		}
		toFetch = append(toFetch, seg)
	}
	l.mu.Unlock()

	for _, seg := range toFetch {
		go func(seg segmentMeta) {
			if !l.tryAcquire() {
				return // pool busy, skip prefetch
			}
			defer l.release()
			data, err := l.client.Get(ctx, l.segmentKey(seg.BaseOffset), nil)
			if err != nil {
				return
			}
			l.cache.Set(l.cacheKey(seg.BaseOffset), data)
		}(seg)
	}
}

// watermarks returns the retained offset range.
func (l *partitionLog) watermarks() storage.Watermarks {
	l.mu.Lock()
	defer l.mu.Unlock()
	return storage.Watermarks{LogStart: l.logStart, High: l.nextOffset}
}

// offsetForTimestamp resolves a ListOffsets timestamp to the base offset of
// the first segment or buffered batch that may contain it. Resolution is
// segment-granular for sealed data.
func (l *partitionLog) offsetForTimestamp(ts int64) *storage.OffsetInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, seg := range l.segments {
		if seg.MaxTimestamp >= ts {
			return &storage.OffsetInfo{Timestamp: seg.FirstTimestamp, Offset: seg.BaseOffset}
		}
	}
	tail := append(append([]Batch(nil), l.sealing...), l.buffer.Snapshot()...)
	for _, bt := range tail {
		if bt.Info.MaxTimestamp >= ts {
			return &storage.OffsetInfo{Timestamp: bt.Info.FirstTimestamp, Offset: bt.Info.BaseOffset}
		}
	}
	return &storage.OffsetInfo{Timestamp: -1, Offset: -1}
}

// applyRetention drops expired sealed segments, commits the trim through the
// manifest, then deletes the objects. The active tail is never dropped, so
// log-start can never pass the high watermark.
func (l *partitionLog) applyRetention(ctx context.Context, policy storage.RetentionPolicy, now time.Time) error {
	l.mu.Lock()
	var totalBytes int64
	for _, seg := range l.segments {
		totalBytes += seg.Size
	}
	cutoff := int64(0)
	if policy.MaxAge > 0 {
		cutoff = now.Add(-policy.MaxAge).UnixMilli()
	}
	drop := 0
	for drop < len(l.segments) {
		seg := l.segments[drop]
		expired := policy.MaxAge > 0 && seg.MaxTimestamp < cutoff
		oversize := policy.MaxBytes > 0 && totalBytes > policy.MaxBytes
		if !expired && !oversize {
			break
		}
		totalBytes -= seg.Size
		drop++
	}
	if drop == 0 {
		l.mu.Unlock()
		return nil
	}
	dropped := append([]segmentMeta(nil), l.segments[:drop]...)
	kept := append([]segmentMeta(nil), l.segments[drop:]...)
	newStart := l.nextOffset
	if len(kept) > 0 {
		newStart = kept[0].BaseOffset
	} else if l.firstBufferedBaseLocked() < newStart {
		newStart = l.firstBufferedBaseLocked()
	}
	m := &manifest{
		Version:    l.manifestVersion + 1,
		LogStart:   newStart,
		NextOffset: l.nextOffset,
		Segments:   kept,
	}
	l.mu.Unlock()

	start := time.Now()
	err := storeManifest(ctx, l.client, l.prefix(), m)
	l.observe("put_manifest", start, err)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.segments = kept
	l.logStart = m.LogStart
	l.manifestVersion = m.Version
	for _, seg := range dropped {
		delete(l.indexes, seg.BaseOffset)
	}
	l.mu.Unlock()

	for _, seg := range dropped {
		if err := l.client.Delete(ctx, l.segmentKey(seg.BaseOffset)); err != nil {
			l.logger().Warn("delete expired segment", "key", l.segmentKey(seg.BaseOffset), "error", err)
		}
		if err := l.client.Delete(ctx, l.indexKey(seg.BaseOffset)); err != nil {
			l.logger().Warn("delete expired index", "key", l.indexKey(seg.BaseOffset), "error", err)
		}
	}
	l.logger().Info("retention dropped segments",
		"topic", l.topic, "partition", l.partition,
		"segments", drop, "log_start", m.LogStart)
	return nil
}

func (l *partitionLog) observe(op string, start time.Time, err error) {
	if l.onStoreOp != nil {
		l.onStoreOp(op, time.Since(start), err)
	}
}

// splitBatches splits concatenated record batches. partial is 0 when data
// ends exactly on a batch boundary, -1 when the trailing bytes are too short
// to carry a length header, otherwise the full length of the cut batch.
func splitBatches(data []byte) (complete [][]byte, partial int) {
	pos := 0
	for pos+12 <= len(data) {
		length := int(int32(binary.BigEndian.Uint32(data[pos+8 : pos+12])))
		total := 12 + length
		if length < 0 || pos+total > len(data) {
			return complete, total
		}
		complete = append(complete, data[pos:pos+total])
		pos += total
	}
	if pos < len(data) {
		return complete, -1
	}
	return complete, 0
}

// takeBatches filters raws to batches covering offset, accumulating until
// maxBytes. The first qualifying batch is always included.
func takeBatches(raws [][]byte, offset int64, maxBytes int32) [][]byte {
	var out [][]byte
	var total int
	for _, raw := range raws {
		info, err := batch.Peek(raw)
		if err != nil {
			break
		}
		if info.LastOffset() < offset {
			continue
		}
		if len(out) > 0 && maxBytes > 0 && total+len(raw) > int(maxBytes) {
			break
		}
		out = append(out, raw)
		total += len(raw)
	}
	return out
}
