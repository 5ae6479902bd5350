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
	"log/slog"
	"sync"
)

const defaultMaxQueuedAppends = 256

// Sequencer serializes appends per partition. Each partition gets its own
// worker goroutine draining a bounded FIFO queue, so writes to one partition
// never block writes to another and never interleave on the same partition.
// A full queue rejects immediately with ErrResourceExhausted instead of
// blocking the caller.
type Sequencer struct {
	engine    Engine
	maxQueued int
	logger    *slog.Logger

	mu     sync.Mutex
	queues map[TopicPartition]*appendQueue
	closed bool
	wg     sync.WaitGroup
}

type appendRequest struct {
	ctx  context.Context
	raw  []byte
	done chan appendOutcome
}

type appendOutcome struct {
	res *AppendResult
	err error
}

type appendQueue struct {
	mu     sync.Mutex
	closed bool
	ch     chan appendRequest
}

// enqueue submits req without blocking. The queue mutex covers both the
// closed check and the send, so Close can never close the channel while a
// send is in flight.
func (q *appendQueue) enqueue(req appendRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrUnavailable
	}
	select {
	case q.ch <- req:
		return nil
	default:
		return ErrResourceExhausted
	}
}

func (q *appendQueue) shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// NewSequencer wraps engine with per-partition append ordering. maxQueued
// bounds the number of in-flight appends per partition; <= 0 uses a default.
func NewSequencer(engine Engine, maxQueued int, logger *slog.Logger) *Sequencer {
	if maxQueued <= 0 {
		maxQueued = defaultMaxQueuedAppends
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		engine:    engine,
		maxQueued: maxQueued,
		logger:    logger.With("component", "sequencer"),
		queues:    make(map[TopicPartition]*appendQueue),
	}
}

// Append enqueues raw for tp and waits for the partition worker to commit it.
// Requests on the same partition complete in submission order.
func (s *Sequencer) Append(ctx context.Context, tp TopicPartition, raw []byte) (*AppendResult, error) {
	q, err := s.queue(tp)
	if err != nil {
		return nil, err
	}
	req := appendRequest{ctx: ctx, raw: raw, done: make(chan appendOutcome, 1)}
	if err := q.enqueue(req); err != nil {
		if errors.Is(err, ErrResourceExhausted) {
			s.logger.Warn("append queue full", "partition", tp.String())
		}
		return nil, err
	}
	select {
	case out := <-req.done:
		return out.res, out.err
	case <-ctx.Done():
		// The worker will still drain the request; the write may land even
		// though the caller stopped waiting.
		return nil, ctxError(ctx)
	}
}

// ctxError keeps deadline expiry in the storage taxonomy while letting a
// caller-initiated cancel surface as context.Canceled.
func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimedOut
	}
	return ctx.Err()
}

func (s *Sequencer) queue(tp TopicPartition) (*appendQueue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrUnavailable
	}
	q, ok := s.queues[tp]
	if !ok {
		q = &appendQueue{ch: make(chan appendRequest, s.maxQueued)}
		s.queues[tp] = q
		s.wg.Add(1)
		go s.run(tp, q)
	}
	return q, nil
}

func (s *Sequencer) run(tp TopicPartition, q *appendQueue) {
	defer s.wg.Done()
	for req := range q.ch {
		if req.ctx.Err() != nil {
			req.done <- appendOutcome{err: ctxError(req.ctx)}
			continue
		}
		res, err := s.engine.Append(req.ctx, tp, req.raw)
		req.done <- appendOutcome{res: res, err: err}
	}
}

// Close stops accepting appends, drains the queued work, and waits for the
// partition workers to exit.
func (s *Sequencer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	queues := s.queues
	s.mu.Unlock()
	for _, q := range queues {
		q.shutdown()
	}
	s.wg.Wait()
}
