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

// Package relational implements the storage engine on PostgreSQL. Record
// batches are rows; offset assignment runs in a SERIALIZABLE transaction so
// concurrent appends to one partition can never allocate overlapping ranges.
package relational

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lakestream-io/lakestream/pkg/batch"
	"github.com/lakestream-io/lakestream/pkg/storage"
)

const ddl = `
CREATE TABLE IF NOT EXISTS topic (
    name text PRIMARY KEY,
    id uuid NOT NULL,
    partitions integer NOT NULL,
    config jsonb,
    created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS partition (
    topic text NOT NULL REFERENCES topic (name) ON DELETE CASCADE,
    partition integer NOT NULL,
    log_start bigint NOT NULL DEFAULT 0,
    next_offset bigint NOT NULL DEFAULT 0,
    PRIMARY KEY (topic, partition)
);

CREATE TABLE IF NOT EXISTS record_batch (
    topic text NOT NULL,
    partition integer NOT NULL,
    base_offset bigint NOT NULL,
    last_offset bigint NOT NULL,
    record_count integer NOT NULL,
    first_timestamp bigint NOT NULL,
    max_timestamp bigint NOT NULL,
    size integer NOT NULL,
    data bytea NOT NULL,
    created_at timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (topic, partition, base_offset),
    FOREIGN KEY (topic, partition) REFERENCES partition (topic, partition) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS record_batch_ts ON record_batch (topic, partition, max_timestamp);
`

// Config configures the PostgreSQL backend.
type Config struct {
	DSN               string
	MaxConns          int32
	DefaultPartitions int32
	Logger            *slog.Logger
}

// Backend implements storage.Engine on a pgx connection pool.
type Backend struct {
	pool              *pgxpool.Pool
	defaultPartitions int32
	logger            *slog.Logger
}

// New connects to PostgreSQL and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %v: %w", err, storage.ErrUnavailable)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		pool:              pool,
		defaultPartitions: cfg.DefaultPartitions,
		logger:            logger.With("component", "pg-backend"),
	}
	if b.defaultPartitions <= 0 {
		b.defaultPartitions = 1
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, mapPgError("ensure schema", err)
	}
	return b, nil
}

func (b *Backend) CreateTopic(ctx context.Context, spec storage.TopicSpec) (uuid.UUID, error) {
	if !storage.ValidTopicName(spec.Name) {
		return uuid.Nil, fmt.Errorf("topic %q: %w", spec.Name, storage.ErrInvalidTopic)
	}
	partitions := spec.Partitions
	if partitions <= 0 {
		partitions = b.defaultPartitions
	}
	id := uuid.New()
	err := pgx.BeginTxFunc(ctx, b.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO topic (name, id, partitions, config) VALUES ($1, $2, $3, $4)`,
			spec.Name, id, partitions, spec.Config); err != nil {
			return err
		}
		for p := int32(0); p < partitions; p++ {
			if _, err := tx.Exec(ctx,
				`INSERT INTO partition (topic, partition) VALUES ($1, $2)`,
				spec.Name, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("topic %q: %w", spec.Name, storage.ErrTopicExists)
		}
		return uuid.Nil, mapPgError("create topic", err)
	}
	b.logger.Info("topic created", "topic", spec.Name, "partitions", partitions, "topic_id", id.String())
	return id, nil
}

func (b *Backend) DeleteTopic(ctx context.Context, name string) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM topic WHERE name = $1`, name)
	if err != nil {
		return mapPgError("delete topic", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("topic %q: %w", name, storage.ErrUnknownTopic)
	}
	b.logger.Info("topic deleted", "topic", name)
	return nil
}

// Append assigns offsets and stores the batch in one SERIALIZABLE
// transaction. A serialization failure is retried once before surfacing as a
// conflict; the failed transaction wrote nothing, so the retry cannot
// duplicate data.
func (b *Backend) Append(ctx context.Context, tp storage.TopicPartition, raw []byte) (*storage.AppendResult, error) {
	info, err := batch.Peek(raw)
	if err != nil {
		return nil, fmt.Errorf("append: %w", storage.ErrCorrupt)
	}
	for attempt := 0; ; attempt++ {
		res, err := b.tryAppend(ctx, tp, raw, info)
		if err == nil {
			return res, nil
		}
		if isSerializationFailure(err) && attempt == 0 {
			continue
		}
		if isSerializationFailure(err) {
			return nil, fmt.Errorf("append %s: %w", tp.String(), storage.ErrConflict)
		}
		return nil, err
	}
}

func (b *Backend) tryAppend(ctx context.Context, tp storage.TopicPartition, raw []byte, info batch.Info) (*storage.AppendResult, error) {
	var result storage.AppendResult
	err := pgx.BeginTxFunc(ctx, b.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		var next int64
		err := tx.QueryRow(ctx,
			`SELECT next_offset FROM partition WHERE topic = $1 AND partition = $2 FOR UPDATE`,
			tp.Topic, tp.Partition).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s: %w", tp.String(), storage.ErrUnknownTopic)
		}
		if err != nil {
			return err
		}
		if err := batch.PatchBaseOffset(raw, next); err != nil {
			return fmt.Errorf("append: %w", storage.ErrCorrupt)
		}
		last := next + int64(info.LastOffsetDelta)
		if _, err := tx.Exec(ctx,
			`INSERT INTO record_batch (topic, partition, base_offset, last_offset, record_count,
			                           first_timestamp, max_timestamp, size, data)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			tp.Topic, tp.Partition, next, last, info.RecordCount,
			info.FirstTimestamp, info.MaxTimestamp, len(raw), raw); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE partition SET next_offset = $3 WHERE topic = $1 AND partition = $2`,
			tp.Topic, tp.Partition, last+1); err != nil {
			return err
		}
		result = storage.AppendResult{BaseOffset: next, LastOffset: last}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrUnknownTopic) || errors.Is(err, storage.ErrCorrupt) || isSerializationFailure(err) {
			return nil, err
		}
		return nil, mapPgError("append", err)
	}
	return &result, nil
}

func (b *Backend) Fetch(ctx context.Context, tp storage.TopicPartition, offset int64, maxBytes int32) (*storage.FetchResult, error) {
	w, err := b.Watermarks(ctx, tp)
	if err != nil {
		return nil, err
	}
	if offset == w.High {
		return &storage.FetchResult{LogStart: w.LogStart, HighWatermark: w.High}, nil
	}
	if offset < w.LogStart || offset > w.High {
		return nil, storage.ErrOffsetOutOfRange
	}
	rows, err := b.pool.Query(ctx,
		`SELECT data FROM record_batch
		 WHERE topic = $1 AND partition = $2 AND last_offset >= $3
		 ORDER BY base_offset`,
		tp.Topic, tp.Partition, offset)
	if err != nil {
		return nil, mapPgError("fetch", err)
	}
	defer rows.Close()

	res := &storage.FetchResult{LogStart: w.LogStart, HighWatermark: w.High}
	var total int
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, mapPgError("fetch scan", err)
		}
		if len(res.Batches) > 0 && maxBytes > 0 && total+len(data) > int(maxBytes) {
			break
		}
		res.Batches = append(res.Batches, data)
		total += len(data)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("fetch rows", err)
	}
	return res, nil
}

func (b *Backend) ListOffsets(ctx context.Context, tp storage.TopicPartition, timestamp int64) (*storage.OffsetInfo, error) {
	w, err := b.Watermarks(ctx, tp)
	if err != nil {
		return nil, err
	}
	switch timestamp {
	case storage.EarliestTimestamp:
		return &storage.OffsetInfo{Timestamp: -1, Offset: w.LogStart}, nil
	case storage.LatestTimestamp:
		return &storage.OffsetInfo{Timestamp: -1, Offset: w.High}, nil
	}
	var base, firstTs *int64
	err = b.pool.QueryRow(ctx,
		`SELECT base_offset, first_timestamp FROM record_batch
		 WHERE topic = $1 AND partition = $2 AND max_timestamp >= $3
		 ORDER BY base_offset LIMIT 1`,
		tp.Topic, tp.Partition, timestamp).Scan(&base, &firstTs)
	if errors.Is(err, pgx.ErrNoRows) {
		return &storage.OffsetInfo{Timestamp: -1, Offset: -1}, nil
	}
	if err != nil {
		return nil, mapPgError("list offsets", err)
	}
	return &storage.OffsetInfo{Timestamp: *firstTs, Offset: *base}, nil
}

func (b *Backend) Watermarks(ctx context.Context, tp storage.TopicPartition) (storage.Watermarks, error) {
	var w storage.Watermarks
	err := b.pool.QueryRow(ctx,
		`SELECT log_start, next_offset FROM partition WHERE topic = $1 AND partition = $2`,
		tp.Topic, tp.Partition).Scan(&w.LogStart, &w.High)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Watermarks{}, fmt.Errorf("%s: %w", tp.String(), storage.ErrUnknownTopic)
	}
	if err != nil {
		return storage.Watermarks{}, mapPgError("watermarks", err)
	}
	return w, nil
}

func (b *Backend) Metadata(ctx context.Context, topics []string) ([]storage.TopicMetadata, error) {
	var rows pgx.Rows
	var err error
	if len(topics) == 0 {
		rows, err = b.pool.Query(ctx, `SELECT name, id, partitions FROM topic ORDER BY name`)
	} else {
		rows, err = b.pool.Query(ctx, `SELECT name, id, partitions FROM topic WHERE name = ANY($1) ORDER BY name`, topics)
	}
	if err != nil {
		return nil, mapPgError("metadata", err)
	}
	defer rows.Close()

	var out []storage.TopicMetadata
	for rows.Next() {
		var md storage.TopicMetadata
		var partitions int32
		if err := rows.Scan(&md.Name, &md.ID, &partitions); err != nil {
			return nil, mapPgError("metadata scan", err)
		}
		for p := int32(0); p < partitions; p++ {
			md.Partitions = append(md.Partitions, storage.PartitionMetadata{Index: p})
		}
		out = append(out, md)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("metadata rows", err)
	}
	return out, nil
}

// ApplyRetention deletes expired batches and advances each partition's log
// start to the oldest surviving batch. The high watermark never moves.
func (b *Backend) ApplyRetention(ctx context.Context, policy storage.RetentionPolicy) error {
	if policy.MaxAge > 0 {
		cutoff := time.Now().Add(-policy.MaxAge).UnixMilli()
		// Delete only a prefix of each log. Timestamps need not be monotonic
		// across batches, so an expired batch behind a still-live one must
		// survive: removing it would punch a hole in the offset range.
		if _, err := b.pool.Exec(ctx,
			`DELETE FROM record_batch rb USING (
			    SELECT topic, partition, base_offset,
			           MAX(max_timestamp) OVER (PARTITION BY topic, partition ORDER BY base_offset) AS prefix_ts
			    FROM record_batch
			 ) aged
			 WHERE rb.topic = aged.topic AND rb.partition = aged.partition
			   AND rb.base_offset = aged.base_offset AND aged.prefix_ts < $1`, cutoff); err != nil {
			return mapPgError("retention by age", err)
		}
	}
	if policy.MaxBytes > 0 {
		// Keep the newest batches of each partition within the byte budget.
		if _, err := b.pool.Exec(ctx,
			`DELETE FROM record_batch rb USING (
			    SELECT topic, partition, base_offset,
			           SUM(size) OVER (PARTITION BY topic, partition ORDER BY base_offset DESC) AS cum
			    FROM record_batch
			 ) sized
			 WHERE rb.topic = sized.topic AND rb.partition = sized.partition
			   AND rb.base_offset = sized.base_offset AND sized.cum > $1`,
			policy.MaxBytes); err != nil {
			return mapPgError("retention by size", err)
		}
	}
	if _, err := b.pool.Exec(ctx,
		`UPDATE partition p SET log_start = COALESCE(
		     (SELECT MIN(base_offset) FROM record_batch rb
		      WHERE rb.topic = p.topic AND rb.partition = p.partition),
		     p.next_offset)`); err != nil {
		return mapPgError("retention log start", err)
	}
	return nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// mapPgError folds driver errors into the storage taxonomy.
func mapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, storage.ErrTimedOut)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %v: %w", op, err, storage.ErrConflict)
		case "40001":
			return fmt.Errorf("%s: %v: %w", op, err, storage.ErrConflict)
		case "53300", "57P03", "08000", "08003", "08006":
			return fmt.Errorf("%s: %v: %w", op, err, storage.ErrUnavailable)
		}
		return fmt.Errorf("%s: %v: %w", op, err, storage.ErrUnavailable)
	}
	return fmt.Errorf("%s: %v: %w", op, err, storage.ErrUnavailable)
}
