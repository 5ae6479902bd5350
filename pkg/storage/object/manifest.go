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
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lakestream-io/lakestream/pkg/storage"
)

// manifest records the committed state of one partition: the retained
// segment list and the offset range. A new manifest version is written as
// its own object first, then the pointer object is swapped to it, so readers
// always see either the old complete state or the new complete state.
type manifest struct {
	Version    int64         `json:"version"`
	LogStart   int64         `json:"log_start"`
	NextOffset int64         `json:"next_offset"`
	Segments   []segmentMeta `json:"segments"`
}

type segmentMeta struct {
	BaseOffset     int64 `json:"base_offset"`
	LastOffset     int64 `json:"last_offset"`
	Size           int64 `json:"size"`
	Messages       int32 `json:"messages"`
	FirstTimestamp int64 `json:"first_timestamp"`
	MaxTimestamp   int64 `json:"max_timestamp"`
}

// topicRecord is the stored form of a topic registration.
type topicRecord struct {
	Name       string             `json:"name"`
	ID         uuid.UUID          `json:"id"`
	Partitions int32              `json:"partitions"`
	Config     map[string]*string `json:"config,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

const manifestPointerName = "MANIFEST"

func manifestKey(prefix string, version int64) string {
	return path.Join(prefix, fmt.Sprintf("manifest-%020d.json", version))
}

func manifestPointerKey(prefix string) string {
	return path.Join(prefix, manifestPointerName)
}

// loadManifest reads the current manifest for a partition prefix. A missing
// pointer means the partition has no committed state yet.
func loadManifest(ctx context.Context, client Client, prefix string) (*manifest, error) {
	ptr, err := client.Get(ctx, manifestPointerKey(prefix), nil)
	if err != nil {
		return nil, err
	}
	version, err := strconv.ParseInt(string(ptr), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("manifest pointer %q: %w", string(ptr), storage.ErrCorrupt)
	}
	data, err := client.Get(ctx, manifestKey(prefix, version), nil)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("manifest version %d missing: %w", version, storage.ErrCorrupt)
		}
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %v: %w", err, storage.ErrCorrupt)
	}
	if m.Version != version {
		return nil, fmt.Errorf("manifest version mismatch: pointer %d, body %d: %w", version, m.Version, storage.ErrCorrupt)
	}
	return &m, nil
}

// storeManifest writes m as a new version and swaps the pointer to it. The
// superseded version is removed best effort; a stale version object is
// harmless garbage, never visible state.
func storeManifest(ctx context.Context, client Client, prefix string, m *manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := client.Put(ctx, manifestKey(prefix, m.Version), data); err != nil {
		return err
	}
	if err := client.Put(ctx, manifestPointerKey(prefix), []byte(strconv.FormatInt(m.Version, 10))); err != nil {
		return err
	}
	if m.Version > 1 {
		_ = client.Delete(ctx, manifestKey(prefix, m.Version-1))
	}
	return nil
}

func topicKey(namespace, name string) string {
	return path.Join(namespace, "topics", name+".json")
}

func topicPrefix(namespace string) string {
	return path.Join(namespace, "topics") + "/"
}

func loadTopic(ctx context.Context, client Client, namespace, name string) (*topicRecord, error) {
	data, err := client.Get(ctx, topicKey(namespace, name), nil)
	if err != nil {
		return nil, err
	}
	var rec topicRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode topic %s: %v: %w", name, err, storage.ErrCorrupt)
	}
	return &rec, nil
}

func storeTopic(ctx context.Context, client Client, namespace string, rec *topicRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode topic %s: %w", rec.Name, err)
	}
	return client.Put(ctx, topicKey(namespace, rec.Name), data)
}
