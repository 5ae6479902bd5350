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

// Package object implements the storage engine on top of an object store.
// Sealed segments, their sparse indexes, and partition manifests live as
// immutable objects; the active tail of each partition is buffered in memory
// and served directly until it is sealed.
package object

import (
	"context"
	"fmt"
)

// ByteRange selects an inclusive byte range of an object.
type ByteRange struct {
	Start int64
	End   int64
}

func (r *ByteRange) headerValue() *string {
	if r == nil {
		return nil
	}
	v := fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
	return &v
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Client is the object-store surface the backend needs. Implementations map
// their own error types onto the storage taxonomy: a missing key is
// storage.ErrNotFound, transport failures are storage.ErrUnavailable.
type Client interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string, rng *ByteRange) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
