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

package broker

import (
	"context"
	"errors"

	"github.com/lakestream-io/lakestream/pkg/batch"
	"github.com/lakestream-io/lakestream/pkg/protocol"
	"github.com/lakestream-io/lakestream/pkg/storage"
)

// errorCodeFor translates a storage or codec failure into the protocol error
// code carried inside a well-formed response. Partition-level failures never
// abort the connection.
func errorCodeFor(err error) int16 {
	switch {
	case err == nil:
		return protocol.NONE
	case errors.Is(err, storage.ErrOffsetOutOfRange):
		return protocol.OFFSET_OUT_OF_RANGE
	case errors.Is(err, storage.ErrTopicExists):
		return protocol.TOPIC_ALREADY_EXISTS
	case errors.Is(err, storage.ErrInvalidTopic):
		return protocol.INVALID_TOPIC_EXCEPTION
	case errors.Is(err, storage.ErrUnknownTopic), errors.Is(err, storage.ErrNotFound):
		return protocol.UNKNOWN_TOPIC_OR_PARTITION
	case errors.Is(err, batch.ErrCrcMismatch), errors.Is(err, storage.ErrCorrupt):
		return protocol.CORRUPT_MESSAGE
	case errors.Is(err, batch.ErrUnsupportedCodec):
		return protocol.UNSUPPORTED_COMPRESSION_TYPE
	case errors.Is(err, batch.ErrUnsupportedMagic), errors.Is(err, protocol.ErrMalformed):
		return protocol.INVALID_RECORD
	case errors.Is(err, storage.ErrResourceExhausted):
		return protocol.THROTTLING_QUOTA_EXCEEDED
	case errors.Is(err, storage.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return protocol.REQUEST_TIMED_OUT
	case errors.Is(err, storage.ErrUnavailable), errors.Is(err, storage.ErrConflict):
		return protocol.KAFKA_STORAGE_ERROR
	default:
		return protocol.UNKNOWN_SERVER_ERROR
	}
}
