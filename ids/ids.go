// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package ids holds the opaque identifier types used throughout the shard
// state machine: shard, reader, writer and rollup ids, the per-shard
// sequence number, and idempotency tokens. Each id is a 16-byte UUID;
// shard, reader and writer ids render as a single-character type prefix
// ('s', 'r', 'w') plus UUID text, while rollup ids and idempotency tokens
// render as bare UUID text.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// SeqNo is a strictly increasing per-shard version stamp.
type SeqNo uint64

func (s SeqNo) Less(o SeqNo) bool { return s < o }

// ShardId identifies the unit of durable storage owning one State value.
type ShardId struct{ uuid.UUID }

// NewShardId generates a fresh random ShardId.
func NewShardId() ShardId { return ShardId{uuid.New()} }

func (s ShardId) String() string { return "s" + s.UUID.String() }

// ParseShardId parses the "s<uuid>" text form.
func ParseShardId(encoded string) (ShardId, error) {
	u, err := parsePrefixed('s', "ShardId", encoded)
	if err != nil {
		return ShardId{}, err
	}
	return ShardId{u}, nil
}

// ReaderId identifies either a leased or a critical reader. Reader ids are
// externally provided opaque handles whose lifetime is owned by their
// creator; removing one from a Machine's maps is always a safe, idempotent
// operation.
type ReaderId struct{ uuid.UUID }

func NewReaderId() ReaderId { return ReaderId{uuid.New()} }

func (r ReaderId) String() string { return "r" + r.UUID.String() }

func ParseReaderId(encoded string) (ReaderId, error) {
	u, err := parsePrefixed('r', "ReaderId", encoded)
	if err != nil {
		return ReaderId{}, err
	}
	return ReaderId{u}, nil
}

// WriterId identifies a registered writer.
type WriterId struct{ uuid.UUID }

func NewWriterId() WriterId { return WriterId{uuid.New()} }

func (w WriterId) String() string { return "w" + w.UUID.String() }

func ParseWriterId(encoded string) (WriterId, error) {
	u, err := parsePrefixed('w', "WriterId", encoded)
	if err != nil {
		return WriterId{}, err
	}
	return WriterId{u}, nil
}

// RollupId names one rollup blob within a shard's rollup directory.
type RollupId struct{ uuid.UUID }

func NewRollupId() RollupId { return RollupId{uuid.New()} }

func (r RollupId) String() string { return r.UUID.String() }

// IdempotencyToken is a per-append nonce persisted in WriterState to permit
// at-most-once semantics under retry.
type IdempotencyToken struct{ uuid.UUID }

func NewIdempotencyToken() IdempotencyToken { return IdempotencyToken{uuid.New()} }

func (t IdempotencyToken) String() string { return t.UUID.String() }

func parsePrefixed(prefix byte, idType, encoded string) (uuid.UUID, error) {
	if len(encoded) == 0 || encoded[0] != prefix {
		return uuid.UUID{}, fmt.Errorf("ids: invalid %s %q: incorrect prefix", idType, encoded)
	}
	u, err := uuid.Parse(encoded[1:])
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("ids: invalid %s %q: %w", idType, encoded, err)
	}
	return u, nil
}
