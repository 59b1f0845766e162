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

// Package versions implements the durable read/write path for shard State:
// the Consensus and Blob storage interfaces, the on-wire State encoding
// (compressed with zstd), and the CodecMismatch check that catches two
// processes disagreeing about a shard's key/val/time/diff codecs before
// either can corrupt the other's view of it.
package versions

import (
	"context"
	"fmt"

	"github.com/sunjudev0213/materialize-sub000/ids"
)

// SeqNoRange identifies a half-open, inclusive-exclusive run of consensus
// rows by the seqno each row's diff carries.
type SeqNoRange struct {
	Lower ids.SeqNo
	Upper ids.SeqNo
}

// VersionedData is one row as Consensus stores it: a seqno-tagged byte
// payload. Consensus itself is opaque to the payload's meaning; only
// StateVersions knows it is an encoded StateDiff or State rollup pointer.
type VersionedData struct {
	SeqNo ids.SeqNo
	Data  []byte
}

// Consensus is the durable, linearizable compare-and-set log that backs
// every shard's seqno-ordered diff history. Implementations must make
// CompareAndSet atomic across concurrent callers; everything else in this
// module's correctness depends on that one guarantee.
type Consensus interface {
	// Head returns the most recent row for shard, or ok=false if the shard
	// has never been written.
	Head(ctx context.Context, shard ids.ShardId) (VersionedData, bool, error)
	// ScanFrom returns every row at or after from, in ascending seqno order.
	ScanFrom(ctx context.Context, shard ids.ShardId, from ids.SeqNo) ([]VersionedData, error)
	// CompareAndSet writes new_ at new_.SeqNo iff the shard's current head
	// seqno equals expected. A mismatch returns the actual current head
	// (applied=false, err=nil) so the caller can retry without a second read.
	CompareAndSet(ctx context.Context, shard ids.ShardId, expected ids.SeqNo, new_ VersionedData) (current VersionedData, applied bool, err error)
	// Truncate drops every row strictly before before; it is advisory
	// garbage collection, never required for correctness.
	Truncate(ctx context.Context, shard ids.ShardId, before ids.SeqNo) error
}

// Blob is content-addressed durable storage for batch parts and State
// rollups. Keys are caller-chosen opaque strings (this module uses
// "<shard>/rollup/<rollup id>" for rollups and "<shard>/<part uuid>" for parts).
type Blob interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, keyPrefix string) ([]string, error)
}

// CodecMismatch is returned whenever a shard's on-disk codec identifiers
// disagree with what the caller expects to read or write it with. All four
// are checked and reported together rather than failing fast on the first
// mismatch, since a caller debugging a deploy mistake needs to see the
// whole picture at once.
type CodecMismatch struct {
	ExpectedKey, ActualKey   string
	ExpectedVal, ActualVal   string
	ExpectedTime, ActualTime string
	ExpectedDiff, ActualDiff string
}

func (e *CodecMismatch) Error() string {
	return fmt.Sprintf(
		"persist/versions: codec mismatch: key(%s!=%s) val(%s!=%s) time(%s!=%s) diff(%s!=%s)",
		e.ExpectedKey, e.ActualKey, e.ExpectedVal, e.ActualVal,
		e.ExpectedTime, e.ActualTime, e.ExpectedDiff, e.ActualDiff,
	)
}

// CheckCodecs compares the four codec identifiers a caller expects against
// what a shard was actually created with, returning a populated
// CodecMismatch only if at least one differs. Machine.Init calls this on
// every open of a pre-existing shard, so a binary built against a
// different key/value/time/diff codec set than the shard was created with
// fails immediately instead of silently misinterpreting its bytes.
func CheckCodecs(expectedKey, expectedVal, expectedTime, expectedDiff, actualKey, actualVal, actualTime, actualDiff string) error {
	if expectedKey == actualKey && expectedVal == actualVal && expectedTime == actualTime && expectedDiff == actualDiff {
		return nil
	}
	return &CodecMismatch{
		ExpectedKey: expectedKey, ActualKey: actualKey,
		ExpectedVal: expectedVal, ActualVal: actualVal,
		ExpectedTime: expectedTime, ActualTime: actualTime,
		ExpectedDiff: expectedDiff, ActualDiff: actualDiff,
	}
}

// FutureVersionError is raised when a diff or rollup was written by a
// newer applier_version than this process understands; per the Rust
// original this is never safe to ignore (a future writer may have encoded
// a field this binary doesn't know how to interpret) and the caller is
// expected to treat it as fatal rather than retry.
type FutureVersionError struct {
	Shard        ids.ShardId
	ReaderVersion string
	WriterVersion string
}

func (e *FutureVersionError) Error() string {
	return fmt.Sprintf(
		"persist/versions: shard %s was last written by applier_version %s, newer than this process's %s",
		e.Shard, e.WriterVersion, e.ReaderVersion,
	)
}
