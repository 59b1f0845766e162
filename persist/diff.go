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

package persist

import (
	"fmt"

	"github.com/sunjudev0213/materialize-sub000/ids"
)

// StateDiff is the wire form a StateVersions writes to Consensus: the
// from/to seqno pair lets it confirm it is applying diffs in order, and
// NextState carries the new value. Every compare_and_append therefore
// writes the shard's entire State, reader/writer registry included.
//
// This is intentionally a coarse diff (the whole next State, tagged with
// the seqno range it applies to) rather than a field-level one: the spec
// this machine implements only requires that applying SeqNoFrom's State
// through successive diffs reproduces SeqNoTo's State exactly (§4.A
// round-trip invariant), not that the encoding be minimal.
type StateDiff struct {
	ShardId   ids.ShardId
	SeqNoFrom ids.SeqNo
	SeqNoTo   ids.SeqNo
	NextState *State
}

// NewStateDiff captures the transition from prev to next. next must be the
// direct successor of prev (next.SeqNo == prev.SeqNo+1); diffs are never
// allowed to skip a seqno since the machine's CAS loop always increments by
// exactly one per applied command.
func NewStateDiff(prev, next *State) (StateDiff, error) {
	if prev.ShardId != next.ShardId {
		return StateDiff{}, fmt.Errorf("persist: NewStateDiff: shard id mismatch %s != %s", prev.ShardId, next.ShardId)
	}
	if next.SeqNo != prev.SeqNo+1 {
		return StateDiff{}, fmt.Errorf("persist: NewStateDiff: expected seqno %d, got %d", prev.SeqNo+1, next.SeqNo)
	}
	return StateDiff{
		ShardId:   prev.ShardId,
		SeqNoFrom: prev.SeqNo,
		SeqNoTo:   next.SeqNo,
		NextState: next.DeepClone(),
	}, nil
}

// Apply reconstructs the post-diff State from prev. It returns an error if
// prev is not the diff's expected predecessor, so a StateVersions replaying
// a diff log can detect corruption or a gap rather than silently applying
// the wrong diff.
func (d StateDiff) Apply(prev *State) (*State, error) {
	if prev.ShardId != d.ShardId {
		return nil, fmt.Errorf("persist: StateDiff.Apply: shard id mismatch %s != %s", prev.ShardId, d.ShardId)
	}
	if prev.SeqNo != d.SeqNoFrom {
		return nil, fmt.Errorf("persist: StateDiff.Apply: expected seqno %d, got %d", d.SeqNoFrom, prev.SeqNo)
	}
	return d.NextState.DeepClone(), nil
}
