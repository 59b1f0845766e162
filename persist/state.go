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

// Package persist holds the pure, single-threaded shard state machine: the
// State value that a Machine CASes into consensus, and the transition
// methods that compute its next value (or reject a command) without ever
// touching storage themselves. Everything here is deterministic and
// side-effect free so it can be fed directly by tests and replayed from a
// StateDiff log.
package persist

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/tidwall/btree"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/persist/trace"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// LeaseDuration bounds how long a reader or writer may go unheartbeated
// before the shard's maintenance pass expires it.
const LeaseDuration = 5 * time.Minute

// LeasedReaderState tracks one leased (renewable, best-effort) read hold.
type LeasedReaderState struct {
	Since        tstamp.Antichain
	LastHeartbeat time.Time
	LeaseDuration time.Duration
}

// CriticalReaderState tracks one critical (durable, opaque-token-gated) read
// hold. Critical readers never expire on their own; they must be explicitly
// downgraded or expired by their owner.
type CriticalReaderState struct {
	Since  tstamp.Antichain
	Opaque []byte
}

// WriterState tracks one registered writer's idempotency token, lease, and
// the upper it last successfully appended through. MostRecentToken is what
// disambiguates an Indeterminate compare_and_append from a genuine upper
// mismatch. MostRecentWriteUpper is reported in UpperMismatchError: it
// reflects only what this writer itself has observed, which may trail the
// shard's globally visible upper if another writer has appended
// concurrently.
type WriterState struct {
	MostRecentToken      ids.IdempotencyToken
	MostRecentWriteUpper tstamp.Antichain
	LastHeartbeat        time.Time
	LeaseDuration        time.Duration
}

// State is the full durable shard state machine value. It is CAS'd into
// consensus wholesale via StateDiff (see diff.go); every field here must
// round-trip through that diff encoding.
type State struct {
	ShardId       ids.ShardId
	SeqNo         ids.SeqNo
	KeyCodec      string
	ValCodec      string
	TimeCodec     string
	DiffCodec     string

	Trace *trace.Trace

	LeasedReaders   map[ids.ReaderId]*LeasedReaderState
	CriticalReaders map[ids.ReaderId]*CriticalReaderState
	Writers         map[ids.WriterId]*WriterState

	// Rollups maps the seqno at which a rollup was written to its blob key.
	// The map forms a suffix of all seqnos the shard has passed through:
	// entries are only ever appended (by AddAndRemoveRollups) or trimmed
	// from the front (when a newer rollup makes an older one unnecessary).
	Rollups *btree.Map[ids.SeqNo, string]

	// RollupSeqnoOverride is the oldest seqno past which commands still
	// outstanding when that rollup's race is detected may assume their own
	// work was already durably applied. See the compare_and_append
	// rollup-write-then-delete-on-race note in the external-interfaces
	// component of the spec this machine implements.
	RollupSeqnoOverride ids.SeqNo
}

// NewState returns a freshly initialized shard, ready for its first
// registrations. The four codec identifiers are opaque strings the caller
// uses to detect cross-process schema drift (see CodecMismatch in
// persist/versions).
func NewState(shard ids.ShardId, keyCodec, valCodec, timeCodec, diffCodec string) *State {
	return &State{
		ShardId:         shard,
		SeqNo:           0,
		KeyCodec:        keyCodec,
		ValCodec:        valCodec,
		TimeCodec:       timeCodec,
		DiffCodec:       diffCodec,
		Trace:           trace.New(),
		LeasedReaders:   make(map[ids.ReaderId]*LeasedReaderState),
		CriticalReaders: make(map[ids.ReaderId]*CriticalReaderState),
		Writers:         make(map[ids.WriterId]*WriterState),
		Rollups:         btree.NewMap[ids.SeqNo, string](8),
	}
}

// Since is the meet of all reader holds: the oldest point still guaranteed
// readable. An empty reader set yields the shard's upper, i.e. compaction is
// entirely unconstrained by external holds.
func (s *State) Since() tstamp.Antichain {
	holds := make([]tstamp.Antichain, 0, len(s.LeasedReaders)+len(s.CriticalReaders)+1)
	for _, r := range s.LeasedReaders {
		holds = append(holds, r.Since)
	}
	for _, r := range s.CriticalReaders {
		holds = append(holds, r.Since)
	}
	if len(holds) == 0 {
		return s.Trace.Upper()
	}
	return tstamp.MeetAll(holds...)
}

// Upper is the shard's current write frontier.
func (s *State) Upper() tstamp.Antichain { return s.Trace.Upper() }

// DeepClone returns a State that shares no mutable structure with the
// receiver; transition methods apply to a clone and return it, leaving the
// original untouched so a failed CAS can be retried from a fresh read.
func (s *State) DeepClone() *State {
	clone := &State{
		ShardId:             s.ShardId,
		SeqNo:               s.SeqNo,
		KeyCodec:            s.KeyCodec,
		ValCodec:            s.ValCodec,
		TimeCodec:           s.TimeCodec,
		DiffCodec:           s.DiffCodec,
		Trace:               s.Trace.Clone(),
		LeasedReaders:       make(map[ids.ReaderId]*LeasedReaderState, len(s.LeasedReaders)),
		CriticalReaders:     make(map[ids.ReaderId]*CriticalReaderState, len(s.CriticalReaders)),
		Writers:             make(map[ids.WriterId]*WriterState, len(s.Writers)),
		Rollups:             btree.NewMap[ids.SeqNo, string](8),
		RollupSeqnoOverride: s.RollupSeqnoOverride,
	}
	for id, r := range s.LeasedReaders {
		cp := *r
		clone.LeasedReaders[id] = &cp
	}
	for id, r := range s.CriticalReaders {
		cp := *r
		cp.Opaque = append([]byte(nil), r.Opaque...)
		clone.CriticalReaders[id] = &cp
	}
	for id, w := range s.Writers {
		cp := *w
		clone.Writers[id] = &cp
	}
	s.Rollups.Scan(func(seqno ids.SeqNo, key string) bool {
		clone.Rollups.Set(seqno, key)
		return true
	})
	return clone
}

// rollupEntry is the exported (seqno, key) pair gobState uses to carry
// State.Rollups, whose underlying *btree.Map has no exported fields of its
// own for encoding/gob to walk.
type rollupEntry struct {
	SeqNo ids.SeqNo
	Key   string
}

// gobState mirrors State's exported fields, replacing Rollups with a
// flat slice so the whole value round-trips through encoding/gob.
type gobState struct {
	ShardId             ids.ShardId
	SeqNo               ids.SeqNo
	KeyCodec            string
	ValCodec            string
	TimeCodec           string
	DiffCodec           string
	Trace               *trace.Trace
	LeasedReaders       map[ids.ReaderId]*LeasedReaderState
	CriticalReaders     map[ids.ReaderId]*CriticalReaderState
	Writers             map[ids.WriterId]*WriterState
	Rollups             []rollupEntry
	RollupSeqnoOverride ids.SeqNo
}

func (s *State) GobEncode() ([]byte, error) {
	g := gobState{
		ShardId:             s.ShardId,
		SeqNo:               s.SeqNo,
		KeyCodec:            s.KeyCodec,
		ValCodec:            s.ValCodec,
		TimeCodec:           s.TimeCodec,
		DiffCodec:           s.DiffCodec,
		Trace:               s.Trace,
		LeasedReaders:       s.LeasedReaders,
		CriticalReaders:     s.CriticalReaders,
		Writers:             s.Writers,
		RollupSeqnoOverride: s.RollupSeqnoOverride,
	}
	s.Rollups.Scan(func(seqno ids.SeqNo, key string) bool {
		g.Rollups = append(g.Rollups, rollupEntry{SeqNo: seqno, Key: key})
		return true
	})
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *State) GobDecode(data []byte) error {
	var g gobState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return err
	}
	s.ShardId = g.ShardId
	s.SeqNo = g.SeqNo
	s.KeyCodec = g.KeyCodec
	s.ValCodec = g.ValCodec
	s.TimeCodec = g.TimeCodec
	s.DiffCodec = g.DiffCodec
	s.Trace = g.Trace
	s.LeasedReaders = g.LeasedReaders
	s.CriticalReaders = g.CriticalReaders
	s.Writers = g.Writers
	s.RollupSeqnoOverride = g.RollupSeqnoOverride
	s.Rollups = btree.NewMap[ids.SeqNo, string](8)
	for _, e := range g.Rollups {
		s.Rollups.Set(e.SeqNo, e.Key)
	}
	return nil
}
