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
	"time"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/persist/trace"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// Every transition method here is pure: it mutates only the receiver (which
// the Machine CAS loop always calls on a freshly DeepCloned State) and
// returns an error for any command that cannot apply against the current
// state. Idempotent commands (register/clone/heartbeat/expire) succeed
// silently when replayed; non-idempotent commands (CompareAndAppend,
// CompareAndDowngradeSince) detect a replay via a token and turn it into a
// specific sentinel rather than a generic failure, so the Machine's retry
// loop can tell "this already landed" from "this can never land".

// RegisterLeasedReader is idempotent: registering an id that is already
// known with the same caller-supplied since is a no-op success. now is
// threaded through explicitly since State is otherwise free of wall-clock
// reads.
func (s *State) RegisterLeasedReader(id ids.ReaderId, since tstamp.Antichain, leaseDuration time.Duration, now time.Time) {
	if existing, ok := s.LeasedReaders[id]; ok {
		existing.LastHeartbeat = now
		return
	}
	s.LeasedReaders[id] = &LeasedReaderState{
		Since:         since,
		LastHeartbeat: now,
		LeaseDuration: leaseDuration,
	}
}

// RegisterCriticalReader is idempotent in the same sense as
// RegisterLeasedReader, additionally seeding the fresh reader's opaque CAS
// token.
func (s *State) RegisterCriticalReader(id ids.ReaderId, since tstamp.Antichain, opaque []byte) {
	if _, ok := s.CriticalReaders[id]; ok {
		return
	}
	s.CriticalReaders[id] = &CriticalReaderState{
		Since:  since,
		Opaque: append([]byte(nil), opaque...),
	}
}

// RegisterWriter is idempotent: re-registering a known writer id only
// refreshes its heartbeat.
func (s *State) RegisterWriter(id ids.WriterId, leaseDuration time.Duration, now time.Time) {
	if existing, ok := s.Writers[id]; ok {
		existing.LastHeartbeat = now
		return
	}
	s.Writers[id] = &WriterState{
		MostRecentWriteUpper: tstamp.Single(tstamp.MinTimestamp),
		LastHeartbeat:        now,
		LeaseDuration:        leaseDuration,
	}
}

// CloneReader copies src's current since into a freshly registered id,
// letting a caller hand off a read hold (e.g. across a process restart)
// without ever observing a since the shard has already compacted past.
func (s *State) CloneReader(src ids.ReaderId, dst ids.ReaderId, now time.Time) error {
	existing, ok := s.LeasedReaders[src]
	if !ok {
		return invalidUsagef("CloneReader: source reader %s is not registered", src)
	}
	s.RegisterLeasedReader(dst, existing.Since, existing.LeaseDuration, now)
	return nil
}

// CompareAndAppend is the sole path by which new data enters a shard. It
// checks, in order: the writer must be registered (InvalidUsage); the
// token must not already be the writer's most-recently-recorded one (that
// would mean this append already landed, reported as ErrAlreadyCommitted);
// the batch's lower must equal the shard's current upper exactly (no gaps,
// no overlaps), else UpperMismatchError carrying the shard's actual upper
// and the upper this writer last wrote through; and the batch's upper must
// not be behind its lower, and its since not ahead of the trace's since
// (both InvalidUsage).
func (s *State) CompareAndAppend(
	writer ids.WriterId,
	token ids.IdempotencyToken,
	batch trace.HollowBatch,
	now time.Time,
) ([]trace.FueledMergeReq, error) {
	w, ok := s.Writers[writer]
	if !ok {
		return nil, invalidUsagef("CompareAndAppend: writer %s is not registered", writer)
	}
	if w.MostRecentToken == token {
		return nil, ErrAlreadyCommitted
	}
	shardUpper := s.Trace.Upper()
	if !batch.Desc.Lower.Equal(shardUpper) {
		return nil, &UpperMismatchError{ShardUpper: shardUpper, WriterUpper: w.MostRecentWriteUpper}
	}
	if batch.Desc.Upper.Less(batch.Desc.Lower) {
		return nil, invalidUsagef("CompareAndAppend: batch upper %s is behind its lower %s", batch.Desc.Upper, batch.Desc.Lower)
	}
	reqs, err := s.Trace.PushBatch(batch)
	if err != nil {
		return nil, invalidUsagef("CompareAndAppend: %v", err)
	}
	w.MostRecentToken = token
	w.MostRecentWriteUpper = batch.Desc.Upper
	w.LastHeartbeat = now
	s.SeqNo++
	return reqs, nil
}

// DowngradeSince advances id's since. Moving since backwards is silently
// ignored rather than rejected, matching the monotone-hold invariant every
// reader is expected to uphold on its own; the shard does not need to
// punish a stale caller for it. The trace's since is then recomputed as the
// meet of every remaining hold, possibly unblocking compaction.
func (s *State) DowngradeSince(id ids.ReaderId, newSince tstamp.Antichain) ([]trace.FueledMergeReq, error) {
	if r, ok := s.LeasedReaders[id]; ok {
		if newSince.LessEqual(r.Since) {
			return nil, nil
		}
		r.Since = newSince
		return s.recomputeTraceSince(), nil
	}
	if r, ok := s.CriticalReaders[id]; ok {
		if newSince.LessEqual(r.Since) {
			return nil, nil
		}
		r.Since = newSince
		return s.recomputeTraceSince(), nil
	}
	return nil, invalidUsagef("DowngradeSince: reader %s is not registered", id)
}

// CompareAndDowngradeSince is DowngradeSince's critical-reader variant: the
// caller must present the opaque token it was last issued, and supplies the
// fresh one that replaces it. A stale token means another caller already downgraded
// this hold (or it raced); the original MUST NOT retry blindly since that
// could move since past a point the other caller still depends on.
func (s *State) CompareAndDowngradeSince(
	id ids.ReaderId,
	expectedOpaque []byte,
	newOpaque []byte,
	newSince tstamp.Antichain,
) ([]trace.FueledMergeReq, error) {
	r, ok := s.CriticalReaders[id]
	if !ok {
		return nil, invalidUsagef("CompareAndDowngradeSince: reader %s is not registered", id)
	}
	if !bytesEqual(r.Opaque, expectedOpaque) {
		return nil, ErrOpaqueMismatch
	}
	r.Opaque = append([]byte(nil), newOpaque...)
	if newSince.LessEqual(r.Since) {
		return nil, nil
	}
	r.Since = newSince
	return s.recomputeTraceSince(), nil
}

// HeartbeatLeasedReader and HeartbeatWriter refresh a lease so the
// maintenance pass does not expire an id that is merely slow, not dead.
// Heartbeating an unknown id is a no-op: the id may have already been
// expired by a concurrent maintenance pass, and the heartbeat itself
// carries no information the shard needs to act on in that case.
func (s *State) HeartbeatLeasedReader(id ids.ReaderId, now time.Time) {
	if r, ok := s.LeasedReaders[id]; ok {
		r.LastHeartbeat = now
	}
}

func (s *State) HeartbeatWriter(id ids.WriterId, now time.Time) {
	if w, ok := s.Writers[id]; ok {
		w.LastHeartbeat = now
	}
}

// ExpireLeasedReader, ExpireCriticalReader and ExpireWriter remove a hold
// outright. All three are idempotent: expiring an id that is already gone
// (because another caller's expiry or a lease timeout beat this one to it)
// succeeds without complaint.
func (s *State) ExpireLeasedReader(id ids.ReaderId) []trace.FueledMergeReq {
	if _, ok := s.LeasedReaders[id]; !ok {
		return nil
	}
	delete(s.LeasedReaders, id)
	return s.recomputeTraceSince()
}

func (s *State) ExpireCriticalReader(id ids.ReaderId) []trace.FueledMergeReq {
	if _, ok := s.CriticalReaders[id]; !ok {
		return nil
	}
	delete(s.CriticalReaders, id)
	return s.recomputeTraceSince()
}

func (s *State) ExpireWriter(id ids.WriterId) {
	delete(s.Writers, id)
}

// ExpireLeases drops every reader and writer whose lease has lapsed as of
// now, returning any merge requests the resulting since advance makes
// ready. Critical readers are never touched: their holds are durable and
// only go away via an explicit ExpireCriticalReader.
func (s *State) ExpireLeases(now time.Time) []trace.FueledMergeReq {
	changed := false
	for id, r := range s.LeasedReaders {
		if now.Sub(r.LastHeartbeat) > r.LeaseDuration {
			delete(s.LeasedReaders, id)
			changed = true
		}
	}
	for id, w := range s.Writers {
		if now.Sub(w.LastHeartbeat) > w.LeaseDuration {
			delete(s.Writers, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.recomputeTraceSince()
}

// ApplyMergeRes applies a compactor's result to the shard's trace. The
// caller is responsible for deleting the output's blobs when the returned
// result is not Applied(): a race means some other process already
// compacted the same input run first.
func (s *State) ApplyMergeRes(res trace.FueledMergeRes) trace.MergeResult {
	return s.Trace.ApplyMergeRes(res)
}

// AddAndRemoveRollups records a new rollup at the shard's current seqno and
// prunes every rollup strictly older than truncateBefore: rollups always
// form a suffix of the seqnos a shard has passed through, so pruning a
// prefix is always safe and never creates a gap a reader could observe.
func (s *State) AddAndRemoveRollups(key string, truncateBefore ids.SeqNo) {
	s.Rollups.Set(s.SeqNo, key)
	for {
		oldest, _, ok := s.Rollups.Min()
		if !ok || !oldest.Less(truncateBefore) {
			break
		}
		s.Rollups.Delete(oldest)
	}
}

func (s *State) recomputeTraceSince() []trace.FueledMergeReq {
	return s.Trace.DowngradeSince(s.Since())
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
