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

// Package machine drives the compare-and-swap retry loop that turns a pure
// persist.State transition into a durably committed one: read the current
// head, apply the transition to a local clone, CAS the result in, and on
// conflict re-read and retry against whatever actually won. It also
// classifies Indeterminate responses from the underlying store, where the
// CAS may or may not have actually landed: idempotent commands retry them,
// while CompareAndAppend disambiguates them via the writer's recorded
// idempotency token.
package machine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/persist"
	"github.com/sunjudev0213/materialize-sub000/persist/trace"
	"github.com/sunjudev0213/materialize-sub000/persist/versions"
	"github.com/sunjudev0213/materialize-sub000/retryutil"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// IndeterminateError wraps an underlying error from a compare_and_append
// whose success or failure could not be determined (e.g. a network
// timeout after the request was sent but before a response arrived).
// Idempotent commands retry it against a fresh read without bound, since
// their result is the same whether or not the ambiguous attempt landed.
// Machine.CompareAndAppend retries it too, and disambiguates the outcome
// via the writer's recorded idempotency token.
type IndeterminateError struct {
	Cause error
}

func (e *IndeterminateError) Error() string { return fmt.Sprintf("machine: indeterminate: %v", e.Cause) }
func (e *IndeterminateError) Unwrap() error { return e.Cause }

// Machine owns one shard's CAS loop. It is safe for concurrent use: the
// singleflight group coalesces concurrent identical commands (e.g. two
// goroutines racing to heartbeat the same writer) into a single CAS
// attempt, which both matters for throughput and keeps the retry budget
// from being spent redundantly under contention.
type Machine struct {
	shard ids.ShardId
	sv    *versions.StateVersions
	group singleflight.Group
}

// New constructs a Machine over an already-initialized shard.
func New(shard ids.ShardId, sv *versions.StateVersions) *Machine {
	return &Machine{shard: shard, sv: sv}
}

// Init durably creates shard if it does not already exist, idempotently:
// calling it twice with the same codecs is a no-op the second time.
func Init(ctx context.Context, sv *versions.StateVersions, shard ids.ShardId, keyCodec, valCodec, timeCodec, diffCodec string) (*Machine, error) {
	m := New(shard, sv)
	existing, ok, err := sv.Head(ctx, shard)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := versions.CheckCodecs(keyCodec, valCodec, timeCodec, diffCodec,
			existing.KeyCodec, existing.ValCodec, existing.TimeCodec, existing.DiffCodec); err != nil {
			return nil, err
		}
		return m, nil
	}
	init := persist.NewState(shard, keyCodec, valCodec, timeCodec, diffCodec)
	diff := persist.StateDiff{
		ShardId:   init.ShardId,
		SeqNoFrom: init.SeqNo,
		SeqNoTo:   init.SeqNo,
		NextState: init,
	}
	if _, _, err := sv.CompareAndAppendDiff(ctx, shard, diff); err != nil {
		return nil, err
	}
	return m, nil
}

// applyResult is what the singleflight-coalesced CAS loop returns to every
// caller waiting on the same key.
type applyResult struct {
	state *persist.State
	reqs  []trace.FueledMergeReq
}

// apply is the generic CAS retry loop: it reads the current head, hands a
// clone to transition, and CASes the result, retrying against whatever
// state actually won on conflict. transition returning an error aborts the
// loop immediately via backoff.Permanent — only InvalidUsageError and the
// domain sentinels (ErrAlreadyCommitted, ErrOpaqueMismatch, Since/Upper
// errors) are expected here, and none of them are meaningfully retryable
// against a fresher read, since they report a structural mismatch between
// the command and the shard's ground truth rather than a transient race.
//
// idempotent distinguishes the two retry classifications every command
// falls into (§4.C): idempotent commands (register, clone_reader,
// heartbeat, downgrade_since, apply_merge_res, expire,
// add_and_remove_rollups) retry the same work_fn forever on Indeterminate,
// since transition is designed to yield the same externally-observable
// result whether or not the ambiguous attempt actually landed. The single
// non-idempotent command, CompareAndAppend, never calls apply with
// idempotent=true — it runs its own bounded loop with token-chain
// disambiguation instead, since blindly retrying it could double-write a
// batch.
func (m *Machine) apply(
	ctx context.Context,
	key string,
	idempotent bool,
	transition func(s *persist.State) ([]trace.FueledMergeReq, error),
) (applyResult, error) {
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		var result applyResult
		attempt := func() error {
			current, ok, err := m.sv.Head(ctx, m.shard)
			if err != nil {
				return backoff.Permanent(err)
			}
			if !ok {
				return backoff.Permanent(fmt.Errorf("machine: shard %s is not initialized", m.shard))
			}
			next := current.DeepClone()
			reqs, err := transition(next)
			if err != nil {
				return backoff.Permanent(err)
			}
			next.SeqNo = current.SeqNo + 1
			diff, err := persist.NewStateDiff(current, next)
			if err != nil {
				return backoff.Permanent(err)
			}
			applied, ok, err := m.sv.CompareAndAppendDiff(ctx, m.shard, diff)
			if err != nil {
				if idempotent {
					// Retry forever against a fresh read: idempotent
					// transitions yield the same result whether or not
					// this ambiguous attempt actually committed.
					return &IndeterminateError{Cause: err}
				}
				return backoff.Permanent(&IndeterminateError{Cause: err})
			}
			if !ok {
				return fmt.Errorf("machine: lost CAS race, retrying")
			}
			result = applyResult{state: applied, reqs: reqs}
			return nil
		}

		var retryErr error
		if idempotent {
			retryErr = retryutil.RetryExternal(ctx, attempt)
		} else {
			retryErr = retryutil.RetryDeterminate(ctx, attempt)
		}
		if retryErr != nil {
			return nil, retryErr
		}
		return result, nil
	})
	if err != nil {
		return applyResult{}, err
	}
	return v.(applyResult), nil
}

// RegisterLeasedReader idempotently registers a leased reader at since.
func (m *Machine) RegisterLeasedReader(ctx context.Context, id ids.ReaderId, since tstamp.Antichain, leaseDuration time.Duration, now time.Time) (*persist.State, error) {
	res, err := m.apply(ctx, "register-leased-reader/"+id.String(), true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		s.RegisterLeasedReader(id, since, leaseDuration, now)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return res.state, nil
}

// RegisterCriticalReader idempotently registers a critical reader at since.
func (m *Machine) RegisterCriticalReader(ctx context.Context, id ids.ReaderId, since tstamp.Antichain, opaque []byte) (*persist.State, error) {
	res, err := m.apply(ctx, "register-critical-reader/"+id.String(), true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		s.RegisterCriticalReader(id, since, opaque)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return res.state, nil
}

// RegisterWriter idempotently registers a writer.
func (m *Machine) RegisterWriter(ctx context.Context, id ids.WriterId, leaseDuration time.Duration, now time.Time) (*persist.State, error) {
	res, err := m.apply(ctx, "register-writer/"+id.String(), true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		s.RegisterWriter(id, leaseDuration, now)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return res.state, nil
}

// CompareAndAppend durably appends batch as writer. It is the one command
// in this module that is NOT safe to retry forever on Indeterminate: two
// distinct attempts of the same append must never both land. So unlike
// every other command, it does not go through the shared apply loop; it
// runs its own bounded attempt loop (§4.C) that tracks whether an earlier
// attempt this call already came back Indeterminate:
//
//   - unambiguous success, or an unambiguous upper mismatch with no prior
//     Indeterminate attempt, return (or surface the mismatch) directly;
//   - an Indeterminate CAS response marks the call as ambiguous and
//     retries against a fresh read, same as any other lost-race retry;
//   - an upper mismatch that arrives AFTER a prior Indeterminate attempt
//     is the ambiguous case: the writer's recorded token now tells us
//     whether that earlier attempt actually landed. Equal to this call's
//     token means it did — this is a success, not an error. Anything else
//     means the mismatch is real but we can no longer tell whether it
//     predates or postdates our own possibly-landed append, which the
//     original implementation treats as a condition that must never
//     happen in practice and panics on (machine.rs's check_and_apply) —
//     silently guessing either way here would risk reporting success for
//     a write that never happened, or loss for one that did.
func (m *Machine) CompareAndAppend(
	ctx context.Context,
	writer ids.WriterId,
	token ids.IdempotencyToken,
	batch trace.HollowBatch,
	now time.Time,
) ([]trace.FueledMergeReq, error) {
	key := "append/" + writer.String()
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		var result applyResult
		hadIndeterminate := false
		attempt := func() error {
			current, ok, err := m.sv.Head(ctx, m.shard)
			if err != nil {
				return backoff.Permanent(err)
			}
			if !ok {
				return backoff.Permanent(fmt.Errorf("machine: shard %s is not initialized", m.shard))
			}
			next := current.DeepClone()
			reqs, transErr := next.CompareAndAppend(writer, token, batch, now)
			if transErr != nil {
				if errors.Is(transErr, persist.ErrAlreadyCommitted) {
					result = applyResult{state: current, reqs: nil}
					return nil
				}
				var mismatch *persist.UpperMismatchError
				if errors.As(transErr, &mismatch) && hadIndeterminate {
					if w, exists := current.Writers[writer]; exists && w.MostRecentToken == token {
						result = applyResult{state: current, reqs: nil}
						return nil
					}
					panic(fmt.Sprintf(
						"machine: ambiguous compare_and_append for writer %s shard %s: "+
							"a prior attempt returned Indeterminate and this retry observed "+
							"an upper mismatch (shard_upper=%s writer_upper=%s) against a "+
							"writer token that does not match ours — whether the earlier "+
							"attempt committed can no longer be determined",
						writer, m.shard, mismatch.ShardUpper, mismatch.WriterUpper))
				}
				return backoff.Permanent(transErr)
			}
			diff, err := persist.NewStateDiff(current, next)
			if err != nil {
				return backoff.Permanent(err)
			}
			applied, ok, err := m.sv.CompareAndAppendDiff(ctx, m.shard, diff)
			if err != nil {
				hadIndeterminate = true
				return &IndeterminateError{Cause: err}
			}
			if !ok {
				return fmt.Errorf("machine: lost CAS race, retrying")
			}
			result = applyResult{state: applied, reqs: reqs}
			return nil
		}
		if err := retryutil.RetryDeterminate(ctx, attempt); err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(applyResult).reqs, nil
}

// DowngradeSince durably advances a leased or critical reader's since.
func (m *Machine) DowngradeSince(ctx context.Context, id ids.ReaderId, newSince tstamp.Antichain) ([]trace.FueledMergeReq, error) {
	res, err := m.apply(ctx, "downgrade-since/"+id.String(), true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		return s.DowngradeSince(id, newSince)
	})
	if err != nil {
		return nil, err
	}
	return res.reqs, nil
}

// CompareAndDowngradeSince durably advances a critical reader's since under
// opaque-token CAS. A stale token is returned as-is (ErrOpaqueMismatch),
// never retried: the caller racing against another downgrade of the same
// hold must see that it lost, not have its stale request silently
// superseded.
func (m *Machine) CompareAndDowngradeSince(ctx context.Context, id ids.ReaderId, expectedOpaque, newOpaque []byte, newSince tstamp.Antichain) ([]trace.FueledMergeReq, error) {
	res, err := m.apply(ctx, "cas-downgrade-since/"+id.String(), true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		return s.CompareAndDowngradeSince(id, expectedOpaque, newOpaque, newSince)
	})
	if err != nil {
		return nil, err
	}
	return res.reqs, nil
}

// HeartbeatLeasedReader and HeartbeatWriter refresh a lease so the
// maintenance pass does not expire a merely-slow caller.
func (m *Machine) HeartbeatLeasedReader(ctx context.Context, id ids.ReaderId, now time.Time) error {
	_, err := m.apply(ctx, "heartbeat-reader/"+id.String(), true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		s.HeartbeatLeasedReader(id, now)
		return nil, nil
	})
	return err
}

func (m *Machine) HeartbeatWriter(ctx context.Context, id ids.WriterId, now time.Time) error {
	_, err := m.apply(ctx, "heartbeat-writer/"+id.String(), true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		s.HeartbeatWriter(id, now)
		return nil, nil
	})
	return err
}

// ExpireLeasedReader, ExpireCriticalReader and ExpireWriter drop a hold.
func (m *Machine) ExpireLeasedReader(ctx context.Context, id ids.ReaderId) error {
	_, err := m.apply(ctx, "expire-reader/"+id.String(), true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		return s.ExpireLeasedReader(id), nil
	})
	return err
}

func (m *Machine) ExpireCriticalReader(ctx context.Context, id ids.ReaderId) error {
	_, err := m.apply(ctx, "expire-critical-reader/"+id.String(), true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		return s.ExpireCriticalReader(id), nil
	})
	return err
}

func (m *Machine) ExpireWriter(ctx context.Context, id ids.WriterId) error {
	_, err := m.apply(ctx, "expire-writer/"+id.String(), true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		s.ExpireWriter(id)
		return nil, nil
	})
	return err
}

// ExpireLeases runs the periodic maintenance sweep, dropping every hold
// whose lease lapsed as of now.
func (m *Machine) ExpireLeases(ctx context.Context, now time.Time) error {
	_, err := m.apply(ctx, "expire-leases", true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		return s.ExpireLeases(now), nil
	})
	return err
}

// ApplyMergeRes durably applies a compactor's result. The caller must
// delete res.Output's blobs itself when the returned MergeResult is not
// Applied(), since a race means another process's result already won.
func (m *Machine) ApplyMergeRes(ctx context.Context, res trace.FueledMergeRes) (trace.MergeResult, error) {
	var outcome trace.MergeResult
	_, err := m.apply(ctx, "apply-merge-res", true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		outcome = s.ApplyMergeRes(res)
		return nil, nil
	})
	if err != nil {
		return trace.NotAppliedNoMatch, err
	}
	return outcome, nil
}

// MaybeAddRollup writes a fresh rollup for the shard's current state and
// records it, truncating every rollup older than truncateBefore. If the
// CAS backing this records a different (newer) state than the one the
// rollup blob was written against — because a concurrent writer committed
// in between — the freshly written rollup blob is orphaned and this
// deletes it rather than leaving it to leak, per the rollup
// write-then-delete-on-race behavior carried over from the upstream
// implementation this machine's rollup policy follows.
func (m *Machine) MaybeAddRollup(ctx context.Context, truncateBefore ids.SeqNo) error {
	current, ok, err := m.sv.Head(ctx, m.shard)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("machine: shard %s is not initialized", m.shard)
	}
	key, err := m.sv.WriteRollup(ctx, m.shard, current)
	if err != nil {
		return err
	}
	_, err = m.apply(ctx, "add-rollup", true, func(s *persist.State) ([]trace.FueledMergeReq, error) {
		if s.SeqNo != current.SeqNo {
			return nil, fmt.Errorf("machine: rollup race: shard advanced to %d while writing rollup for %d", s.SeqNo, current.SeqNo)
		}
		s.AddAndRemoveRollups(key, truncateBefore)
		return nil, nil
	})
	if err != nil {
		if delErr := m.sv.DeleteRollup(ctx, key); delErr != nil {
			return fmt.Errorf("machine: rollup race (%w), and cleanup failed: %v", err, delErr)
		}
	}
	return err
}

// Head returns the shard's current durable state without attempting any
// transition.
func (m *Machine) Head(ctx context.Context) (*persist.State, error) {
	s, ok, err := m.sv.Head(ctx, m.shard)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("machine: shard %s is not initialized", m.shard)
	}
	return s, nil
}
