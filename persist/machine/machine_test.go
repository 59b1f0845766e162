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

package machine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/persist/machine"
	"github.com/sunjudev0213/materialize-sub000/persist/trace"
	"github.com/sunjudev0213/materialize-sub000/persist/versions"
	"github.com/sunjudev0213/materialize-sub000/persist/versions/mem"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

func newMachine(t *testing.T) *machine.Machine {
	t.Helper()
	sv, err := versions.New(mem.NewConsensus(), mem.NewBlob())
	require.NoError(t, err)
	m, err := machine.Init(context.Background(), sv, ids.NewShardId(), "k", "v", "t", "d")
	require.NoError(t, err)
	return m
}

func TestCompareAndAppendThenHead(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t)
	now := time.Unix(0, 0)

	w := ids.NewWriterId()
	_, err := m.RegisterWriter(ctx, w, time.Minute, now)
	require.NoError(t, err)

	batch := trace.HollowBatch{
		Desc: tstamp.Description{
			Lower: tstamp.Single(tstamp.MinTimestamp),
			Upper: tstamp.Single(3),
			Since: tstamp.Single(0),
		},
		Parts: []string{"part-0"},
		Len:   3,
	}
	_, err = m.CompareAndAppend(ctx, w, ids.NewIdempotencyToken(), batch, now)
	require.NoError(t, err)

	head, err := m.Head(ctx)
	require.NoError(t, err)
	require.True(t, head.Upper().Equal(tstamp.Single(3)))
}

func TestCompareAndAppendIdempotentReplayIsSilent(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t)
	now := time.Unix(0, 0)

	w := ids.NewWriterId()
	_, err := m.RegisterWriter(ctx, w, time.Minute, now)
	require.NoError(t, err)

	token := ids.NewIdempotencyToken()
	batch := trace.HollowBatch{
		Desc: tstamp.Description{
			Lower: tstamp.Single(tstamp.MinTimestamp),
			Upper: tstamp.Single(3),
			Since: tstamp.Single(0),
		},
	}
	_, err = m.CompareAndAppend(ctx, w, token, batch, now)
	require.NoError(t, err)

	_, err = m.CompareAndAppend(ctx, w, token, batch, now)
	require.NoError(t, err) // replay is absorbed, not surfaced as an error
}

func TestDowngradeSinceUnblocksCompaction(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t)
	now := time.Unix(0, 0)

	w := ids.NewWriterId()
	_, err := m.RegisterWriter(ctx, w, time.Minute, now)
	require.NoError(t, err)
	r := ids.NewReaderId()
	_, err = m.RegisterLeasedReader(ctx, r, tstamp.Single(tstamp.MinTimestamp), time.Minute, now)
	require.NoError(t, err)

	b1 := trace.HollowBatch{Desc: tstamp.Description{Lower: tstamp.Single(tstamp.MinTimestamp), Upper: tstamp.Single(3), Since: tstamp.Single(0)}}
	_, err = m.CompareAndAppend(ctx, w, ids.NewIdempotencyToken(), b1, now)
	require.NoError(t, err)
	b2 := trace.HollowBatch{Desc: tstamp.Description{Lower: tstamp.Single(3), Upper: tstamp.Single(5), Since: tstamp.Single(0)}}
	_, err = m.CompareAndAppend(ctx, w, ids.NewIdempotencyToken(), b2, now)
	require.NoError(t, err)

	reqs, err := m.DowngradeSince(ctx, r, tstamp.Single(5))
	require.NoError(t, err)
	require.NotEmpty(t, reqs)
}

func TestMaybeAddRollup(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t)
	require.NoError(t, m.MaybeAddRollup(ctx, 0))

	head, err := m.Head(ctx)
	require.NoError(t, err)
	// The rollup is keyed by the seqno of the state it captures, which the
	// CAS recording it has since advanced past by one.
	_, ok := head.Rollups.Get(head.SeqNo - 1)
	require.True(t, ok)
}

func TestInitRejectsMismatchedCodecs(t *testing.T) {
	ctx := context.Background()
	sv, err := versions.New(mem.NewConsensus(), mem.NewBlob())
	require.NoError(t, err)
	shard := ids.NewShardId()
	_, err = machine.Init(ctx, sv, shard, "k", "v", "t", "d")
	require.NoError(t, err)

	_, err = machine.Init(ctx, sv, shard, "k", "different-val-codec", "t", "d")
	require.Error(t, err)
	var mismatch *versions.CodecMismatch
	require.ErrorAs(t, err, &mismatch)
}

// TestRegisterLeasedReaderRetriesIndeterminate injects an indeterminate
// failure on the first CAS of a registration and checks it still lands:
// idempotent commands retry the same attempt forever rather than
// surfacing the ambiguous error to the caller.
func TestRegisterLeasedReaderRetriesIndeterminate(t *testing.T) {
	ctx := context.Background()
	consensus := mem.NewConsensus()
	sv, err := versions.New(consensus, mem.NewBlob())
	require.NoError(t, err)
	shard := ids.NewShardId()
	m, err := machine.Init(ctx, sv, shard, "k", "v", "t", "d")
	require.NoError(t, err)

	now := time.Unix(0, 0)
	r := ids.NewReaderId()
	consensus.InjectIndeterminate(shard, 1)

	state, err := m.RegisterLeasedReader(ctx, r, tstamp.Single(tstamp.MinTimestamp), time.Minute, now)
	require.NoError(t, err)
	_, ok := state.LeasedReaders[r]
	require.True(t, ok)
}

// TestCompareAndAppendAmbiguousMismatchPanics covers §4.C's ambiguous
// case. w's first CAS attempt comes back Indeterminate without actually
// committing; before its retry lands, a second writer races in and
// genuinely advances the shard's upper. By the time w's retry re-reads
// the head, it sees a real upper mismatch that it cannot attribute to its
// own (possibly-landed) first attempt — the writer token recorded against
// its own id is still whatever it was before this call, not the token
// this call used — so which attempt actually won can no longer be
// determined and this must panic rather than guess.
func TestCompareAndAppendAmbiguousMismatchPanics(t *testing.T) {
	ctx := context.Background()
	consensus := mem.NewConsensus()
	sv, err := versions.New(consensus, mem.NewBlob())
	require.NoError(t, err)
	shard := ids.NewShardId()
	m, err := machine.Init(ctx, sv, shard, "k", "v", "t", "d")
	require.NoError(t, err)

	now := time.Unix(0, 0)
	w := ids.NewWriterId()
	_, err = m.RegisterWriter(ctx, w, time.Minute, now)
	require.NoError(t, err)
	other := ids.NewWriterId()
	_, err = m.RegisterWriter(ctx, other, time.Minute, now)
	require.NoError(t, err)

	batch := trace.HollowBatch{
		Desc: tstamp.Description{
			Lower: tstamp.Single(tstamp.MinTimestamp),
			Upper: tstamp.Single(3),
			Since: tstamp.Single(0),
		},
	}
	consensus.InjectIndeterminate(shard, 1)
	go func() {
		time.Sleep(time.Millisecond)
		otherBatch := trace.HollowBatch{
			Desc: tstamp.Description{
				Lower: tstamp.Single(tstamp.MinTimestamp),
				Upper: tstamp.Single(5),
				Since: tstamp.Single(0),
			},
		}
		_, _ = m.CompareAndAppend(ctx, other, ids.NewIdempotencyToken(), otherBatch, now)
	}()

	require.Panics(t, func() {
		_, _ = m.CompareAndAppend(ctx, w, ids.NewIdempotencyToken(), batch, now)
	})
}
