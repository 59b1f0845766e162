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

package listen_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/persist/listen"
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

func appendBatch(t *testing.T, ctx context.Context, m *machine.Machine, w ids.WriterId, now time.Time, lower, upper uint64) {
	t.Helper()
	b := trace.HollowBatch{
		Desc: tstamp.Description{
			Lower: tstamp.Single(tstamp.Timestamp(lower)),
			Upper: tstamp.Single(tstamp.Timestamp(upper)),
			Since: tstamp.Single(0),
		},
		Parts: []string{"part"},
		Len:   1,
	}
	_, err := m.CompareAndAppend(ctx, w, ids.NewIdempotencyToken(), b, now)
	require.NoError(t, err)
}

func TestSnapshotReturnsBatchesThroughAsOf(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t)
	now := time.Unix(0, 0)

	w := ids.NewWriterId()
	_, err := m.RegisterWriter(ctx, w, time.Minute, now)
	require.NoError(t, err)
	appendBatch(t, ctx, m, w, now, tstamp.MinTimestamp, 3)
	appendBatch(t, ctx, m, w, now, 3, 5)

	r := ids.NewReaderId()
	_, err = m.RegisterLeasedReader(ctx, r, tstamp.Single(tstamp.MinTimestamp), time.Minute, now)
	require.NoError(t, err)

	// [3,5) holds updates at time 3, so it is part of the as-of-3 snapshot.
	batches, err := listen.Snapshot(ctx, m, r, tstamp.Single(3))
	require.NoError(t, err)
	require.Len(t, batches, 2)
}

func TestSnapshotRejectsAsOfBehindSince(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t)
	now := time.Unix(0, 0)

	w := ids.NewWriterId()
	_, err := m.RegisterWriter(ctx, w, time.Minute, now)
	require.NoError(t, err)
	appendBatch(t, ctx, m, w, now, tstamp.MinTimestamp, 3)

	r := ids.NewReaderId()
	_, err = m.RegisterLeasedReader(ctx, r, tstamp.Single(tstamp.MinTimestamp), time.Minute, now)
	require.NoError(t, err)
	_, err = m.DowngradeSince(ctx, r, tstamp.Single(3))
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = listen.Snapshot(ctxTimeout, m, r, tstamp.Single(tstamp.MinTimestamp))
	require.Error(t, err)
}

func TestListenerEmitsBatchAndProgress(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t)
	now := time.Unix(0, 0)

	w := ids.NewWriterId()
	_, err := m.RegisterWriter(ctx, w, time.Minute, now)
	require.NoError(t, err)
	r := ids.NewReaderId()
	_, err = m.RegisterLeasedReader(ctx, r, tstamp.Single(tstamp.MinTimestamp), time.Minute, now)
	require.NoError(t, err)

	l := listen.NewListener(m, r, tstamp.Single(tstamp.MinTimestamp))
	appendBatch(t, ctx, m, w, now, tstamp.MinTimestamp, 3)

	events, err := l.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[0].Batch)
	require.True(t, events[1].Progress.Equal(tstamp.Single(3)))
}

func TestListenerDoesNotReemitSameBatch(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t)
	now := time.Unix(0, 0)

	w := ids.NewWriterId()
	_, err := m.RegisterWriter(ctx, w, time.Minute, now)
	require.NoError(t, err)
	r := ids.NewReaderId()
	_, err = m.RegisterLeasedReader(ctx, r, tstamp.Single(tstamp.MinTimestamp), time.Minute, now)
	require.NoError(t, err)

	l := listen.NewListener(m, r, tstamp.Single(tstamp.MinTimestamp))
	appendBatch(t, ctx, m, w, now, tstamp.MinTimestamp, 3)
	first, err := l.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)

	appendBatch(t, ctx, m, w, now, 3, 5)
	second, err := l.Poll(ctx)
	require.NoError(t, err)
	// Only the new batch plus progress, not a repeat of the first batch.
	require.Len(t, second, 2)
}
