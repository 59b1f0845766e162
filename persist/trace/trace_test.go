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

package trace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

func batch(lower, upper, since uint64, rows uint64) HollowBatch {
	return HollowBatch{
		Desc: tstamp.Description{
			Lower: tstamp.Single(tstamp.Timestamp(lower)),
			Upper: tstamp.Single(tstamp.Timestamp(upper)),
			Since: tstamp.Single(tstamp.Timestamp(since)),
		},
		Parts: []string{"part-0"},
		Len:   rows,
	}
}

func TestPushBatchTilesContiguously(t *testing.T) {
	tr := New()
	_, err := tr.PushBatch(batch(0, 3, 0, 3))
	require.NoError(t, err)
	require.True(t, tr.Upper().Equal(tstamp.Single(3)))

	_, err = tr.PushBatch(batch(3, 5, 0, 2))
	require.NoError(t, err)
	require.True(t, tr.Upper().Equal(tstamp.Single(5)))

	// A gap is rejected.
	_, err = tr.PushBatch(batch(6, 8, 0, 2))
	require.Error(t, err)
}

func TestDowngradeSinceEmitsMergeRequest(t *testing.T) {
	tr := NewWithFuelParams(1<<20, 1) // fuel multiplier 1: ready as soon as combined size accrues once.
	_, err := tr.PushBatch(batch(0, 3, 0, 2))
	require.NoError(t, err)
	_, err = tr.PushBatch(batch(3, 5, 0, 2))
	require.NoError(t, err)

	// Not yet eligible: since has not advanced past either batch's upper.
	require.True(t, tr.Since().Equal(tstamp.Single(0)))

	reqs := tr.DowngradeSince(tstamp.Single(5))
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Inputs, 2)
}

func TestApplyMergeResExactThenNoMatch(t *testing.T) {
	tr := New()
	b1 := batch(0, 3, 0, 2)
	b2 := batch(3, 5, 0, 2)
	_, err := tr.PushBatch(b1)
	require.NoError(t, err)
	_, err = tr.PushBatch(b2)
	require.NoError(t, err)
	tr.DowngradeSince(tstamp.Single(5))

	out := HollowBatch{
		Desc: tstamp.Description{
			Lower: tstamp.Single(0),
			Upper: tstamp.Single(5),
			Since: tstamp.Single(5),
		},
		Parts: []string{"merged-part"},
		Len:   4,
	}
	res := FueledMergeRes{Output: out, Inputs: []HollowBatch{b1, b2}}

	require.Equal(t, AppliedExact, tr.ApplyMergeRes(res))
	require.Len(t, tr.Batches(), 1)

	// Re-applying the same result now finds nothing to match.
	require.Equal(t, NotAppliedNoMatch, tr.ApplyMergeRes(res))
}

func TestApplyMergeResInvalidSince(t *testing.T) {
	tr := New()
	b1 := batch(0, 3, 0, 2)
	_, err := tr.PushBatch(b1)
	require.NoError(t, err)

	out := HollowBatch{
		Desc: tstamp.Description{
			Lower: tstamp.Single(0),
			Upper: tstamp.Single(3),
			Since: tstamp.Single(10), // ahead of trace.since, which is still Single(0).
		},
	}
	res := FueledMergeRes{Output: out, Inputs: []HollowBatch{b1}}
	require.Equal(t, NotAppliedInvalidSince, tr.ApplyMergeRes(res))
}

func TestApplyMergeResSubset(t *testing.T) {
	tr := New()
	b1 := batch(0, 3, 0, 2)
	b2 := batch(3, 5, 0, 2)
	b3 := batch(5, 7, 0, 2)
	for _, b := range []HollowBatch{b1, b2, b3} {
		_, err := tr.PushBatch(b)
		require.NoError(t, err)
	}
	tr.DowngradeSince(tstamp.Single(7))

	// Output only covers b1..b2, a proper subrun of what a 3-way request
	// might have envisioned.
	out := HollowBatch{
		Desc: tstamp.Description{Lower: tstamp.Single(0), Upper: tstamp.Single(5), Since: tstamp.Single(7)},
		Len:  4,
	}
	res := FueledMergeRes{Output: out, Inputs: []HollowBatch{b1, b2, b3}}
	require.Equal(t, AppliedSubset, tr.ApplyMergeRes(res))
	require.Len(t, tr.Batches(), 2) // merged(b1,b2), b3
}
