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

package source_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/source"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

func TestAssignPartitionIsDeterministic(t *testing.T) {
	shard := ids.NewShardId()
	a := source.AssignPartition(shard, 3, 8)
	b := source.AssignPartition(shard, 3, 8)
	require.Equal(t, a, b)
	require.GreaterOrEqual(t, a, 0)
	require.Less(t, a, 8)
}

func TestTimestampHistoryBindAndLookup(t *testing.T) {
	var h source.TimestampHistory
	require.NoError(t, h.Bind(10, tstamp.Timestamp(100)))
	require.NoError(t, h.Bind(20, tstamp.Timestamp(200)))

	ts, ok := h.TimestampFor(15)
	require.True(t, ok)
	require.Equal(t, tstamp.Timestamp(200), ts)

	_, ok = h.TimestampFor(25)
	require.False(t, ok)
}

func TestTimestampHistoryRejectsOutOfOrderOffset(t *testing.T) {
	var h source.TimestampHistory
	require.NoError(t, h.Bind(10, tstamp.Timestamp(100)))
	err := h.Bind(10, tstamp.Timestamp(200))
	require.Error(t, err)
	var oo *source.OutOfOrderOffsetError
	require.ErrorAs(t, err, &oo)
}

func TestTimestampHistoryRejectsClockRegression(t *testing.T) {
	var h source.TimestampHistory
	require.NoError(t, h.Bind(10, tstamp.Timestamp(100)))
	err := h.Bind(20, tstamp.Timestamp(50))
	require.Error(t, err)
	var regression *source.ClockRegressionError
	require.ErrorAs(t, err, &regression)
}

func TestIntersectCapabilitiesIsMeet(t *testing.T) {
	got := source.IntersectCapabilities(tstamp.Single(10), tstamp.Single(3), tstamp.Single(7))
	require.True(t, got.Equal(tstamp.Single(3)))
}

func TestCapabilityTrackerNeverRegresses(t *testing.T) {
	c := source.NewCapabilityTracker(tstamp.Single(5))
	c.Downgrade(tstamp.Single(10))
	require.True(t, c.Capability().Equal(tstamp.Single(10)))
	c.Downgrade(tstamp.Single(2))
	require.True(t, c.Capability().Equal(tstamp.Single(10)))
}
