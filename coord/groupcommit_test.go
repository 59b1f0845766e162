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

package coord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sunjudev0213/materialize-sub000/controller"
	"github.com/sunjudev0213/materialize-sub000/ids"
)

func TestWriteCompletesThroughGroupCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc := newFakeController()
	c := newTestCoordinator(fc)
	go c.Run(ctx)

	shard := ids.NewShardId()
	errCh := c.Write(ctx, shard, []controller.Row{{Key: []byte("a"), Diff: 1}})

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write did not complete")
	}
	require.Len(t, fc.storage.appended, 1)
	require.Equal(t, shard, fc.storage.appended[0].Id)
}

func TestReadAtResolvesAfterApplyWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc := newFakeController()
	c := newTestCoordinator(fc)
	go c.Run(ctx)

	shard := ids.NewShardId()
	writeErr := <-c.Write(ctx, shard, []controller.Row{{Key: []byte("a"), Diff: 1}})
	require.NoError(t, writeErr)

	readCh := c.ReadAt(ctx, c.oracle.ReadTs())
	select {
	case err := <-readCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not linearize")
	}
}
