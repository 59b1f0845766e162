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

	"github.com/sunjudev0213/materialize-sub000/controller"
	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// onGroupCommitInitiate drains every parked write, allocates one write_ts
// for the whole batch, and submits one append per target collection.
// Writers never see the collected batch directly: GroupCommitApply
// re-enters the coordinator once the controller acknowledges it.
func (c *Coordinator) onGroupCommitInitiate(ctx context.Context) {
	c.pendingWritesMu.Lock()
	writes := c.pendingWrites
	c.pendingWrites = nil
	c.pendingWritesMu.Unlock()

	if len(writes) == 0 {
		c.releaseWriteLock()
		return
	}

	writeTs, err := c.oracle.WriteTs(ctx)
	if err != nil {
		c.failWrites(writes, err)
		c.releaseWriteLock()
		return
	}

	byCollection := make(map[ids.ShardId][]controller.Row)
	var order []ids.ShardId
	for _, w := range writes {
		if _, ok := byCollection[w.collection]; !ok {
			order = append(order, w.collection)
		}
		byCollection[w.collection] = append(byCollection[w.collection], w.rows...)
	}
	reqs := make([]controller.AppendRequest, 0, len(order))
	for _, id := range order {
		reqs = append(reqs, controller.AppendRequest{
			Id:    id,
			Rows:  byCollection[id],
			Upper: tstamp.Single(writeTs + 1),
		})
	}

	ackCh := c.ctrl.Storage().Append(ctx, reqs)
	go func() {
		var ackErr error
		select {
		case ackErr = <-ackCh:
		case <-ctx.Done():
			ackErr = ctx.Err()
		}
		select {
		case c.internalQ <- groupCommitApply{writeTs: writeTs, waiters: writes, err: ackErr}:
		case <-ctx.Done():
		}
	}()
}

// onGroupCommitApply advances the oracle's applied timestamp, releases
// the write lock so the next round of parked writes can proceed, and
// fulfills every waiter from this round.
func (c *Coordinator) onGroupCommitApply(ev groupCommitApply) {
	if ev.err == nil {
		c.oracle.ApplyWrite(ev.writeTs)
	}
	c.releaseWriteLock()
	c.failWrites(ev.waiters, ev.err)
	c.wakeReads()
}

func (c *Coordinator) failWrites(writes []*pendingWrite, err error) {
	for _, w := range writes {
		w.done <- err
	}
}

func (c *Coordinator) releaseWriteLock() {
	select {
	case <-c.writeLock:
	default:
	}
}

// onLinearizeReads releases every parked strict-serializable read whose
// requested timestamp is at or behind the oracle's current applied
// timestamp, coalescing however many reads have accumulated since the
// last wake-up into one pass.
func (c *Coordinator) onLinearizeReads() {
	c.pendingReadsMu.Lock()
	defer c.pendingReadsMu.Unlock()

	readTs := c.oracle.ReadTs()
	remaining := c.pendingReads[:0]
	for _, r := range c.pendingReads {
		if !readTs.Less(r.ts) {
			r.done <- nil
		} else {
			remaining = append(remaining, r)
		}
	}
	c.pendingReads = remaining
}
