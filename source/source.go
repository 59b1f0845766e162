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

// Package source implements the source reader protocol: partition
// assignment across a fixed worker pool, timestamp-history binding (the
// mapping from upstream offsets to output timestamps), capability
// downgrade intersected across every worker reading a partition, and a
// cooperative yield budget so one source doesn't starve the rest of a
// worker's dataflow.
package source

import (
	"hash/fnv"
	"time"

	"golang.org/x/time/rate"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// AssignPartition deterministically maps a (source, partition) pair onto
// one of workerCount workers: every worker computes the same assignment
// independently, with no coordination traffic needed to agree on it.
func AssignPartition(source ids.ShardId, partition int, workerCount int) int {
	if workerCount <= 0 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(source.String()))
	sum := h.Sum64()
	return int((sum + uint64(partition)) % uint64(workerCount))
}

// Update is one row read from upstream, already bound to an output
// timestamp by the timestamp history for its partition.
type Update struct {
	Partition int
	Offset    uint64
	Ts        tstamp.Timestamp
	Key       []byte
	Val       []byte
	Diff      int64
}

// TimestampHistory binds upstream offsets to output timestamps for one
// partition. Offsets are bound in strictly increasing order; once bound,
// a binding is never revised, so a worker restarting mid-partition can
// replay it deterministically from its last checkpoint.
type TimestampHistory struct {
	bindings []binding
}

type binding struct {
	offset uint64
	ts     tstamp.Timestamp
}

// Bind records that offset maps to ts. ts must be at least as large as
// every previously bound timestamp in this history: source timestamps
// never regress relative to their own partition's prior bindings, even if
// the upstream clock driving them does.
func (h *TimestampHistory) Bind(offset uint64, ts tstamp.Timestamp) error {
	if len(h.bindings) > 0 {
		last := h.bindings[len(h.bindings)-1]
		if ts.Less(last.ts) {
			return &ClockRegressionError{Partition: -1, PreviousTs: last.ts, ObservedTs: ts}
		}
		if offset <= last.offset {
			return &OutOfOrderOffsetError{PreviousOffset: last.offset, ObservedOffset: offset}
		}
	}
	h.bindings = append(h.bindings, binding{offset: offset, ts: ts})
	return nil
}

// TimestampFor returns the output timestamp of the earliest binding whose
// offset is at or after offset, or ok=false if offset is beyond every
// binding so far (the caller should buffer the row until a later Bind call
// covers it).
func (h *TimestampHistory) TimestampFor(offset uint64) (tstamp.Timestamp, bool) {
	for i := 0; i < len(h.bindings); i++ {
		if h.bindings[i].offset >= offset {
			return h.bindings[i].ts, true
		}
	}
	return 0, false
}

// ClockRegressionError is returned when an upstream source's own clock
// moves backwards relative to a partition's last bound timestamp. A
// real-time source must never let this propagate into the dataflow as a
// regressed capability; the caller is expected to clamp to the previous
// value and log it rather than crash the worker.
type ClockRegressionError struct {
	Partition              int
	PreviousTs, ObservedTs tstamp.Timestamp
}

func (e *ClockRegressionError) Error() string {
	return "source: clock regression on partition"
}

// OutOfOrderOffsetError is returned when Bind sees an offset at or behind
// one it has already bound; every upstream transport this module targets
// guarantees monotonically increasing offsets per partition, so this
// indicates transport-level corruption or a reader bug, not a condition
// to retry past.
type OutOfOrderOffsetError struct {
	PreviousOffset, ObservedOffset uint64
}

func (e *OutOfOrderOffsetError) Error() string {
	return "source: out-of-order offset"
}

// CapabilityTracker holds one worker's downgrade-able capability on a
// partition's output timestamps; its current value is the point before
// which this worker promises no more updates will be produced.
type CapabilityTracker struct {
	cap tstamp.Antichain
}

func NewCapabilityTracker(initial tstamp.Antichain) *CapabilityTracker {
	return &CapabilityTracker{cap: initial}
}

func (c *CapabilityTracker) Downgrade(to tstamp.Antichain) {
	if c.cap.Less(to) {
		c.cap = to
	}
}

func (c *CapabilityTracker) Capability() tstamp.Antichain { return c.cap }

// IntersectCapabilities computes the effective source-wide capability as
// the meet (least advanced) of every worker's own partition capability:
// the source as a whole can only claim as much progress as its
// slowest-advancing worker.
func IntersectCapabilities(caps ...tstamp.Antichain) tstamp.Antichain {
	return tstamp.MeetAll(caps...)
}

// YieldBudget bounds how much work one source reader does per scheduling
// slot before voluntarily yielding back to the worker's cooperative
// scheduler, so one high-throughput partition can't starve the rest of
// the dataflow sharing this worker thread.
type YieldBudget struct {
	limiter *rate.Limiter
}

// NewYieldBudget allows up to rowsPerSecond rows of processing per
// second, in bursts of up to burst rows, before Spend blocks.
func NewYieldBudget(rowsPerSecond float64, burst int) *YieldBudget {
	return &YieldBudget{limiter: rate.NewLimiter(rate.Limit(rowsPerSecond), burst)}
}

// Spend accounts for n rows of work, blocking until the budget has
// capacity if the source has been running hot.
func (y *YieldBudget) Spend(n int) {
	r := y.limiter.ReserveN(time.Now(), n)
	if !r.OK() {
		return
	}
	time.Sleep(r.Delay())
}
