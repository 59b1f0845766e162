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

// Package oracle implements the per-timeline monotonic timestamp oracle:
// write_ts hands out a timestamp no earlier than any previously issued
// one, read_ts hands out the latest fully-applied write, and every
// allocation is durably persisted before being handed to a caller so a
// coordinator restart can never reissue a timestamp it already gave out.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// Durable persists the oracle's high-water mark. Implementations must make
// Store durable before Oracle hands the corresponding timestamp to a
// caller — a crash between Store succeeding and the caller observing it
// is fine (the timestamp is simply never used), but the reverse is not:
// handing out a timestamp this oracle then forgets on restart would let a
// future write_ts reissue it.
type Durable interface {
	Load(ctx context.Context) (tstamp.Timestamp, error)
	Store(ctx context.Context, ts tstamp.Timestamp) error
}

// Clock supplies the oracle's notion of wall-clock time, as a
// Timestamp-quantized value. RealTime and Fixed (a clock that always reads
// one value) both implement it; tests use the latter to get deterministic
// timestamps.
type Clock func() tstamp.Timestamp

// Oracle hands out write and read timestamps for one timeline. It is safe
// for concurrent use.
type Oracle struct {
	mu      sync.Mutex
	durable Durable
	clock   Clock
	highWaterMark tstamp.Timestamp
	appliedUpTo   tstamp.Timestamp
}

// New constructs an Oracle, seeding its high-water mark from durable
// storage so a restart never goes backwards.
func New(ctx context.Context, durable Durable, clock Clock) (*Oracle, error) {
	hwm, err := durable.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: loading durable high-water mark: %w", err)
	}
	return &Oracle{durable: durable, clock: clock, highWaterMark: hwm, appliedUpTo: hwm}, nil
}

// WriteTs allocates a fresh write timestamp: the greater of the clock's
// current reading and one past the previous high-water mark, so
// consecutive calls are always strictly increasing even if the clock
// hasn't advanced. The allocation is durably persisted before returning.
func (o *Oracle) WriteTs(ctx context.Context) (tstamp.Timestamp, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	candidate := o.clock()
	next := tstamp.Max(candidate, o.highWaterMark)
	if next == o.highWaterMark {
		stepped, ok := next.Step()
		if !ok {
			return 0, fmt.Errorf("oracle: write_ts: exhausted timestamp space")
		}
		next = stepped
	}
	if err := o.durable.Store(ctx, next); err != nil {
		return 0, fmt.Errorf("oracle: write_ts: persisting: %w", err)
	}
	o.highWaterMark = next
	return next, nil
}

// PeekWriteTs returns what WriteTs would allocate right now, without
// advancing the oracle or touching durable storage — used by callers that
// need to know the next write timestamp before deciding whether to issue
// it (e.g. to batch several writers' append into one group commit).
func (o *Oracle) PeekWriteTs() tstamp.Timestamp {
	o.mu.Lock()
	defer o.mu.Unlock()
	candidate := o.clock()
	next := tstamp.Max(candidate, o.highWaterMark)
	if next == o.highWaterMark {
		if stepped, ok := next.Step(); ok {
			return stepped
		}
	}
	return next
}

// ApplyWrite records that every write up to and including ts has been
// durably applied, advancing what ReadTs will return. Calling it with a
// ts behind the current appliedUpTo is a no-op: out-of-order application
// acknowledgements happen under concurrency and must never move read_ts
// backwards.
func (o *Oracle) ApplyWrite(ts tstamp.Timestamp) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.appliedUpTo.Less(ts) {
		o.appliedUpTo = ts
	}
}

// ReadTs returns the latest timestamp known to be fully applied: a
// strict-serializable read taken at this timestamp is guaranteed to see
// every write this oracle has acknowledged via ApplyWrite.
func (o *Oracle) ReadTs() tstamp.Timestamp {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.appliedUpTo
}

// RealTime returns a Clock quantizing time.Now() into milliseconds since
// the Unix epoch, the oracle's default production clock.
func RealTime() Clock {
	return func() tstamp.Timestamp {
		return tstamp.Timestamp(time.Now().UnixMilli())
	}
}

// Fixed returns a Clock that always reads t, letting tests pin the
// oracle's wall-clock view to one deterministic value and advance it
// explicitly with a pointer.
func Fixed(t *tstamp.Timestamp) Clock {
	return func() tstamp.Timestamp { return *t }
}
