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

// Package listen implements the reader-facing Snapshot and Listen
// operations: a retry-until-ready as-of read of a shard's current
// contents, and a long-lived stream of Progress/Updates events following
// a shard forward from an as-of.
package listen

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/persist/machine"
	"github.com/sunjudev0213/materialize-sub000/persist/trace"
	"github.com/sunjudev0213/materialize-sub000/retryutil"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// Event is either a Progress marker (the stream's upper has advanced to
// Progress) or a batch of Updates at or after the previous Progress.
type Event struct {
	Progress tstamp.Antichain
	Batch    *trace.HollowBatch
}

// Snapshot blocks until asOf is strictly behind the shard's upper (i.e.
// until the read is determined), then returns every batch covering
// [-inf, asOf.Step()), that is every batch whose lower is at or before
// asOf. An asOf that is not at or ahead of the shard's since fails at
// once with an error rather than being retried: since only advances, so
// waiting cannot make that read possible.
func Snapshot(ctx context.Context, m *machine.Machine, reader ids.ReaderId, asOf tstamp.Antichain) ([]trace.HollowBatch, error) {
	var batches []trace.HollowBatch
	err := retryutil.RetryExternal(ctx, func() error {
		s, err := m.Head(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !asOf.Less(s.Upper()) {
			return fmt.Errorf("listen: snapshot: as-of %s is not yet determined (upper %s)", asOf, s.Upper())
		}
		since := s.Since()
		if !since.LessEqual(asOf) {
			return backoff.Permanent(fmt.Errorf("listen: snapshot: as-of %s is behind since %s", asOf, since))
		}
		out := make([]trace.HollowBatch, 0, len(s.Trace.Batches()))
		for _, b := range s.Trace.Batches() {
			if asOf.Less(b.Desc.Lower) {
				break
			}
			out = append(out, b)
		}
		batches = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// Listener follows a shard forward from an as-of, retrying past
// not-yet-determined reads the same way Snapshot does, and emitting a
// Progress event every time the shard's upper advances past the
// listener's own frontier.
type Listener struct {
	m        *machine.Machine
	reader   ids.ReaderId
	frontier tstamp.Antichain
	emitted  map[string]struct{}
}

// NewListener starts a Listener at asOf; the caller is responsible for
// having already registered reader as a leased or critical reader at a
// since at or behind asOf.
func NewListener(m *machine.Machine, reader ids.ReaderId, asOf tstamp.Antichain) *Listener {
	return &Listener{m: m, reader: reader, frontier: asOf, emitted: make(map[string]struct{})}
}

// Poll blocks (retrying) until the shard has new data or progress past the
// listener's current frontier, then returns the events produced by that
// advance. It never returns an empty event set on success.
func (l *Listener) Poll(ctx context.Context) ([]Event, error) {
	var events []Event
	err := retryutil.RetryExternal(ctx, func() error {
		s, err := l.m.Head(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		upper := s.Upper()
		if upper.LessEqual(l.frontier) {
			return fmt.Errorf("listen: poll: no progress past %s yet", l.frontier)
		}
		var out []Event
		for _, b := range s.Trace.Batches() {
			if !l.frontier.LessEqual(b.Desc.Lower) {
				continue
			}
			key := b.Desc.String() + fmt.Sprint(b.Parts)
			if _, ok := l.emitted[key]; ok {
				continue
			}
			l.emitted[key] = struct{}{}
			batch := b
			out = append(out, Event{Batch: &batch})
		}
		out = append(out, Event{Progress: upper})
		l.frontier = upper
		events = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
