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

// Package readhold implements the coordinator-side read capability
// manager: it tracks a base compaction policy plus every dataflow's
// current hold on every collection it depends on, propagates hold changes
// through the dependency DAG, and computes each collection's effective
// since as the meet of everything still holding it back.
package readhold

import (
	"fmt"
	"sync"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// CollectionId names one persist shard (or compute collection) that can be
// held back from compacting by a dependent dataflow.
type CollectionId = ids.ShardId

// Manager owns every collection's base policy and every holder's current
// hold, and recomputes effective since on demand. It is the coordinator's
// only source of truth for "how far back can this collection still be
// read" — the Machine itself only enforces whatever since the coordinator
// tells it to, via Machine.DowngradeSince.
type Manager struct {
	mu sync.Mutex

	// basePolicy is the floor every collection's since is held to
	// regardless of dependents, e.g. a configured retention window.
	basePolicy map[CollectionId]tstamp.Antichain
	// holds maps a collection to the set of holder ids (dataflow or
	// session ids) currently pinning it, and the since each pins at.
	holds map[CollectionId]map[string]tstamp.Antichain
	// dependents maps a collection to every other collection whose
	// dataflow reads from it, so that AcquireReadHolds can propagate a
	// hold transitively without the caller enumerating the whole DAG.
	dependents map[CollectionId][]CollectionId
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		basePolicy: make(map[CollectionId]tstamp.Antichain),
		holds:      make(map[CollectionId]map[string]tstamp.Antichain),
		dependents: make(map[CollectionId][]CollectionId),
	}
}

// SetBasePolicy sets the floor since for a collection, independent of any
// dataflow hold (e.g. "retain at least 1 hour of history").
func (m *Manager) SetBasePolicy(c CollectionId, since tstamp.Antichain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.basePolicy[c] = since
}

// AddDependency records that dependent reads from upstream, so a hold
// placed on upstream also propagates a hold onto dependent at the same
// since (transitively, through however many layers the DAG has).
func (m *Manager) AddDependency(upstream, dependent CollectionId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dependents[upstream] = append(m.dependents[upstream], dependent)
}

// AcquireReadHolds places holder's hold at since on target and every one
// of target's transitive dependents, returning the full set of
// collections whose effective since may have just changed so the caller
// can push the new value down to each one's Machine.
func (m *Manager) AcquireReadHolds(holder string, target CollectionId, since tstamp.Antichain) []CollectionId {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := make(map[CollectionId]struct{})
	m.acquireLocked(holder, target, since, touched)
	out := make([]CollectionId, 0, len(touched))
	for c := range touched {
		out = append(out, c)
	}
	return out
}

func (m *Manager) acquireLocked(holder string, c CollectionId, since tstamp.Antichain, touched map[CollectionId]struct{}) {
	if _, ok := m.holds[c]; !ok {
		m.holds[c] = make(map[string]tstamp.Antichain)
	}
	m.holds[c][holder] = since
	touched[c] = struct{}{}
	for _, dep := range m.dependents[c] {
		m.acquireLocked(holder, dep, since, touched)
	}
}

// ReleaseReadHolds drops holder's hold on target (and its transitive
// dependents), returning every collection whose effective since may have
// changed as a result.
func (m *Manager) ReleaseReadHolds(holder string, target CollectionId) []CollectionId {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := make(map[CollectionId]struct{})
	m.releaseLocked(holder, target, touched)
	out := make([]CollectionId, 0, len(touched))
	for c := range touched {
		out = append(out, c)
	}
	return out
}

func (m *Manager) releaseLocked(holder string, c CollectionId, touched map[CollectionId]struct{}) {
	delete(m.holds[c], holder)
	touched[c] = struct{}{}
	for _, dep := range m.dependents[c] {
		m.releaseLocked(holder, dep, touched)
	}
}

// EffectiveSince returns the meet of a collection's base policy and every
// current holder's pinned since — the oldest point the collection must
// still keep readable.
func (m *Manager) EffectiveSince(c CollectionId) tstamp.Antichain {
	m.mu.Lock()
	defer m.mu.Unlock()
	holds := make([]tstamp.Antichain, 0, len(m.holds[c])+1)
	if base, ok := m.basePolicy[c]; ok {
		holds = append(holds, base)
	}
	for _, since := range m.holds[c] {
		holds = append(holds, since)
	}
	if len(holds) == 0 {
		return tstamp.Empty()
	}
	return tstamp.MeetAll(holds...)
}

// Holders returns the ids currently holding a read capability on c,
// for diagnostics.
func (m *Manager) Holders(c CollectionId) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.holds[c]))
	for h := range m.holds[c] {
		out = append(out, h)
	}
	return out
}

// ErrUnknownCollection is returned by callers (not by Manager itself,
// which treats an unknown collection as simply having no holds) when a
// caller expects a collection to already be registered via AddDependency
// or SetBasePolicy and it isn't.
var ErrUnknownCollection = fmt.Errorf("readhold: unknown collection")
