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

// Package coord implements the single-threaded cooperative coordinator:
// a priority-biased dispatch loop over internal work, controller events,
// external commands, linearized reads, a timeline ticker, consolidation
// requests and an idle sampler, plus the group-commit write protocol and
// strict-serializable read linearization built on top of it.
package coord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/sunjudev0213/materialize-sub000/config"
	"github.com/sunjudev0213/materialize-sub000/controller"
	"github.com/sunjudev0213/materialize-sub000/idlesampler"
	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/logutil"
	"github.com/sunjudev0213/materialize-sub000/metricsutil"
	"github.com/sunjudev0213/materialize-sub000/oracle"
	"github.com/sunjudev0213/materialize-sub000/persist/machine"
	"github.com/sunjudev0213/materialize-sub000/readhold"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// internalCmd is the coordinator's self-scheduled work, always dispatched
// at the highest priority so a group commit or read-linearization pass
// started on one iteration finishes before anything else is considered.
type internalCmd interface{ isInternal() }

type groupCommitInitiate struct{}

func (groupCommitInitiate) isInternal() {}

type groupCommitApply struct {
	writeTs tstamp.Timestamp
	waiters []*pendingWrite
	err     error
}

func (groupCommitApply) isInternal() {}

type linearizeReads struct{}

func (linearizeReads) isInternal() {}

// pendingWrite is one caller's write parked until the next group commit
// round picks it up.
type pendingWrite struct {
	collection ids.ShardId
	rows       []controller.Row
	done       chan error
}

// pendingRead is one caller's strict-serializable read parked until the
// oracle's applied timestamp reaches ts.
type pendingRead struct {
	ts   tstamp.Timestamp
	done chan error
}

// Coordinator owns every piece of mutable process state this module
// tracks in memory; it is the sole writer of that state, and every
// mutation happens on the single goroutine running Run.
type Coordinator struct {
	cfg     config.CoordConfig
	oracle  *oracle.Oracle
	holds   *readhold.Manager
	ctrl    controller.Controller
	metrics *metricsutil.Metrics
	log     log.Logger

	machinesMu sync.Mutex
	machines   map[ids.ShardId]*machine.Machine

	internalQ    chan internalCmd
	externalQ    chan controller.Command
	consolidateQ chan ids.ShardId
	readWake     chan struct{}

	writeLock chan struct{}

	pendingWritesMu sync.Mutex
	pendingWrites   []*pendingWrite

	pendingReadsMu sync.Mutex
	pendingReads   []pendingRead

	sampler  *idlesampler.Sampler
	lastIdle idlesampler.Sample
}

// New constructs a Coordinator. Run must be called to actually start the
// dispatch loop; New alone only wires dependencies together.
func New(cfg config.CoordConfig, o *oracle.Oracle, holds *readhold.Manager, ctrl controller.Controller, metrics *metricsutil.Metrics) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		oracle:       o,
		holds:        holds,
		ctrl:         ctrl,
		metrics:      metrics,
		log:          logutil.New("coord"),
		machines:     make(map[ids.ShardId]*machine.Machine),
		internalQ:    make(chan internalCmd, 256),
		externalQ:    make(chan controller.Command, 256),
		consolidateQ: make(chan ids.ShardId, 64),
		readWake:     make(chan struct{}, 1),
		writeLock:    make(chan struct{}, 1),
		sampler:      idlesampler.New(5 * time.Second),
	}
}

// RegisterShard makes id's Machine visible to the coordinator's
// consolidation pass; every shard a deployment opens should be registered
// here once, typically right after machine.Init.
func (c *Coordinator) RegisterShard(id ids.ShardId, m *machine.Machine) {
	c.machinesMu.Lock()
	defer c.machinesMu.Unlock()
	c.machines[id] = m
}

// Submit enqueues an external session command for dispatch. If the external
// queue is full it blocks until there is room or ctx is done, in which case
// it returns ctx's error.
func (c *Coordinator) Submit(ctx context.Context, cmd controller.Command) error {
	select {
	case c.externalQ <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestConsolidation asks the coordinator to opportunistically run a
// rollup/compaction maintenance pass for shard, at whatever priority the
// consolidation-request event source gets relative to the rest of the
// loop's work.
func (c *Coordinator) RequestConsolidation(ctx context.Context, shard ids.ShardId) error {
	select {
	case c.consolidateQ <- shard:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write parks rows against collection and triggers the group commit
// protocol, returning a channel that receives exactly one error (nil on
// success) once the write has landed at a chosen commit timestamp.
func (c *Coordinator) Write(ctx context.Context, collection ids.ShardId, rows []controller.Row) <-chan error {
	done := make(chan error, 1)
	pw := &pendingWrite{collection: collection, rows: rows, done: done}

	c.pendingWritesMu.Lock()
	c.pendingWrites = append(c.pendingWrites, pw)
	c.pendingWritesMu.Unlock()

	go func() {
		select {
		case c.writeLock <- struct{}{}:
		case <-ctx.Done():
			done <- ctx.Err()
			return
		}
		select {
		case c.internalQ <- groupCommitInitiate{}:
		case <-ctx.Done():
			<-c.writeLock
			done <- ctx.Err()
		}
	}()
	return done
}

// ReadAt parks a strict-serializable read at ts, returning a channel that
// receives nil once the oracle's applied timestamp has reached ts.
func (c *Coordinator) ReadAt(ctx context.Context, ts tstamp.Timestamp) <-chan error {
	done := make(chan error, 1)
	c.pendingReadsMu.Lock()
	c.pendingReads = append(c.pendingReads, pendingRead{ts: ts, done: done})
	c.pendingReadsMu.Unlock()
	c.wakeReads()
	return done
}

func (c *Coordinator) wakeReads() {
	select {
	case c.readWake <- struct{}{}:
	default:
	}
}

// InstallDataflows topologically sorts descs by their upstream
// dependency, issues create_collections to the storage controller, then
// groups plans by instance and issues create_dataflows to the compute
// controller per instance.
func (c *Coordinator) InstallDataflows(ctx context.Context, descs []controller.CollectionDescription, plans []controller.DataflowPlan) error {
	sorted, err := topoSortByUpstream(descs)
	if err != nil {
		return fmt.Errorf("coord: install dataflows: %w", err)
	}
	if err := c.ctrl.Storage().CreateCollections(ctx, sorted); err != nil {
		return fmt.Errorf("coord: create collections: %w", err)
	}
	byInstance := make(map[ids.ShardId][]controller.DataflowPlan)
	var order []ids.ShardId
	for _, p := range plans {
		if _, ok := byInstance[p.InstanceId]; !ok {
			order = append(order, p.InstanceId)
		}
		byInstance[p.InstanceId] = append(byInstance[p.InstanceId], p)
	}
	for _, instanceId := range order {
		if err := c.ctrl.Compute().CreateDataflows(ctx, instanceId, byInstance[instanceId]); err != nil {
			return fmt.Errorf("coord: create dataflows for instance %s: %w", instanceId, err)
		}
	}
	return nil
}

// topoSortByUpstream orders descs so every collection with HasUpstream
// set appears after the collection it depends on. A cycle (which should
// never arise from a valid catalog) is reported rather than silently
// dropped.
func topoSortByUpstream(descs []controller.CollectionDescription) ([]controller.CollectionDescription, error) {
	byId := make(map[ids.ShardId]controller.CollectionDescription, len(descs))
	for _, d := range descs {
		byId[d.Id] = d
	}
	var out []controller.CollectionDescription
	visited := make(map[ids.ShardId]int) // 0 unvisited, 1 in-progress, 2 done
	var visit func(d controller.CollectionDescription) error
	visit = func(d controller.CollectionDescription) error {
		switch visited[d.Id] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("cycle detected at collection %s", d.Id)
		}
		visited[d.Id] = 1
		if d.HasUpstream {
			if up, ok := byId[d.Upstream]; ok {
				if err := visit(up); err != nil {
					return err
				}
			}
		}
		visited[d.Id] = 2
		out = append(out, d)
		return nil
	}
	for _, d := range descs {
		if err := visit(d); err != nil {
			return nil, err
		}
	}
	return out, nil
}
