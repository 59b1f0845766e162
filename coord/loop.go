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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sunjudev0213/materialize-sub000/controller"
	"github.com/sunjudev0213/materialize-sub000/idlesampler"
	"github.com/sunjudev0213/materialize-sub000/ids"
)

// Run starts the coordinator's background pumps (controller event
// forwarding, the idle sampler, the timeline ticker) and then blocks
// running the dispatch loop until ctx is canceled or an unrecoverable
// pump error occurs.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	controllerEvents := c.ctrl.WatchServices(ctx)
	controllerReady := c.ctrl.Ready(ctx)

	g.Go(func() error { return c.sampler.Run(ctx) })

	ticker := time.NewTicker(c.timelineInterval())
	defer ticker.Stop()

	g.Go(func() error {
		return c.dispatchLoop(ctx, controllerEvents, controllerReady, ticker.C)
	})

	return g.Wait()
}

func (c *Coordinator) timelineInterval() time.Duration {
	if c.cfg.TimelineAdvanceInterval <= 0 {
		return time.Second
	}
	return c.cfg.TimelineAdvanceInterval
}

// dispatchLoop is the priority-biased select described in the coordinator
// loop design: on every iteration it first drains whichever of the eight
// event sources are ready, in priority order, handling exactly one event
// before re-checking from the top; only once nothing is immediately ready
// does it block, on all eight sources plus ctx, waiting for the next one.
func (c *Coordinator) dispatchLoop(
	ctx context.Context,
	controllerEvents <-chan controller.ServiceEvent,
	controllerReady <-chan struct{},
	timelineTick <-chan time.Time,
) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.tryDispatchOne(ctx, controllerEvents, controllerReady, timelineTick) {
			continue
		}
		if err := c.blockForOne(ctx, controllerEvents, controllerReady, timelineTick); err != nil {
			return err
		}
	}
}

// tryDispatchOne attempts a non-blocking receive on each event source in
// priority order, handling the first one it finds ready. It returns false
// only when every source was empty.
func (c *Coordinator) tryDispatchOne(
	ctx context.Context,
	controllerEvents <-chan controller.ServiceEvent,
	controllerReady <-chan struct{},
	timelineTick <-chan time.Time,
) bool {
	select {
	case cmd := <-c.internalQ:
		c.handleInternal(ctx, cmd)
		return true
	default:
	}
	select {
	case ev := <-controllerEvents:
		c.handleControllerEvent(ev)
		return true
	default:
	}
	select {
	case <-controllerReady:
		c.handleControllerReady()
		return true
	default:
	}
	select {
	case cmd := <-c.externalQ:
		c.handleExternal(ctx, cmd)
		return true
	default:
	}
	select {
	case <-c.readWake:
		c.onLinearizeReads()
		return true
	default:
	}
	select {
	case <-timelineTick:
		c.onTimelineAdvance(ctx)
		return true
	default:
	}
	select {
	case shard := <-c.consolidateQ:
		c.onConsolidate(ctx, shard)
		return true
	default:
	}
	select {
	case sample := <-c.sampler.C:
		c.onIdleSample(sample)
		return true
	default:
	}
	return false
}

// blockForOne blocks across every event source (Go's select has no
// inherent priority, but by construction it is only reached once
// tryDispatchOne has confirmed nothing is ready, so whichever source
// fires next is, by definition, the next event in real time).
func (c *Coordinator) blockForOne(
	ctx context.Context,
	controllerEvents <-chan controller.ServiceEvent,
	controllerReady <-chan struct{},
	timelineTick <-chan time.Time,
) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case cmd := <-c.internalQ:
		c.handleInternal(ctx, cmd)
	case ev := <-controllerEvents:
		c.handleControllerEvent(ev)
	case <-controllerReady:
		c.handleControllerReady()
	case cmd := <-c.externalQ:
		c.handleExternal(ctx, cmd)
	case <-c.readWake:
		c.onLinearizeReads()
	case <-timelineTick:
		c.onTimelineAdvance(ctx)
	case shard := <-c.consolidateQ:
		c.onConsolidate(ctx, shard)
	case sample := <-c.sampler.C:
		c.onIdleSample(sample)
	}
	return nil
}

func (c *Coordinator) handleInternal(ctx context.Context, cmd internalCmd) {
	switch ev := cmd.(type) {
	case groupCommitInitiate:
		c.onGroupCommitInitiate(ctx)
	case groupCommitApply:
		c.onGroupCommitApply(ev)
	case linearizeReads:
		c.onLinearizeReads()
	default:
		c.log.Warn("coord: unknown internal command", "type", cmd)
	}
}

func (c *Coordinator) handleControllerEvent(ev controller.ServiceEvent) {
	switch ev.Kind {
	case controller.FrontierAdvanced:
		c.holds.SetBasePolicy(ev.Id, ev.Upper)
	case controller.InstanceStatusChanged:
		c.log.Info("compute instance status changed", "instance", ev.Id, "healthy", ev.Healthy)
	}
}

func (c *Coordinator) handleControllerReady() {
	// The readiness signal only indicates WatchServices has buffered
	// events; those are consumed directly from controllerEvents, so
	// there is nothing further to do here beyond the log line below.
	c.log.Debug("controller reported pending events")
}

func (c *Coordinator) handleExternal(ctx context.Context, cmd controller.Command) {
	switch ev := cmd.(type) {
	case controller.Execute:
		if ev.ResponseTx != nil {
			ev.ResponseTx <- controller.Response{}
		}
	case controller.Cancel:
		c.log.Info("cancel requested", "conn", ev.ConnId)
	case controller.Terminate:
		c.log.Info("terminate requested", "conn", ev.ConnId)
	}
}

func (c *Coordinator) onTimelineAdvance(ctx context.Context) {
	c.wakeReads()
}

func (c *Coordinator) onConsolidate(ctx context.Context, shard ids.ShardId) {
	c.machinesMu.Lock()
	m, ok := c.machines[shard]
	c.machinesMu.Unlock()
	if !ok {
		c.log.Warn("consolidation requested for unregistered shard", "shard", shard)
		return
	}
	if err := m.MaybeAddRollup(ctx, 0); err != nil {
		c.log.Warn("consolidation pass failed", "shard", shard, "err", err)
	}
}

func (c *Coordinator) onIdleSample(s idlesampler.Sample) {
	c.lastIdle = s
}
