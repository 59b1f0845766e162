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

// Package idlesampler feeds the coordinator loop's lowest-priority event
// source: a periodic host CPU/memory sample the loop only dispatches when
// nothing else is pending. The coordinator records the latest sample; no
// scheduling decision in this module consults Sample.Idle.
package idlesampler

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is one host-resource reading.
type Sample struct {
	CPUPercent  float64
	MemoryUsedPercent float64
}

// Idle reports whether the host has enough spare capacity to run
// low-priority maintenance work without visibly competing with the
// coordinator's real workload.
func (s Sample) Idle() bool {
	return s.CPUPercent < 70 && s.MemoryUsedPercent < 85
}

// Sampler periodically reads host CPU and memory usage and publishes the
// latest Sample on C. The coordinator loop's select only reads from C when
// every higher-priority channel is empty.
type Sampler struct {
	C        chan Sample
	interval time.Duration
}

// New builds a sampler at the given interval. Run must be called to begin
// sampling; New alone only allocates.
func New(interval time.Duration) *Sampler {
	return &Sampler{C: make(chan Sample, 1), interval: interval}
}

// Run samples until ctx is canceled. It drops a sample rather than
// blocking if the coordinator hasn't drained the previous one yet, since a
// stale idle reading is harmless and better than stalling the sampler.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sample, err := read(ctx)
			if err != nil {
				continue
			}
			select {
			case s.C <- sample:
			default:
			}
		}
	}
}

func read(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, err
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}
	return Sample{CPUPercent: cpuPct, MemoryUsedPercent: vm.UsedPercent}, nil
}
