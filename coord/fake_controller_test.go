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
	"sync"
	"time"

	"github.com/sunjudev0213/materialize-sub000/config"
	"github.com/sunjudev0213/materialize-sub000/controller"
	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/metricsutil"
	"github.com/sunjudev0213/materialize-sub000/oracle"
	"github.com/sunjudev0213/materialize-sub000/readhold"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

type fakeStorage struct {
	mu                      sync.Mutex
	createCollectionsCalls  [][]controller.CollectionDescription
	appended                []controller.AppendRequest
}

func (s *fakeStorage) CreateCollections(ctx context.Context, descs []controller.CollectionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCollectionsCalls = append(s.createCollectionsCalls, descs)
	return nil
}

func (s *fakeStorage) DropSourcesUnvalidated(ctx context.Context, shards []ids.ShardId) error { return nil }
func (s *fakeStorage) DropSinksUnvalidated(ctx context.Context, shards []ids.ShardId) error    { return nil }

func (s *fakeStorage) Append(ctx context.Context, reqs []controller.AppendRequest) <-chan error {
	s.mu.Lock()
	s.appended = append(s.appended, reqs...)
	s.mu.Unlock()
	out := make(chan error, 1)
	out <- nil
	return out
}

func (s *fakeStorage) Snapshot(ctx context.Context, id ids.ShardId, ts tstamp.Timestamp) ([]controller.Row, error) {
	return nil, nil
}

type dataflowCall struct {
	instanceId ids.ShardId
	plans      []controller.DataflowPlan
}

type fakeCompute struct {
	mu                    sync.Mutex
	createDataflowsCalls  []dataflowCall
}

func (c *fakeCompute) CreateInstance(ctx context.Context, instanceId ids.ShardId, logIndexes []ids.ShardId, maxResultSize uint64) error {
	return nil
}

func (c *fakeCompute) CreateDataflows(ctx context.Context, instanceId ids.ShardId, plans []controller.DataflowPlan) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createDataflowsCalls = append(c.createDataflowsCalls, dataflowCall{instanceId: instanceId, plans: plans})
	return nil
}

func (c *fakeCompute) AddReplicaToInstance(ctx context.Context, instanceId, replicaId ids.ShardId, cfg controller.ReplicaConfig) error {
	return nil
}

type fakeController struct {
	storage *fakeStorage
	compute *fakeCompute
}

func newFakeController() *fakeController {
	return &fakeController{storage: &fakeStorage{}, compute: &fakeCompute{}}
}

func (f *fakeController) Storage() controller.Storage { return f.storage }
func (f *fakeController) Compute() controller.Compute { return f.compute }

func (f *fakeController) Ready(ctx context.Context) <-chan struct{} {
	return make(chan struct{})
}

func (f *fakeController) WatchServices(ctx context.Context) <-chan controller.ServiceEvent {
	return make(chan controller.ServiceEvent)
}

// newTestCoordinator wires a Coordinator against an in-memory oracle and a
// fresh read-hold manager, suitable for exercising dispatch logic without
// calling Run.
func newTestCoordinator(fc *fakeController) *Coordinator {
	clockVal := tstamp.Timestamp(1)
	o, err := oracle.New(context.Background(), &oracle.MemDurable{}, oracle.Fixed(&clockVal))
	if err != nil {
		panic(err)
	}
	cfg := config.CoordConfig{TimelineAdvanceInterval: 50 * time.Millisecond}
	return New(cfg, o, readhold.New(), fc, metricsutil.New())
}
