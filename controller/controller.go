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

// Package controller defines the coordinator's view of its two external
// collaborators, the storage and compute controllers, plus the opaque
// session-layer Command union the coordinator dispatches. The core
// engine in this module never implements these services itself; it only
// calls them. See controller/grpcclient for a concrete transport.
package controller

import (
	"context"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// CollectionDescription is the static shape the storage controller needs
// to stand up a new source, table, or materialized-view sink.
type CollectionDescription struct {
	Id       ids.ShardId
	KeyCodec string
	ValCodec string
	// Upstream, when HasUpstream is set, names the collection this one
	// ingests from (a materialized-view sink's input); HasUpstream is false
	// for a base source/table.
	Upstream ids.ShardId
	HasUpstream bool
}

// AppendRequest is one collection's contribution to a group-committed
// write: the rows to append and the upper the caller expects to advance
// to once they land.
type AppendRequest struct {
	Id     ids.ShardId
	Rows   []Row
	Upper  tstamp.Antichain
}

// Row is one update row crossing the controller boundary: an encoded key
// and value plus a signed multiplicity (diff), matching the shard's own
// key/val/diff codecs.
type Row struct {
	Key  []byte
	Val  []byte
	Diff int64
}

// DataflowPlan is an opaque compiled dataflow description the compute
// controller knows how to render into a running computation; this
// module treats its contents as a transport payload, not something it
// interprets.
type DataflowPlan struct {
	InstanceId ids.ShardId
	Id         ids.ShardId
	Plan       []byte
}

// ReplicaConfig describes the resources a compute replica should run
// with; left intentionally sparse since sizing policy lives outside this
// module's scope.
type ReplicaConfig struct {
	Size string
}

// Storage is the coordinator's handle onto the storage controller: the
// component responsible for actually running source ingestion and
// sink/table writes against the collections this module tracks the
// metadata for.
type Storage interface {
	CreateCollections(ctx context.Context, descs []CollectionDescription) error
	DropSourcesUnvalidated(ctx context.Context, ids []ids.ShardId) error
	DropSinksUnvalidated(ctx context.Context, ids []ids.ShardId) error
	// Append submits a group-committed batch and returns a future-like
	// channel that receives exactly one error (nil on success) once the
	// controller has durably recorded it.
	Append(ctx context.Context, reqs []AppendRequest) <-chan error
	Snapshot(ctx context.Context, id ids.ShardId, ts tstamp.Timestamp) ([]Row, error)
}

// Compute is the coordinator's handle onto the compute controller: the
// component that actually renders dataflow plans for indexes and
// materialized views and reports their progress back as frontier
// advances (consumed through WatchServices, not this interface).
type Compute interface {
	CreateInstance(ctx context.Context, instanceId ids.ShardId, logIndexes []ids.ShardId, maxResultSize uint64) error
	CreateDataflows(ctx context.Context, instanceId ids.ShardId, plans []DataflowPlan) error
	AddReplicaToInstance(ctx context.Context, instanceId, replicaId ids.ShardId, cfg ReplicaConfig) error
}

// ServiceEventKind discriminates ServiceEvent payloads.
type ServiceEventKind int

const (
	FrontierAdvanced ServiceEventKind = iota
	InstanceStatusChanged
)

// ServiceEvent is one item from WatchServices: either a collection's
// upper advancing, or a compute instance's health status changing.
type ServiceEvent struct {
	Kind     ServiceEventKind
	Id       ids.ShardId
	Upper    tstamp.Antichain
	Healthy  bool
}

// Controller bundles the storage and compute collaborators plus the two
// event sources the coordinator's select loop polls: Ready (a
// composable "next event is available" signal) and WatchServices (the
// actual event stream once Ready fires).
type Controller interface {
	Storage() Storage
	Compute() Compute
	// Ready returns a channel that receives once whenever WatchServices
	// has at least one event buffered; the coordinator treats a read
	// from it as "safe to call WatchServices without blocking long".
	Ready(ctx context.Context) <-chan struct{}
	WatchServices(ctx context.Context) <-chan ServiceEvent
}

// Command is the opaque union of requests arriving from the SQL/session
// layer; this module never inspects Plan's contents, only dispatches it.
type Command interface {
	isCommand()
}

// Execute asks the coordinator to run plan on behalf of session,
// delivering exactly one Response on ResponseTx.
type Execute struct {
	Session     string
	Plan        []byte
	ResponseTx  chan<- Response
}

func (Execute) isCommand() {}

// Cancel requests that an in-flight Execute for conn_id be aborted, only
// if secret_key matches the one the session was issued at connect time.
type Cancel struct {
	ConnId    string
	SecretKey string
}

func (Cancel) isCommand() {}

// Terminate tears down every resource held for conn_id (portals,
// transactions, held locks) without expecting a response.
type Terminate struct {
	ConnId string
}

func (Terminate) isCommand() {}

// Response is the opaque result of an Execute, handed back through its
// ResponseTx exactly once.
type Response struct {
	Err  error
	Rows []Row
}
