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

// Package grpcclient implements controller.Controller as a gRPC client
// against a remote storage/compute controller process, using the raw
// ClientConn API (no .proto-generated stubs) with a gob wire codec
// registered in codec.go.
package grpcclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/sunjudev0213/materialize-sub000/controller"
	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/logutil"
	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

const serviceName = "/materialize.controller.Controller/"

// Client is a controller.Controller backed by a single gRPC connection.
// Every call uses the gob content subtype registered by codec.go.
type Client struct {
	conn *grpc.ClientConn
	log  interface {
		Warn(msg string, ctx ...interface{})
	}
}

// Dial connects to a controller process at target. keepalive bounds how
// long an idle connection is kept open before gRPC's own health checking
// tears it down; it is sent to the server as a durationpb.Duration, the
// one place this client exercises a protobuf well-known type directly
// rather than the gob codec.
func Dial(ctx context.Context, target string, keepalive time.Duration, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcclient: dial %s: %w", target, err)
	}
	c := &Client{conn: conn, log: logutil.New("grpcclient")}
	if err := c.handshake(ctx, keepalive); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context, keepalive time.Duration) error {
	req := &durationpb.Duration{Seconds: int64(keepalive.Seconds())}
	var resp struct{ OK bool }
	return c.invoke(ctx, "Handshake", req, &resp)
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, serviceName+method, req, resp, grpc.CallContentSubtype(codecName))
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Storage() controller.Storage { return storageClient{c} }
func (c *Client) Compute() controller.Compute { return computeClient{c} }

// Ready polls the server's readiness RPC once per interval and forwards
// a signal to the returned channel whenever it reports pending events;
// the coordinator's select loop treats a read as "WatchServices has
// something buffered".
func (c *Client) Ready(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var resp struct{ Pending bool }
				if err := c.invoke(ctx, "Ready", &struct{}{}, &resp); err != nil {
					c.log.Warn("ready poll failed", "err", err)
					continue
				}
				if resp.Pending {
					select {
					case out <- struct{}{}:
					default:
					}
				}
			}
		}
	}()
	return out
}

// WatchServices opens a server-streaming RPC and decodes each frame as a
// controller.ServiceEvent until the stream ends or ctx is canceled.
func (c *Client) WatchServices(ctx context.Context) <-chan controller.ServiceEvent {
	out := make(chan controller.ServiceEvent, 16)
	go func() {
		defer close(out)
		stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "WatchServices", ServerStreams: true},
			serviceName+"WatchServices", grpc.CallContentSubtype(codecName))
		if err != nil {
			c.log.Warn("watch services stream failed to open", "err", err)
			return
		}
		if err := stream.SendMsg(&struct{}{}); err != nil {
			c.log.Warn("watch services initial send failed", "err", err)
			return
		}
		if err := stream.CloseSend(); err != nil {
			c.log.Warn("watch services close send failed", "err", err)
		}
		for {
			var ev controller.ServiceEvent
			if err := stream.RecvMsg(&ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type storageClient struct{ c *Client }

func (s storageClient) CreateCollections(ctx context.Context, descs []controller.CollectionDescription) error {
	var resp struct{}
	return s.c.invoke(ctx, "CreateCollections", descs, &resp)
}

func (s storageClient) DropSourcesUnvalidated(ctx context.Context, shards []ids.ShardId) error {
	var resp struct{}
	return s.c.invoke(ctx, "DropSourcesUnvalidated", shards, &resp)
}

func (s storageClient) DropSinksUnvalidated(ctx context.Context, shards []ids.ShardId) error {
	var resp struct{}
	return s.c.invoke(ctx, "DropSinksUnvalidated", shards, &resp)
}

func (s storageClient) Append(ctx context.Context, reqs []controller.AppendRequest) <-chan error {
	out := make(chan error, 1)
	go func() {
		var resp struct{}
		out <- s.c.invoke(ctx, "Append", reqs, &resp)
	}()
	return out
}

func (s storageClient) Snapshot(ctx context.Context, id ids.ShardId, ts tstamp.Timestamp) ([]controller.Row, error) {
	req := struct {
		Id ids.ShardId
		Ts tstamp.Timestamp
	}{id, ts}
	var resp []controller.Row
	if err := s.c.invoke(ctx, "Snapshot", req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

type computeClient struct{ c *Client }

func (cc computeClient) CreateInstance(ctx context.Context, instanceId ids.ShardId, logIndexes []ids.ShardId, maxResultSize uint64) error {
	req := struct {
		InstanceId    ids.ShardId
		LogIndexes    []ids.ShardId
		MaxResultSize uint64
	}{instanceId, logIndexes, maxResultSize}
	var resp struct{}
	return cc.c.invoke(ctx, "CreateInstance", req, &resp)
}

func (cc computeClient) CreateDataflows(ctx context.Context, instanceId ids.ShardId, plans []controller.DataflowPlan) error {
	req := struct {
		InstanceId ids.ShardId
		Plans      []controller.DataflowPlan
	}{instanceId, plans}
	var resp struct{}
	return cc.c.invoke(ctx, "CreateDataflows", req, &resp)
}

func (cc computeClient) AddReplicaToInstance(ctx context.Context, instanceId, replicaId ids.ShardId, cfg controller.ReplicaConfig) error {
	req := struct {
		InstanceId ids.ShardId
		ReplicaId  ids.ShardId
		Config     controller.ReplicaConfig
	}{instanceId, replicaId, cfg}
	var resp struct{}
	return cc.c.invoke(ctx, "AddReplicaToInstance", req, &resp)
}
