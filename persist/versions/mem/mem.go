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

// Package mem implements in-process, mutex-guarded Consensus and Blob
// fakes. They back every test in this module that needs real
// compare-and-set semantics without a network round trip, and double as
// the reference implementation a new real backend should behave
// identically to.
package mem

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/persist/versions"
)

// ErrInjectedIndeterminate is returned by Consensus.CompareAndSet when a
// test has armed a fault via InjectIndeterminate, standing in for an
// underlying store whose call timed out or otherwise returned without
// revealing whether the write landed. The armed attempt itself never
// touches the row log, so a caller retrying afterward observes exactly
// the same pre-attempt state it would against a real indeterminate store.
var ErrInjectedIndeterminate = errors.New("mem: injected indeterminate failure")

// Consensus is an in-memory versions.Consensus backed by a per-shard row
// log, guarded by a single mutex. It is intentionally simple, not sharded,
// since it exists for tests and local development, not production scale.
type Consensus struct {
	mu              sync.Mutex
	rows            map[ids.ShardId][]versions.VersionedData
	faults          map[ids.ShardId]int
	committedFaults map[ids.ShardId]int
}

func NewConsensus() *Consensus {
	return &Consensus{rows: make(map[ids.ShardId][]versions.VersionedData)}
}

// InjectIndeterminate arms the next n CompareAndSet calls against shard to
// return ErrInjectedIndeterminate instead of attempting the write, letting
// a test exercise the Indeterminate retry paths in persist/machine without
// a real flaky store.
func (c *Consensus) InjectIndeterminate(shard ids.ShardId, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faults == nil {
		c.faults = make(map[ids.ShardId]int)
	}
	c.faults[shard] += n
}

// InjectIndeterminateAfterCommit arms the next n CompareAndSet calls
// against shard to perform the write for real and then still return
// ErrInjectedIndeterminate, simulating a store whose write landed but
// whose acknowledgement never reached the caller. This is the genuinely
// ambiguous case InjectIndeterminate cannot produce on its own: a caller
// retrying afterward must discover the prior attempt's effects are
// already visible, not assume they never happened.
func (c *Consensus) InjectIndeterminateAfterCommit(shard ids.ShardId, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committedFaults == nil {
		c.committedFaults = make(map[ids.ShardId]int)
	}
	c.committedFaults[shard] += n
}

func (c *Consensus) Head(_ context.Context, shard ids.ShardId) (versions.VersionedData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := c.rows[shard]
	if len(rows) == 0 {
		return versions.VersionedData{}, false, nil
	}
	return rows[len(rows)-1], true, nil
}

func (c *Consensus) ScanFrom(_ context.Context, shard ids.ShardId, from ids.SeqNo) ([]versions.VersionedData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := c.rows[shard]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].SeqNo >= from })
	out := make([]versions.VersionedData, len(rows)-i)
	copy(out, rows[i:])
	return out, nil
}

func (c *Consensus) CompareAndSet(_ context.Context, shard ids.ShardId, expected ids.SeqNo, new_ versions.VersionedData) (versions.VersionedData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faults[shard] > 0 {
		c.faults[shard]--
		return versions.VersionedData{}, false, ErrInjectedIndeterminate
	}
	rows := c.rows[shard]
	var currentSeqNo ids.SeqNo
	if len(rows) > 0 {
		currentSeqNo = rows[len(rows)-1].SeqNo
	}
	if len(rows) == 0 && expected != 0 {
		return versions.VersionedData{}, false, nil
	}
	if len(rows) > 0 && currentSeqNo != expected {
		return rows[len(rows)-1], false, nil
	}
	c.rows[shard] = append(rows, new_)
	if c.committedFaults[shard] > 0 {
		c.committedFaults[shard]--
		return versions.VersionedData{}, false, ErrInjectedIndeterminate
	}
	return new_, true, nil
}

func (c *Consensus) Truncate(_ context.Context, shard ids.ShardId, before ids.SeqNo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := c.rows[shard]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].SeqNo >= before })
	c.rows[shard] = append([]versions.VersionedData(nil), rows[i:]...)
	return nil
}

// Blob is an in-memory versions.Blob backed by a plain map.
type Blob struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewBlob() *Blob {
	return &Blob{data: make(map[string][]byte)}
}

func (b *Blob) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *Blob) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), value...)
	return nil
}

func (b *Blob) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *Blob) List(_ context.Context, keyPrefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k := range b.data {
		if strings.HasPrefix(k, keyPrefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
