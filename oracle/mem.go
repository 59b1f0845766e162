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

package oracle

import (
	"context"
	"sync"

	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// MemDurable is an in-process Durable, for tests and local development.
type MemDurable struct {
	mu  sync.Mutex
	hwm tstamp.Timestamp
}

func (d *MemDurable) Load(_ context.Context) (tstamp.Timestamp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hwm, nil
}

func (d *MemDurable) Store(_ context.Context, ts tstamp.Timestamp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hwm = ts
	return nil
}
