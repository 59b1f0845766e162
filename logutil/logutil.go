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

// Package logutil wires the coordinator's structured logging through the
// same logger the rest of the teacher stack uses, so shard, coordinator
// and source-reader logs interleave with the rest of a deployment's log
// stream instead of going through a second, incompatible logging path.
package logutil

import (
	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/sunjudev0213/materialize-sub000/ids"
)

// New returns the root logger for a coordinator process, tagged with its
// component name.
func New(component string) log.Logger {
	return log.Root().New("component", component)
}

// ForShard returns a logger scoped to one shard, so every log line from its
// Machine and Trace can be filtered by shard id in aggregate log tooling.
func ForShard(l log.Logger, shard ids.ShardId) log.Logger {
	return l.New("shard", shard.String())
}

// ForWriter and ForReader scope a logger further to one writer or reader id.
func ForWriter(l log.Logger, id ids.WriterId) log.Logger {
	return l.New("writer", id.String())
}

func ForReader(l log.Logger, id ids.ReaderId) log.Logger {
	return l.New("reader", id.String())
}
