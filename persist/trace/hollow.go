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

// Package trace implements the ordered ladder of HollowBatches that forms a
// shard's history (the "trace"), plus fuel-driven merge request generation
// and merge result application (the compaction engine).
package trace

import (
	"fmt"
	"slices"

	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// HollowBatch is a persistent description of a compacted file set: it
// references blob parts without inlining any row data.
type HollowBatch struct {
	Desc tstamp.Description
	// Parts is the ordered list of blob keys holding this batch's data.
	Parts []string
	// Len is the row count across all parts.
	Len uint64
	// Runs holds the index, into Parts, of each run boundary produced by a
	// multi-run compaction. A single-run batch leaves this nil.
	Runs []int
}

func (b HollowBatch) String() string {
	return fmt.Sprintf("HollowBatch%s{parts=%d,len=%d}", b.Desc, len(b.Parts), b.Len)
}

// Equal reports whether b and o reference the same parts over the same
// description. Two batches with equal descriptions but different Parts are
// not Equal: ApplyMergeRes relies on this to tell an original input batch
// apart from an output batch that happens to tile the same range.
func (b HollowBatch) Equal(o HollowBatch) bool {
	return b.Desc.Equal(o.Desc) && b.Len == o.Len &&
		slices.Equal(b.Parts, o.Parts) && slices.Equal(b.Runs, o.Runs)
}

// level buckets batches by a power-of-two row count for fuel accounting.
func level(rowCount uint64) int {
	lvl := 0
	for size := uint64(1); size < rowCount; size *= 2 {
		lvl++
	}
	return lvl
}
