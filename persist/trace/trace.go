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

package trace

import (
	"fmt"

	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// DefaultSizeThreshold and DefaultFuelMultiplier are the implementation's
// choice of merge-request constants; the spec requires only that requests
// eventually issue and never cross the since horizon (§4.D, §9 Open
// Questions).
const (
	DefaultSizeThreshold  = 1 << 20 // rows
	DefaultFuelMultiplier = 1
)

// FueledMergeReq asks a compaction worker to merge Inputs (a contiguous run
// of adjacent batches) into one output batch.
type FueledMergeReq struct {
	ID     uint64
	Inputs []HollowBatch
}

// FueledMergeRes is a compactor's candidate output for a FueledMergeReq.
// Inputs echoes the request's input batches so ApplyMergeRes can tell an
// exact application from a subset one.
type FueledMergeRes struct {
	Output HollowBatch
	Inputs []HollowBatch
}

// MergeResult classifies the outcome of applying a FueledMergeRes.
type MergeResult int

const (
	NotAppliedNoMatch MergeResult = iota
	NotAppliedInvalidSince
	AppliedExact
	AppliedSubset
)

func (r MergeResult) Applied() bool {
	return r == AppliedExact || r == AppliedSubset
}

func (r MergeResult) String() string {
	switch r {
	case NotAppliedNoMatch:
		return "NotAppliedNoMatch"
	case NotAppliedInvalidSince:
		return "NotAppliedInvalidSince"
	case AppliedExact:
		return "AppliedExact"
	case AppliedSubset:
		return "AppliedSubset"
	default:
		return "Unknown"
	}
}

// Trace is the ordered ladder of HollowBatches forming one shard's history.
// Batches tile [-inf, upper) without gap or overlap and all share since.
type Trace struct {
	since tstamp.Antichain
	upper tstamp.Antichain

	batches []HollowBatch
	fuel    map[int]uint64

	sizeThreshold  uint64
	fuelMultiplier uint64
	nextReqID      uint64
}

// New returns an empty Trace spanning [-inf, 0).
func New() *Trace {
	return NewWithFuelParams(DefaultSizeThreshold, DefaultFuelMultiplier)
}

// NewWithFuelParams returns an empty Trace with explicit merge-request
// tuning constants.
func NewWithFuelParams(sizeThreshold, fuelMultiplier uint64) *Trace {
	return &Trace{
		// since starts at the lattice bottom (the earliest readable point),
		// not Empty: Empty is the absorbing top element ("closed forever"),
		// and starting there would make every batch look immediately
		// compactable and make the first DowngradeSince a permanent no-op.
		since:          tstamp.Single(tstamp.MinTimestamp),
		upper:          tstamp.Single(tstamp.MinTimestamp),
		fuel:           make(map[int]uint64),
		sizeThreshold:  sizeThreshold,
		fuelMultiplier: fuelMultiplier,
	}
}

// Since returns the trace's current since frontier.
func (t *Trace) Since() tstamp.Antichain { return t.since }

// Upper returns the trace's current upper frontier.
func (t *Trace) Upper() tstamp.Antichain { return t.upper }

// Batches returns the trace's batches in order. Callers must not mutate the
// returned slice.
func (t *Trace) Batches() []HollowBatch { return t.batches }

// PushBatch appends batch at the trace's current upper, advances the upper,
// and returns any FueledMergeReqs the new batch's presence makes ready.
func (t *Trace) PushBatch(batch HollowBatch) ([]FueledMergeReq, error) {
	if !batch.Desc.Lower.Equal(t.upper) {
		return nil, fmt.Errorf("trace: PushBatch: batch lower %s does not meet trace upper %s", batch.Desc.Lower, t.upper)
	}
	if !batch.Desc.Since.LessEqual(t.since) {
		return nil, fmt.Errorf("trace: PushBatch: batch since %s is ahead of trace since %s", batch.Desc.Since, t.since)
	}
	t.batches = append(t.batches, batch)
	t.upper = batch.Desc.Upper
	return t.collectReadyRequests(), nil
}

// DowngradeSince advances the trace's since frontier. A request to move
// since backwards is a no-op, not an error (mirrors the reader-since
// invariant in §8).
func (t *Trace) DowngradeSince(newSince tstamp.Antichain) []FueledMergeReq {
	if newSince.LessEqual(t.since) {
		return nil
	}
	t.since = newSince
	return t.collectReadyRequests()
}

// collectReadyRequests scans all adjacent same-level batch pairs below the
// since horizon, accumulates fuel, and emits requests for any pair whose
// fuel has crossed the threshold.
func (t *Trace) collectReadyRequests() []FueledMergeReq {
	var reqs []FueledMergeReq
	for i := 0; i+1 < len(t.batches); i++ {
		prev, cur := t.batches[i], t.batches[i+1]
		lvl := level(prev.Len)
		if lvl != level(cur.Len) {
			continue
		}
		if !prev.Desc.Upper.LessEqual(t.since) || !cur.Desc.Upper.LessEqual(t.since) {
			continue
		}
		combined := prev.Len + cur.Len
		threshold := t.fuelMultiplier * max64(combined, 1)
		fuel := t.fuel[lvl] + max64(combined, 1)
		if fuel < threshold {
			t.fuel[lvl] = fuel
			continue
		}
		t.fuel[lvl] = 0
		t.nextReqID++
		reqs = append(reqs, FueledMergeReq{
			ID:     t.nextReqID,
			Inputs: []HollowBatch{prev, cur},
		})
	}
	return reqs
}

// ApplyMergeRes splices a compactor's output batch in place of the
// contiguous run of inputs it covers. See MergeResult for the outcome
// taxonomy; a caller receiving anything other than AppliedExact or
// AppliedSubset must delete the output blobs to avoid leaking them.
func (t *Trace) ApplyMergeRes(res FueledMergeRes) MergeResult {
	if !res.Output.Desc.Since.LessEqual(t.since) {
		return NotAppliedInvalidSince
	}
	i, j, ok := t.findRun(res.Output.Desc.Lower, res.Output.Desc.Upper, res.Inputs)
	if !ok {
		return NotAppliedNoMatch
	}
	matched := j - i
	newBatches := make([]HollowBatch, 0, len(t.batches)-matched+1)
	newBatches = append(newBatches, t.batches[:i]...)
	newBatches = append(newBatches, res.Output)
	newBatches = append(newBatches, t.batches[j:]...)
	t.batches = newBatches
	if matched == len(res.Inputs) {
		return AppliedExact
	}
	return AppliedSubset
}

// findRun locates the contiguous run of batches exactly tiling
// [lower, upper) whose contents also appear, in order, as a contiguous
// subrun of inputs; since the trace always tiles without gaps, the tiling
// search itself is a linear scan, never a graph search (§9 Design Notes).
//
// Checking tiling alone is not enough: once a FueledMergeRes has landed,
// its own output batch tiles the exact same [lower, upper) range the
// original request did, so a second application of the same res would
// otherwise match trivially against the batch it just produced. Requiring
// the matched run's batches to equal a subrun of res.Inputs rules that
// out, since the output batch is never itself one of its own inputs.
func (t *Trace) findRun(lower, upper tstamp.Antichain, inputs []HollowBatch) (start, end int, ok bool) {
	for i := range t.batches {
		if !t.batches[i].Desc.Lower.Equal(lower) {
			continue
		}
		for j := i + 1; j <= len(t.batches); j++ {
			if t.batches[j-1].Desc.Upper.Equal(upper) {
				if isInputSubrun(t.batches[i:j], inputs) {
					return i, j, true
				}
				break
			}
			if !t.batches[j-1].Desc.Upper.LessEqual(upper) {
				break
			}
		}
		return 0, 0, false
	}
	return 0, 0, false
}

// isInputSubrun reports whether run appears, in order, as a contiguous span
// of inputs.
func isInputSubrun(run, inputs []HollowBatch) bool {
	if len(run) == 0 || len(run) > len(inputs) {
		return false
	}
	for start := 0; start+len(run) <= len(inputs); start++ {
		match := true
		for k := range run {
			if !run[k].Equal(inputs[start+k]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe for divergent independent mutation (needed
// by State.DeepClone when a machine hands a caller its own copy of the
// in-memory state to apply speculative local commands against).
func (t *Trace) Clone() *Trace {
	clone := &Trace{
		since:          t.since,
		upper:          t.upper,
		batches:        append([]HollowBatch(nil), t.batches...),
		fuel:           make(map[int]uint64, len(t.fuel)),
		sizeThreshold:  t.sizeThreshold,
		fuelMultiplier: t.fuelMultiplier,
		nextReqID:      t.nextReqID,
	}
	for k, v := range t.fuel {
		clone.fuel[k] = v
	}
	return clone
}

// gobTrace mirrors Trace's unexported fields with exported ones so it can
// round-trip through encoding/gob, which never sees unexported fields.
type gobTrace struct {
	Since          tstamp.Antichain
	Upper          tstamp.Antichain
	Batches        []HollowBatch
	Fuel           map[int]uint64
	SizeThreshold  uint64
	FuelMultiplier uint64
	NextReqID      uint64
}

func (t *Trace) GobEncode() ([]byte, error) {
	return gobEncode(gobTrace{
		Since:          t.since,
		Upper:          t.upper,
		Batches:        t.batches,
		Fuel:           t.fuel,
		SizeThreshold:  t.sizeThreshold,
		FuelMultiplier: t.fuelMultiplier,
		NextReqID:      t.nextReqID,
	})
}

func (t *Trace) GobDecode(data []byte) error {
	var g gobTrace
	if err := gobDecode(data, &g); err != nil {
		return err
	}
	t.since = g.Since
	t.upper = g.Upper
	t.batches = g.Batches
	t.fuel = g.Fuel
	t.sizeThreshold = g.SizeThreshold
	t.fuelMultiplier = g.FuelMultiplier
	t.nextReqID = g.NextReqID
	return nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
