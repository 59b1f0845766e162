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

package tstamp

import "fmt"

// Antichain is a finite set of pairwise-incomparable Timestamps. Because
// Timestamp is totally ordered, any two distinct elements are always
// comparable, so a valid Antichain over Timestamp has at most one element.
// The empty Antichain represents "closed forever" (the absorbing top
// element of the frontier lattice): no Timestamp is, or ever will be,
// outstanding at or past it.
type Antichain struct {
	// set is true iff the antichain holds a single element (val).
	set bool
	val Timestamp
}

// Empty returns the closed-forever antichain.
func Empty() Antichain { return Antichain{} }

// Single returns the antichain holding exactly t.
func Single(t Timestamp) Antichain { return Antichain{set: true, val: t} }

// IsEmpty reports whether a is the closed-forever antichain.
func (a Antichain) IsEmpty() bool { return !a.set }

// Elem returns the single element of a and true, or the zero Timestamp and
// false if a is empty.
func (a Antichain) Elem() (Timestamp, bool) { return a.val, a.set }

// MustElem returns the single element of a, panicking if a is empty. Callers
// must only use this once IsEmpty has been checked, analogous to how the
// trace never dereferences an empty upper.
func (a Antichain) MustElem() Timestamp {
	if !a.set {
		panic("tstamp: MustElem called on empty antichain")
	}
	return a.val
}

// LessEqual reports whether a is a less-or-equally advanced frontier than
// b: every finite frontier is <= the empty (closed-forever) frontier, and
// the empty frontier is <= only itself.
func (a Antichain) LessEqual(b Antichain) bool {
	switch {
	case a.IsEmpty() && b.IsEmpty():
		return true
	case a.IsEmpty():
		return false
	case b.IsEmpty():
		return true
	default:
		return a.val <= b.val
	}
}

// Less reports whether a is strictly less advanced than b.
func (a Antichain) Less(b Antichain) bool {
	return a.LessEqual(b) && !a.Equal(b)
}

// Equal reports whether a and b denote the same frontier.
func (a Antichain) Equal(b Antichain) bool {
	return a.set == b.set && (!a.set || a.val == b.val)
}

// Join computes the lattice join (least upper bound) of a and b: the more
// advanced of the two frontiers. Used when a collection's upper is extended
// by a new batch.
func Join(a, b Antichain) Antichain {
	switch {
	case a.IsEmpty() || b.IsEmpty():
		return Empty()
	default:
		return Single(Max(a.val, b.val))
	}
}

// Meet computes the lattice meet (greatest lower bound) of a and b: the
// less advanced of the two frontiers. Used to combine multiple readers'
// since holds into the effective since.
func Meet(a, b Antichain) Antichain {
	switch {
	case a.IsEmpty():
		return b
	case b.IsEmpty():
		return a
	default:
		return Single(Min(a.val, b.val))
	}
}

// MeetAll folds Meet over holds, returning Empty for a nil/empty slice
// (meet's identity element, i.e. "no constraint yet").
func MeetAll(holds ...Antichain) Antichain {
	out := Empty()
	for _, h := range holds {
		out = Meet(out, h)
	}
	return out
}

// GobEncode and GobDecode let Antichain round-trip through gob despite its
// fields being unexported: StateDiff's envelope (persist/versions) is
// gob-encoded wholesale, and every Description embeds three Antichains.
func (a Antichain) GobEncode() ([]byte, error) {
	if a.IsEmpty() {
		return []byte{0}, nil
	}
	buf := a.val.Encode()
	return append([]byte{1}, buf[:]...), nil
}

func (a *Antichain) GobDecode(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("tstamp: GobDecode: empty payload")
	}
	if data[0] == 0 {
		*a = Empty()
		return nil
	}
	t, err := DecodeTimestamp(data[1:])
	if err != nil {
		return err
	}
	*a = Single(t)
	return nil
}

func (a Antichain) String() string {
	if a.IsEmpty() {
		return "{}"
	}
	return "{" + a.val.String() + "}"
}
