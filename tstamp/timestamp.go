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

// Package tstamp defines the logical timestamp type and its antichain
// lattice, shared by the timestamp oracle, the shard state machine and the
// read capability manager.
package tstamp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Timestamp is a totally ordered, discrete logical time value, codable as 8
// bytes big-endian. It is never derived from a wall-clock Instant directly;
// oracles quantize wall-clock reads into Timestamp values.
type Timestamp uint64

// MaxTimestamp is the largest representable Timestamp.
const MaxTimestamp Timestamp = math.MaxUint64

// MinTimestamp is the smallest representable Timestamp.
const MinTimestamp Timestamp = 0

// Step returns the successor of t. ok is false if t is already MaxTimestamp.
func (t Timestamp) Step() (Timestamp, bool) {
	if t == MaxTimestamp {
		return t, false
	}
	return t + 1, true
}

// Less reports whether t < other.
func (t Timestamp) Less(other Timestamp) bool { return t < other }

// LessEqual reports whether t <= other.
func (t Timestamp) LessEqual(other Timestamp) bool { return t <= other }

func (t Timestamp) String() string { return fmt.Sprintf("%d", uint64(t)) }

// Encode writes t as 8 bytes big-endian.
func (t Timestamp) Encode() [8]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t))
	return buf
}

// DecodeTimestamp reads a Timestamp from 8 bytes big-endian.
func DecodeTimestamp(buf []byte) (Timestamp, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("tstamp: DecodeTimestamp: want 8 bytes, got %d", len(buf))
	}
	return Timestamp(binary.BigEndian.Uint64(buf)), nil
}

// Max returns the greater of a and b.
func Max(a, b Timestamp) Timestamp {
	if a > b {
		return a
	}
	return b
}

// Min returns the lesser of a and b.
func Min(a, b Timestamp) Timestamp {
	if a < b {
		return a
	}
	return b
}
