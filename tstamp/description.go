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

// Description is the triple (lower, upper, since) attached to every batch:
// lower <= upper, since <= upper, in the product order.
type Description struct {
	Lower Antichain
	Upper Antichain
	Since Antichain
}

// NewDescription validates and constructs a Description.
func NewDescription(lower, upper, since Antichain) (Description, error) {
	d := Description{Lower: lower, Upper: upper, Since: since}
	if err := d.Validate(); err != nil {
		return Description{}, err
	}
	return d, nil
}

// Validate checks the Description invariant: lower <= upper, since <= upper.
func (d Description) Validate() error {
	if !d.Lower.LessEqual(d.Upper) {
		return fmt.Errorf("tstamp: invalid description: lower %s is not <= upper %s", d.Lower, d.Upper)
	}
	if !d.Since.LessEqual(d.Upper) {
		return fmt.Errorf("tstamp: invalid description: since %s is not <= upper %s", d.Since, d.Upper)
	}
	return nil
}

// Empty reports whether the description spans no timestamps at all.
func (d Description) Empty() bool { return d.Lower.Equal(d.Upper) }

// Equal reports whether d and o describe the same range and since.
func (d Description) Equal(o Description) bool {
	return d.Lower.Equal(o.Lower) && d.Upper.Equal(o.Upper) && d.Since.Equal(o.Since)
}

func (d Description) String() string {
	return fmt.Sprintf("[%s, %s)@%s", d.Lower, d.Upper, d.Since)
}
