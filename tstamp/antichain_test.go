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

import "testing"

func TestAntichainLessEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Antichain
		want bool
	}{
		{"empty<=empty", Empty(), Empty(), true},
		{"empty!<=finite", Empty(), Single(5), false},
		{"finite<=empty", Single(5), Empty(), true},
		{"5<=10", Single(5), Single(10), true},
		{"10!<=5", Single(10), Single(5), false},
		{"5<=5", Single(5), Single(5), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.LessEqual(c.b); got != c.want {
				t.Fatalf("LessEqual(%s,%s) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestJoinMeet(t *testing.T) {
	if got := Join(Single(3), Single(7)); !got.Equal(Single(7)) {
		t.Fatalf("Join(3,7) = %s, want {7}", got)
	}
	if got := Join(Single(3), Empty()); !got.Equal(Empty()) {
		t.Fatalf("Join(3,{}) = %s, want {}", got)
	}
	if got := Meet(Single(3), Single(7)); !got.Equal(Single(3)) {
		t.Fatalf("Meet(3,7) = %s, want {3}", got)
	}
	if got := Meet(Single(3), Empty()); !got.Equal(Single(3)) {
		t.Fatalf("Meet(3,{}) = %s, want {3}", got)
	}
}

func TestMeetAllIdentityIsEmpty(t *testing.T) {
	if got := MeetAll(); !got.Equal(Empty()) {
		t.Fatalf("MeetAll() = %s, want {}", got)
	}
	got := MeetAll(Single(10), Single(3), Single(20))
	if !got.Equal(Single(3)) {
		t.Fatalf("MeetAll(10,3,20) = %s, want {3}", got)
	}
}

func TestDescriptionValidate(t *testing.T) {
	if _, err := NewDescription(Single(5), Single(3), Empty()); err == nil {
		t.Fatal("expected error for lower > upper")
	}
	if _, err := NewDescription(Single(0), Single(3), Single(5)); err == nil {
		t.Fatal("expected error for since > upper")
	}
	d, err := NewDescription(Single(0), Single(3), Single(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Empty() {
		t.Fatal("description should not be empty")
	}
}
