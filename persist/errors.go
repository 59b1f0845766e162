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

package persist

import (
	"errors"
	"fmt"

	"github.com/sunjudev0213/materialize-sub000/tstamp"
)

// InvalidUsageError signals that a command violates a static contract (bad
// bounds, mismatched codecs, an unregistered reader/writer). It is never
// retried; it is surfaced to the caller as-is.
type InvalidUsageError struct {
	Msg string
}

func (e *InvalidUsageError) Error() string { return "invalid usage: " + e.Msg }

func invalidUsagef(format string, args ...interface{}) *InvalidUsageError {
	return &InvalidUsageError{Msg: fmt.Sprintf(format, args...)}
}

// UpperMismatchError is returned by CompareAndAppend when the batch's lower
// does not meet the shard's current upper.
type UpperMismatchError struct {
	ShardUpper  tstamp.Antichain
	WriterUpper tstamp.Antichain
}

func (e *UpperMismatchError) Error() string {
	return fmt.Sprintf("upper mismatch: shard_upper=%s writer_upper=%s", e.ShardUpper, e.WriterUpper)
}

// ErrAlreadyCommitted is returned by CompareAndAppend when the supplied
// idempotency token matches the writer's already-recorded token: the
// append is an idempotent replay of a commit that already landed.
var ErrAlreadyCommitted = errors.New("persist: already committed")

// ErrOpaqueMismatch is returned by CompareAndDowngradeSince when the
// supplied expected opaque token does not match the critical reader's
// current one.
var ErrOpaqueMismatch = errors.New("persist: opaque token mismatch")

// SinceError is a domain error: the requested operation is outside the
// shard's currently readable window.
type SinceError struct {
	Since     tstamp.Antichain
	Requested tstamp.Antichain
}

func (e *SinceError) Error() string {
	return fmt.Sprintf("since error: requested %s is before since %s", e.Requested, e.Since)
}

// UpperError is a domain error: the requested as-of is not yet determined.
type UpperError struct {
	Upper     tstamp.Antichain
	Requested tstamp.Antichain
}

func (e *UpperError) Error() string {
	return fmt.Sprintf("upper error: requested %s is at or past upper %s", e.Requested, e.Upper)
}
