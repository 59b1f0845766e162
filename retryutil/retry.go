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

// Package retryutil centralizes the two retry shapes the rest of this
// module needs: retrying a call against an external system that may be
// down (RetryExternal, unbounded, for the things that must eventually
// succeed or the process itself is useless), and retrying a call whose
// failure mode is a transient, already-classified condition
// (RetryDeterminate, bounded).
package retryutil

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExternalPolicy returns the unbounded exponential backoff policy used for
// calls to Consensus/Blob: these are assumed to eventually recover, and a
// caller blocked on one has no better option than to keep trying.
func ExternalPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0 // unbounded
	return backoff.WithContext(b, ctx)
}

// DeterminatePolicy returns a bounded backoff policy for retrying a command
// whose outcome was merely indeterminate (see machine.IndeterminateError):
// a handful of quick retries is enough to resolve an ambiguous
// compare_and_append, since the shard's own state will have moved on by
// then either way.
func DeterminatePolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithContext(b, ctx)
}

// RetryExternal runs fn under ExternalPolicy, logging would be done by the
// caller (this package has no logger dependency of its own); it returns
// only when fn succeeds, fn returns a backoff.Permanent error, or ctx is
// canceled.
func RetryExternal(ctx context.Context, fn func() error) error {
	return backoff.Retry(fn, ExternalPolicy(ctx))
}

// RetryDeterminate runs fn under DeterminatePolicy, giving up and
// surfacing the last error once MaxElapsedTime has passed.
func RetryDeterminate(ctx context.Context, fn func() error) error {
	return backoff.Retry(fn, DeterminatePolicy(ctx))
}
