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

package httpblob_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunjudev0213/materialize-sub000/persist/versions/httpblob"
)

func newFakeStore(t *testing.T) (*httptest.Server, map[string][]byte) {
	t.Helper()
	store := make(map[string][]byte)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("prefix") {
			prefix := r.URL.Query().Get("prefix")
			var keys []string
			for k := range store {
				if strings.HasPrefix(k, prefix) {
					keys = append(keys, k)
				}
			}
			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(keys))
			return
		}
		key, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/"))
		require.NoError(t, err)
		switch r.Method {
		case http.MethodGet:
			v, ok := store[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(v)
		case http.MethodPut:
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			store[key] = body
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			delete(store, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return httptest.NewServer(mux), store
}

func TestSetGetDeleteRoundTrip(t *testing.T) {
	srv, _ := newFakeStore(t)
	defer srv.Close()
	b := httpblob.New(srv.URL)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "shard/part-1", []byte("hello")))

	got, ok, err := b.Get(ctx, "shard/part-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)

	require.NoError(t, b.Delete(ctx, "shard/part-1"))
	_, ok, err = b.Get(ctx, "shard/part-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetMissingKeyIsNotAnError(t *testing.T) {
	srv, _ := newFakeStore(t)
	defer srv.Close()
	b := httpblob.New(srv.URL)

	_, ok, err := b.Get(context.Background(), "shard/does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteMissingKeyIsIdempotent(t *testing.T) {
	srv, _ := newFakeStore(t)
	defer srv.Close()
	b := httpblob.New(srv.URL)

	require.NoError(t, b.Delete(context.Background(), "shard/never-existed"))
}

func TestListReturnsKeysWithPrefix(t *testing.T) {
	srv, store := newFakeStore(t)
	defer srv.Close()
	store["shard-a/part-1"] = []byte("x")
	store["shard-a/part-2"] = []byte("y")
	store["shard-b/part-1"] = []byte("z")

	b := httpblob.New(srv.URL)
	keys, err := b.List(context.Background(), "shard-a/")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"shard-a/part-1", "shard-a/part-2"}, keys)
}

// TestGetRetriesTransientFailures exercises the retryablehttp layer itself:
// the first two requests fail with a 500, and only the third succeeds, so
// a client without retries would surface an error here.
func TestGetRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/shard/flaky-part", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("eventually ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := httpblob.New(srv.URL)
	got, ok, err := b.Get(context.Background(), "shard/flaky-part")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("eventually ok"), got)
	require.GreaterOrEqual(t, attempts.Load(), int32(3))
}
