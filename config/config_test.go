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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	raw := []byte(`
[compaction]
rollup_every = 500

[metrics]
listen_addr = "0.0.0.0:9999"
`)
	cfg, err := Load(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(500), cfg.Compaction.RollupEvery)
	require.Equal(t, "0.0.0.0:9999", cfg.Metrics.ListenAddr)
	// Untouched fields keep their defaults.
	require.Equal(t, uint64(1<<20), cfg.Compaction.SizeThreshold)
	require.Equal(t, time.Second, cfg.Oracle.TickInterval)
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load([]byte("not valid toml [[["))
	require.Error(t, err)
}
