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

// Package config holds the coordinator process's static configuration, as
// a TOML file a deployment drops alongside the binary.
package config

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the coordinator's full static configuration. Every duration
// field is parsed from TOML as a Go duration string ("30s", "5m").
type Config struct {
	Consensus  ConsensusConfig  `toml:"consensus"`
	Blob       BlobConfig       `toml:"blob"`
	Oracle     OracleConfig     `toml:"oracle"`
	Compaction CompactionConfig `toml:"compaction"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Coord      CoordConfig      `toml:"coord"`
}

// CoordConfig holds the coordinator-loop tunables named in the
// environment section: reader/writer lease durations, the group-commit
// interval, the rollup-write threshold, and the storage-usage sampling
// interval.
type CoordConfig struct {
	ReaderLeaseDuration            time.Duration `toml:"reader_lease_duration"`
	WriterLeaseDuration            time.Duration `toml:"writer_lease_duration"`
	WriterRollupThreshold          uint64        `toml:"writer_rollup_threshold"`
	GroupCommitInterval            time.Duration `toml:"group_commit_interval"`
	TimelineAdvanceInterval        time.Duration `toml:"timeline_advance_interval"`
	StorageUsageCollectionInterval time.Duration `toml:"storage_usage_collection_interval"`
	CompactionMemoryBoundBytes     uint64        `toml:"compaction_memory_bound_bytes"`
	BlobTargetSize                 uint64        `toml:"blob_target_size"`
}

type ConsensusConfig struct {
	// Kind names the Consensus backend: "mem" for the in-process fake.
	// Load does not validate the value.
	Kind string `toml:"kind"`
}

type BlobConfig struct {
	Kind    string `toml:"kind"` // "mem" or "http"
	BaseURL string `toml:"base_url"`
}

type OracleConfig struct {
	// TickInterval is how often the real-time oracle quantizes wall-clock
	// time into a fresh write timestamp.
	TickInterval time.Duration `toml:"tick_interval"`
}

type CompactionConfig struct {
	SizeThreshold  uint64 `toml:"size_threshold"`
	FuelMultiplier uint64 `toml:"fuel_multiplier"`
	// MaintenanceInterval governs how often ExpireLeases and rollup
	// maintenance sweeps run per shard.
	MaintenanceInterval time.Duration `toml:"maintenance_interval"`
	// RollupEvery is how many committed seqnos pass between rollup writes.
	RollupEvery uint64 `toml:"rollup_every"`
}

type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Default returns the configuration a freshly initialized deployment
// starts from, before any on-disk override is applied.
func Default() Config {
	return Config{
		Consensus: ConsensusConfig{Kind: "mem"},
		Blob:      BlobConfig{Kind: "mem"},
		Oracle:    OracleConfig{TickInterval: time.Second},
		Compaction: CompactionConfig{
			SizeThreshold:       1 << 20,
			FuelMultiplier:      2,
			MaintenanceInterval: 30 * time.Second,
			RollupEvery:         1000,
		},
		Metrics: MetricsConfig{ListenAddr: "127.0.0.1:9090"},
		Coord: CoordConfig{
			ReaderLeaseDuration:            time.Minute,
			WriterLeaseDuration:            time.Minute,
			WriterRollupThreshold:          128,
			GroupCommitInterval:            10 * time.Millisecond,
			TimelineAdvanceInterval:        time.Second,
			StorageUsageCollectionInterval: time.Hour,
			CompactionMemoryBoundBytes:     512 << 20,
			BlobTargetSize:                 128 << 20,
		},
	}
}

// Load parses raw TOML bytes over Default(), so an override file only
// needs to specify the fields it actually changes.
func Load(raw []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing: %w", err)
	}
	return cfg, nil
}
