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

package versions

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/sunjudev0213/materialize-sub000/ids"
	"github.com/sunjudev0213/materialize-sub000/persist"
)

// ApplierVersion identifies this build for the FutureVersionError check.
// Bump it whenever State's on-wire shape changes in a way an older binary
// could misinterpret.
const ApplierVersion = "1.0.0"

// envelope is the gob-encoded, then zstd-compressed, payload every
// Consensus row and rollup blob carries.
type envelope struct {
	ApplierVersion string
	Diff           persist.StateDiff
}

// StateVersions reads and writes State through Consensus and Blob, holding
// each row to the codec and applier-version contracts a caller has no
// other way to enforce once bytes have left this process.
type StateVersions struct {
	consensus Consensus
	blob      Blob
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// New constructs a StateVersions over the given storage backends. The zstd
// encoder/decoder pair is created once and reused across every call, since
// both are safe for concurrent use and expensive to recreate per message.
func New(consensus Consensus, blob Blob) (*StateVersions, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("persist/versions: creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("persist/versions: creating zstd decoder: %w", err)
	}
	return &StateVersions{consensus: consensus, blob: blob, encoder: enc, decoder: dec}, nil
}

// Head returns the shard's most recently durable State, decoded from the
// head Consensus row (whose diff carries the full State), or ok=false if
// the shard has never been initialized.
func (sv *StateVersions) Head(ctx context.Context, shard ids.ShardId) (*persist.State, bool, error) {
	head, ok, err := sv.consensus.Head(ctx, shard)
	if err != nil || !ok {
		return nil, false, err
	}
	env, err := sv.DecodeStateRollup(shard, head.Data)
	if err != nil {
		return nil, false, err
	}
	return env.Diff.NextState, true, nil
}

// CompareAndAppendDiff durably records a StateDiff computed from prev to
// next, iff prev.SeqNo is still the shard's current head seqno. A failed
// compare returns the actual current head so Machine's CAS loop can
// re-derive its next attempt without a second round trip.
func (sv *StateVersions) CompareAndAppendDiff(ctx context.Context, shard ids.ShardId, diff persist.StateDiff) (current *persist.State, applied bool, err error) {
	payload, err := sv.encodeEnvelope(envelope{ApplierVersion: ApplierVersion, Diff: diff})
	if err != nil {
		return nil, false, err
	}
	row := VersionedData{SeqNo: diff.SeqNoTo, Data: payload}
	currentRow, applied, err := sv.consensus.CompareAndSet(ctx, shard, diff.SeqNoFrom, row)
	if err != nil {
		return nil, false, err
	}
	if applied {
		return diff.NextState, true, nil
	}
	env, decErr := sv.DecodeStateRollup(shard, currentRow.Data)
	if decErr != nil {
		return nil, false, decErr
	}
	return env.Diff.NextState, false, nil
}

// WriteRollup durably writes state as a standalone rollup blob and returns
// its key, without touching Consensus. The caller (Machine) is responsible
// for then recording that key via State.AddAndRemoveRollups and CASing the
// result — see the race note in SPEC_FULL.md's supplemented-features
// section: if that second CAS loses the race, the rollup this call just
// wrote becomes orphaned and must be deleted by the caller, not by this
// method.
func (sv *StateVersions) WriteRollup(ctx context.Context, shard ids.ShardId, state *persist.State) (string, error) {
	key := fmt.Sprintf("%s/rollup/%s", shard, ids.NewRollupId())
	payload, err := sv.encodeEnvelope(envelope{ApplierVersion: ApplierVersion, Diff: persist.StateDiff{
		ShardId:   shard,
		SeqNoFrom: state.SeqNo,
		SeqNoTo:   state.SeqNo,
		NextState: state.DeepClone(),
	}})
	if err != nil {
		return "", err
	}
	if err := sv.blob.Set(ctx, key, payload); err != nil {
		return "", fmt.Errorf("persist/versions: writing rollup: %w", err)
	}
	return key, nil
}

// DeleteRollup removes an orphaned rollup blob; see WriteRollup's race note.
func (sv *StateVersions) DeleteRollup(ctx context.Context, key string) error {
	return sv.blob.Delete(ctx, key)
}

func (sv *StateVersions) encodeEnvelope(env envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("persist/versions: encoding envelope: %w", err)
	}
	return sv.encoder.EncodeAll(buf.Bytes(), nil), nil
}

// DecodeStateRollup decompresses and decodes a Consensus row or rollup blob
// for shard. A persisted envelope whose ApplierVersion is newer than this
// binary's is never safe to proceed past: a future writer may have encoded
// a field this process doesn't know how to interpret, so rather than
// return a FutureVersionError for a caller to potentially swallow or
// retry, this panics with the full mismatch in hand. A supervisor
// restarting into a binary built against the matching version is the only
// correct recovery.
func (sv *StateVersions) DecodeStateRollup(shard ids.ShardId, compressed []byte) (envelope, error) {
	raw, err := sv.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return envelope{}, fmt.Errorf("persist/versions: decompressing envelope: %w", err)
	}
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("persist/versions: decoding envelope: %w", err)
	}
	if env.ApplierVersion > ApplierVersion {
		panic(&FutureVersionError{Shard: shard, ReaderVersion: ApplierVersion, WriterVersion: env.ApplierVersion})
	}
	return env, nil
}
