// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rolloverctx persists the epoch-rollover builder's working
// context between steps 1-6 and step 7 onwards of spec.md §4.4, so a
// crash after the SMT has been mutated but before the rollover
// transaction lands on the parent chain can resume without recomputing
// top-K selection (spec.md §4.4 "steps 1-6 are idempotent given the
// persisted context"; spec.md §9 "Resources ... rollover-context files
// are written to a tmp sub-directory, fsynced, then renamed atomically
// into place").
//
// Grounded on the teacher's own google/renameio/v2 dependency (go.mod),
// used here in place of a hand-rolled write-tmp-fsync-rename sequence.
package rolloverctx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ckb-spark/spark/types"
)

// DelegatorLosers is the non-top-delegators map, flattened for JSON: the
// set of delegators removed from one top staker's sub-SMT.
type DelegatorLosers struct {
	Staker     types.Address
	Delegators []types.Address
}

// Context is the full persisted state of one in-progress rollover,
// matching spec.md §6 "Persisted state" verbatim: miner groups, the new
// validator list, the non-top stakers and non-top delegators sets, and
// the pre-mutation stake-SMT top proof (carried into the rollover
// transaction's witness).
type Context struct {
	Epoch            types.Epoch
	MinerGroups      [][]types.Address
	Validators       []types.ValidatorKeys
	NoTopStakers     []types.Address
	NoTopDelegators  []DelegatorLosers
	OldStakeSMTProof []byte
}

func path(dir string, epoch types.Epoch) string {
	return filepath.Join(dir, fmt.Sprintf("rollover-context-%d.json", epoch))
}

// Save writes ctx to dir under a name keyed by ctx.Epoch, fsynced and
// renamed into place atomically so a reader never observes a partial
// write (spec.md §9 "Resources").
func Save(dir string, ctx Context) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("rolloverctx: mkdir %s: %w", dir, err)
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("rolloverctx: marshal: %w", err)
	}
	if err := renameio.WriteFile(path(dir, ctx.Epoch), b, 0o644); err != nil {
		return fmt.Errorf("rolloverctx: write %s: %w", path(dir, ctx.Epoch), err)
	}
	return nil
}

// Load reads the persisted context for epoch from dir. ok is false if no
// context file exists for that epoch (the common case: most epochs never
// crash mid-rollover).
func Load(dir string, epoch types.Epoch) (*Context, bool, error) {
	b, err := os.ReadFile(path(dir, epoch))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rolloverctx: read %s: %w", path(dir, epoch), err)
	}
	var ctx Context
	if err := json.Unmarshal(b, &ctx); err != nil {
		return nil, false, fmt.Errorf("rolloverctx: unmarshal %s: %w", path(dir, epoch), err)
	}
	return &ctx, true, nil
}

// LoadValid loads the persisted context for checkpointEpoch, discarding
// it if its own recorded epoch disagrees (spec.md §4.4 last paragraph:
// "on boot if context.epoch != checkpoint.epoch the context is
// discarded").
func LoadValid(dir string, checkpointEpoch types.Epoch) (*Context, bool, error) {
	ctx, ok, err := Load(dir, checkpointEpoch)
	if err != nil || !ok {
		return nil, false, err
	}
	if ctx.Epoch != checkpointEpoch {
		return nil, false, nil
	}
	return ctx, true, nil
}

// Discard removes the persisted context for epoch, if any. Called once a
// rollover transaction has been accepted by the parent chain, so a later
// boot does not try to resume a completed rollover.
func Discard(dir string, epoch types.Epoch) error {
	err := os.Remove(path(dir, epoch))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rolloverctx: remove %s: %w", path(dir, epoch), err)
	}
	return nil
}
