// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/codec"
	"github.com/ckb-spark/spark/types"
)

// CheckpointParams is the next (epoch, period) pair plus the proposal
// counts and hash observed for it (spec.md §4.3 "Checkpoint").
type CheckpointParams struct {
	NewEpoch       types.Epoch
	NewPeriod      uint32
	ProposalCounts map[types.Address]uint64
	ProposalHash   types.Hash
}

// BuildCheckpoint consumes the last checkpoint cell and emits the next
// one, enforcing that (NewEpoch, NewPeriod) legally succeeds it: either
// the same epoch with period advanced by exactly one, or period rolled
// back to zero with epoch advanced by exactly one (spec.md §4.3
// "Checkpoint ... NotCheckpointOccasion otherwise").
func (c *Context) BuildCheckpoint(ctx context.Context, p CheckpointParams) (*types.Transaction, error) {
	key := chainclient.SearchKey{Script: c.Scripts.ATLock, TypeFilter: &chainclient.ScriptFilter{Script: c.Scripts.CheckpointType}}
	existing, err := c.collector.FindTarget(ctx, key)
	if err != nil {
		return nil, err
	}
	last, err := codec.DecodeCheckpointCell(existing.Data)
	if err != nil {
		return nil, err
	}

	samePeriodAdvance := p.NewEpoch == last.Epoch && p.NewPeriod == last.Period+1
	epochRollover := p.NewEpoch == last.Epoch+1 && p.NewPeriod == 0
	if !samePeriodAdvance && !epochRollover {
		return nil, types.ErrNotCheckpointOccasion
	}

	newData := types.CheckpointCellData{
		Epoch:          p.NewEpoch,
		Period:         p.NewPeriod,
		ProposalCounts: p.ProposalCounts,
		ProposalHash:   p.ProposalHash,
	}

	tx := &types.Transaction{}
	tx.AddInput(types.CellInput{PreviousOutput: existing.OutPoint}, witnessRoleNotSigned)
	tx.AddOutput(types.CellOutput{Lock: existing.Lock, Type: existing.Type}, codec.EncodeCheckpointCell(newData))

	if err := c.balanceWithChange(tx, []types.Cell{existing}, existing.Lock); err != nil {
		return nil, err
	}
	return tx, nil
}
