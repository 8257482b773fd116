// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"

	"golang.org/x/crypto/blake2b"

	"github.com/ckb-spark/spark/codec"
	"github.com/ckb-spark/spark/types"
)

// InitParams seeds the genesis set of cells (spec.md §4.3 "Init").
type InitParams struct {
	FundingCell types.Cell // the single input every type-ID is derived from
	OwnerLock   types.Script
	MaxSupply   types.Amount
	Quorum      uint32
}

// typeID derives a CKB-style type-ID: blake2b-256 of the first input's
// OutPoint plus the output index it seeds (spec.md §4.3 "Init ... Type-
// IDs for each are derived by hashing (first_input, output_index)").
func typeID(firstInput types.OutPoint, outputIndex uint32) types.Hash {
	h, _ := blake2b.New256(nil)
	h.Write(firstInput.TxHash[:])
	var idx [4]byte
	idx[0], idx[1], idx[2], idx[3] = byte(firstInput.Index), byte(firstInput.Index>>8), byte(firstInput.Index>>16), byte(firstInput.Index>>24)
	h.Write(idx[:])
	var oi [4]byte
	oi[0], oi[1], oi[2], oi[3] = byte(outputIndex), byte(outputIndex>>8), byte(outputIndex>>16), byte(outputIndex>>24)
	h.Write(oi[:])
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// BuildInit assembles the genesis transaction: an issue cell, a selection
// cell, a checkpoint cell, a metadata cell and empty stake/delegate/
// reward SMT cells, each with a type-ID derived from the funding cell's
// OutPoint and inserted back into the cell's type script args before the
// caller's final signing pass (spec.md §4.3 "Init").
func (c *Context) BuildInit(_ context.Context, p InitParams) (*types.Transaction, error) {
	tx := &types.Transaction{}
	tx.AddInput(types.CellInput{PreviousOutput: p.FundingCell.OutPoint}, nil)

	type seed struct {
		typ  *types.Script
		data []byte
	}
	seeds := []seed{
		{&c.Scripts.IssueType, codec.EncodeIssueCell(types.IssueCellData{CurrentSupply: types.NewAmount(0), MaxSupply: p.MaxSupply})},
		{&c.Scripts.SelectionType, nil},
		{&c.Scripts.CheckpointType, codec.EncodeCheckpointCell(types.CheckpointCellData{ProposalCounts: map[types.Address]uint64{}})},
		{&c.Scripts.MetadataType, codec.EncodeMetadataCell(types.MetadataCellData{Quorum: p.Quorum})},
		{&c.Scripts.StakeSMTType, codec.EncodeSMTCell(types.SMTCellData{SubRoots: map[types.Address]types.Hash{}})},
		{&c.Scripts.DelegateSMTType, codec.EncodeSMTCell(types.SMTCellData{SubRoots: map[types.Address]types.Hash{}})},
		{&c.Scripts.RewardSMTType, codec.EncodeSMTCell(types.SMTCellData{SubRoots: map[types.Address]types.Hash{}})},
	}

	for i, s := range seeds {
		id := typeID(p.FundingCell.OutPoint, uint32(i))
		typ := *s.typ
		typ.Args = append([]byte(nil), id[:]...)
		tx.AddOutput(types.CellOutput{Lock: p.OwnerLock, Type: &typ}, s.data)
	}

	if err := c.balanceWithChange(tx, []types.Cell{p.FundingCell}, p.OwnerLock); err != nil {
		return nil, err
	}
	return tx, nil
}
