// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"
	"fmt"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/codec"
	"github.com/ckb-spark/spark/types"
)

// MintTarget is one (address, amount) pair to mint fresh token cells for.
type MintTarget struct {
	Lock   types.Script
	Amount types.Amount
}

// MintParams selects the fixed set of mint targets for one mint
// transaction (spec.md §4.3 "Mint").
type MintParams struct {
	Targets []MintTarget
}

// BuildMint consumes the issue cell and the selection cell, mints token
// cells to every target, and advances the issue cell's current supply,
// failing with ErrExceedMaxSupply if the total mint would overflow the
// configured max supply (spec.md §4.3 "Mint").
func (c *Context) BuildMint(ctx context.Context, p MintParams) (*types.Transaction, error) {
	issueKey := chainclient.SearchKey{Script: c.Scripts.ATLock, TypeFilter: &chainclient.ScriptFilter{Script: c.Scripts.IssueType}}
	issueCell, err := c.collector.FindTarget(ctx, issueKey)
	if err != nil {
		return nil, err
	}
	issueData, err := codec.DecodeIssueCell(issueCell.Data)
	if err != nil {
		return nil, err
	}

	selectionKey := chainclient.SearchKey{Script: c.Scripts.ATLock, TypeFilter: &chainclient.ScriptFilter{Script: c.Scripts.SelectionType}}
	selectionCell, err := c.collector.FindTarget(ctx, selectionKey)
	if err != nil {
		return nil, err
	}

	total := types.NewAmount(0)
	for _, t := range p.Targets {
		total = total.Add(t.Amount)
	}
	newSupply := issueData.CurrentSupply.Add(total)
	if newSupply.Cmp(issueData.MaxSupply) > 0 {
		return nil, fmt.Errorf("%w: current %s + mint %s > max %s", types.ErrExceedMaxSupply, issueData.CurrentSupply, total, issueData.MaxSupply)
	}

	tx := &types.Transaction{}
	tx.AddInput(types.CellInput{PreviousOutput: issueCell.OutPoint}, witnessRoleNotSigned)
	tx.AddInput(types.CellInput{PreviousOutput: selectionCell.OutPoint}, witnessRoleNotSigned)

	tx.AddOutput(types.CellOutput{Lock: issueCell.Lock, Type: issueCell.Type},
		codec.EncodeIssueCell(types.IssueCellData{CurrentSupply: newSupply, MaxSupply: issueData.MaxSupply}))
	tx.AddOutput(types.CellOutput{Lock: selectionCell.Lock, Type: selectionCell.Type}, selectionCell.Data)

	for _, target := range p.Targets {
		var amt [types.AmountSize]byte
		target.Amount.PutLE16(amt[:])
		tx.AddOutput(types.CellOutput{Lock: target.Lock, Type: &c.Scripts.TokenType}, append([]byte{}, amt[:]...))
	}

	if err := c.balanceWithChange(tx, []types.Cell{issueCell, selectionCell}, issueCell.Lock); err != nil {
		return nil, err
	}
	return tx, nil
}
