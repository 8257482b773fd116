// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/codec"
	"github.com/ckb-spark/spark/types"
)

// WithdrawParams selects whose withdraw AT cell to claim from and at
// what epoch (spec.md §4.3 "Withdraw").
type WithdrawParams struct {
	Owner        types.Address
	WalletLock   types.Script
	CurrentEpoch types.Epoch
}

// BuildWithdraw walks the withdraw AT cell's entries, sums every one
// whose UnlockEpoch has arrived, credits the wallet that amount, and
// leaves only the still-locked entries in a fresh withdraw cell (spec.md
// §4.3 "Withdraw").
func (c *Context) BuildWithdraw(ctx context.Context, p WithdrawParams) (*types.Transaction, error) {
	key := chainclient.SearchKey{Script: c.Scripts.lockFor(p.Owner), TypeFilter: &chainclient.ScriptFilter{Script: c.Scripts.WithdrawType}}
	existing, err := c.collector.FindTarget(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := codec.DecodeWithdrawCell(existing.Data)
	if err != nil {
		return nil, err
	}
	if err := codec.ValidateWithdrawInvariant(data); err != nil {
		return nil, err
	}

	claimable := types.NewAmount(0)
	var remaining []types.WithdrawInfo
	for _, e := range data.Entries {
		if e.UnlockEpoch <= p.CurrentEpoch {
			claimable = claimable.Add(e.Amount)
		} else {
			remaining = append(remaining, e)
		}
	}

	tx := &types.Transaction{}
	tx.AddInput(types.CellInput{PreviousOutput: existing.OutPoint}, witnessRoleNotSigned)

	remainingTotal := types.NewAmount(0)
	for _, e := range remaining {
		remainingTotal = remainingTotal.Add(e.Amount)
	}
	tx.AddOutput(types.CellOutput{Lock: existing.Lock, Type: existing.Type},
		codec.EncodeWithdrawCell(types.WithdrawCellData{TokenAmount: remainingTotal, Entries: remaining}))

	if !claimable.IsZero() {
		var amt [types.AmountSize]byte
		claimable.PutLE16(amt[:])
		tx.AddOutput(types.CellOutput{Lock: p.WalletLock, Type: &c.Scripts.TokenType}, append([]byte{}, amt[:]...))
	}

	if err := c.balanceWithChange(tx, []types.Cell{existing}, p.WalletLock); err != nil {
		return nil, err
	}
	return tx, nil
}
