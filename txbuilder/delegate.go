// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/codec"
	"github.com/ckb-spark/spark/elect"
	"github.com/ckb-spark/spark/types"
)

// DelegateParams describes a single add/redeem/first-delegate request
// against one target staker (spec.md §4.3 "Delegate").
type DelegateParams struct {
	Delegator    types.Address
	WalletLock   types.Script
	Staker       types.Address
	IsIncrease   bool
	Amount       types.Amount
	CurrentEpoch types.Epoch
	InaugurationEpoch types.Epoch
}

func pendingToDelegateItem(p *elect.PendingDelta, staker types.Address, total types.Amount, inaug types.Epoch) *types.DelegateItem {
	if p == nil {
		return nil
	}
	return &types.DelegateItem{
		Staker:            staker,
		TotalAmount:       total,
		IsIncrease:        p.IsIncrease,
		Amount:            p.Amount,
		InaugurationEpoch: inaug,
	}
}

func lastDelegateDelta(info *types.DelegateInfo, currentEpoch types.Epoch) *elect.PendingDelta {
	if info == nil || info.Pending == nil {
		return nil
	}
	return &elect.PendingDelta{
		IsIncrease: info.Pending.IsIncrease,
		Amount:     info.Pending.Amount,
		Expired:    info.Pending.Expired(currentEpoch),
	}
}

// BuildDelegate assembles a first-delegate or add/redeem-delegate
// transaction. Targets not mentioned in p are preserved verbatim (spec.md
// §4.3 "Delegate builder additionally collapses multiple simultaneous
// target-stakers and preserves rest delegates not mentioned").
func (c *Context) BuildDelegate(ctx context.Context, p DelegateParams) (*types.Transaction, error) {
	if err := checkInauguration(p.CurrentEpoch, p.InaugurationEpoch); err != nil {
		return nil, err
	}

	key := chainclient.SearchKey{Script: c.Scripts.lockFor(p.Delegator), TypeFilter: &chainclient.ScriptFilter{Script: c.Scripts.DelegateType}}
	existing, found, err := c.collector.TryFindTarget(ctx, key)
	if err != nil {
		return nil, err
	}

	tx := &types.Transaction{}
	if !found {
		return c.buildFirstDelegate(ctx, p, tx)
	}
	return c.buildDelegateUpdate(ctx, p, tx, existing)
}

func (c *Context) buildFirstDelegate(ctx context.Context, p DelegateParams, tx *types.Transaction) (*types.Transaction, error) {
	settle, err := reconcile(types.NewAmount(0), nil, p.IsIncrease, p.Amount)
	if err != nil {
		return nil, err
	}

	walletCells, err := c.debitOrCredit(ctx, tx, p.WalletLock, settle)
	if err != nil {
		return nil, err
	}

	data := types.DelegateCellData{
		Delegators: []types.DelegateInfo{{
			Staker:      p.Staker,
			TotalAmount: settle.NewTotal,
			Pending:     pendingToDelegateItem(settle.NewDelta, p.Staker, settle.NewTotal, p.InaugurationEpoch),
		}},
	}
	tx.AddOutput(types.CellOutput{Lock: c.Scripts.lockFor(p.Delegator), Type: &c.Scripts.DelegateType}, codec.EncodeDelegateCell(data))
	tx.AddOutput(types.CellOutput{Lock: c.Scripts.lockFor(p.Delegator), Type: &c.Scripts.WithdrawType}, codec.EncodeWithdrawCell(types.WithdrawCellData{}))

	if err := c.balanceWithChange(tx, walletCells, p.WalletLock); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Context) buildDelegateUpdate(ctx context.Context, p DelegateParams, tx *types.Transaction, existing types.Cell) (*types.Transaction, error) {
	data, err := codec.DecodeDelegateCell(existing.Data)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range data.Delegators {
		if data.Delegators[i].Staker == p.Staker {
			idx = i
			break
		}
	}
	var target *types.DelegateInfo
	if idx >= 0 {
		target = &data.Delegators[idx]
	}
	priorTotal := types.NewAmount(0)
	if target != nil {
		priorTotal = target.TotalAmount
	}

	settle, err := reconcile(priorTotal, lastDelegateDelta(target, p.CurrentEpoch), p.IsIncrease, p.Amount)
	if err != nil {
		return nil, err
	}

	tx.AddInput(types.CellInput{PreviousOutput: existing.OutPoint}, witnessRoleNotSigned)

	walletCells, err := c.debitOrCredit(ctx, tx, p.WalletLock, settle)
	if err != nil {
		return nil, err
	}

	newInfo := types.DelegateInfo{
		Staker:      p.Staker,
		TotalAmount: settle.NewTotal,
		Pending:     pendingToDelegateItem(settle.NewDelta, p.Staker, settle.NewTotal, p.InaugurationEpoch),
	}
	newData := types.DelegateCellData{TokenAmount: data.TokenAmount}
	if idx >= 0 {
		newData.Delegators = append([]types.DelegateInfo(nil), data.Delegators...)
		newData.Delegators[idx] = newInfo
	} else {
		newData.Delegators = append(append([]types.DelegateInfo(nil), data.Delegators...), newInfo)
	}
	tx.AddOutput(types.CellOutput{Lock: existing.Lock, Type: existing.Type}, codec.EncodeDelegateCell(newData))

	resolved := append([]types.Cell{existing}, walletCells...)
	if err := c.balanceWithChange(tx, resolved, p.WalletLock); err != nil {
		return nil, err
	}
	return tx, nil
}

// debitOrCredit applies a settlement's net wallet movement to tx: either
// collecting and consuming wallet token cells (debit) or emitting a
// straight token-return output (credit). It is shared by the stake and
// delegate builders' update paths.
func (c *Context) debitOrCredit(ctx context.Context, tx *types.Transaction, walletLock types.Script, settle settlement) ([]types.Cell, error) {
	if settle.Amount.IsZero() {
		return nil, nil
	}
	if !settle.IsDebit {
		var amt [types.AmountSize]byte
		settle.Amount.PutLE16(amt[:])
		tx.AddOutput(types.CellOutput{Lock: walletLock, Type: &c.Scripts.TokenType}, append([]byte{}, amt[:]...))
		return nil, nil
	}
	walletKey := chainclient.SearchKey{Script: walletLock, TypeFilter: &chainclient.ScriptFilter{Script: c.Scripts.TokenType}}
	walletCells, collected, err := c.collector.CollectUntilCovered(ctx, walletKey, settle.Amount)
	if err != nil {
		return nil, err
	}
	for _, cell := range walletCells {
		tx.AddInput(types.CellInput{PreviousOutput: cell.OutPoint}, nil)
	}
	if change := collected.Sub(settle.Amount); !change.IsZero() {
		var amt [types.AmountSize]byte
		change.PutLE16(amt[:])
		tx.AddOutput(types.CellOutput{Lock: walletLock, Type: &c.Scripts.TokenType}, append([]byte{}, amt[:]...))
	}
	return walletCells, nil
}
