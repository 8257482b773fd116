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

// StakeParams describes a single add/redeem/first-stake request
// (spec.md §4.3 "Stake / Delegate").
type StakeParams struct {
	Staker       types.Address
	WalletLock   types.Script
	IsIncrease   bool
	Amount       types.Amount
	CurrentEpoch types.Epoch
	// InaugurationEpoch is the target epoch this delta settles at;
	// callers normally pass CurrentEpoch.Target(); an earlier epoch is
	// accepted, a later one is rejected with ErrInaugurationEpoch.
	InaugurationEpoch types.Epoch

	// First-stake only (spec.md §7 ErrFirstStake):
	L1PubKey    [32]byte
	BLSPubKey   [48]byte
	Requirement types.RequirementCellData
}

// settlement is the shared result of reconciling a pending delta against
// a new request: the new bound total, the new pending delta to encode,
// and the net wallet-side movement (positive Debit means tokens leave
// the wallet; otherwise Credit tokens return to it).
type settlement struct {
	NewTotal types.Amount
	NewDelta *elect.PendingDelta
	IsDebit  bool
	Amount   types.Amount // always non-negative; direction given by IsDebit
}

// reconcile wraps elect.Reconcile with the MaxAmount sentinel trick
// (types.MaxAmount doc comment): the calculator's wallet bookkeeping is
// pure arithmetic relative to whatever wallet value is passed in, so a
// builder that doesn't yet know which wallet cells it will spend can
// still extract the net movement and have it hold regardless of the
// real wallet balance (which cellcollector.CollectUntilCovered verifies
// separately, against real chain state).
func reconcile(total types.Amount, last *elect.PendingDelta, isIncrease bool, amount types.Amount) (settlement, error) {
	sentinel := types.MaxAmount()
	out, err := elect.Reconcile(sentinel, total, last, isIncrease, amount)
	if err != nil {
		return settlement{}, err
	}
	s := settlement{NewTotal: out.NewTotal, NewDelta: out.NewDelta}
	if out.NewWallet.Cmp(sentinel) < 0 {
		s.IsDebit = true
		s.Amount = sentinel.Sub(out.NewWallet)
	} else {
		s.IsDebit = false
		s.Amount = out.NewWallet.Sub(sentinel)
	}
	return s, nil
}

func pendingToStakeItem(p *elect.PendingDelta, inaug types.Epoch) *types.StakeItem {
	if p == nil {
		return nil
	}
	return &types.StakeItem{IsIncrease: p.IsIncrease, Amount: p.Amount, InaugurationEpoch: inaug}
}

// lastStakeDelta resolves a stake AT cell's pending delta into an
// elect.PendingDelta, with Expired already evaluated against
// currentEpoch (spec.md §3 "a delta with expired inauguration_epoch...").
func lastStakeDelta(d *types.StakeCellData, currentEpoch types.Epoch) *elect.PendingDelta {
	if d == nil || d.Pending == nil {
		return nil
	}
	return &elect.PendingDelta{
		IsIncrease: d.Pending.IsIncrease,
		Amount:     d.Pending.Amount,
		Expired:    d.Pending.Expired(currentEpoch),
	}
}

// BuildStake assembles a first-stake or add/redeem-stake transaction
// (spec.md §4.3 "Stake"). On first stake it also emits the initial
// withdraw cell placeholder and the requirement cell.
func (c *Context) BuildStake(ctx context.Context, p StakeParams) (*types.Transaction, error) {
	if err := checkInauguration(p.CurrentEpoch, p.InaugurationEpoch); err != nil {
		return nil, err
	}

	key := chainclient.SearchKey{Script: c.Scripts.lockFor(p.Staker), TypeFilter: &chainclient.ScriptFilter{Script: c.Scripts.StakeType}}
	existing, found, err := c.collector.TryFindTarget(ctx, key)
	if err != nil {
		return nil, err
	}

	tx := &types.Transaction{}

	if !found {
		return c.buildFirstStake(ctx, p, tx)
	}
	return c.buildStakeUpdate(ctx, p, tx, existing)
}

func (c *Context) buildFirstStake(ctx context.Context, p StakeParams, tx *types.Transaction) (*types.Transaction, error) {
	if p.L1PubKey == ([32]byte{}) || p.BLSPubKey == ([48]byte{}) {
		return nil, types.ErrFirstStake
	}

	settle, err := reconcile(types.NewAmount(0), nil, true, p.Amount)
	if err != nil {
		return nil, err
	}

	walletCells, err := c.debitOrCredit(ctx, tx, p.WalletLock, settle)
	if err != nil {
		return nil, err
	}

	stakeData := types.StakeCellData{
		TokenAmount:         settle.NewTotal,
		L1PubKey:            p.L1PubKey,
		BLSPubKey:           p.BLSPubKey,
		Pending:             pendingToStakeItem(settle.NewDelta, p.InaugurationEpoch),
		DelegateRequirement: p.Requirement,
	}
	tx.AddOutput(types.CellOutput{Lock: c.Scripts.lockFor(p.Staker), Type: &c.Scripts.StakeType}, codec.EncodeStakeCell(stakeData))
	tx.AddOutput(types.CellOutput{Lock: c.Scripts.lockFor(p.Staker), Type: &c.Scripts.RequirementType}, codec.EncodeRequirement(p.Requirement))
	tx.AddOutput(types.CellOutput{Lock: c.Scripts.lockFor(p.Staker), Type: &c.Scripts.WithdrawType}, codec.EncodeWithdrawCell(types.WithdrawCellData{}))

	if err := c.balanceWithChange(tx, walletCells, p.WalletLock); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Context) buildStakeUpdate(ctx context.Context, p StakeParams, tx *types.Transaction, existing types.Cell) (*types.Transaction, error) {
	data, err := codec.DecodeStakeCell(existing.Data)
	if err != nil {
		return nil, err
	}

	settle, err := reconcile(data.TokenAmount, lastStakeDelta(&data, p.CurrentEpoch), p.IsIncrease, p.Amount)
	if err != nil {
		return nil, err
	}

	tx.AddInput(types.CellInput{PreviousOutput: existing.OutPoint}, witnessRoleNotSigned)

	walletCells, err := c.debitOrCredit(ctx, tx, p.WalletLock, settle)
	if err != nil {
		return nil, err
	}

	newData := data
	newData.TokenAmount = settle.NewTotal
	newData.Pending = pendingToStakeItem(settle.NewDelta, p.InaugurationEpoch)
	tx.AddOutput(types.CellOutput{Lock: existing.Lock, Type: existing.Type}, codec.EncodeStakeCell(newData))

	resolved := append([]types.Cell{existing}, walletCells...)
	if err := c.balanceWithChange(tx, resolved, p.WalletLock); err != nil {
		return nil, err
	}
	return tx, nil
}
