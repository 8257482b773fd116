// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"
	"sort"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/codec"
	"github.com/ckb-spark/spark/smt"
	"github.com/ckb-spark/spark/types"
)

// StakeSMTParams triggers an off-band flush of every stake AT cell's
// expired pending delta into the stake SMT at Epoch, then demotes any
// staker outside the top Quorum (spec.md §4.3 "Stake-SMT (the 'kicker'
// path) ... classifies each pending delta (expired vs. live, top vs.
// non-top against the quorum) ... refunds losers into withdraw cells").
type StakeSMTParams struct {
	Epoch  types.Epoch
	Quorum uint32
}

// stakeEntry is one stake AT cell's post-flush state, used both to
// decide the top-Quorum cut and to rewrite the cell. Bound is the
// committed amount after clearing any now-expired pending delta: a
// delta's wallet/total movement already happened when BuildStake applied
// it (elect.applyDebit moves both sides at request time), so flushing
// only retires the Pending marker — it never changes TokenAmount.
type stakeEntry struct {
	cell    types.Cell
	owner   types.Address
	data    types.StakeCellData
	bound   types.Amount
	flushed bool
}

func ownerOf(lock types.Script) types.Address {
	var a types.Address
	copy(a[:], lock.Args)
	return a
}

func flushStake(d types.StakeCellData, epoch types.Epoch) (bound types.Amount, flushed bool) {
	if d.Pending != nil && d.Pending.Expired(epoch) {
		return d.TokenAmount, true
	}
	return d.TokenAmount, false
}

// BuildStakeSMT reads every stake AT cell, flushes any pending delta
// whose inauguration epoch has arrived, writes the resulting per-staker
// amounts into stake.sub[p.Epoch], and refunds stakers outside the top
// p.Quorum by emptying their bound amount into their withdraw cell.
func (c *Context) BuildStakeSMT(ctx context.Context, p StakeSMTParams) (*types.Transaction, error) {
	cells, err := c.collector.FindAll(ctx, chainclient.SearchKey{Script: c.Scripts.StakeType, Primary: chainclient.FieldType})
	if err != nil {
		return nil, err
	}

	entries := make([]stakeEntry, 0, len(cells))
	for _, cell := range cells {
		data, err := codec.DecodeStakeCell(cell.Data)
		if err != nil {
			return nil, err
		}
		bound, flushed := flushStake(data, p.Epoch)
		entries = append(entries, stakeEntry{cell: cell, owner: ownerOf(cell.Lock), data: data, bound: bound, flushed: flushed})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].bound.Cmp(entries[j].bound) > 0
	})

	cut := int(p.Quorum)
	if cut > len(entries) {
		cut = len(entries)
	}
	winners, losers := entries[:cut], entries[cut:]

	tx := &types.Transaction{}
	resolved := make([]types.Cell, 0, len(entries))
	topAmounts := make([]smt.UserAmount, 0, len(winners))

	for _, w := range winners {
		topAmounts = append(topAmounts, smt.UserAmount{User: w.owner, Amount: w.bound})
		if !w.flushed {
			continue
		}
		newData := w.data
		newData.Pending = nil
		tx.AddInput(types.CellInput{PreviousOutput: w.cell.OutPoint}, witnessRolloverMode1)
		tx.AddOutput(types.CellOutput{Lock: w.cell.Lock, Type: w.cell.Type}, codec.EncodeStakeCell(newData))
		resolved = append(resolved, w.cell)
	}

	loserAddrs := make([]types.Address, 0, len(losers))
	for _, l := range losers {
		loserAddrs = append(loserAddrs, l.owner)

		emptied := l.data
		emptied.TokenAmount = types.NewAmount(0)
		emptied.Pending = nil
		tx.AddInput(types.CellInput{PreviousOutput: l.cell.OutPoint}, witnessRolloverMode1)
		tx.AddOutput(types.CellOutput{Lock: l.cell.Lock, Type: l.cell.Type}, codec.EncodeStakeCell(emptied))
		resolved = append(resolved, l.cell)

		if err := c.refundIntoWithdraw(ctx, tx, &resolved, l.cell.Lock, l.bound, p.Epoch.Target()); err != nil {
			return nil, err
		}
	}

	if err := c.Forest.Stake().Insert(p.Epoch, topAmounts); err != nil {
		return nil, err
	}
	if len(loserAddrs) > 0 {
		if err := c.Forest.Stake().Remove(p.Epoch, loserAddrs); err != nil {
			return nil, err
		}
	}

	if len(resolved) == 0 {
		return nil, nil // nothing expired and the top set is unchanged: no transaction needed
	}
	if err := c.balanceWithChange(tx, resolved, resolved[0].Lock); err != nil {
		return nil, err
	}
	return tx, nil
}

// refundIntoWithdraw folds amount into owner's withdraw cell, unlockable
// at unlockEpoch, appending the consumed withdraw cell to resolved. It
// creates no new cell if amount is zero.
func (c *Context) refundIntoWithdraw(ctx context.Context, tx *types.Transaction, resolved *[]types.Cell, ownerLock types.Script, amount types.Amount, unlockEpoch types.Epoch) error {
	if amount.IsZero() {
		return nil
	}
	key := chainclient.SearchKey{Script: ownerLock, TypeFilter: &chainclient.ScriptFilter{Script: c.Scripts.WithdrawType}}
	withdrawCell, err := c.collector.FindTarget(ctx, key)
	if err != nil {
		return err
	}
	data, err := codec.DecodeWithdrawCell(withdrawCell.Data)
	if err != nil {
		return err
	}
	newData := types.WithdrawCellData{
		TokenAmount: data.TokenAmount.Add(amount),
		Entries:     append(append([]types.WithdrawInfo(nil), data.Entries...), types.WithdrawInfo{Amount: amount, UnlockEpoch: unlockEpoch}),
	}
	tx.AddInput(types.CellInput{PreviousOutput: withdrawCell.OutPoint}, witnessRolloverMode1)
	tx.AddOutput(types.CellOutput{Lock: withdrawCell.Lock, Type: withdrawCell.Type}, codec.EncodeWithdrawCell(newData))
	*resolved = append(*resolved, withdrawCell)
	return nil
}

// DelegateSMTParams is the per-staker analogue of StakeSMTParams: flushes
// expired delegate deltas for one staker's delegator set and demotes any
// delegator outside that staker's MaxDelegators (spec.md §4.3
// "Delegate-SMT (the 'kicker' path)").
type DelegateSMTParams struct {
	Staker        types.Address
	Epoch         types.Epoch
	MaxDelegators uint32
}

type delegateEntry struct {
	cell    types.Cell
	owner   types.Address
	data    types.DelegateCellData
	idx     int
	bound   types.Amount
	flushed bool
}

func flushDelegate(info types.DelegateInfo, epoch types.Epoch) (bound types.Amount, flushed bool) {
	if info.Pending != nil && info.Pending.Expired(epoch) {
		return info.TotalAmount, true
	}
	return info.TotalAmount, false
}

// BuildDelegateSMT reads every delegate AT cell bound to p.Staker, flushes
// any expired pending delta for that binding, writes the resulting
// per-delegator amounts into delegate.sub[p.Staker, p.Epoch], and refunds
// delegators outside the top p.MaxDelegators.
func (c *Context) BuildDelegateSMT(ctx context.Context, p DelegateSMTParams) (*types.Transaction, error) {
	cells, err := c.collector.FindAll(ctx, chainclient.SearchKey{Script: c.Scripts.DelegateType, Primary: chainclient.FieldType})
	if err != nil {
		return nil, err
	}

	entries := make([]delegateEntry, 0, len(cells))
	for _, cell := range cells {
		data, err := codec.DecodeDelegateCell(cell.Data)
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
		if idx < 0 {
			continue
		}
		bound, flushed := flushDelegate(data.Delegators[idx], p.Epoch)
		entries = append(entries, delegateEntry{cell: cell, owner: ownerOf(cell.Lock), data: data, idx: idx, bound: bound, flushed: flushed})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].bound.Cmp(entries[j].bound) > 0
	})

	cut := int(p.MaxDelegators)
	if cut > len(entries) {
		cut = len(entries)
	}
	winners, losers := entries[:cut], entries[cut:]

	tx := &types.Transaction{}
	resolved := make([]types.Cell, 0, len(entries))
	subAmounts := make([]smt.DelegatorAmount, 0, len(winners))

	for _, w := range winners {
		subAmounts = append(subAmounts, smt.DelegatorAmount{Delegator: w.owner, Amount: w.bound})
		if !w.flushed {
			continue
		}
		newData := w.data
		newData.Delegators = append([]types.DelegateInfo(nil), w.data.Delegators...)
		newData.Delegators[w.idx].Pending = nil
		tx.AddInput(types.CellInput{PreviousOutput: w.cell.OutPoint}, witnessRolloverMode1)
		tx.AddOutput(types.CellOutput{Lock: w.cell.Lock, Type: w.cell.Type}, codec.EncodeDelegateCell(newData))
		resolved = append(resolved, w.cell)
	}

	loserAddrs := make([]types.Address, 0, len(losers))
	for _, l := range losers {
		loserAddrs = append(loserAddrs, l.owner)

		newData := l.data
		newData.Delegators = append(append([]types.DelegateInfo(nil), l.data.Delegators[:l.idx]...), l.data.Delegators[l.idx+1:]...)
		tx.AddInput(types.CellInput{PreviousOutput: l.cell.OutPoint}, witnessRolloverMode1)
		tx.AddOutput(types.CellOutput{Lock: l.cell.Lock, Type: l.cell.Type}, codec.EncodeDelegateCell(newData))
		resolved = append(resolved, l.cell)

		if err := c.refundIntoWithdraw(ctx, tx, &resolved, l.cell.Lock, l.bound, p.Epoch.Target()); err != nil {
			return nil, err
		}
	}

	if err := c.Forest.Delegate().Insert(p.Staker, p.Epoch, subAmounts); err != nil {
		return nil, err
	}
	if len(loserAddrs) > 0 {
		if err := c.Forest.Delegate().Remove(p.Staker, p.Epoch, loserAddrs); err != nil {
			return nil, err
		}
	}

	if len(resolved) == 0 {
		return nil, nil // nothing expired and the top set is unchanged: no transaction needed
	}
	if err := c.balanceWithChange(tx, resolved, resolved[0].Lock); err != nil {
		return nil, err
	}
	return tx, nil
}
