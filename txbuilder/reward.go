// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/codec"
	"github.com/ckb-spark/spark/types"
)

// RewardParams claims every outstanding epoch's reward for Address, both
// as a validator (if Address itself was a top staker) and as a delegator
// under each of Stakers (spec.md §4.3 "Reward"). FeeFunding is a
// capacity-only cell spent purely to fund the output and fee, since a
// reward claim has no natural input of its own.
type RewardParams struct {
	Address      types.Address
	WalletLock   types.Script
	Stakers      []types.Address
	CurrentEpoch types.Epoch
	FeeFunding   types.Cell
}

// BuildReward walks every epoch from the reward SMT's last_claimed+1
// through CurrentEpoch-INAUGURATION, accrues the validator and/or
// delegator share for each, advances the reward SMT, and credits the sum
// to the wallet in one output (spec.md §4.3 "Reward ... sums for all
// epochs accrue into the wallet"). Returns (nil, nil) if there is nothing
// new to claim.
func (c *Context) BuildReward(ctx context.Context, p RewardParams) (*types.Transaction, error) {
	lastClaimed, ok, err := c.Forest.Reward().Get(p.Address)
	if err != nil {
		return nil, err
	}
	from := types.Epoch(0)
	if ok {
		from = lastClaimed + 1
	}
	if p.CurrentEpoch < types.Inauguration {
		return nil, nil
	}
	to := p.CurrentEpoch - types.Inauguration
	if from > to {
		return nil, nil
	}

	accrued := types.NewAmount(0)
	for e := from; e <= to; e++ {
		reward, err := c.rewardForEpoch(ctx, e, p.Address, p.Stakers)
		if err != nil {
			return nil, err
		}
		accrued = accrued.Add(reward)
	}

	if err := c.Forest.Reward().Insert(p.Address, to); err != nil {
		return nil, err
	}
	if accrued.IsZero() {
		return nil, nil
	}

	tx := &types.Transaction{}
	tx.AddInput(types.CellInput{PreviousOutput: p.FeeFunding.OutPoint}, nil)
	var amt [types.AmountSize]byte
	accrued.PutLE16(amt[:])
	tx.AddOutput(types.CellOutput{Lock: p.WalletLock, Type: &c.Scripts.TokenType}, append([]byte{}, amt[:]...))

	if err := c.balanceWithChange(tx, []types.Cell{p.FeeFunding}, p.FeeFunding.Lock); err != nil {
		return nil, err
	}
	return tx, nil
}

// rewardForEpoch sums address's validator share at e (if it was a top
// staker) and its delegator share under each of stakers (if it was bound
// to that staker in the delegate SMT at e).
func (c *Context) rewardForEpoch(ctx context.Context, e types.Epoch, address types.Address, stakers []types.Address) (types.Amount, error) {
	total := types.NewAmount(0)

	ownStake, isValidator, err := c.Forest.Stake().GetAmount(e, address)
	if err != nil {
		return types.Amount{}, err
	}
	if isValidator {
		share, err := c.validatorReward(ctx, e, address, ownStake)
		if err != nil {
			return types.Amount{}, err
		}
		total = total.Add(share)
	}

	for _, staker := range stakers {
		theirDelegated, bound, err := c.Forest.Delegate().GetAmount(staker, e, address)
		if err != nil {
			return types.Amount{}, err
		}
		if !bound {
			continue
		}
		share, err := c.delegatorReward(ctx, e, staker, theirDelegated)
		if err != nil {
			return types.Amount{}, err
		}
		total = total.Add(share)
	}

	return total, nil
}

// validatorReward computes base*own_stake/total + base*delegated_total/
// total*(100-dividend_rate)/100 (spec.md §4.3 "Reward").
func (c *Context) validatorReward(ctx context.Context, e types.Epoch, staker types.Address, ownStake types.Amount) (types.Amount, error) {
	delegatedTotal, err := c.sumDelegated(staker, e)
	if err != nil {
		return types.Amount{}, err
	}
	bondTotal := ownStake.Add(delegatedTotal)
	if bondTotal.IsZero() {
		return types.Amount{}, nil
	}
	base, err := c.baseRewardAt(e, staker)
	if err != nil {
		return types.Amount{}, err
	}
	dividendRate, err := c.dividendRateFor(ctx, staker)
	if err != nil {
		return types.Amount{}, err
	}

	ownShare := base.Mul(ownStake).Div(bondTotal)
	delegatedShare := base.Mul(delegatedTotal).Div(bondTotal).Mul(types.NewAmount(100 - dividendRate)).Div(types.NewAmount(100))
	return ownShare.Add(delegatedShare), nil
}

// delegatorReward computes base*their_delegated/total*dividend_rate/100
// (spec.md §4.3 "Reward"), where base and total are the bound staker's,
// not the delegator's own.
func (c *Context) delegatorReward(ctx context.Context, e types.Epoch, staker types.Address, theirDelegated types.Amount) (types.Amount, error) {
	ownStake, _, err := c.Forest.Stake().GetAmount(e, staker)
	if err != nil {
		return types.Amount{}, err
	}
	delegatedTotal, err := c.sumDelegated(staker, e)
	if err != nil {
		return types.Amount{}, err
	}
	bondTotal := ownStake.Add(delegatedTotal)
	if bondTotal.IsZero() {
		return types.Amount{}, nil
	}
	base, err := c.baseRewardAt(e, staker)
	if err != nil {
		return types.Amount{}, err
	}
	dividendRate, err := c.dividendRateFor(ctx, staker)
	if err != nil {
		return types.Amount{}, err
	}

	return base.Mul(theirDelegated).Div(bondTotal).Mul(types.NewAmount(dividendRate)).Div(types.NewAmount(100)), nil
}

func (c *Context) sumDelegated(staker types.Address, e types.Epoch) (types.Amount, error) {
	leaves, err := c.Forest.Delegate().GetSubLeaves(staker, e)
	if err != nil {
		return types.Amount{}, err
	}
	sum := types.NewAmount(0)
	for _, amount := range leaves {
		sum = sum.Add(amount)
	}
	return sum, nil
}

// baseRewardAt computes coef*base/(2^(e/half_cycle))/100, coef being
// min(100, actual_proposals*100/theoretical_proposals) and treated as
// 100 once that ratio reaches 95 (spec.md §4.3 "Reward").
func (c *Context) baseRewardAt(e types.Epoch, proposer types.Address) (types.Amount, error) {
	actual, present, err := c.Forest.Proposal().GetAmount(e, proposer)
	if err != nil {
		return types.Amount{}, err
	}
	var actualCount uint64
	if present {
		actualCount = actual.Uint64()
	}

	theoretical := c.Cfg.TheoreticalProposalsPerEpoch
	ratio := uint64(100)
	if theoretical > 0 {
		ratio = actualCount * 100 / theoretical
	}
	if ratio > 100 {
		ratio = 100
	}
	if ratio >= 95 {
		ratio = 100
	}

	halvings := uint64(e) / c.Cfg.HalfCycleEpochs
	base := ratio * c.Cfg.BaseReward / 100
	base = base >> halvings
	return types.NewAmount(base), nil
}

// dividendRateFor reads staker's requirement cell and returns its
// commission rate, which spec.md §4.3's reward formulas use directly as
// the delegator-facing dividend rate (S6: "commission 20%" feeds
// dividend_rate=20 verbatim, not 100-20).
func (c *Context) dividendRateFor(ctx context.Context, staker types.Address) (uint64, error) {
	key := chainclient.SearchKey{Script: c.Scripts.lockFor(staker), TypeFilter: &chainclient.ScriptFilter{Script: c.Scripts.RequirementType}}
	cell, err := c.collector.FindTarget(ctx, key)
	if err != nil {
		return 0, err
	}
	req, err := codec.DecodeRequirement(cell.Data)
	if err != nil {
		return 0, err
	}
	return uint64(req.CommissionRate), nil
}
