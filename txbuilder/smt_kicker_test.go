// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ckb-spark/spark/codec"
	"github.com/ckb-spark/spark/types"
)

func stakeATCell(idx uint32, lock, typ types.Script, tokenAmount uint64, pending *types.StakeItem) types.Cell {
	var out types.OutPoint
	out.Index = idx
	out.TxHash[0] = byte(idx + 1)
	return types.Cell{
		OutPoint: out, Capacity: 100_000_000, Lock: lock, Type: &typ,
		Data: codec.EncodeStakeCell(types.StakeCellData{TokenAmount: amt(tokenAmount), Pending: pending}),
	}
}

func emptyWithdrawCell(idx uint32, lock, typ types.Script) types.Cell {
	var out types.OutPoint
	out.Index = idx
	out.TxHash[0] = byte(100 + idx)
	return types.Cell{OutPoint: out, Capacity: 100_000_000, Lock: lock, Type: &typ, Data: codec.EncodeWithdrawCell(types.WithdrawCellData{})}
}

// TestBuildStakeSMTDemotesBelowQuorum is the quorum-selection scenario:
// stakers bound at {A:10, B:20, C:30, D:40}, quorum 3, so {B, C, D} win
// and A is refunded into its withdraw cell.
func TestBuildStakeSMTDemotesBelowQuorum(t *testing.T) {
	c, client := newTestContext(t)
	stakers := map[string]types.Address{"A": addr(1), "B": addr(2), "C": addr(3), "D": addr(4)}
	bounds := map[string]uint64{"A": 10, "B": 20, "C": 30, "D": 40}

	idx := uint32(0)
	for name, a := range stakers {
		lock := c.Scripts.lockFor(a)
		client.PutCell(stakeATCell(idx, lock, c.Scripts.StakeType, bounds[name], nil))
		client.PutCell(emptyWithdrawCell(idx, lock, c.Scripts.WithdrawType))
		idx++
	}

	tx, err := c.BuildStakeSMT(context.Background(), StakeSMTParams{Epoch: 5, Quorum: 3})
	require.NoError(t, err)
	require.NotNil(t, tx)

	for _, name := range []string{"B", "C", "D"} {
		got, ok, err := c.Forest.Stake().GetAmount(5, stakers[name])
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, bounds[name], got.Uint64())
	}
	_, ok, err := c.Forest.Stake().GetAmount(5, stakers["A"])
	require.NoError(t, err)
	require.False(t, ok)

	lockA := c.Scripts.lockFor(stakers["A"])
	var emptiedStake, refundedWithdraw []byte
	for i, out := range tx.Outputs {
		if out.Type == nil || !sameLock(out.Lock, lockA) {
			continue
		}
		if out.Type.CodeHash == c.Scripts.StakeType.CodeHash {
			emptiedStake = tx.OutputsData[i]
		}
		if out.Type.CodeHash == c.Scripts.WithdrawType.CodeHash {
			refundedWithdraw = tx.OutputsData[i]
		}
	}
	require.NotNil(t, emptiedStake)
	stakeData, err := codec.DecodeStakeCell(emptiedStake)
	require.NoError(t, err)
	require.True(t, stakeData.TokenAmount.IsZero())
	require.Nil(t, stakeData.Pending)

	require.NotNil(t, refundedWithdraw)
	withdrawData, err := codec.DecodeWithdrawCell(refundedWithdraw)
	require.NoError(t, err)
	require.Len(t, withdrawData.Entries, 1)
	require.Equal(t, "10", withdrawData.Entries[0].Amount.String())
	require.Equal(t, types.Epoch(5).Target(), withdrawData.Entries[0].UnlockEpoch)
}

func sameLock(a, b types.Script) bool {
	return a.CodeHash == b.CodeHash && a.HashType == b.HashType && string(a.Args) == string(b.Args)
}

func delegateATCell(idx uint32, lock, typ types.Script, staker types.Address, totalAmount uint64) types.Cell {
	var out types.OutPoint
	out.Index = idx
	out.TxHash[0] = byte(idx + 1)
	return types.Cell{
		OutPoint: out, Capacity: 100_000_000, Lock: lock, Type: &typ,
		Data: codec.EncodeDelegateCell(types.DelegateCellData{Delegators: []types.DelegateInfo{
			{Staker: staker, TotalAmount: amt(totalAmount)},
		}}),
	}
}

// TestBuildDelegateSMTDemotesBelowMax is the per-staker analogue of the
// quorum cut: three delegators bound to staker S at {D1:10, D2:30,
// D3:20}, MaxDelegators 2, so {D2, D3} win and D1 is refunded.
func TestBuildDelegateSMTDemotesBelowMax(t *testing.T) {
	c, client := newTestContext(t)
	staker := addr(1)
	delegators := map[string]types.Address{"D1": addr(2), "D2": addr(3), "D3": addr(4)}
	bounds := map[string]uint64{"D1": 10, "D2": 30, "D3": 20}

	idx := uint32(0)
	for name, d := range delegators {
		lock := c.Scripts.lockFor(d)
		client.PutCell(delegateATCell(idx, lock, c.Scripts.DelegateType, staker, bounds[name]))
		client.PutCell(emptyWithdrawCell(idx, lock, c.Scripts.WithdrawType))
		idx++
	}

	tx, err := c.BuildDelegateSMT(context.Background(), DelegateSMTParams{Staker: staker, Epoch: 6, MaxDelegators: 2})
	require.NoError(t, err)
	require.NotNil(t, tx)

	for _, name := range []string{"D2", "D3"} {
		got, ok, err := c.Forest.Delegate().GetAmount(staker, 6, delegators[name])
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, bounds[name], got.Uint64())
	}
	_, ok, err := c.Forest.Delegate().GetAmount(staker, 6, delegators["D1"])
	require.NoError(t, err)
	require.False(t, ok)

	lockD1 := c.Scripts.lockFor(delegators["D1"])
	var prunedDelegate, refundedWithdraw []byte
	for i, out := range tx.Outputs {
		if out.Type == nil || !sameLock(out.Lock, lockD1) {
			continue
		}
		if out.Type.CodeHash == c.Scripts.DelegateType.CodeHash {
			prunedDelegate = tx.OutputsData[i]
		}
		if out.Type.CodeHash == c.Scripts.WithdrawType.CodeHash {
			refundedWithdraw = tx.OutputsData[i]
		}
	}
	require.NotNil(t, prunedDelegate)
	delegateData, err := codec.DecodeDelegateCell(prunedDelegate)
	require.NoError(t, err)
	require.Empty(t, delegateData.Delegators)

	require.NotNil(t, refundedWithdraw)
	withdrawData, err := codec.DecodeWithdrawCell(refundedWithdraw)
	require.NoError(t, err)
	require.Len(t, withdrawData.Entries, 1)
	require.Equal(t, "10", withdrawData.Entries[0].Amount.String())
	require.Equal(t, types.Epoch(6).Target(), withdrawData.Entries[0].UnlockEpoch)
}
