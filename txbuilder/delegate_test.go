// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ckb-spark/spark/codec"
)

// TestBuildDelegateFirstDelegate: wallet 400, delegate +50 to staker A at
// epoch 0 with inauguration_epoch 2 produces a single delegator entry.
func TestBuildDelegateFirstDelegate(t *testing.T) {
	c, client := newTestContext(t)
	delegator := addr(2)
	stakerA := addr(10)
	walletLock := c.Scripts.lockFor(delegator)
	client.PutCell(walletCell(0, walletLock, c.Scripts.TokenType, 400))

	tx, err := c.BuildDelegate(context.Background(), DelegateParams{
		Delegator: delegator, WalletLock: walletLock, Staker: stakerA,
		IsIncrease: true, Amount: amt(50), CurrentEpoch: 0, InaugurationEpoch: 2,
	})
	require.NoError(t, err)

	data, err := codec.DecodeDelegateCell(outputDataByType(t, tx, c.Scripts.DelegateType))
	require.NoError(t, err)
	require.Len(t, data.Delegators, 1)
	require.Equal(t, stakerA, data.Delegators[0].Staker)
	require.Equal(t, "50", data.Delegators[0].TotalAmount.String())
	require.True(t, data.Delegators[0].Pending.IsIncrease)
	require.Equal(t, "50", data.Delegators[0].Pending.Amount.String())

	walletChange := amountOf(t, outputDataByType(t, tx, c.Scripts.TokenType))
	require.Equal(t, "350", walletChange.String())
}

// TestBuildDelegateMultiTargetPreserved: delegating to a second staker
// must not disturb the first target's entry (spec.md §4.3 "preserves
// rest delegates not mentioned").
func TestBuildDelegateMultiTargetPreserved(t *testing.T) {
	c, client := newTestContext(t)
	delegator := addr(2)
	stakerA, stakerB := addr(10), addr(11)
	walletLock := c.Scripts.lockFor(delegator)
	client.PutCell(walletCell(0, walletLock, c.Scripts.TokenType, 400))

	tx1, err := c.BuildDelegate(context.Background(), DelegateParams{
		Delegator: delegator, WalletLock: walletLock, Staker: stakerA,
		IsIncrease: true, Amount: amt(50), CurrentEpoch: 0, InaugurationEpoch: 2,
	})
	require.NoError(t, err)
	mustSubmit(t, client, tx1)

	tx2, err := c.BuildDelegate(context.Background(), DelegateParams{
		Delegator: delegator, WalletLock: walletLock, Staker: stakerB,
		IsIncrease: true, Amount: amt(30), CurrentEpoch: 0, InaugurationEpoch: 2,
	})
	require.NoError(t, err)

	data, err := codec.DecodeDelegateCell(outputDataByType(t, tx2, c.Scripts.DelegateType))
	require.NoError(t, err)
	require.Len(t, data.Delegators, 2)
	require.Equal(t, stakerA, data.Delegators[0].Staker)
	require.Equal(t, "50", data.Delegators[0].TotalAmount.String())
	require.Equal(t, stakerB, data.Delegators[1].Staker)
	require.Equal(t, "30", data.Delegators[1].TotalAmount.String())
	require.True(t, data.Delegators[1].Pending.IsIncrease)
	require.Equal(t, "30", data.Delegators[1].Pending.Amount.String())
	mustSubmit(t, client, tx2)

	tx3, err := c.BuildDelegate(context.Background(), DelegateParams{
		Delegator: delegator, WalletLock: walletLock, Staker: stakerA,
		IsIncrease: false, Amount: amt(20), CurrentEpoch: 0, InaugurationEpoch: 2,
	})
	require.NoError(t, err)
	data3, err := codec.DecodeDelegateCell(outputDataByType(t, tx3, c.Scripts.DelegateType))
	require.NoError(t, err)
	require.Len(t, data3.Delegators, 2)
	require.Equal(t, "80", data3.Delegators[0].TotalAmount.String())
	require.Equal(t, "30", data3.Delegators[0].Pending.Amount.String())
	require.True(t, data3.Delegators[0].Pending.IsIncrease)
	require.Equal(t, "30", data3.Delegators[1].TotalAmount.String())
}
