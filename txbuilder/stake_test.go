// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/codec"
	"github.com/ckb-spark/spark/types"
)

// outputDataByType returns the OutputsData entry of the first output
// whose Type matches typ, since debitOrCredit may insert a token change
// output ahead of a builder's own cell outputs.
func outputDataByType(t *testing.T, tx *types.Transaction, typ types.Script) []byte {
	t.Helper()
	for i, out := range tx.Outputs {
		if out.Type != nil && out.Type.CodeHash == typ.CodeHash && out.Type.HashType == typ.HashType {
			return tx.OutputsData[i]
		}
	}
	t.Fatalf("no output with type %+v", typ)
	return nil
}

func amountOf(t *testing.T, data []byte) types.Amount {
	t.Helper()
	return types.AmountFromLE16(data)
}

// TestBuildStakeFirstStake is the first-stake case: wallet 400, stake
// +100 at epoch 0 with inauguration_epoch 2 produces a stake AT cell
// with token amount 100, a pending +100 delta, and a wallet token
// change output of 300.
func TestBuildStakeFirstStake(t *testing.T) {
	c, client := newTestContext(t)
	staker := addr(1)
	walletLock := c.Scripts.lockFor(staker)
	client.PutCell(walletCell(0, walletLock, c.Scripts.TokenType, 400))

	tx, err := c.BuildStake(context.Background(), StakeParams{
		Staker:            staker,
		WalletLock:        walletLock,
		IsIncrease:        true,
		Amount:            amt(100),
		CurrentEpoch:      0,
		InaugurationEpoch: 2,
		L1PubKey:          [32]byte{1},
		BLSPubKey:         [48]byte{1},
	})
	require.NoError(t, err)

	stakeData, err := codec.DecodeStakeCell(outputDataByType(t, tx, c.Scripts.StakeType))
	require.NoError(t, err)
	require.Equal(t, "100", stakeData.TokenAmount.String())
	require.NotNil(t, stakeData.Pending)
	require.True(t, stakeData.Pending.IsIncrease)
	require.Equal(t, "100", stakeData.Pending.Amount.String())

	walletChange := amountOf(t, outputDataByType(t, tx, c.Scripts.TokenType))
	require.Equal(t, "300", walletChange.String())
}

// TestBuildStakeAddRedeemAddThenOverRedeem runs a sequence of requests
// against the same stake cell, applying each built transaction to the
// mock chain before issuing the next: +100, -10, +15, then a redeem of
// 400 that exceeds the cell's bound total and must fail.
func TestBuildStakeAddRedeemAddThenOverRedeem(t *testing.T) {
	c, client := newTestContext(t)
	staker := addr(1)
	walletLock := c.Scripts.lockFor(staker)
	client.PutCell(walletCell(0, walletLock, c.Scripts.TokenType, 400))

	tx1, err := c.BuildStake(context.Background(), StakeParams{
		Staker: staker, WalletLock: walletLock, IsIncrease: true, Amount: amt(100),
		CurrentEpoch: 0, InaugurationEpoch: 2, L1PubKey: [32]byte{1}, BLSPubKey: [48]byte{1},
	})
	require.NoError(t, err)
	mustSubmit(t, client, tx1)

	tx2, err := c.BuildStake(context.Background(), StakeParams{
		Staker: staker, WalletLock: walletLock, IsIncrease: false, Amount: amt(10),
		CurrentEpoch: 0, InaugurationEpoch: 2,
	})
	require.NoError(t, err)
	data2, err := codec.DecodeStakeCell(outputDataByType(t, tx2, c.Scripts.StakeType))
	require.NoError(t, err)
	require.Equal(t, "190", data2.TokenAmount.String())
	require.Equal(t, "90", data2.Pending.Amount.String())
	require.True(t, data2.Pending.IsIncrease)
	mustSubmit(t, client, tx2)

	tx3, err := c.BuildStake(context.Background(), StakeParams{
		Staker: staker, WalletLock: walletLock, IsIncrease: true, Amount: amt(15),
		CurrentEpoch: 0, InaugurationEpoch: 2,
	})
	require.NoError(t, err)
	data3, err := codec.DecodeStakeCell(outputDataByType(t, tx3, c.Scripts.StakeType))
	require.NoError(t, err)
	require.Equal(t, "205", data3.TokenAmount.String())
	require.Equal(t, "105", data3.Pending.Amount.String())
	mustSubmit(t, client, tx3)

	_, err = c.BuildStake(context.Background(), StakeParams{
		Staker: staker, WalletLock: walletLock, IsIncrease: false, Amount: amt(400),
		CurrentEpoch: 0, InaugurationEpoch: 2,
	})
	require.ErrorIs(t, err, types.ErrExceedTotalAmount)
}

// TestBuildStakeExpiredAddSettlesFirst covers a pending delta whose
// inauguration epoch has passed by the time a new request arrives: the
// prior +10 settles into the total before the new +15 is reconciled.
func TestBuildStakeExpiredAddSettlesFirst(t *testing.T) {
	c, client := newTestContext(t)
	staker := addr(1)
	walletLock := c.Scripts.lockFor(staker)
	client.PutCell(walletCell(0, walletLock, c.Scripts.TokenType, 400))

	tx1, err := c.BuildStake(context.Background(), StakeParams{
		Staker: staker, WalletLock: walletLock, IsIncrease: true, Amount: amt(10),
		CurrentEpoch: 0, InaugurationEpoch: 2, L1PubKey: [32]byte{1}, BLSPubKey: [48]byte{1},
	})
	require.NoError(t, err)
	mustSubmit(t, client, tx1)

	// current epoch 3: InaugurationEpoch(2) < 3+Inauguration(2), so the
	// prior delta is expired and settles before the new +15 applies.
	tx2, err := c.BuildStake(context.Background(), StakeParams{
		Staker: staker, WalletLock: walletLock, IsIncrease: true, Amount: amt(15),
		CurrentEpoch: 3, InaugurationEpoch: 5,
	})
	require.NoError(t, err)
	data2, err := codec.DecodeStakeCell(outputDataByType(t, tx2, c.Scripts.StakeType))
	require.NoError(t, err)
	require.Equal(t, "15", data2.TokenAmount.String())
	require.Equal(t, "5", data2.Pending.Amount.String())
	require.True(t, data2.Pending.IsIncrease)
}

// mustSubmit applies tx's effects to client as a real submission would,
// so a following step in a multi-request scenario observes the updated
// cell set.
func mustSubmit(t *testing.T, client *chainclient.Mock, tx *types.Transaction) {
	t.Helper()
	_, err := client.SendTransaction(context.Background(), tx, chainclient.ValidatorDefault)
	require.NoError(t, err)
}
