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

func withdrawCell(lock, typ types.Script, entries []types.WithdrawInfo) types.Cell {
	var out types.OutPoint
	out.TxHash[0] = 1
	total := types.NewAmount(0)
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return types.Cell{
		OutPoint: out, Capacity: 100_000_000, Lock: lock, Type: &typ,
		Data: codec.EncodeWithdrawCell(types.WithdrawCellData{TokenAmount: total, Entries: entries}),
	}
}

// TestBuildWithdrawClaimsMaturedEntries is the withdraw scenario: two
// entries unlocking at epoch 2 and epoch 3; at current epoch 3 both have
// matured and the wallet is credited their sum, leaving the cell empty.
func TestBuildWithdrawClaimsMaturedEntries(t *testing.T) {
	c, client := newTestContext(t)
	owner := addr(1)
	walletLock := c.Scripts.lockFor(owner)
	withdrawLock := walletLock
	client.PutCell(withdrawCell(withdrawLock, c.Scripts.WithdrawType, []types.WithdrawInfo{
		{Amount: amt(10), UnlockEpoch: 2},
		{Amount: amt(10), UnlockEpoch: 3},
	}))

	tx, err := c.BuildWithdraw(context.Background(), WithdrawParams{
		Owner: owner, WalletLock: walletLock, CurrentEpoch: 3,
	})
	require.NoError(t, err)

	data, err := codec.DecodeWithdrawCell(outputDataByType(t, tx, c.Scripts.WithdrawType))
	require.NoError(t, err)
	require.Empty(t, data.Entries)
	require.True(t, data.TokenAmount.IsZero())

	credited := amountOf(t, outputDataByType(t, tx, c.Scripts.TokenType))
	require.Equal(t, "20", credited.String())
}

// TestBuildWithdrawLeavesUnmaturedEntries covers a partial claim: only
// the entry that has matured is paid out, the rest stays in the cell.
func TestBuildWithdrawLeavesUnmaturedEntries(t *testing.T) {
	c, client := newTestContext(t)
	owner := addr(1)
	walletLock := c.Scripts.lockFor(owner)
	client.PutCell(withdrawCell(walletLock, c.Scripts.WithdrawType, []types.WithdrawInfo{
		{Amount: amt(10), UnlockEpoch: 2},
		{Amount: amt(10), UnlockEpoch: 5},
	}))

	tx, err := c.BuildWithdraw(context.Background(), WithdrawParams{
		Owner: owner, WalletLock: walletLock, CurrentEpoch: 3,
	})
	require.NoError(t, err)

	data, err := codec.DecodeWithdrawCell(outputDataByType(t, tx, c.Scripts.WithdrawType))
	require.NoError(t, err)
	require.Len(t, data.Entries, 1)
	require.Equal(t, types.Epoch(5), data.Entries[0].UnlockEpoch)
	require.Equal(t, "10", data.TokenAmount.String())

	credited := amountOf(t, outputDataByType(t, tx, c.Scripts.TokenType))
	require.Equal(t, "10", credited.String())
}
