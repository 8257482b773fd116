// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/codec"
	"github.com/ckb-spark/spark/config"
	"github.com/ckb-spark/spark/smt"
	"github.com/ckb-spark/spark/smt/store"
	"github.com/ckb-spark/spark/types"
)

// requirementCell mints a requirement cell carrying staker's commission
// rate, needed by dividendRateFor.
func requirementCell(idx uint32, lock, typ types.Script, commission uint8) types.Cell {
	var out types.OutPoint
	out.Index = idx
	out.TxHash[0] = byte(idx + 1)
	return types.Cell{OutPoint: out, Capacity: 100_000_000, Lock: lock, Type: &typ, Data: codec.EncodeRequirement(types.RequirementCellData{CommissionRate: commission})}
}

func feeFundingCell() types.Cell {
	var out types.OutPoint
	out.TxHash[0] = 77
	return types.Cell{OutPoint: out, Capacity: 1_000_000_000}
}

// rewardTestSetup builds a Context with reward economics matching the
// spec's S6 scenario: validator A has own_stake 100 and delegated 100
// (D1 50, D2 50), a 20% commission, and a proposal count exactly at
// theoretical for epoch 1, so ratio is 100 and no halving has occurred.
func rewardTestSetup(t *testing.T) (*Context, types.Address, types.Address, types.Address) {
	t.Helper()
	db, err := store.OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	cfg := &config.Config{
		FeeRatePerKB:                 1000,
		BaseReward:                   10000,
		HalfCycleEpochs:              200,
		TheoreticalProposalsPerEpoch: 10,
	}
	client := chainclient.NewMock()
	forest := smt.NewForest(db)
	c := NewContext(cfg, client, forest, testScripts(), nil)

	stakerA := addr(1)
	d1, d2 := addr(2), addr(3)

	require.NoError(t, forest.Stake().Insert(1, []smt.UserAmount{{User: stakerA, Amount: amt(100)}}))
	require.NoError(t, forest.Delegate().Insert(stakerA, 1, []smt.DelegatorAmount{
		{Delegator: d1, Amount: amt(50)},
		{Delegator: d2, Amount: amt(50)},
	}))
	require.NoError(t, forest.Proposal().Insert(1, []smt.UserAmount{{User: stakerA, Amount: amt(10)}}))

	client.PutCell(requirementCell(0, c.Scripts.lockFor(stakerA), c.Scripts.RequirementType, 20))
	return c, stakerA, d1, d2
}

// TestBuildRewardValidatorShare is scenario S6's validator leg: base
// reward 10000 split 100/200 own plus 100/200 delegated at 80% retained.
func TestBuildRewardValidatorShare(t *testing.T) {
	c, stakerA, _, _ := rewardTestSetup(t)
	walletLock := c.Scripts.lockFor(stakerA)

	tx, err := c.BuildReward(context.Background(), RewardParams{
		Address: stakerA, WalletLock: walletLock, CurrentEpoch: 3, FeeFunding: feeFundingCell(),
	})
	require.NoError(t, err)
	require.NotNil(t, tx)

	credited := amountOf(t, outputDataByType(t, tx, c.Scripts.TokenType))
	require.Equal(t, "9000", credited.String())
}

// TestBuildRewardDelegatorShare is scenario S6's delegator leg: D1's 50
// delegated tokens earn the 20% commission cut of the pool.
func TestBuildRewardDelegatorShare(t *testing.T) {
	c, stakerA, d1, _ := rewardTestSetup(t)
	walletLock := c.Scripts.lockFor(d1)

	tx, err := c.BuildReward(context.Background(), RewardParams{
		Address: d1, WalletLock: walletLock, Stakers: []types.Address{stakerA},
		CurrentEpoch: 3, FeeFunding: feeFundingCell(),
	})
	require.NoError(t, err)
	require.NotNil(t, tx)

	credited := amountOf(t, outputDataByType(t, tx, c.Scripts.TokenType))
	require.Equal(t, "500", credited.String())
}

// TestBuildRewardNothingToClaimReturnsNil covers an address with no
// validator or delegator standing at any outstanding epoch.
func TestBuildRewardNothingToClaimReturnsNil(t *testing.T) {
	c, _, _, _ := rewardTestSetup(t)
	bystander := addr(9)

	tx, err := c.BuildReward(context.Background(), RewardParams{
		Address: bystander, WalletLock: c.Scripts.lockFor(bystander), CurrentEpoch: 3, FeeFunding: feeFundingCell(),
	})
	require.NoError(t, err)
	require.Nil(t, tx)
}
