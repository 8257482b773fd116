// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package smt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ckb-spark/spark/smt/store"
	"github.com/ckb-spark/spark/types"
)

func newTestForest(t *testing.T) *Forest {
	t.Helper()
	db, err := store.OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return NewForest(db)
}

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

// TestStakeTopSubInvariant exercises spec.md §3 "new_epoch(E): ... the top
// SMT must contain a fresh sub-root for E" and §9's
// `top[E] == sub_root(E)` invariant.
func TestStakeTopSubInvariant(t *testing.T) {
	require := require.New(t)
	f := newTestForest(t)
	stake := f.Stake()

	const epoch = types.Epoch(100)
	require.NoError(stake.Insert(epoch, []UserAmount{
		{User: addr(1), Amount: types.NewAmount(1000)},
		{User: addr(2), Amount: types.NewAmount(2000)},
	}))

	subRoot, err := stake.GetSubRoot(epoch)
	require.NoError(err)

	topRoot, err := stake.GetTopRoot()
	require.NoError(err)

	topProof, err := stake.GenerateTopProof([]types.Epoch{epoch})
	require.NoError(err)
	require.Equal(topRoot, topProof.Root)
	require.True(topProof.Verify())
	require.Equal(types.RootLeaf(subRoot), topProof.Entries[0].Value)
}

func TestStakeInsertGetRemoveAmount(t *testing.T) {
	require := require.New(t)
	f := newTestForest(t)
	stake := f.Stake()
	const epoch = types.Epoch(5)

	_, ok, err := stake.GetAmount(epoch, addr(9))
	require.NoError(err)
	require.False(ok)

	require.NoError(stake.Insert(epoch, []UserAmount{{User: addr(9), Amount: types.NewAmount(500)}}))
	amt, ok, err := stake.GetAmount(epoch, addr(9))
	require.NoError(err)
	require.True(ok)
	require.Equal("500", amt.String())

	leaves, err := stake.GetSubLeaves(epoch)
	require.NoError(err)
	require.Len(leaves, 1)

	require.NoError(stake.Remove(epoch, []types.Address{addr(9)}))
	_, ok, err = stake.GetAmount(epoch, addr(9))
	require.NoError(err)
	require.False(ok)
}

// TestNewEpochIsIdempotent exercises spec.md §9 "NewEpoch ... Idempotent":
// calling it again with no intervening sub-tree mutation reproduces the
// same top root.
func TestNewEpochIsIdempotent(t *testing.T) {
	require := require.New(t)
	f := newTestForest(t)
	stake := f.Stake()
	const epoch = types.Epoch(7)

	require.NoError(stake.Insert(epoch, []UserAmount{{User: addr(1), Amount: types.NewAmount(10)}}))
	first, err := stake.GetTopRoot()
	require.NoError(err)

	require.NoError(stake.NewEpoch(epoch))
	second, err := stake.GetTopRoot()
	require.NoError(err)
	require.Equal(first, second)
}

func TestDelegateIsPerStaker(t *testing.T) {
	require := require.New(t)
	f := newTestForest(t)
	delegate := f.Delegate()
	const epoch = types.Epoch(3)
	staker1, staker2 := addr(11), addr(12)

	require.NoError(delegate.Insert(staker1, epoch, []DelegatorAmount{{Delegator: addr(1), Amount: types.NewAmount(100)}}))
	require.NoError(delegate.Insert(staker2, epoch, []DelegatorAmount{{Delegator: addr(1), Amount: types.NewAmount(900)}}))

	a1, ok, err := delegate.GetAmount(staker1, epoch, addr(1))
	require.NoError(err)
	require.True(ok)
	require.Equal("100", a1.String())

	a2, ok, err := delegate.GetAmount(staker2, epoch, addr(1))
	require.NoError(err)
	require.True(ok)
	require.Equal("900", a2.String())

	root1, err := delegate.GetTopRoot(staker1)
	require.NoError(err)
	root2, err := delegate.GetTopRoot(staker2)
	require.NoError(err)
	require.NotEqual(root1, root2)
}

func TestRewardInsertGet(t *testing.T) {
	require := require.New(t)
	f := newTestForest(t)
	reward := f.Reward()
	a := addr(3)

	_, ok, err := reward.Get(a)
	require.NoError(err)
	require.False(ok)

	require.NoError(reward.Insert(a, types.Epoch(42)))
	e, ok, err := reward.Get(a)
	require.NoError(err)
	require.True(ok)
	require.Equal(types.Epoch(42), e)

	proof, err := reward.GenerateProof([]types.Address{a})
	require.NoError(err)
	require.True(proof.Verify())
}

func TestProposalMirrorsStakeShape(t *testing.T) {
	require := require.New(t)
	f := newTestForest(t)
	proposal := f.Proposal()
	const epoch = types.Epoch(1)

	require.NoError(proposal.Insert(epoch, []UserAmount{{User: addr(4), Amount: types.NewAmount(31)}}))
	count, ok, err := proposal.GetAmount(epoch, addr(4))
	require.NoError(err)
	require.True(ok)
	require.Equal(uint64(31), count.Uint64())
}
