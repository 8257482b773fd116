// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package elect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ckb-spark/spark/types"
)

func amt(v uint64) types.Amount { return types.NewAmount(v) }

// conserved asserts the wallet+total conservation property (spec.md §8
// property 1): every legal reconciliation moves tokens between wallet and
// total, never creating or destroying them.
func conserved(t *testing.T, wallet, total types.Amount, out Outcome) {
	t.Helper()
	before := wallet.Add(total)
	after := out.NewWallet.Add(out.NewTotal)
	require.Equal(t, before.String(), after.String())
}

func TestReconcileFirstDeltaMustIncrease(t *testing.T) {
	_, err := Reconcile(amt(1000), amt(0), nil, false, amt(100))
	require.ErrorIs(t, err, types.ErrFirstIncreaseOnly)
}

func TestReconcileNoneIncrease(t *testing.T) {
	wallet, total := amt(1000), amt(0)
	out, err := Reconcile(wallet, total, nil, true, amt(100))
	require.NoError(t, err)
	require.Equal(t, "900", out.NewWallet.String())
	require.Equal(t, "100", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: true, Amount: amt(100)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileLiveIncreaseStacksOnIncrease(t *testing.T) {
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: true, Amount: amt(100)}
	out, err := Reconcile(wallet, total, last, true, amt(50))
	require.NoError(t, err)
	require.Equal(t, "950", out.NewWallet.String())
	require.Equal(t, "150", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: true, Amount: amt(150)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileLiveDecreaseNetsIncreaseWinner(t *testing.T) {
	// last = -50 live, new = +80: A>=B, net +30.
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: false, Amount: amt(50)}
	out, err := Reconcile(wallet, total, last, true, amt(80))
	require.NoError(t, err)
	require.Equal(t, "970", out.NewWallet.String())
	require.Equal(t, "130", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: true, Amount: amt(30)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileLiveDecreaseNetsDecreaseWinner(t *testing.T) {
	// last = -50 live, new = +20: A<B, net -30, old direction survives.
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: false, Amount: amt(50)}
	out, err := Reconcile(wallet, total, last, true, amt(20))
	require.NoError(t, err)
	require.Equal(t, "1030", out.NewWallet.String())
	require.Equal(t, "70", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: false, Amount: amt(30)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileExpiredIncreaseSettlesNetIncreaseWinner(t *testing.T) {
	// last = +50 expired, new = +80: settles as net +30.
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: true, Amount: amt(50), Expired: true}
	out, err := Reconcile(wallet, total, last, true, amt(80))
	require.NoError(t, err)
	require.Equal(t, "970", out.NewWallet.String())
	require.Equal(t, "130", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: true, Amount: amt(30)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileExpiredIncreaseCollapsesToZero(t *testing.T) {
	// last = +50 expired, new = +20: A<B collapses to no pending delta.
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: true, Amount: amt(50), Expired: true}
	out, err := Reconcile(wallet, total, last, true, amt(20))
	require.NoError(t, err)
	require.Equal(t, "1030", out.NewWallet.String())
	require.Equal(t, "70", out.NewTotal.String())
	require.Nil(t, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileExpiredDecreaseIsDropped(t *testing.T) {
	// last = -50 expired, new = +80: prior decrease never materialized and
	// is simply discarded; processed as if last were none.
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: false, Amount: amt(50), Expired: true}
	out, err := Reconcile(wallet, total, last, true, amt(80))
	require.NoError(t, err)
	require.Equal(t, "920", out.NewWallet.String())
	require.Equal(t, "180", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: true, Amount: amt(80)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

// Mirror rows: new request is a decrease.

func TestReconcileLiveDecreaseStacksOnDecrease(t *testing.T) {
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: false, Amount: amt(30)}
	out, err := Reconcile(wallet, total, last, false, amt(20))
	require.NoError(t, err)
	require.Equal(t, "1020", out.NewWallet.String())
	require.Equal(t, "80", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: false, Amount: amt(50)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileLiveIncreaseNetsDecreaseWinner(t *testing.T) {
	// last = +50 live, new = -80: A>=B, net decrease of 30.
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: true, Amount: amt(50)}
	out, err := Reconcile(wallet, total, last, false, amt(80))
	require.NoError(t, err)
	require.Equal(t, "1030", out.NewWallet.String())
	require.Equal(t, "70", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: false, Amount: amt(30)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileLiveIncreaseNetsIncreaseWinner(t *testing.T) {
	// last = +50 live, new = -20: A<B, old increase direction survives.
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: true, Amount: amt(50)}
	out, err := Reconcile(wallet, total, last, false, amt(20))
	require.NoError(t, err)
	require.Equal(t, "970", out.NewWallet.String())
	require.Equal(t, "130", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: true, Amount: amt(30)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileExpiredDecreaseSettlesNetDecreaseWinner(t *testing.T) {
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: false, Amount: amt(50), Expired: true}
	out, err := Reconcile(wallet, total, last, false, amt(80))
	require.NoError(t, err)
	require.Equal(t, "1030", out.NewWallet.String())
	require.Equal(t, "70", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: false, Amount: amt(30)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileExpiredDecreaseCollapsesToZero(t *testing.T) {
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: false, Amount: amt(50), Expired: true}
	out, err := Reconcile(wallet, total, last, false, amt(20))
	require.NoError(t, err)
	require.Equal(t, "970", out.NewWallet.String())
	require.Equal(t, "130", out.NewTotal.String())
	require.Nil(t, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileExpiredIncreaseIsDroppedForDecrease(t *testing.T) {
	wallet, total := amt(1000), amt(100)
	last := &PendingDelta{IsIncrease: true, Amount: amt(50), Expired: true}
	out, err := Reconcile(wallet, total, last, false, amt(40))
	require.NoError(t, err)
	require.Equal(t, "1040", out.NewWallet.String())
	require.Equal(t, "60", out.NewTotal.String())
	require.Equal(t, &PendingDelta{IsIncrease: false, Amount: amt(40)}, out.NewDelta)
	conserved(t, wallet, total, out)
}

func TestReconcileExceedsWalletAmount(t *testing.T) {
	wallet, total := amt(10), amt(0)
	_, err := Reconcile(wallet, total, nil, true, amt(100))
	require.ErrorIs(t, err, types.ErrExceedWalletAmount)
}

func TestReconcileExceedsTotalAmount(t *testing.T) {
	wallet, total := amt(1000), amt(10)
	last := &PendingDelta{IsIncrease: true, Amount: amt(5)}
	_, err := Reconcile(wallet, total, last, false, amt(100))
	require.ErrorIs(t, err, types.ErrExceedTotalAmount)
}
