// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txbuilder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/config"
	"github.com/ckb-spark/spark/smt"
	"github.com/ckb-spark/spark/smt/store"
	"github.com/ckb-spark/spark/types"
)

func testScripts() Scripts {
	mk := func(tag byte) types.Script { return types.Script{CodeHash: types.Hash{tag}, HashType: 1} }
	return Scripts{
		ATLock:          mk(1),
		StakeType:       mk(2),
		DelegateType:    mk(3),
		WithdrawType:    mk(4),
		CheckpointType:  mk(5),
		MetadataType:    mk(6),
		StakeSMTType:    mk(7),
		DelegateSMTType: mk(8),
		RewardSMTType:   mk(9),
		RequirementType: mk(10),
		IssueType:       mk(11),
		SelectionType:   mk(12),
		TokenType:       mk(13),
	}
}

func newTestContext(t *testing.T) (*Context, *chainclient.Mock) {
	t.Helper()
	db, err := store.OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	cfg := &config.Config{FeeRatePerKB: 1000}
	client := chainclient.NewMock()
	forest := smt.NewForest(db)
	return NewContext(cfg, client, forest, testScripts(), nil), client
}

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func amt(v uint64) types.Amount { return types.NewAmount(v) }

// walletCell mints a plain token cell for address lock, a fixed 16-byte
// amount prefix.
func walletCell(idx uint32, lock types.Script, tokenType types.Script, value uint64) types.Cell {
	var out types.OutPoint
	out.Index = idx
	out.TxHash[0] = byte(idx + 1)
	data := make([]byte, types.AmountSize)
	amt(value).PutLE16(data)
	return types.Cell{OutPoint: out, Capacity: 100_000_000, Lock: lock, Type: &tokenType, Data: data}
}
