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

// TestBuildInitSeedsEveryGenesisCell checks that BuildInit emits one
// output per genesis cell, each with a distinct type-ID derived from the
// funding cell, and that the issue cell starts at zero supply.
func TestBuildInitSeedsEveryGenesisCell(t *testing.T) {
	c, _ := newTestContext(t)
	owner := addr(1)
	var fundingOut types.OutPoint
	fundingOut.TxHash[0] = 9
	funding := types.Cell{OutPoint: fundingOut, Capacity: 1_000_000_000, Lock: c.Scripts.lockFor(owner)}

	tx, err := c.BuildInit(context.Background(), InitParams{
		FundingCell: funding,
		OwnerLock:   c.Scripts.lockFor(owner),
		MaxSupply:   amt(1_000_000),
		Quorum:      3,
	})
	require.NoError(t, err)

	// 7 genesis cells plus the capacity change output.
	require.Len(t, tx.Outputs, 8)

	seen := make(map[types.Hash]bool)
	for _, out := range tx.Outputs[:7] {
		require.NotNil(t, out.Type)
		id := types.Hash{}
		copy(id[:], out.Type.Args)
		require.False(t, seen[id], "type-ID reused across genesis cells")
		seen[id] = true
	}

	issueData, err := codec.DecodeIssueCell(tx.OutputsData[0])
	require.NoError(t, err)
	require.True(t, issueData.CurrentSupply.IsZero())
	require.Equal(t, "1000000", issueData.MaxSupply.String())
}
