// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransactionAddOutputKeepsDataInLockStep(t *testing.T) {
	var tx Transaction
	tx.AddOutput(CellOutput{Capacity: 100}, []byte("a"))
	tx.AddOutput(CellOutput{Capacity: 200}, []byte("bb"))

	require.Len(t, tx.Outputs, 2)
	require.Len(t, tx.OutputsData, 2)
	require.Equal(t, []byte("a"), tx.OutputsData[0])
	require.Equal(t, []byte("bb"), tx.OutputsData[1])
}

func TestTransactionAddInputKeepsWitnessInLockStep(t *testing.T) {
	var tx Transaction
	tx.AddInput(CellInput{Since: 1}, []byte{0xde, 0xad})
	tx.AddInput(CellInput{Since: 2}, nil)

	require.Len(t, tx.Inputs, 2)
	require.Len(t, tx.Witnesses, 2)
	require.Equal(t, []byte{0xde, 0xad}, tx.Witnesses[0])
	require.Nil(t, tx.Witnesses[1])
}

func TestTransactionInputCapacitySumsResolvedCells(t *testing.T) {
	var tx Transaction
	tx.AddInput(CellInput{}, nil)
	tx.AddInput(CellInput{}, nil)

	resolved := []Cell{{Capacity: 100}, {Capacity: 250}}
	require.Equal(t, uint64(350), tx.InputCapacity(resolved))
}

func TestTransactionOutputCapacitySums(t *testing.T) {
	var tx Transaction
	tx.AddOutput(CellOutput{Capacity: 100}, nil)
	tx.AddOutput(CellOutput{Capacity: 50}, nil)
	require.Equal(t, uint64(150), tx.OutputCapacity())
}

func TestTransactionEstimatedSizeGrowsWithShape(t *testing.T) {
	var base Transaction
	base.AddOutput(CellOutput{Capacity: 100, Lock: Script{}}, []byte{1, 2, 3})
	baseSize := base.EstimatedSize()

	var withInput Transaction
	withInput.AddOutput(CellOutput{Capacity: 100, Lock: Script{}}, []byte{1, 2, 3})
	withInput.AddInput(CellInput{}, nil)
	require.Greater(t, withInput.EstimatedSize(), baseSize)

	var withType Transaction
	withType.AddOutput(CellOutput{Capacity: 100, Lock: Script{}, Type: &Script{}}, []byte{1, 2, 3})
	require.Greater(t, withType.EstimatedSize(), baseSize)

	var withLongArgs Transaction
	withLongArgs.AddOutput(CellOutput{Capacity: 100, Lock: Script{Args: make([]byte, 64)}}, []byte{1, 2, 3})
	require.Greater(t, withLongArgs.EstimatedSize(), baseSize)
}

func TestTransactionEstimatedSizeIsStableAcrossCalls(t *testing.T) {
	var tx Transaction
	tx.AddOutput(CellOutput{Capacity: 100}, []byte{1})
	tx.AddInput(CellInput{}, []byte{2, 3})

	first := tx.EstimatedSize()
	second := tx.EstimatedSize()
	require.Equal(t, first, second)
}
