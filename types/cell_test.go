// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStringIsHexPrefixed(t *testing.T) {
	var h Hash
	h[0], h[31] = 0xab, 0xcd
	s := h.String()
	require.Equal(t, "0x", s[:2])
	require.Equal(t, "ab", s[2:4])
	require.Equal(t, "cd", s[len(s)-2:])
	require.Len(t, s, 2+2*32)
}

func TestStakeItemExpired(t *testing.T) {
	item := StakeItem{InaugurationEpoch: 10}
	require.True(t, item.Expired(9))  // 10 < 9+2
	require.True(t, item.Expired(10)) // 10 < 10+2
	require.False(t, item.Expired(8)) // 10 < 8+2 is false
}

func TestDelegateItemExpired(t *testing.T) {
	item := DelegateItem{InaugurationEpoch: 10}
	require.True(t, item.Expired(9))
	require.False(t, item.Expired(8))
}
