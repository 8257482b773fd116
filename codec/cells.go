// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ckb-spark/spark/types"
)

const (
	delegateInfoPending    byte = 1
	delegateInfoNoPending  byte = 0
)

// EncodeRequirement lays out a requirement cell's (commission_rate,
// max_delegators, threshold) triple (spec.md §3 "requirement cell").
func EncodeRequirement(r types.RequirementCellData) []byte {
	w := NewWriter()
	w.PutByte(r.CommissionRate)
	w.PutU32(r.MaxDelegators)
	var amt [types.AmountSize]byte
	r.Threshold.PutLE16(amt[:])
	w.PutFixed(amt[:])
	return w.Bytes()
}

func DecodeRequirement(b []byte) (types.RequirementCellData, error) {
	r := NewReader(b)
	rate, err := r.GetByte()
	if err != nil {
		return types.RequirementCellData{}, err
	}
	maxDel, err := r.GetU32()
	if err != nil {
		return types.RequirementCellData{}, err
	}
	amt, err := r.GetFixed(types.AmountSize)
	if err != nil {
		return types.RequirementCellData{}, err
	}
	if err := r.Done(); err != nil {
		return types.RequirementCellData{}, err
	}
	return types.RequirementCellData{
		CommissionRate: rate,
		MaxDelegators:  maxDel,
		Threshold:      types.AmountFromLE16(amt),
	}, nil
}

func putStakeItem(w *Writer, s *types.StakeItem) {
	if s == nil {
		w.PutByte(0)
		return
	}
	w.PutByte(1)
	if s.IsIncrease {
		w.PutByte(1)
	} else {
		w.PutByte(0)
	}
	var amt [types.AmountSize]byte
	s.Amount.PutLE16(amt[:])
	w.PutFixed(amt[:])
	w.PutU64(uint64(s.InaugurationEpoch))
}

func getStakeItem(r *Reader) (*types.StakeItem, error) {
	present, err := r.GetByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	incByte, err := r.GetByte()
	if err != nil {
		return nil, err
	}
	amt, err := r.GetFixed(types.AmountSize)
	if err != nil {
		return nil, err
	}
	epoch, err := r.GetU64()
	if err != nil {
		return nil, err
	}
	return &types.StakeItem{
		IsIncrease:        incByte == 1,
		Amount:            types.AmountFromLE16(amt),
		InaugurationEpoch: types.Epoch(epoch),
	}, nil
}

// EncodeStakeCell lays out a stake AT cell: amount prefix, version,
// l1/bls pubkeys, the optional pending delta, then the delegate
// requirement reference (spec.md §4.3 "Stake / Delegate").
func EncodeStakeCell(d types.StakeCellData) []byte {
	w := NewWriter()
	var amt [types.AmountSize]byte
	d.TokenAmount.PutLE16(amt[:])
	w.PutFixed(amt[:])
	w.PutByte(Version)
	w.PutFixed(d.L1PubKey[:])
	w.PutFixed(d.BLSPubKey[:])
	putStakeItem(w, d.Pending)
	w.PutFixed(EncodeRequirement(d.DelegateRequirement))
	return w.Bytes()
}

func DecodeStakeCell(b []byte) (types.StakeCellData, error) {
	r := NewReader(b)
	amt, err := r.GetFixed(types.AmountSize)
	if err != nil {
		return types.StakeCellData{}, err
	}
	ver, err := r.GetByte()
	if err != nil {
		return types.StakeCellData{}, err
	}
	if ver != Version {
		return types.StakeCellData{}, fmt.Errorf("codec: unsupported stake cell version %d", ver)
	}
	l1, err := r.GetFixed(32)
	if err != nil {
		return types.StakeCellData{}, err
	}
	bls, err := r.GetFixed(48)
	if err != nil {
		return types.StakeCellData{}, err
	}
	pending, err := getStakeItem(r)
	if err != nil {
		return types.StakeCellData{}, err
	}
	reqBytes, err := r.GetFixed(1 + 4 + types.AmountSize)
	if err != nil {
		return types.StakeCellData{}, err
	}
	req, err := DecodeRequirement(reqBytes)
	if err != nil {
		return types.StakeCellData{}, err
	}
	if err := r.Done(); err != nil {
		return types.StakeCellData{}, err
	}
	out := types.StakeCellData{
		TokenAmount:         types.AmountFromLE16(amt),
		Pending:             pending,
		DelegateRequirement: req,
	}
	copy(out.L1PubKey[:], l1)
	copy(out.BLSPubKey[:], bls)
	return out, nil
}

func encodeDelegateInfo(d types.DelegateInfo) []byte {
	w := NewWriter()
	w.PutFixed(d.Staker[:])
	var amt [types.AmountSize]byte
	d.TotalAmount.PutLE16(amt[:])
	w.PutFixed(amt[:])
	if d.Pending == nil {
		w.PutByte(delegateInfoNoPending)
	} else {
		w.PutByte(delegateInfoPending)
		if d.Pending.IsIncrease {
			w.PutByte(1)
		} else {
			w.PutByte(0)
		}
		var pamt [types.AmountSize]byte
		d.Pending.Amount.PutLE16(pamt[:])
		w.PutFixed(pamt[:])
		w.PutU64(uint64(d.Pending.InaugurationEpoch))
	}
	return w.Bytes()
}

func decodeDelegateInfo(b []byte) (types.DelegateInfo, error) {
	r := NewReader(b)
	staker, err := r.GetFixed(types.AddrSize)
	if err != nil {
		return types.DelegateInfo{}, err
	}
	amt, err := r.GetFixed(types.AmountSize)
	if err != nil {
		return types.DelegateInfo{}, err
	}
	flag, err := r.GetByte()
	if err != nil {
		return types.DelegateInfo{}, err
	}
	info := types.DelegateInfo{TotalAmount: types.AmountFromLE16(amt)}
	copy(info.Staker[:], staker)
	if flag == delegateInfoPending {
		incByte, err := r.GetByte()
		if err != nil {
			return types.DelegateInfo{}, err
		}
		pamt, err := r.GetFixed(types.AmountSize)
		if err != nil {
			return types.DelegateInfo{}, err
		}
		epoch, err := r.GetU64()
		if err != nil {
			return types.DelegateInfo{}, err
		}
		info.Pending = &types.DelegateItem{
			Staker:            info.Staker,
			TotalAmount:       info.TotalAmount,
			IsIncrease:        incByte == 1,
			Amount:            types.AmountFromLE16(pamt),
			InaugurationEpoch: types.Epoch(epoch),
		}
	}
	if err := r.Done(); err != nil {
		return types.DelegateInfo{}, err
	}
	return info, nil
}

// EncodeDelegateCell lays out a delegate AT cell: amount prefix, version,
// then a table of per-staker delegate infos (spec.md §4.3 "Delegate
// builder additionally collapses multiple simultaneous target-stakers").
func EncodeDelegateCell(d types.DelegateCellData) []byte {
	w := NewWriter()
	var amt [types.AmountSize]byte
	d.TokenAmount.PutLE16(amt[:])
	w.PutFixed(amt[:])
	w.PutByte(Version)
	items := make([][]byte, len(d.Delegators))
	for i, info := range d.Delegators {
		items[i] = encodeDelegateInfo(info)
	}
	w.PutTable(items)
	return w.Bytes()
}

func DecodeDelegateCell(b []byte) (types.DelegateCellData, error) {
	r := NewReader(b)
	amt, err := r.GetFixed(types.AmountSize)
	if err != nil {
		return types.DelegateCellData{}, err
	}
	ver, err := r.GetByte()
	if err != nil {
		return types.DelegateCellData{}, err
	}
	if ver != Version {
		return types.DelegateCellData{}, fmt.Errorf("codec: unsupported delegate cell version %d", ver)
	}
	items, err := r.GetTable()
	if err != nil {
		return types.DelegateCellData{}, err
	}
	if err := r.Done(); err != nil {
		return types.DelegateCellData{}, err
	}
	out := types.DelegateCellData{TokenAmount: types.AmountFromLE16(amt)}
	for _, item := range items {
		info, err := decodeDelegateInfo(item)
		if err != nil {
			return types.DelegateCellData{}, err
		}
		out.Delegators = append(out.Delegators, info)
	}
	return out, nil
}

// EncodeWithdrawCell lays out a withdraw AT cell. The codec does not
// itself enforce the sum invariant (spec.md §3); callers validate it via
// ValidateWithdrawInvariant before handing bytes to a builder.
func EncodeWithdrawCell(d types.WithdrawCellData) []byte {
	w := NewWriter()
	var amt [types.AmountSize]byte
	d.TokenAmount.PutLE16(amt[:])
	w.PutFixed(amt[:])
	w.PutByte(Version)
	items := make([][]byte, len(d.Entries))
	for i, e := range d.Entries {
		ew := NewWriter()
		var eamt [types.AmountSize]byte
		e.Amount.PutLE16(eamt[:])
		ew.PutFixed(eamt[:])
		ew.PutU64(uint64(e.UnlockEpoch))
		items[i] = ew.Bytes()
	}
	w.PutTable(items)
	return w.Bytes()
}

func DecodeWithdrawCell(b []byte) (types.WithdrawCellData, error) {
	r := NewReader(b)
	amt, err := r.GetFixed(types.AmountSize)
	if err != nil {
		return types.WithdrawCellData{}, err
	}
	ver, err := r.GetByte()
	if err != nil {
		return types.WithdrawCellData{}, err
	}
	if ver != Version {
		return types.WithdrawCellData{}, fmt.Errorf("codec: unsupported withdraw cell version %d", ver)
	}
	items, err := r.GetTable()
	if err != nil {
		return types.WithdrawCellData{}, err
	}
	if err := r.Done(); err != nil {
		return types.WithdrawCellData{}, err
	}
	out := types.WithdrawCellData{TokenAmount: types.AmountFromLE16(amt)}
	for _, item := range items {
		ir := NewReader(item)
		eamt, err := ir.GetFixed(types.AmountSize)
		if err != nil {
			return types.WithdrawCellData{}, err
		}
		epoch, err := ir.GetU64()
		if err != nil {
			return types.WithdrawCellData{}, err
		}
		if err := ir.Done(); err != nil {
			return types.WithdrawCellData{}, err
		}
		out.Entries = append(out.Entries, types.WithdrawInfo{
			Amount:      types.AmountFromLE16(eamt),
			UnlockEpoch: types.Epoch(epoch),
		})
	}
	return out, nil
}

// ValidateWithdrawInvariant checks that the sum of entry amounts equals
// the cell's 16-byte token prefix (spec.md §3 "Withdraw cell invariant").
func ValidateWithdrawInvariant(d types.WithdrawCellData) error {
	sum := types.NewAmount(0)
	for _, e := range d.Entries {
		sum = sum.Add(e.Amount)
	}
	if sum.Cmp(d.TokenAmount) != 0 {
		return fmt.Errorf("withdraw cell invariant violated: entries sum %s != token amount %s", sum, d.TokenAmount)
	}
	return nil
}

// EncodeIssueCell lays out the unique issue cell: version, current
// supply, max supply (spec.md §4.3 "Mint").
func EncodeIssueCell(d types.IssueCellData) []byte {
	w := NewWriter()
	w.PutByte(Version)
	var cur, max [types.AmountSize]byte
	d.CurrentSupply.PutLE16(cur[:])
	d.MaxSupply.PutLE16(max[:])
	w.PutFixed(cur[:])
	w.PutFixed(max[:])
	return w.Bytes()
}

func DecodeIssueCell(b []byte) (types.IssueCellData, error) {
	r := NewReader(b)
	ver, err := r.GetByte()
	if err != nil {
		return types.IssueCellData{}, err
	}
	if ver != Version {
		return types.IssueCellData{}, fmt.Errorf("codec: unsupported issue cell version %d", ver)
	}
	cur, err := r.GetFixed(types.AmountSize)
	if err != nil {
		return types.IssueCellData{}, err
	}
	max, err := r.GetFixed(types.AmountSize)
	if err != nil {
		return types.IssueCellData{}, err
	}
	if err := r.Done(); err != nil {
		return types.IssueCellData{}, err
	}
	return types.IssueCellData{
		CurrentSupply: types.AmountFromLE16(cur),
		MaxSupply:     types.AmountFromLE16(max),
	}, nil
}

func encodeValidatorKeys(v types.ValidatorKeys) []byte {
	w := NewWriter()
	w.PutFixed(v.Address[:])
	w.PutFixed(v.L1PubKey[:])
	w.PutFixed(v.BLSPubKey[:])
	return w.Bytes()
}

func decodeValidatorKeys(b []byte) (types.ValidatorKeys, error) {
	r := NewReader(b)
	addr, err := r.GetFixed(types.AddrSize)
	if err != nil {
		return types.ValidatorKeys{}, err
	}
	l1, err := r.GetFixed(32)
	if err != nil {
		return types.ValidatorKeys{}, err
	}
	bls, err := r.GetFixed(48)
	if err != nil {
		return types.ValidatorKeys{}, err
	}
	if err := r.Done(); err != nil {
		return types.ValidatorKeys{}, err
	}
	var out types.ValidatorKeys
	copy(out.Address[:], addr)
	copy(out.L1PubKey[:], l1)
	copy(out.BLSPubKey[:], bls)
	return out, nil
}

// EncodeMetadataCell lays out the unique metadata cell: version, epoch,
// quorum, then the two-slot validator list (spec.md §4.4 step 6).
func EncodeMetadataCell(d types.MetadataCellData) []byte {
	w := NewWriter()
	w.PutByte(Version)
	w.PutU64(uint64(d.Epoch))
	w.PutU32(d.Quorum)
	for _, slot := range d.Validators {
		items := make([][]byte, len(slot))
		for i, v := range slot {
			items[i] = encodeValidatorKeys(v)
		}
		w.PutTable(items)
	}
	return w.Bytes()
}

func DecodeMetadataCell(b []byte) (types.MetadataCellData, error) {
	r := NewReader(b)
	ver, err := r.GetByte()
	if err != nil {
		return types.MetadataCellData{}, err
	}
	if ver != Version {
		return types.MetadataCellData{}, fmt.Errorf("codec: unsupported metadata cell version %d", ver)
	}
	epoch, err := r.GetU64()
	if err != nil {
		return types.MetadataCellData{}, err
	}
	quorum, err := r.GetU32()
	if err != nil {
		return types.MetadataCellData{}, err
	}
	out := types.MetadataCellData{Epoch: types.Epoch(epoch), Quorum: quorum}
	for slot := 0; slot < 2; slot++ {
		items, err := r.GetTable()
		if err != nil {
			return types.MetadataCellData{}, err
		}
		for _, item := range items {
			v, err := decodeValidatorKeys(item)
			if err != nil {
				return types.MetadataCellData{}, err
			}
			out.Validators[slot] = append(out.Validators[slot], v)
		}
	}
	if err := r.Done(); err != nil {
		return types.MetadataCellData{}, err
	}
	return out, nil
}

// EncodeSMTCell lays out a stake-SMT/delegate-SMT/reward-SMT cell: the
// top root plus, when non-empty, one sub-root per top staker (used only
// by the delegate-SMT cell; spec.md §3 "delegate-SMT cell").
func EncodeSMTCell(d types.SMTCellData) []byte {
	w := NewWriter()
	w.PutByte(Version)
	w.PutFixed(d.TopRoot[:])
	items := make([][]byte, 0, len(d.SubRoots))
	for addr, root := range d.SubRoots {
		iw := NewWriter()
		iw.PutFixed(addr[:])
		iw.PutFixed(root[:])
		items = append(items, iw.Bytes())
	}
	// Each item starts with its fixed-width address, so sorting the
	// encoded items orders the table by address regardless of map order.
	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i], items[j]) < 0 })
	w.PutTable(items)
	return w.Bytes()
}

func DecodeSMTCell(b []byte) (types.SMTCellData, error) {
	r := NewReader(b)
	ver, err := r.GetByte()
	if err != nil {
		return types.SMTCellData{}, err
	}
	if ver != Version {
		return types.SMTCellData{}, fmt.Errorf("codec: unsupported smt cell version %d", ver)
	}
	root, err := r.GetFixed(32)
	if err != nil {
		return types.SMTCellData{}, err
	}
	items, err := r.GetTable()
	if err != nil {
		return types.SMTCellData{}, err
	}
	if err := r.Done(); err != nil {
		return types.SMTCellData{}, err
	}
	out := types.SMTCellData{SubRoots: make(map[types.Address]types.Hash)}
	copy(out.TopRoot[:], root)
	for _, item := range items {
		ir := NewReader(item)
		addr, err := ir.GetFixed(types.AddrSize)
		if err != nil {
			return types.SMTCellData{}, err
		}
		subRoot, err := ir.GetFixed(32)
		if err != nil {
			return types.SMTCellData{}, err
		}
		if err := ir.Done(); err != nil {
			return types.SMTCellData{}, err
		}
		var a types.Address
		copy(a[:], addr)
		var h types.Hash
		copy(h[:], subRoot)
		out.SubRoots[a] = h
	}
	return out, nil
}

// EncodeCheckpointCell lays out the unique checkpoint cell: epoch,
// period, per-validator proposal counts observed in that period, and the
// proposal hash witnessed on-chain (spec.md §4.3 "Checkpoint").
func EncodeCheckpointCell(d types.CheckpointCellData) []byte {
	w := NewWriter()
	w.PutByte(Version)
	w.PutU64(uint64(d.Epoch))
	w.PutU32(d.Period)
	items := make([][]byte, 0, len(d.ProposalCounts))
	for addr, count := range d.ProposalCounts {
		iw := NewWriter()
		iw.PutFixed(addr[:])
		iw.PutU64(count)
		items = append(items, iw.Bytes())
	}
	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i], items[j]) < 0 })
	w.PutTable(items)
	w.PutFixed(d.ProposalHash[:])
	return w.Bytes()
}

func DecodeCheckpointCell(b []byte) (types.CheckpointCellData, error) {
	r := NewReader(b)
	ver, err := r.GetByte()
	if err != nil {
		return types.CheckpointCellData{}, err
	}
	if ver != Version {
		return types.CheckpointCellData{}, fmt.Errorf("codec: unsupported checkpoint cell version %d", ver)
	}
	epoch, err := r.GetU64()
	if err != nil {
		return types.CheckpointCellData{}, err
	}
	period, err := r.GetU32()
	if err != nil {
		return types.CheckpointCellData{}, err
	}
	items, err := r.GetTable()
	if err != nil {
		return types.CheckpointCellData{}, err
	}
	hash, err := r.GetFixed(32)
	if err != nil {
		return types.CheckpointCellData{}, err
	}
	if err := r.Done(); err != nil {
		return types.CheckpointCellData{}, err
	}
	out := types.CheckpointCellData{
		Epoch:          types.Epoch(epoch),
		Period:         period,
		ProposalCounts: make(map[types.Address]uint64),
	}
	copy(out.ProposalHash[:], hash)
	for _, item := range items {
		ir := NewReader(item)
		addr, err := ir.GetFixed(types.AddrSize)
		if err != nil {
			return types.CheckpointCellData{}, err
		}
		count, err := ir.GetU64()
		if err != nil {
			return types.CheckpointCellData{}, err
		}
		if err := ir.Done(); err != nil {
			return types.CheckpointCellData{}, err
		}
		var a types.Address
		copy(a[:], addr)
		out.ProposalCounts[a] = count
	}
	return out, nil
}
