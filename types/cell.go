// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

// OutPoint identifies a cell on the parent chain by the transaction that
// created it and the output index within that transaction.
type OutPoint struct {
	TxHash Hash
	Index  uint32
}

// Hash is a 32-byte parent-chain hash (transaction hash, block hash, ...).
type Hash [32]byte

func (h Hash) String() string { return hexString(h[:]) }

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, c := range b {
		out[2+i*2] = hextable[c>>4]
		out[3+i*2] = hextable[c&0xf]
	}
	return string(out)
}

// Script is a lock or type script reference: a code hash, a hash type and
// opaque args. The core never interprets script bytecode (spec.md §1
// non-goals); it only compares/derives script fingerprints.
type Script struct {
	CodeHash Hash
	HashType byte
	Args     []byte
}

// Cell is the concrete storage medium for every role the core tracks:
// an addressable parent-chain output with a capacity, a lock script, an
// optional type script and opaque data (spec.md §3 "Cell").
type Cell struct {
	OutPoint OutPoint
	Capacity uint64
	Lock     Script
	Type     *Script
	Data     []byte
}

// Role enumerates the cell roles the core discovers by (lock, type)
// script fingerprint (spec.md §9 "cyclic references").
type Role int

const (
	RoleStakeAT Role = iota
	RoleDelegateAT
	RoleWithdrawAT
	RoleCheckpoint
	RoleMetadata
	RoleStakeSMT
	RoleDelegateSMT
	RoleRewardSMT
	RoleRequirement
	RoleIssue
	RoleSelection
	RoleToken
)

// StakeItem is a signed pending delta against a staker's bound amount.
// Only one may be outstanding per staker (spec.md §3).
type StakeItem struct {
	IsIncrease        bool
	Amount            Amount
	InaugurationEpoch Epoch
}

// Expired reports whether this delta's target epoch has already passed
// the point at which it must be settled into the wallet (spec.md §3).
func (s StakeItem) Expired(currentEpoch Epoch) bool {
	return s.InaugurationEpoch < currentEpoch+Inauguration
}

// DelegateItem is a signed pending delta against a (delegator, staker)
// bound amount; TotalAmount is the delegator's bound balance to Staker as
// of the last settlement point (spec.md §3).
type DelegateItem struct {
	Staker            Address
	TotalAmount       Amount
	IsIncrease        bool
	Amount            Amount
	InaugurationEpoch Epoch
}

func (d DelegateItem) Expired(currentEpoch Epoch) bool {
	return d.InaugurationEpoch < currentEpoch+Inauguration
}

// RequirementCellData is the per-staker delegate-requirement reference
// carried by a stake AT cell (spec.md §4.3 "Stake / Delegate").
type RequirementCellData struct {
	CommissionRate uint8
	MaxDelegators  uint32
	Threshold      Amount
}

// StakeCellData is the decoded payload of a stake AT cell.
type StakeCellData struct {
	TokenAmount      Amount
	L1PubKey         [32]byte
	BLSPubKey        [48]byte
	Pending          *StakeItem
	DelegateRequirement RequirementCellData
}

// DelegateInfo is one (staker, total_amount) binding inside a delegate
// AT cell. A delegator may have several simultaneous target stakers
// (spec.md §4.3 "Delegate builder ... collapses multiple simultaneous
// target-stakers and preserves rest delegates not mentioned").
type DelegateInfo struct {
	Staker      Address
	TotalAmount Amount
	Pending     *DelegateItem
}

// DelegateCellData is the decoded payload of a delegate AT cell.
type DelegateCellData struct {
	TokenAmount Amount
	Delegators  []DelegateInfo
}

// WithdrawInfo is one unlockable entry inside a withdraw cell.
type WithdrawInfo struct {
	Amount      Amount
	UnlockEpoch Epoch
}

// WithdrawCellData is the decoded payload of a withdraw AT cell. The sum
// of Entries' Amount must equal TokenAmount (spec.md §3 invariant).
type WithdrawCellData struct {
	TokenAmount Amount
	Entries     []WithdrawInfo
}

// ValidatorKeys is the public-key pair advertised by a top staker and
// carried forward into the metadata cell's validator list on rollover.
type ValidatorKeys struct {
	Address   Address
	L1PubKey  [32]byte
	BLSPubKey [48]byte
}

// MetadataCellData is the decoded payload of the unique metadata cell.
type MetadataCellData struct {
	Epoch      Epoch
	Quorum     uint32
	Validators [2][]ValidatorKeys // two-slot validator list (current, next)
}

// SMTCellData is the decoded payload shared by the stake-SMT,
// delegate-SMT and reward-SMT cells: one top root plus, for the
// delegate-SMT cell only, one sub-root per top staker.
type SMTCellData struct {
	TopRoot   Hash
	SubRoots  map[Address]Hash // used only by the delegate-SMT cell
}

// IssueCellData is the decoded payload of the unique issue cell: the
// token's current and maximum supply (spec.md §4.3 "Mint").
type IssueCellData struct {
	CurrentSupply Amount
	MaxSupply     Amount
}

// CheckpointCellData is the decoded payload of the unique checkpoint cell.
type CheckpointCellData struct {
	Epoch            Epoch
	Period           uint32
	ProposalCounts   map[Address]uint64
	ProposalHash     Hash
}
