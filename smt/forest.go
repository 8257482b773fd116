// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package smt

import (
	"encoding/binary"
	"sync"

	"github.com/ckb-spark/spark/smt/store"
	"github.com/ckb-spark/spark/types"
)

// Namespace byte tags. Every namespace shares the same backing store but
// never shares a key prefix (spec.md §4.1 "Namespace isolation").
const (
	nsStake    byte = 'S'
	nsDelegate byte = 'D'
	nsReward   byte = 'W'
	nsProposal byte = 'P'
)

const (
	subTop byte = 'T' // top tree over epochs
	subSub byte = 's' // sub tree for one epoch
)

func epochBytes(e types.Epoch) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(e))
	return b
}

// Forest owns the single shared store backing all four independent
// sparse-Merkle forests (spec.md §4.1). Each namespace is serialized by
// its own mutex; concurrent writers to the same namespace are not safe
// to run outside the forest, concurrent readers are always safe (spec.md
// §5 "single-writer per SMT namespace").
type Forest struct {
	db store.KVStore

	stakeMu    sync.Mutex
	delegateMu sync.Mutex
	rewardMu   sync.Mutex
	proposalMu sync.Mutex
}

// NewForest wraps an already-open store. The store's lifetime is owned by
// the caller (spec.md §9 "SMT database directory — owned by the engine").
func NewForest(db store.KVStore) *Forest { return &Forest{db: db} }

func (f *Forest) treeFor(ns byte, subPrefix []byte) *tree {
	prefix := make([]byte, 0, 1+len(subPrefix))
	prefix = append(prefix, ns)
	prefix = append(prefix, subPrefix...)
	return &tree{db: f.db, prefix: prefix}
}

// UserAmount is one staker's (or validator's) absolute post-delta amount
// for a StakeSMT/ProposalSMT bulk insert. There is deliberately no
// is_increase flag: the caller always supplies the final amount to write,
// never a delta to apply (spec.md §4.1 "UserAmount.is_increase is not
// applied here").
type UserAmount struct {
	User   types.Address
	Amount types.Amount
}

// Stake returns the stake forest's high-level manager.
func (f *Forest) Stake() *StakeSMT { return &StakeSMT{f: f, mu: &f.stakeMu, ns: nsStake} }

// Proposal returns the proposal forest's high-level manager; it mirrors
// Stake exactly (spec.md §4.1 "proposal mirrors stake"), with the leaf
// value being a proposal count rather than an amount.
func (f *Forest) Proposal() *StakeSMT { return &StakeSMT{f: f, mu: &f.proposalMu, ns: nsProposal} }

// Delegate returns the delegate forest's high-level manager.
func (f *Forest) Delegate() *DelegateSMT { return &DelegateSMT{f: f, mu: &f.delegateMu} }

// Reward returns the flat reward forest's high-level manager.
func (f *Forest) Reward() *RewardSMT { return &RewardSMT{f: f, mu: &f.rewardMu} }

// StakeSMT is the two-level (top-over-epochs, sub-per-epoch) manager
// shared by the stake and proposal namespaces (spec.md §4.1).
type StakeSMT struct {
	f  *Forest
	mu *sync.Mutex
	ns byte
}

func (s *StakeSMT) top() *tree          { return s.f.treeFor(s.ns, []byte{subTop}) }
func (s *StakeSMT) sub(e types.Epoch) *tree {
	return s.f.treeFor(s.ns, append([]byte{subSub}, epochBytes(e)...))
}

// NewEpoch computes the sub-root for e and writes it into the top tree as
// top[e] = sub_root(e). Idempotent: calling it twice with no intervening
// sub-tree mutation is a no-op write of the same root.
func (s *StakeSMT) NewEpoch(e types.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newEpochLocked(e)
}

func (s *StakeSMT) newEpochLocked(e types.Epoch) error {
	root, err := s.sub(e).Root()
	if err != nil {
		return err
	}
	return s.top().Set(EpochKey(e), types.RootLeaf(root))
}

// Insert sets sub[e][user] = amount for every entry, then rewrites
// top[e] in the same logical operation so `top[e] == sub_root(e)` is
// never observed to disagree (spec.md §9).
func (s *StakeSMT) Insert(e types.Epoch, entries []UserAmount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.sub(e)
	for _, entry := range entries {
		if err := sub.Set(AddressKey(entry.User), types.AmountLeaf(entry.Amount)); err != nil {
			return err
		}
	}
	return s.newEpochLocked(e)
}

// Remove zeroes out the given users' leaves in epoch e, then rewrites
// top[e].
func (s *StakeSMT) Remove(e types.Epoch, users []types.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.sub(e)
	for _, u := range users {
		if err := sub.Set(AddressKey(u), types.ZeroLeaf); err != nil {
			return err
		}
	}
	return s.newEpochLocked(e)
}

// GetAmount returns the amount for user at epoch e, and whether it is
// present (a zero leaf is absence, spec.md §3).
func (s *StakeSMT) GetAmount(e types.Epoch, user types.Address) (types.Amount, bool, error) {
	v, err := s.sub(e).Get(AddressKey(user))
	if err != nil {
		return types.Amount{}, false, err
	}
	if v.IsZero() {
		return types.Amount{}, false, nil
	}
	return types.AmountFromLeaf(v), true, nil
}

// GetSubLeaves enumerates every non-zero (user, amount) pair at epoch e.
func (s *StakeSMT) GetSubLeaves(e types.Epoch) (map[types.Address]types.Amount, error) {
	leaves, err := s.sub(e).Leaves()
	if err != nil {
		return nil, err
	}
	out := make(map[types.Address]types.Amount, len(leaves))
	for k, v := range leaves {
		var addr types.Address
		copy(addr[:], k[:types.AddrSize])
		out[addr] = types.AmountFromLeaf(v)
	}
	return out, nil
}

// GetSubRoot returns sub-tree root for epoch e.
func (s *StakeSMT) GetSubRoot(e types.Epoch) ([32]byte, error) {
	r, err := s.sub(e).Root()
	return r, err
}

// GetSubRoots returns the sub-tree root for every listed epoch.
func (s *StakeSMT) GetSubRoots(epochs []types.Epoch) (map[types.Epoch][32]byte, error) {
	out := make(map[types.Epoch][32]byte, len(epochs))
	for _, e := range epochs {
		r, err := s.sub(e).Root()
		if err != nil {
			return nil, err
		}
		out[e] = r
	}
	return out, nil
}

// GetTopRoot returns the top tree's root-of-roots.
func (s *StakeSMT) GetTopRoot() ([32]byte, error) { return s.top().Root() }

// GenerateSubProof compiles an inclusion proof that every listed user
// currently resolves to its stored value in sub[e].
func (s *StakeSMT) GenerateSubProof(e types.Epoch, users []types.Address) (*Proof, error) {
	keys := make([]Key, len(users))
	for i, u := range users {
		keys[i] = AddressKey(u)
	}
	return s.sub(e).generateProof(keys)
}

// GenerateTopProof compiles an inclusion proof over the top tree for the
// listed epochs.
func (s *StakeSMT) GenerateTopProof(epochs []types.Epoch) (*Proof, error) {
	keys := make([]Key, len(epochs))
	for i, e := range epochs {
		keys[i] = EpochKey(e)
	}
	return s.top().generateProof(keys)
}

// DelegateSMT is the per-staker variant of StakeSMT: every operation
// additionally selects which staker's tree to operate on (spec.md §4.1
// "delegate mirrors stake but every op additionally takes a Staker").
type DelegateSMT struct {
	f  *Forest
	mu *sync.Mutex
}

func (d *DelegateSMT) top(staker types.Address) *tree {
	return d.f.treeFor(nsDelegate, append([]byte{subTop}, staker[:]...))
}

func (d *DelegateSMT) sub(staker types.Address, e types.Epoch) *tree {
	prefix := append([]byte{subSub}, staker[:]...)
	prefix = append(prefix, epochBytes(e)...)
	return d.f.treeFor(nsDelegate, prefix)
}

// NewEpoch computes staker's sub-root for e and writes it into staker's
// top tree.
func (d *DelegateSMT) NewEpoch(staker types.Address, e types.Epoch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.newEpochLocked(staker, e)
}

func (d *DelegateSMT) newEpochLocked(staker types.Address, e types.Epoch) error {
	root, err := d.sub(staker, e).Root()
	if err != nil {
		return err
	}
	return d.top(staker).Set(EpochKey(e), types.RootLeaf(root))
}

// DelegatorAmount is one delegator's absolute post-delta amount under a
// given staker.
type DelegatorAmount struct {
	Delegator types.Address
	Amount    types.Amount
}

// Insert sets sub[staker,e][delegator] = amount for every entry, then
// rewrites staker's top[e].
func (d *DelegateSMT) Insert(staker types.Address, e types.Epoch, entries []DelegatorAmount) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub := d.sub(staker, e)
	for _, entry := range entries {
		if err := sub.Set(AddressKey(entry.Delegator), types.AmountLeaf(entry.Amount)); err != nil {
			return err
		}
	}
	return d.newEpochLocked(staker, e)
}

// Remove zeroes the given delegators' leaves under staker at epoch e.
func (d *DelegateSMT) Remove(staker types.Address, e types.Epoch, delegators []types.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub := d.sub(staker, e)
	for _, del := range delegators {
		if err := sub.Set(AddressKey(del), types.ZeroLeaf); err != nil {
			return err
		}
	}
	return d.newEpochLocked(staker, e)
}

// GetAmount returns delegator's amount under staker at epoch e.
func (d *DelegateSMT) GetAmount(staker types.Address, e types.Epoch, delegator types.Address) (types.Amount, bool, error) {
	v, err := d.sub(staker, e).Get(AddressKey(delegator))
	if err != nil {
		return types.Amount{}, false, err
	}
	if v.IsZero() {
		return types.Amount{}, false, nil
	}
	return types.AmountFromLeaf(v), true, nil
}

// GetSubLeaves enumerates every delegator bound to staker at epoch e.
func (d *DelegateSMT) GetSubLeaves(staker types.Address, e types.Epoch) (map[types.Address]types.Amount, error) {
	leaves, err := d.sub(staker, e).Leaves()
	if err != nil {
		return nil, err
	}
	out := make(map[types.Address]types.Amount, len(leaves))
	for k, v := range leaves {
		var addr types.Address
		copy(addr[:], k[:types.AddrSize])
		out[addr] = types.AmountFromLeaf(v)
	}
	return out, nil
}

// GetSubRoot returns staker's sub-tree root at epoch e.
func (d *DelegateSMT) GetSubRoot(staker types.Address, e types.Epoch) ([32]byte, error) {
	return d.sub(staker, e).Root()
}

// GetTopRoot returns staker's top-tree root-of-roots.
func (d *DelegateSMT) GetTopRoot(staker types.Address) ([32]byte, error) {
	return d.top(staker).Root()
}

// GenerateSubProof compiles an inclusion proof for the listed delegators
// under staker at epoch e.
func (d *DelegateSMT) GenerateSubProof(staker types.Address, e types.Epoch, delegators []types.Address) (*Proof, error) {
	keys := make([]Key, len(delegators))
	for i, del := range delegators {
		keys[i] = AddressKey(del)
	}
	return d.sub(staker, e).generateProof(keys)
}

// GenerateTopProof compiles an inclusion proof over staker's top tree for
// the listed epochs.
func (d *DelegateSMT) GenerateTopProof(staker types.Address, epochs []types.Epoch) (*Proof, error) {
	keys := make([]Key, len(epochs))
	for i, e := range epochs {
		keys[i] = EpochKey(e)
	}
	return d.top(staker).generateProof(keys)
}

// RewardSMT is the flat address -> last-claimed-epoch tree (spec.md §4.1
// "reward is a flat SMT").
type RewardSMT struct {
	f  *Forest
	mu *sync.Mutex
}

func (r *RewardSMT) tree() *tree { return r.f.treeFor(nsReward, nil) }

// Insert records address's last-claimed epoch.
func (r *RewardSMT) Insert(address types.Address, epoch types.Epoch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree().Set(AddressKey(address), types.EpochLeaf(epoch))
}

// Get returns address's last-claimed epoch, if any.
func (r *RewardSMT) Get(address types.Address) (types.Epoch, bool, error) {
	v, err := r.tree().Get(AddressKey(address))
	if err != nil {
		return 0, false, err
	}
	if v.IsZero() {
		return 0, false, nil
	}
	return types.EpochFromLeaf(v), true, nil
}

// GenerateProof compiles an inclusion proof for the listed addresses.
func (r *RewardSMT) GenerateProof(addresses []types.Address) (*Proof, error) {
	keys := make([]Key, len(addresses))
	for i, a := range addresses {
		keys[i] = AddressKey(a)
	}
	return r.tree().generateProof(keys)
}
