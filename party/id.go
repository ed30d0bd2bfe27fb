// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package party implements the Validator Index Map (§4.1): the bijective
// mapping between external account identifiers and the dense, 1-based
// participant indices used inside a single ceremony. It generalizes the
// teacher's tss.PartyID / tss.SortPartyIDs (sorted-by-key index assignment)
// to account identifiers instead of EC public keys.
package party

import (
	"fmt"
	"sort"
)

// AccountId is the external, chain-level identity of a validator.
type AccountId string

// Idx is a 1-based participant index, valid inside a single ceremony only.
type Idx uint32

// SortedAccountIds is a deterministically ordered, deduplicated account set,
// the representation required for blame sets (Testable Property #4).
type SortedAccountIds []AccountId

func NewSortedAccountIds(ids []AccountId) SortedAccountIds {
	seen := make(map[AccountId]struct{}, len(ids))
	out := make(SortedAccountIds, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s SortedAccountIds) Contains(id AccountId) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= id })
	return i < len(s) && s[i] == id
}

func (s SortedAccountIds) String() string {
	return fmt.Sprintf("%v", []AccountId(s))
}

// IndexMap is the immutable, per-ceremony bijection between AccountId and Idx.
// Mirrors tss.SortPartyIDs: indices are assigned 1..=n by sorting the member
// set lexicographically.
type IndexMap struct {
	ordered  SortedAccountIds
	idxOfID  map[AccountId]Idx
	idOfIdx  map[Idx]AccountId
	ownIdx   Idx
	ownKnown bool
}

// New assigns indices 1..=n over the given account set in sorted order.
// Fails if the set is empty. If own is non-empty, own must be a member
// (the local identity must participate in any ceremony that requires it).
func New(members []AccountId, own AccountId) (*IndexMap, error) {
	ordered := NewSortedAccountIds(members)
	if len(ordered) == 0 {
		return nil, fmt.Errorf("party.New: empty member set")
	}
	m := &IndexMap{
		ordered: ordered,
		idxOfID: make(map[AccountId]Idx, len(ordered)),
		idOfIdx: make(map[Idx]AccountId, len(ordered)),
	}
	for i, id := range ordered {
		idx := Idx(i + 1)
		m.idxOfID[id] = idx
		m.idOfIdx[idx] = id
	}
	if own != "" {
		idx, ok := m.idxOfID[own]
		if !ok {
			return nil, fmt.Errorf("party.New: local identity %s is not a member of this ceremony's participant set", own)
		}
		m.ownIdx = idx
		m.ownKnown = true
	}
	return m, nil
}

// IdxOf is an infallible lookup on a valid AccountId; ok is false if id is not a member.
func (m *IndexMap) IdxOf(id AccountId) (idx Idx, ok bool) {
	idx, ok = m.idxOfID[id]
	return
}

// IdOf is an infallible lookup; callers must pass an index within 1..=n.
func (m *IndexMap) IdOf(idx Idx) AccountId {
	id, ok := m.idOfIdx[idx]
	if !ok {
		panic(fmt.Sprintf("party.IndexMap.IdOf: index %d out of range 1..=%d", idx, m.Size()))
	}
	return id
}

// OwnIdx returns the local participant's own index. Panics if this map was
// constructed without a local identity.
func (m *IndexMap) OwnIdx() Idx {
	if !m.ownKnown {
		panic("party.IndexMap.OwnIdx: no local identity was supplied to New")
	}
	return m.ownIdx
}

// Ordered returns the sorted member list.
func (m *IndexMap) Ordered() SortedAccountIds {
	return m.ordered
}

// Size returns n, the number of participants.
func (m *IndexMap) Size() int {
	return len(m.ordered)
}

// AllIdxs returns every participant index, 1..=n, in order.
func (m *IndexMap) AllIdxs() []Idx {
	out := make([]Idx, m.Size())
	for i := range out {
		out[i] = Idx(i + 1)
	}
	return out
}

// Contains reports whether idx is a valid participant index in this ceremony.
func (m *IndexMap) Contains(idx Idx) bool {
	_, ok := m.idOfIdx[idx]
	return ok
}

// IdsOf maps a set of indices back to account ids, sorted (for blame sets).
func (m *IndexMap) IdsOf(idxs []Idx) SortedAccountIds {
	ids := make([]AccountId, 0, len(idxs))
	for _, idx := range idxs {
		ids = append(ids, m.IdOf(idx))
	}
	return NewSortedAccountIds(ids)
}
