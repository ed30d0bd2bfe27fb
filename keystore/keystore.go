// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package keystore names the Key Store external collaborator from §6: the
// place a completed keygen ceremony's material is written to, and a
// signing ceremony's material is read from. A persistent implementation is
// explicitly out of scope (§1); MemStore is the in-process stand-in this
// engine's tests and single-process deployments use directly.
package keystore

import (
	"math/big"
	"sync"

	"github.com/pkg/errors"

	"github.com/lattice-chain/ceremony-engine/crypto"
	"github.com/lattice-chain/ceremony-engine/party"
)

// KeyMaterial is the output of a successful keygen ceremony (keygen's Final
// stage) and the input a signing ceremony needs for its Commit1/LocalSig3
// stages. PublicShares lets a signing ceremony's VerifyLocalSig4 check an
// individual responder's local signature against its Feldman public share
// without ever reconstructing anyone's private secret share.
type KeyMaterial struct {
	Threshold      int
	GroupPublicKey *crypto.ECPoint
	SecretShare    *big.Int
	PublicShares   map[party.Idx]*crypto.ECPoint
}

// ErrKeyNotFound is returned by Get when no material is stored under id.
var ErrKeyNotFound = errors.New("keystore: key not found")

// Store is the external collaborator a signing request resolves its
// key_id against (§4.5's "key exists for signing, otherwise immediately
// reply with UnknownKey").
type Store interface {
	Get(keyID string) (*KeyMaterial, error)
	Put(keyID string, material *KeyMaterial) error
}

// MemStore is a trivial mutex-guarded in-memory Store.
type MemStore struct {
	mu   sync.RWMutex
	keys map[string]*KeyMaterial
}

func NewMemStore() *MemStore {
	return &MemStore{keys: make(map[string]*KeyMaterial)}
}

func (s *MemStore) Get(keyID string) (*KeyMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return m, nil
}

func (s *MemStore) Put(keyID string, material *KeyMaterial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[keyID] = material
	return nil
}
