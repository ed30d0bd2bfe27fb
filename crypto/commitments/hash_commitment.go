// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package commitments adapts the teacher's crypto/commitments/hash_commitment.go
// (itself partly ported from KZen-networks/curv) to keygen's HashCommit1
// (commit to a polynomial's coefficient points). Signing's Commit1 publishes
// its FROST nonce points directly and does not use this package.
package commitments

import (
	"io"
	"math/big"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/lattice-chain/ceremony-engine/common"
)

const blindingBits = 256

type (
	Commitment   = *big.Int
	DeCommitment = []*big.Int

	HashCommitDecommit struct {
		C Commitment
		D DeCommitment
	}
)

// New commits to the given secrets with a fresh random blinding factor drawn from src.
func New(src io.Reader, secrets ...*big.Int) (*HashCommitDecommit, error) {
	r := common.MustGetRandomInt(src, blindingBits)
	parts := append([]*big.Int{r}, secrets...)
	digest, err := digest(parts)
	if err != nil {
		return nil, err
	}
	return &HashCommitDecommit{C: new(big.Int).SetBytes(digest), D: parts}, nil
}

// Verify checks that D opens C.
func (cmt *HashCommitDecommit) Verify() (bool, error) {
	digest, err := digest(cmt.D)
	if err != nil {
		return false, err
	}
	return new(big.Int).SetBytes(digest).Cmp(cmt.C) == 0, nil
}

// DeCommit verifies and, on success, returns the committed secrets (minus the blinding factor).
func (cmt *HashCommitDecommit) DeCommit() (bool, DeCommitment, error) {
	ok, err := cmt.Verify()
	if err != nil || !ok {
		return ok, nil, err
	}
	return true, cmt.D[1:], nil
}

func digest(parts []*big.Int) ([]byte, error) {
	h := sha3.New256()
	for _, p := range parts {
		if p == nil {
			return nil, errors.New("commitments.digest: nil component")
		}
		if _, err := h.Write(p.Bytes()); err != nil {
			return nil, errors.Wrap(err, "commitments.digest")
		}
	}
	return h.Sum(nil), nil
}
