// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package vss implements Feldman's verifiable secret sharing, adapted from
// the teacher's crypto/vss/feldman_vss.go: Paul Feldman, 1987, "A practical
// scheme for non-interactive verifiable secret sharing", FOCS 1987. Narrowed
// from a generic elliptic.Curve parameter to secp256k1 (crypto.N), the
// curve fixed for this engine's Coefficient3/SecretShares6 keygen stages.
package vss

import (
	"io"
	"math/big"

	"github.com/pkg/errors"

	"github.com/lattice-chain/ceremony-engine/common"
	"github.com/lattice-chain/ceremony-engine/crypto"
)

type (
	Share struct {
		Threshold int
		ID        *big.Int
		Share     *big.Int
	}

	// Commitments are the public coefficient points v0..vt, the "broadcast"
	// half of the VSS that lets every party verify its own share.
	Commitments []*crypto.ECPoint

	Shares []*Share
)

var ErrNumSharesBelowThreshold = errors.New("not enough shares to satisfy the threshold")

// Create generates a degree-`threshold` polynomial with the given secret as its
// constant term, the per-party shares evaluated at each id, and the public
// commitment to each coefficient.
func Create(src io.Reader, threshold int, secret *big.Int, ids []*big.Int) (Commitments, Shares, error) {
	if threshold < 1 {
		return nil, nil, errors.New("vss.Create: threshold must be >= 1")
	}
	if len(ids) < threshold+1 {
		return nil, nil, ErrNumSharesBelowThreshold
	}
	poly := samplePolynomial(src, threshold, secret)

	commits := make(Commitments, len(poly))
	for i, coeff := range poly {
		commits[i] = crypto.ScalarBaseMult(coeff)
	}

	shares := make(Shares, len(ids))
	for i, id := range ids {
		shares[i] = &Share{Threshold: threshold, ID: id, Share: evalPolynomial(poly, id)}
	}
	return commits, shares, nil
}

func samplePolynomial(src io.Reader, threshold int, secret *big.Int) []*big.Int {
	poly := make([]*big.Int, threshold+1)
	poly[0] = new(big.Int).Mod(secret, crypto.N)
	for i := 1; i <= threshold; i++ {
		poly[i] = common.GetRandomPositiveInt(src, crypto.N)
	}
	return poly
}

func evalPolynomial(poly []*big.Int, x *big.Int) *big.Int {
	modN := common.ModInt(crypto.N)
	result := new(big.Int).Set(poly[0])
	xPow := big.NewInt(1)
	for i := 1; i < len(poly); i++ {
		xPow = modN.Mul(xPow, x)
		result = modN.Add(result, modN.Mul(poly[i], xPow))
	}
	return result
}

// Verify checks a single share against the public coefficient commitments:
// share*G == sum(id^i * v_i).
func (s *Share) Verify(commits Commitments) bool {
	modN := common.ModInt(crypto.N)
	expected := crypto.ScalarBaseMult(s.Share)

	acc := commits[0]
	idPow := big.NewInt(1)
	for i := 1; i < len(commits); i++ {
		idPow = modN.Mul(idPow, s.ID)
		term := commits[i].ScalarMult(idPow)
		var err error
		acc, err = acc.Add(term)
		if err != nil {
			return false
		}
	}
	return expected.Equals(acc)
}

// ReConstruct recovers the shared secret from >= threshold+1 shares via
// Lagrange interpolation at x=0.
func ReConstruct(shares Shares) (*big.Int, error) {
	if len(shares) == 0 {
		return nil, ErrNumSharesBelowThreshold
	}
	threshold := shares[0].Threshold
	if len(shares) < threshold+1 {
		return nil, ErrNumSharesBelowThreshold
	}
	modN := common.ModInt(crypto.N)
	secret := new(big.Int)
	for i, si := range shares {
		num := big.NewInt(1)
		den := big.NewInt(1)
		for j, sj := range shares {
			if i == j {
				continue
			}
			num = modN.Mul(num, new(big.Int).Neg(sj.ID))
			den = modN.Mul(den, modN.Sub(si.ID, sj.ID))
		}
		denInv := modN.ModInverse(den)
		if denInv == nil {
			return nil, errors.New("vss.ReConstruct: duplicate share ids")
		}
		lagrange := modN.Mul(num, denInv)
		secret = modN.Add(secret, modN.Mul(si.Share, lagrange))
	}
	return secret, nil
}

// CheckIndexes rejects a zero id or duplicate ids, mirroring the teacher's
// vss.CheckIndexes guard used before share generation.
func CheckIndexes(ids []*big.Int) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m := new(big.Int).Mod(id, crypto.N)
		if m.Sign() == 0 {
			return errors.New("vss.CheckIndexes: party index must not be 0")
		}
		key := m.String()
		if _, ok := seen[key]; ok {
			return errors.Errorf("vss.CheckIndexes: duplicate index %s", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
