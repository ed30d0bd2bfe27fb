// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package crypto holds the FROST-style Schnorr primitives treated as an
// external collaborator by the ceremony engine (§1: "the cryptographic
// primitives themselves... assumed correct and opaque"). It is adapted from
// the teacher's crypto/ecpoint.go, narrowed from a multi-curve
// elliptic.Curve abstraction down to the single secp256k1 group via
// github.com/btcsuite/btcd/btcec/v2, which is the curve the rest of the
// corpus (bnb-chain-tss-lib's ecdsa/* rounds) already uses for this group.
package crypto

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ECPoint is an immutable point on secp256k1 in affine form.
type ECPoint struct {
	x, y *big.Int
}

// N is the order of the secp256k1 base point (the scalar field modulus).
var N = btcec.S256().N

// NewECPoint validates that (X, Y) lies on the curve before wrapping it.
func NewECPoint(x, y *big.Int) (*ECPoint, error) {
	if !btcec.S256().IsOnCurve(x, y) {
		return nil, fmt.Errorf("crypto.NewECPoint: point is not on secp256k1")
	}
	return &ECPoint{x: x, y: y}, nil
}

// ScalarBaseMult computes k*G.
func ScalarBaseMult(k *big.Int) *ECPoint {
	x, y := btcec.S256().ScalarBaseMult(modN(k).Bytes())
	return &ECPoint{x: x, y: y}
}

// ScalarMult computes k*P.
func (p *ECPoint) ScalarMult(k *big.Int) *ECPoint {
	x, y := btcec.S256().ScalarMult(p.x, p.y, modN(k).Bytes())
	return &ECPoint{x: x, y: y}
}

// Add computes p+q.
func (p *ECPoint) Add(q *ECPoint) (*ECPoint, error) {
	x, y := btcec.S256().Add(p.x, p.y, q.x, q.y)
	return NewECPoint(x, y)
}

func (p *ECPoint) X() *big.Int { return new(big.Int).Set(p.x) }
func (p *ECPoint) Y() *big.Int { return new(big.Int).Set(p.y) }

func (p *ECPoint) Equals(q *ECPoint) bool {
	if p == nil || q == nil {
		return p == q
	}
	return p.x.Cmp(q.x) == 0 && p.y.Cmp(q.y) == 0
}

// Bytes returns the SEC1-compressed encoding, the canonical wire form for a point.
func (p *ECPoint) Bytes() []byte {
	var fx, fy btcec.FieldVal
	fx.SetByteSlice(padTo32(p.x))
	fy.SetByteSlice(padTo32(p.y))
	return btcec.NewPublicKey(&fx, &fy).SerializeCompressed()
}

// ParseECPoint decodes a SEC1-compressed point.
func ParseECPoint(b []byte) (*ECPoint, error) {
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("crypto.ParseECPoint: %w", err)
	}
	ecdsaPub := pub.ToECDSA()
	return &ECPoint{x: ecdsaPub.X, y: ecdsaPub.Y}, nil
}

func padTo32(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) >= 32 {
		return b
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func (p *ECPoint) String() string {
	return hex.EncodeToString(p.x.Bytes()) + ":" + hex.EncodeToString(p.y.Bytes())
}

func modN(k *big.Int) *big.Int {
	return new(big.Int).Mod(k, N)
}
