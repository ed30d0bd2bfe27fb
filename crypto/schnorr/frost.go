// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package schnorr implements the FROST-style aggregate Schnorr math named
// as an external, opaque collaborator in §1/§6 of the ceremony spec. It is
// grounded on the teacher's crypto/schnorr/schnorr_proof.go (basic Schnorr
// proof-of-knowledge shape: commit, challenge, respond, verify), generalized
// from a single prover to an n-of-n aggregate signature over secp256k1 so
// that the signing ceremony's testable property ("the aggregate signature
// verifies against the group public key and payload") is satisfied by real
// math rather than a stub.
package schnorr

import (
	"io"
	"math/big"

	"github.com/lattice-chain/ceremony-engine/common"
	"github.com/lattice-chain/ceremony-engine/crypto"
)

// NoncePair is a single party's two public nonce commitments for one payload,
// published in the Commit1 stage.
type NoncePair struct {
	D *crypto.ECPoint
	E *crypto.ECPoint
}

// NonceSecrets are the scalar preimages of a NoncePair, kept locally between
// Commit1 and LocalSig3.
type NonceSecrets struct {
	D *big.Int
	E *big.Int
}

// GenerateNonces draws a fresh (d, e) pair and their public commitments.
func GenerateNonces(src io.Reader) (*NonceSecrets, *NoncePair) {
	d := common.GetRandomPositiveInt(src, crypto.N)
	e := common.GetRandomPositiveInt(src, crypto.N)
	return &NonceSecrets{D: d, E: e}, &NoncePair{D: crypto.ScalarBaseMult(d), E: crypto.ScalarBaseMult(e)}
}

// BindingFactor computes rho_i = H(i || payload || D_i || E_i) mod N, the
// FROST binding factor that ties each party's nonce pair to this signing
// payload and round transcript.
func BindingFactor(idx uint32, payload []byte, commitment NoncePair) *big.Int {
	h := common.SHA512_256(
		big.NewInt(int64(idx)).Bytes(),
		payload,
		commitment.D.Bytes(),
		commitment.E.Bytes(),
	)
	return new(big.Int).Mod(new(big.Int).SetBytes(h), crypto.N)
}

// GroupCommitment aggregates R = sum(D_i + rho_i * E_i) across responders.
func GroupCommitment(commitments map[uint32]NoncePair, payload []byte) (*crypto.ECPoint, error) {
	var r *crypto.ECPoint
	for idx, c := range commitments {
		rho := BindingFactor(idx, payload, c)
		term, err := c.D.Add(c.E.ScalarMult(rho))
		if err != nil {
			return nil, err
		}
		if r == nil {
			r = term
		} else {
			r, err = r.Add(term)
			if err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// Challenge computes the Schnorr challenge c from H(R || Y || payload),
// mapped into [0, N) by common.RejectionSample.
func Challenge(r, groupPublicKey *crypto.ECPoint, payload []byte) *big.Int {
	h := common.SHA512_256(r.Bytes(), groupPublicKey.Bytes(), payload)
	return common.RejectionSample(crypto.N, new(big.Int).SetBytes(h))
}

// LocalSign computes a single responder's signature share:
//
//	z_i = d_i + (e_i * rho_i) + lambda_i * c * s_i
//
// where lambda_i is that party's Lagrange coefficient over the responder
// set and s_i is its keygen secret share.
func LocalSign(nonce *NonceSecrets, rho, lambda, challenge, secretShare *big.Int) *big.Int {
	z := new(big.Int).Add(nonce.D, new(big.Int).Mul(nonce.E, rho))
	z.Add(z, new(big.Int).Mul(lambda, new(big.Int).Mul(challenge, secretShare)))
	return z.Mod(z, crypto.N)
}

// VerifyLocalSig checks a single responder's share against its public nonce
// commitment and public key share, the check used to attribute InvalidSignature
// blame (§4.3/§7) when the aggregate fails.
func VerifyLocalSig(z, rho, lambda, challenge *big.Int, commitment NoncePair, publicShare *crypto.ECPoint) bool {
	lhs := crypto.ScalarBaseMult(z)
	rhsTerm, err := commitment.D.Add(commitment.E.ScalarMult(rho))
	if err != nil {
		return false
	}
	rhsTerm, err = rhsTerm.Add(publicShare.ScalarMult(new(big.Int).Mul(lambda, challenge)))
	if err != nil {
		return false
	}
	return lhs.Equals(rhsTerm)
}

// Aggregate sums the responders' signature shares into s = sum(z_i).
func Aggregate(shares map[uint32]*big.Int) *big.Int {
	s := new(big.Int)
	for _, z := range shares {
		s.Add(s, z)
	}
	return s.Mod(s, crypto.N)
}

// Signature is the final FROST Schnorr signature for one payload.
type Signature struct {
	R *crypto.ECPoint
	S *big.Int
}

// Verify checks s*G == R + c*Y.
func (sig *Signature) Verify(groupPublicKey *crypto.ECPoint, payload []byte) bool {
	c := Challenge(sig.R, groupPublicKey, payload)
	lhs := crypto.ScalarBaseMult(sig.S)
	rhs, err := sig.R.Add(groupPublicKey.ScalarMult(c))
	if err != nil {
		return false
	}
	return lhs.Equals(rhs)
}

// LagrangeCoefficient computes lambda_i = prod_{j != i} (0 - x_j) / (x_i - x_j)
// over the responder id set, as used by vss.ReConstruct but specialized to
// the x=0 evaluation point needed by signing.
func LagrangeCoefficient(id *big.Int, otherIds []*big.Int) *big.Int {
	modN := common.ModInt(crypto.N)
	num := big.NewInt(1)
	den := big.NewInt(1)
	for _, xj := range otherIds {
		if xj.Cmp(id) == 0 {
			continue
		}
		num = modN.Mul(num, new(big.Int).Neg(xj))
		den = modN.Mul(den, modN.Sub(id, xj))
	}
	denInv := modN.ModInverse(den)
	if denInv == nil {
		return big.NewInt(0)
	}
	return modN.Mul(num, denInv)
}
