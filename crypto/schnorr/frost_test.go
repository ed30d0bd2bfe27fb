// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package schnorr_test

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-chain/ceremony-engine/crypto"
	"github.com/lattice-chain/ceremony-engine/crypto/schnorr"
	"github.com/lattice-chain/ceremony-engine/crypto/vss"
)

// TestFrostAggregateRoundTrip exercises the full FROST-style signing flow
// for the n=3, t=1 happy-path scenario from spec §8 scenario 1.
func TestFrostAggregateRoundTrip(t *testing.T) {
	secret := big.NewInt(999983)
	ids := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	_, shares, err := vss.Create(rand.Reader, 1, secret, ids)
	require.NoError(t, err)

	groupPublicKey := crypto.ScalarBaseMult(secret)
	payload := []byte("settle:0x01")

	nonceSecrets := make(map[uint32]*schnorr.NonceSecrets)
	commitments := make(map[uint32]schnorr.NoncePair)
	for i := range shares {
		idx := uint32(i + 1)
		secrets, pair := schnorr.GenerateNonces(rand.Reader)
		nonceSecrets[idx] = secrets
		commitments[idx] = *pair
	}

	r, err := schnorr.GroupCommitment(commitments, payload)
	require.NoError(t, err)
	challenge := schnorr.Challenge(r, groupPublicKey, payload)

	zs := make(map[uint32]*big.Int)
	for i, s := range shares {
		idx := uint32(i + 1)
		rho := schnorr.BindingFactor(idx, payload, commitments[idx])
		lambda := schnorr.LagrangeCoefficient(s.ID, ids)
		z := schnorr.LocalSign(nonceSecrets[idx], rho, lambda, challenge, s.Share)

		publicShare := crypto.ScalarBaseMult(s.Share)
		assert.True(t, schnorr.VerifyLocalSig(z, rho, lambda, challenge, commitments[idx], publicShare),
			"responder %d local signature must verify", idx)
		zs[idx] = z
	}

	sig := &schnorr.Signature{R: r, S: schnorr.Aggregate(zs)}
	assert.True(t, sig.Verify(groupPublicKey, payload))
}

func TestVerifyLocalSigRejectsForgedShare(t *testing.T) {
	secret := big.NewInt(42)
	ids := []*big.Int{big.NewInt(1), big.NewInt(2)}
	_, shares, err := vss.Create(rand.Reader, 1, secret, ids)
	require.NoError(t, err)

	payload := []byte("payload")
	nonceSecrets, pair := schnorr.GenerateNonces(rand.Reader)
	commitment := *pair
	rho := schnorr.BindingFactor(1, payload, commitment)
	lambda := schnorr.LagrangeCoefficient(shares[0].ID, ids)
	challenge := big.NewInt(7)

	z := schnorr.LocalSign(nonceSecrets, rho, lambda, challenge, shares[0].Share)
	forged := new(big.Int).Add(z, big.NewInt(1))

	publicShare := crypto.ScalarBaseMult(shares[0].Share)
	assert.False(t, schnorr.VerifyLocalSig(forged, rho, lambda, challenge, commitment, publicShare))
}
