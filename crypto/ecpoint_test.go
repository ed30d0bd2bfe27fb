// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package crypto_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-chain/ceremony-engine/crypto"
)

func TestScalarBaseMultAndAddAreConsistent(t *testing.T) {
	a := crypto.ScalarBaseMult(big.NewInt(3))
	b := crypto.ScalarBaseMult(big.NewInt(4))
	sum, err := a.Add(b)
	require.NoError(t, err)

	expected := crypto.ScalarBaseMult(big.NewInt(7))
	assert.True(t, sum.Equals(expected))
}

func TestBytesRoundTrip(t *testing.T) {
	p := crypto.ScalarBaseMult(big.NewInt(42))
	encoded := p.Bytes()

	decoded, err := crypto.ParseECPoint(encoded)
	require.NoError(t, err)
	assert.True(t, p.Equals(decoded))
}

func TestEqualsIsFalseForDifferentPoints(t *testing.T) {
	a := crypto.ScalarBaseMult(big.NewInt(1))
	b := crypto.ScalarBaseMult(big.NewInt(2))
	assert.False(t, a.Equals(b))
}
