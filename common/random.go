// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package common

import (
	"io"
	"math/big"

	"github.com/pkg/errors"
)

const mustGetRandomIntMaxBits = 5000

// MustGetRandomInt panics if it is unable to gather entropy from `src` or when `bits` is <= 0.
// A ceremony's own io.Reader is passed in so that tests can supply a deterministic,
// seeded source instead of crypto/rand (see party.Common.Rand).
func MustGetRandomInt(src io.Reader, bits int) *big.Int {
	if bits <= 0 || mustGetRandomIntMaxBits < bits {
		panic(errors.Errorf("MustGetRandomInt: bits should be positive, non-zero and at most %d", mustGetRandomIntMaxBits))
	}
	max := new(big.Int).Sub(new(big.Int).Exp(two, big.NewInt(int64(bits)), nil), one)
	n, err := randInt(src, max)
	if err != nil {
		panic(errors.Wrap(err, "MustGetRandomInt: entropy source failed"))
	}
	return n
}

// GetRandomPositiveInt returns a uniform value in [0, lessThan).
func GetRandomPositiveInt(src io.Reader, lessThan *big.Int) *big.Int {
	if lessThan == nil || zero.Cmp(lessThan) != -1 {
		return nil
	}
	for {
		try := MustGetRandomInt(src, lessThan.BitLen())
		if try.Cmp(lessThan) < 0 && try.Cmp(zero) >= 0 {
			return try
		}
	}
}

// randInt draws a uniform value in [0, max] from src, rejection-sampling to avoid bias.
func randInt(src io.Reader, max *big.Int) (*big.Int, error) {
	if max.Sign() == 0 {
		return big.NewInt(0), nil
	}
	bitLen := max.BitLen()
	byteLen := (bitLen + 7) / 8
	buf := make([]byte, byteLen)
	for {
		if _, err := io.ReadFull(src, buf); err != nil {
			return nil, err
		}
		if excess := uint(byteLen*8 - bitLen); excess > 0 {
			buf[0] &= byte(0xff >> excess)
		}
		n := new(big.Int).SetBytes(buf)
		if n.Cmp(max) <= 0 {
			return n, nil
		}
	}
}
