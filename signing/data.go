// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package signing implements the FROST-style Schnorr signing stage sequence
// named in §3/§4.3: Commit1, VerifyCommit2, LocalSig3, VerifyLocalSig4.
// Grounded on the teacher's ecdsa/signing round sequence for the stage
// shape (originating round, nonce commitment, local response, aggregation),
// generalized onto the genuine secp256k1 FROST math in crypto/schnorr since
// the teacher itself never implements FROST.
package signing

import (
	"math/big"

	"github.com/lattice-chain/ceremony-engine/crypto/schnorr"
	"github.com/lattice-chain/ceremony-engine/party"
	"github.com/lattice-chain/ceremony-engine/wire"
)

// MaxSigningPayloads bounds a single signing ceremony's payload batch
// (SPEC_FULL.md's resolution of spec.md §9's open question on Bitcoin-style
// multi-payload signing requests).
const MaxSigningPayloads = 256

// InitialStageTag is the stage tag a manager.Manager checks an unknown
// ceremony id's early messages against before opening an unauthorised
// buffer for it (§4.4's "initial stage peculiarity").
const InitialStageTag = "Commit1"

// StageOrder is the fixed stage sequence a ceremony.Runner walks for a
// signing ceremony, used to decide whether an out-of-turn message belongs
// to the next stage (delay it) or neither (drop it).
var StageOrder = []string{"Commit1", "VerifyCommit2", "LocalSig3", "VerifyLocalSig4"}

// Commit1Data publishes one nonce pair per payload in the batch.
type Commit1Data struct {
	Nonces []schnorr.NoncePair
}

func (d Commit1Data) StageTag() string { return "Commit1" }

func (d Commit1Data) DataSizeIsValid(_ int) bool {
	return len(d.Nonces) >= 1 && len(d.Nonces) <= MaxSigningPayloads
}

// VerifyCommit2Data is the broadcast-verification payload for Commit1: each
// party re-broadcasts what it believes it received from every sender (§4.3).
type VerifyCommit2Data struct {
	Reports map[party.Idx]*Commit1Data
}

func (d VerifyCommit2Data) StageTag() string { return "VerifyCommit2" }

func (d VerifyCommit2Data) DataSizeIsValid(numParties int) bool {
	return len(d.Reports) == numParties
}

// LocalSig3Data publishes one response scalar per payload.
type LocalSig3Data struct {
	Responses []*big.Int
}

func (d LocalSig3Data) StageTag() string { return "LocalSig3" }

func (d LocalSig3Data) DataSizeIsValid(_ int) bool { return len(d.Responses) >= 1 }

// VerifyLocalSig4Data is the broadcast-verification payload for LocalSig3.
type VerifyLocalSig4Data struct {
	Reports map[party.Idx]*LocalSig3Data
}

func (d VerifyLocalSig4Data) StageTag() string { return "VerifyLocalSig4" }

func (d VerifyLocalSig4Data) DataSizeIsValid(numParties int) bool {
	return len(d.Reports) == numParties
}

func init() {
	wire.RegisterMessage("signing.Commit1Data", Commit1Data{})
	wire.RegisterMessage("signing.VerifyCommit2Data", VerifyCommit2Data{})
	wire.RegisterMessage("signing.LocalSig3Data", LocalSig3Data{})
	wire.RegisterMessage("signing.VerifyLocalSig4Data", VerifyLocalSig4Data{})
}
