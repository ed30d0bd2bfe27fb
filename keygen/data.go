// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package keygen implements the Feldman-VSS distributed key generation
// stage sequence named in §3: HashCommit1, VerifyHashCommit2, Coefficient3,
// Complaints4, VerifyComplaints5, SecretShares6, Blame7, VerifyBlame8,
// Final. Grounded on the teacher's ecdsa/keygen round sequence (commit,
// reveal, share, complain) generalized from Paillier/range-proof-backed
// GG18 keygen onto plain Feldman VSS, the DKG flavour FROST needs.
package keygen

import (
	"math/big"

	"github.com/lattice-chain/ceremony-engine/crypto/vss"
	"github.com/lattice-chain/ceremony-engine/party"
	"github.com/lattice-chain/ceremony-engine/wire"
)

// InitialStageTag is the stage tag a manager.Manager checks an unknown
// ceremony id's early messages against before opening an unauthorised
// buffer for it (§4.4's "initial stage peculiarity").
const InitialStageTag = "HashCommit1"

// StageOrder is the fixed stage sequence a ceremony.Runner walks for a
// keygen ceremony. Final is a local computation (see DESIGN.md) and so
// never appears on the wire; it has no place in this table.
var StageOrder = []string{
	"HashCommit1", "VerifyHashCommit2", "Coefficient3",
	"Complaints4", "VerifyComplaints5", "SecretShares6", "Blame7", "VerifyBlame8",
}

// HashCommit1Data commits to (without revealing) this party's Feldman VSS
// coefficient commitments, the commit half of a commit-then-reveal scheme
// that lets VerifyHashCommit2 pin every sender's coefficients before they
// are ever disclosed in Coefficient3.
type HashCommit1Data struct {
	Commitment *big.Int
}

func (d HashCommit1Data) StageTag() string          { return "HashCommit1" }
func (d HashCommit1Data) DataSizeIsValid(_ int) bool { return d.Commitment != nil }

// VerifyHashCommit2Data is the broadcast-verification payload for HashCommit1.
type VerifyHashCommit2Data struct {
	Reports map[party.Idx]*HashCommit1Data
}

func (d VerifyHashCommit2Data) StageTag() string { return "VerifyHashCommit2" }
func (d VerifyHashCommit2Data) DataSizeIsValid(numParties int) bool {
	return len(d.Reports) == numParties
}

// Coefficient3Data reveals the sender's Feldman VSS commitments and the
// decommitment witness for the hash pinned in VerifyHashCommit2, plus a
// secret share addressed to one specific recipient (§4.2's private
// broadcast: the same public commitments travel to everyone, but each
// recipient's Share field is only valid for them).
type Coefficient3Data struct {
	Commitments  vss.Commitments
	DeCommitment []*big.Int
	Share        *big.Int
}

func (d Coefficient3Data) StageTag() string { return "Coefficient3" }
func (d Coefficient3Data) DataSizeIsValid(_ int) bool {
	return len(d.Commitments) > 0 && d.Share != nil
}

// Complaints4Data names the senders whose privately delivered share failed
// local Feldman verification against their revealed commitments.
type Complaints4Data struct {
	Accused []party.Idx
}

func (d Complaints4Data) StageTag() string          { return "Complaints4" }
func (d Complaints4Data) DataSizeIsValid(_ int) bool { return true }

// VerifyComplaints5Data is the broadcast-verification payload for Complaints4.
type VerifyComplaints5Data struct {
	Reports map[party.Idx]*Complaints4Data
}

func (d VerifyComplaints5Data) StageTag() string { return "VerifyComplaints5" }
func (d VerifyComplaints5Data) DataSizeIsValid(numParties int) bool {
	return len(d.Reports) == numParties
}

// SecretShares6Data is published only by accused dealers: for each party
// that accused them, the exact share value they claim to have sent, so the
// rest of the group can check it directly against the dealer's public
// commitments.
type SecretShares6Data struct {
	Disclosures map[party.Idx]*big.Int
}

func (d SecretShares6Data) StageTag() string          { return "SecretShares6" }
func (d SecretShares6Data) DataSizeIsValid(_ int) bool { return true }

// Blame7Data is each party's local verdict on every disputed dealer, having
// checked the disclosed shares in SecretShares6 against public commitments.
type Blame7Data struct {
	Guilty []party.Idx
}

func (d Blame7Data) StageTag() string          { return "Blame7" }
func (d Blame7Data) DataSizeIsValid(_ int) bool { return true }

// VerifyBlame8Data is the broadcast-verification payload for Blame7.
type VerifyBlame8Data struct {
	Reports map[party.Idx]*Blame7Data
}

func (d VerifyBlame8Data) StageTag() string { return "VerifyBlame8" }
func (d VerifyBlame8Data) DataSizeIsValid(numParties int) bool {
	return len(d.Reports) == numParties
}

func init() {
	wire.RegisterMessage("keygen.HashCommit1Data", HashCommit1Data{})
	wire.RegisterMessage("keygen.VerifyHashCommit2Data", VerifyHashCommit2Data{})
	wire.RegisterMessage("keygen.Coefficient3Data", Coefficient3Data{})
	wire.RegisterMessage("keygen.Complaints4Data", Complaints4Data{})
	wire.RegisterMessage("keygen.VerifyComplaints5Data", VerifyComplaints5Data{})
	wire.RegisterMessage("keygen.SecretShares6Data", SecretShares6Data{})
	wire.RegisterMessage("keygen.Blame7Data", Blame7Data{})
	wire.RegisterMessage("keygen.VerifyBlame8Data", VerifyBlame8Data{})
}
