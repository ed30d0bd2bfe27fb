// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package signing

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/lattice-chain/ceremony-engine/crypto"
	"github.com/lattice-chain/ceremony-engine/crypto/schnorr"
	"github.com/lattice-chain/ceremony-engine/keystore"
	"github.com/lattice-chain/ceremony-engine/party"
	"github.com/lattice-chain/ceremony-engine/stage"
)

// ceremonyState is the mutable, single-ceremony context threaded through
// the four signing stage processors. It plays the role the teacher's
// ecdsa/signing LocalParty struct plays: a bag of intermediate state built
// up across rounds that no individual round owns outright.
type ceremonyState struct {
	common       *party.Common
	key          *keystore.KeyMaterial
	payloads     [][]byte
	responderIds []*big.Int

	nonceSecrets []*schnorr.NonceSecrets
	ownCommit    Commit1Data
}

// NewCommit1Stage constructs the entry point of the signing stage sequence
// (§3/§4.3). The responder set is this ceremony's signer set (the AllIdxs
// of common), key is the local secret-share material loaded from the key
// store, and payloads is the batch of messages to sign (§9's supplemented
// multi-payload batch).
func NewCommit1Stage(common *party.Common, key *keystore.KeyMaterial, payloads [][]byte) stage.Handle {
	ids := make([]*big.Int, len(common.AllIdxs))
	for i, idx := range common.AllIdxs {
		ids[i] = big.NewInt(int64(idx))
	}
	st := &ceremonyState{common: common, key: key, payloads: payloads, responderIds: ids}
	return stage.NewBroadcastStage[Commit1Data](common, &commit1Processor{st: st})
}

func missingSenders(common *party.Common, present map[party.Idx]bool) []party.Idx {
	var missing []party.Idx
	for _, idx := range common.AllIdxs {
		if !present[idx] {
			missing = append(missing, idx)
		}
	}
	return missing
}

func timeoutFailure(common *party.Common, stageName string, missingIdxs []party.Idx) stage.Result {
	return stage.Fail(party.NewError(errors.New("stage deadline elapsed before every party reported"), stageName, party.Timeout, missingIdxs...))
}

// commit1Processor publishes this party's per-payload nonce commitments.
type commit1Processor struct{ st *ceremonyState }

func (p *commit1Processor) StageName() string { return "Commit1" }

func (p *commit1Processor) Init() stage.Outbound[Commit1Data] {
	nonces := make([]schnorr.NoncePair, len(p.st.payloads))
	secrets := make([]*schnorr.NonceSecrets, len(p.st.payloads))
	for i := range p.st.payloads {
		s, n := schnorr.GenerateNonces(p.st.common.Rand)
		secrets[i] = s
		nonces[i] = *n
	}
	p.st.nonceSecrets = secrets
	msg := Commit1Data{Nonces: nonces}
	p.st.ownCommit = msg
	return stage.Broadcast(msg)
}

func (p *commit1Processor) Process(messages map[party.Idx]*Commit1Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	received := make(map[party.Idx]Commit1Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			received[idx] = *m
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}
	return stage.NextStage(newVerifyCommit2Stage(p.st, received))
}

// verifyCommit2Processor runs consensus-on-broadcast over Commit1 (§4.3).
type verifyCommit2Processor struct {
	st       *ceremonyState
	received map[party.Idx]Commit1Data
}

func newVerifyCommit2Stage(st *ceremonyState, received map[party.Idx]Commit1Data) stage.Handle {
	return stage.NewBroadcastStage[VerifyCommit2Data](st.common, &verifyCommit2Processor{st: st, received: received})
}

func (p *verifyCommit2Processor) StageName() string { return "VerifyCommit2" }

func (p *verifyCommit2Processor) Init() stage.Outbound[VerifyCommit2Data] {
	reports := make(map[party.Idx]*Commit1Data, len(p.received))
	for idx, m := range p.received {
		m := m
		reports[idx] = &m
	}
	return stage.Broadcast(VerifyCommit2Data{Reports: reports})
}

func commit1DataEqual(a, b Commit1Data) bool {
	if len(a.Nonces) != len(b.Nonces) {
		return false
	}
	for i := range a.Nonces {
		if !a.Nonces[i].D.Equals(b.Nonces[i].D) || !a.Nonces[i].E.Equals(b.Nonces[i].E) {
			return false
		}
	}
	return true
}

func (p *verifyCommit2Processor) Process(messages map[party.Idx]*VerifyCommit2Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	reports := make(map[party.Idx]map[party.Idx]*Commit1Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			reports[idx] = m.Reports
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}

	agreed, inconsistent := stage.ConsensusOnBroadcast(p.st.common.AllIdxs, reports, commit1DataEqual)
	if len(inconsistent) > 0 {
		return stage.Fail(party.NewError(
			errors.New("Commit1 broadcast was not consistently received by every party"),
			p.StageName(), party.BroadcastFailure, inconsistent...))
	}
	return stage.NextStage(newLocalSig3Stage(p.st, agreed))
}

// localSig3Processor computes each payload's group commitment, Schnorr
// challenge, and this party's local response scalar.
type localSig3Processor struct {
	st            *ceremonyState
	agreedCommits map[party.Idx]Commit1Data
	groupCommits  []*crypto.ECPoint
	challenges    []*big.Int
}

func newLocalSig3Stage(st *ceremonyState, agreed map[party.Idx]Commit1Data) stage.Handle {
	return stage.NewBroadcastStage[LocalSig3Data](st.common, &localSig3Processor{st: st, agreedCommits: agreed})
}

func (p *localSig3Processor) StageName() string { return "LocalSig3" }

func (p *localSig3Processor) Init() stage.Outbound[LocalSig3Data] {
	n := len(p.st.payloads)
	p.groupCommits = make([]*crypto.ECPoint, n)
	p.challenges = make([]*big.Int, n)
	responses := make([]*big.Int, n)

	ownID := big.NewInt(int64(p.st.common.OwnIdx))
	lambda := schnorr.LagrangeCoefficient(ownID, p.st.responderIds)

	for i, payload := range p.st.payloads {
		commitMap := make(map[uint32]schnorr.NoncePair, len(p.agreedCommits))
		for idx, c := range p.agreedCommits {
			commitMap[uint32(idx)] = c.Nonces[i]
		}
		r, err := schnorr.GroupCommitment(commitMap, payload)
		if err != nil {
			panic(errors.Wrap(err, "signing.LocalSig3: computing group commitment over agreed nonces"))
		}
		c := schnorr.Challenge(r, p.st.key.GroupPublicKey, payload)
		p.groupCommits[i] = r
		p.challenges[i] = c

		rho := schnorr.BindingFactor(uint32(p.st.common.OwnIdx), payload, p.st.ownCommit.Nonces[i])
		responses[i] = schnorr.LocalSign(p.st.nonceSecrets[i], rho, lambda, c, p.st.key.SecretShare)
	}

	return stage.Broadcast(LocalSig3Data{Responses: responses})
}

func (p *localSig3Processor) Process(messages map[party.Idx]*LocalSig3Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	received := make(map[party.Idx]LocalSig3Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			received[idx] = *m
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}
	return stage.NextStage(newVerifyLocalSig4Stage(p.st, p.agreedCommits, p.groupCommits, p.challenges, received))
}

// verifyLocalSig4Processor runs consensus-on-broadcast over LocalSig3, then
// verifies and aggregates each payload's final signature (§4.3's
// VerifyLocalSig4: "identify responders whose local sig did not verify...
// and blame them; otherwise emit Success(signatures)").
type verifyLocalSig4Processor struct {
	st            *ceremonyState
	agreedCommits map[party.Idx]Commit1Data
	groupCommits  []*crypto.ECPoint
	challenges    []*big.Int
	received      map[party.Idx]LocalSig3Data
}

func newVerifyLocalSig4Stage(
	st *ceremonyState,
	agreedCommits map[party.Idx]Commit1Data,
	groupCommits []*crypto.ECPoint,
	challenges []*big.Int,
	received map[party.Idx]LocalSig3Data,
) stage.Handle {
	return stage.NewBroadcastStage[VerifyLocalSig4Data](st.common, &verifyLocalSig4Processor{
		st: st, agreedCommits: agreedCommits, groupCommits: groupCommits, challenges: challenges, received: received,
	})
}

func (p *verifyLocalSig4Processor) StageName() string { return "VerifyLocalSig4" }

func (p *verifyLocalSig4Processor) Init() stage.Outbound[VerifyLocalSig4Data] {
	reports := make(map[party.Idx]*LocalSig3Data, len(p.received))
	for idx, m := range p.received {
		m := m
		reports[idx] = &m
	}
	return stage.Broadcast(VerifyLocalSig4Data{Reports: reports})
}

func localSig3DataEqual(a, b LocalSig3Data) bool {
	if len(a.Responses) != len(b.Responses) {
		return false
	}
	for i := range a.Responses {
		if a.Responses[i].Cmp(b.Responses[i]) != 0 {
			return false
		}
	}
	return true
}

func (p *verifyLocalSig4Processor) Process(messages map[party.Idx]*VerifyLocalSig4Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	reports := make(map[party.Idx]map[party.Idx]*LocalSig3Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			reports[idx] = m.Reports
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}

	agreed, inconsistent := stage.ConsensusOnBroadcast(p.st.common.AllIdxs, reports, localSig3DataEqual)
	if len(inconsistent) > 0 {
		return stage.Fail(party.NewError(
			errors.New("LocalSig3 broadcast was not consistently received by every party"),
			p.StageName(), party.BroadcastFailure, inconsistent...))
	}

	var badSigners []party.Idx
	for idx, sig := range agreed {
		commit, ok := p.agreedCommits[idx]
		if !ok {
			badSigners = append(badSigners, idx)
			continue
		}
		publicShare, ok := p.st.key.PublicShares[idx]
		if !ok {
			badSigners = append(badSigners, idx)
			continue
		}
		lambda := schnorr.LagrangeCoefficient(big.NewInt(int64(idx)), p.st.responderIds)
		for i := range p.st.payloads {
			rho := schnorr.BindingFactor(uint32(idx), p.st.payloads[i], commit.Nonces[i])
			if !schnorr.VerifyLocalSig(sig.Responses[i], rho, lambda, p.challenges[i], commit.Nonces[i], publicShare) {
				badSigners = append(badSigners, idx)
				break
			}
		}
	}
	if len(badSigners) > 0 {
		return stage.Fail(party.NewError(
			errors.New("a responder's local signature failed verification against its published commitment"),
			p.StageName(), party.InvalidSignature, badSigners...))
	}

	signatures := make([]*schnorr.Signature, len(p.st.payloads))
	for i := range p.st.payloads {
		s := new(big.Int)
		for _, resp := range agreed {
			s.Add(s, resp.Responses[i])
		}
		s.Mod(s, crypto.N)
		signatures[i] = &schnorr.Signature{R: p.groupCommits[i], S: s}
		if !signatures[i].Verify(p.st.key.GroupPublicKey, p.st.payloads[i]) {
			return stage.Fail(party.NewError(
				errors.Errorf("aggregate signature for payload %d failed to verify against the group public key", i),
				p.StageName(), party.InvalidSignature, p.st.common.AllIdxs...))
		}
	}
	return stage.Succeed(signatures)
}
