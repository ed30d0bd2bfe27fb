// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package keygen

import (
	"math/big"
	"sort"

	"github.com/pkg/errors"

	"github.com/lattice-chain/ceremony-engine/common"
	"github.com/lattice-chain/ceremony-engine/crypto"
	"github.com/lattice-chain/ceremony-engine/crypto/commitments"
	"github.com/lattice-chain/ceremony-engine/crypto/vss"
	"github.com/lattice-chain/ceremony-engine/keystore"
	"github.com/lattice-chain/ceremony-engine/party"
	"github.com/lattice-chain/ceremony-engine/stage"
)

// ceremonyState is the mutable, single-ceremony context threaded through
// the keygen stage processors, mirroring the teacher's LocalPartySaveData
// being built up round by round across ecdsa/keygen.
type ceremonyState struct {
	common    *party.Common
	threshold int
	ids       []*big.Int

	ownCommits vss.Commitments
	ownShares  map[party.Idx]*big.Int
	hcd        *commitments.HashCommitDecommit

	agreedHash map[party.Idx]HashCommit1Data

	dealerCommitments map[party.Idx]vss.Commitments
	receivedShares    map[party.Idx]*big.Int
	localAccusations  []party.Idx

	agreedComplaints map[party.Idx]Complaints4Data
}

func flattenCommitments(commits vss.Commitments) []*big.Int {
	out := make([]*big.Int, 0, len(commits)*2)
	for _, c := range commits {
		out = append(out, c.X(), c.Y())
	}
	return out
}

func sortIdxs(idxs []party.Idx) []party.Idx {
	out := append([]party.Idx(nil), idxs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func idxSliceEqual(a, b []party.Idx) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// evalCommitments computes the Feldman public share a dealer's commitments
// imply for participant id: sum(id^i * v_i). Mirrors the accumulation
// vss.Share.Verify performs internally, exposed here standalone since
// Final needs it for every participant, not just the local party.
func evalCommitments(commits vss.Commitments, id *big.Int) (*crypto.ECPoint, error) {
	acc := commits[0]
	idPow := big.NewInt(1)
	for i := 1; i < len(commits); i++ {
		idPow = new(big.Int).Mul(idPow, id)
		idPow.Mod(idPow, crypto.N)
		var err error
		acc, err = acc.Add(commits[i].ScalarMult(idPow))
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
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

// NewHashCommit1Stage constructs the entry point of the keygen stage
// sequence (§3): HashCommit1, committing each dealer to its Feldman VSS
// coefficient commitments before any of them are revealed.
func NewHashCommit1Stage(common *party.Common, threshold int) stage.Handle {
	ids := make([]*big.Int, len(common.AllIdxs))
	for i, idx := range common.AllIdxs {
		ids[i] = big.NewInt(int64(idx))
	}
	st := &ceremonyState{common: common, threshold: threshold, ids: ids}
	return stage.NewBroadcastStage[HashCommit1Data](common, &hashCommit1Processor{st: st})
}

type hashCommit1Processor struct{ st *ceremonyState }

func (p *hashCommit1Processor) StageName() string { return "HashCommit1" }

func (p *hashCommit1Processor) Init() stage.Outbound[HashCommit1Data] {
	secret := common.GetRandomPositiveInt(p.st.common.Rand, crypto.N)
	commits, shares, err := vss.Create(p.st.common.Rand, p.st.threshold, secret, p.st.ids)
	if err != nil {
		panic(errors.Wrap(err, "keygen.HashCommit1: sampling this party's polynomial"))
	}
	p.st.ownCommits = commits
	p.st.ownShares = make(map[party.Idx]*big.Int, len(shares))
	for i, idx := range p.st.common.AllIdxs {
		p.st.ownShares[idx] = shares[i].Share
	}

	hcd, err := commitments.New(p.st.common.Rand, flattenCommitments(commits)...)
	if err != nil {
		panic(errors.Wrap(err, "keygen.HashCommit1: committing to this party's coefficients"))
	}
	p.st.hcd = hcd

	return stage.Broadcast(HashCommit1Data{Commitment: hcd.C})
}

func (p *hashCommit1Processor) Process(messages map[party.Idx]*HashCommit1Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	received := make(map[party.Idx]HashCommit1Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			received[idx] = *m
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}
	return stage.NextStage(newVerifyHashCommit2Stage(p.st, received))
}

type verifyHashCommit2Processor struct {
	st       *ceremonyState
	received map[party.Idx]HashCommit1Data
}

func newVerifyHashCommit2Stage(st *ceremonyState, received map[party.Idx]HashCommit1Data) stage.Handle {
	return stage.NewBroadcastStage[VerifyHashCommit2Data](st.common, &verifyHashCommit2Processor{st: st, received: received})
}

func (p *verifyHashCommit2Processor) StageName() string { return "VerifyHashCommit2" }

func (p *verifyHashCommit2Processor) Init() stage.Outbound[VerifyHashCommit2Data] {
	reports := make(map[party.Idx]*HashCommit1Data, len(p.received))
	for idx, m := range p.received {
		m := m
		reports[idx] = &m
	}
	return stage.Broadcast(VerifyHashCommit2Data{Reports: reports})
}

func hashCommitEqual(a, b HashCommit1Data) bool {
	return a.Commitment.Cmp(b.Commitment) == 0
}

func (p *verifyHashCommit2Processor) Process(messages map[party.Idx]*VerifyHashCommit2Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	reports := make(map[party.Idx]map[party.Idx]*HashCommit1Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			reports[idx] = m.Reports
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}

	agreed, inconsistent := stage.ConsensusOnBroadcast(p.st.common.AllIdxs, reports, hashCommitEqual)
	if len(inconsistent) > 0 {
		return stage.Fail(party.NewError(
			errors.New("HashCommit1 broadcast was not consistently received by every party"),
			p.StageName(), party.BroadcastFailure, inconsistent...))
	}
	p.st.agreedHash = agreed
	return stage.NextStage(newCoefficient3Stage(p.st))
}

// coefficient3Processor reveals each dealer's public commitments and hands
// every recipient its own secret share -- a private round (§4.2) where the
// public half of the message is identical for everyone and the Share field
// is recipient-specific.
type coefficient3Processor struct{ st *ceremonyState }

func newCoefficient3Stage(st *ceremonyState) stage.Handle {
	return stage.NewBroadcastStage[Coefficient3Data](st.common, &coefficient3Processor{st: st})
}

func (p *coefficient3Processor) StageName() string { return "Coefficient3" }

func (p *coefficient3Processor) Init() stage.Outbound[Coefficient3Data] {
	out := make(map[party.Idx]Coefficient3Data, len(p.st.common.AllIdxs))
	for _, to := range p.st.common.AllIdxs {
		out[to] = Coefficient3Data{
			Commitments:  p.st.ownCommits,
			DeCommitment: p.st.hcd.D,
			Share:        p.st.ownShares[to],
		}
	}
	return stage.Private(out)
}

func (p *coefficient3Processor) Process(messages map[party.Idx]*Coefficient3Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	dealerCommitments := make(map[party.Idx]vss.Commitments, len(messages))
	receivedShares := make(map[party.Idx]*big.Int, len(messages))
	var accused []party.Idx

	ownID := big.NewInt(int64(p.st.common.OwnIdx))

	for idx, m := range messages {
		if m == nil {
			continue
		}
		present[idx] = true

		hcd := &commitments.HashCommitDecommit{C: p.st.agreedHash[idx].Commitment, D: m.DeCommitment}
		ok, _, err := hcd.DeCommit()
		hashValid := err == nil && ok
		if hashValid {
			opened := m.DeCommitment[1:]
			revealed := flattenCommitments(m.Commitments)
			if len(opened) != len(revealed) {
				hashValid = false
			} else {
				for i := range opened {
					if opened[i].Cmp(revealed[i]) != 0 {
						hashValid = false
						break
					}
				}
			}
		}
		if !hashValid {
			accused = append(accused, idx)
			continue
		}

		// The dealer's public commitments now provably match what it
		// pinned back in HashCommit1, regardless of whether its privately
		// delivered share verifies against them. Keep them on hand even
		// when the share check below fails, so a later Blame7 round can
		// judge a disclosed share on its merits instead of this party's
		// own accusation leaving it with nothing to check against.
		dealerCommitments[idx] = m.Commitments

		share := &vss.Share{Threshold: p.st.threshold, ID: ownID, Share: m.Share}
		if !share.Verify(m.Commitments) {
			accused = append(accused, idx)
			continue
		}

		receivedShares[idx] = m.Share
	}

	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}

	p.st.dealerCommitments = dealerCommitments
	p.st.receivedShares = receivedShares
	p.st.localAccusations = sortIdxs(accused)
	return stage.NextStage(newComplaints4Stage(p.st))
}

type complaints4Processor struct{ st *ceremonyState }

func newComplaints4Stage(st *ceremonyState) stage.Handle {
	return stage.NewBroadcastStage[Complaints4Data](st.common, &complaints4Processor{st: st})
}

func (p *complaints4Processor) StageName() string { return "Complaints4" }

func (p *complaints4Processor) Init() stage.Outbound[Complaints4Data] {
	return stage.Broadcast(Complaints4Data{Accused: p.st.localAccusations})
}

func (p *complaints4Processor) Process(messages map[party.Idx]*Complaints4Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	received := make(map[party.Idx]Complaints4Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			received[idx] = *m
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}
	return stage.NextStage(newVerifyComplaints5Stage(p.st, received))
}

type verifyComplaints5Processor struct {
	st       *ceremonyState
	received map[party.Idx]Complaints4Data
}

func newVerifyComplaints5Stage(st *ceremonyState, received map[party.Idx]Complaints4Data) stage.Handle {
	return stage.NewBroadcastStage[VerifyComplaints5Data](st.common, &verifyComplaints5Processor{st: st, received: received})
}

func (p *verifyComplaints5Processor) StageName() string { return "VerifyComplaints5" }

func (p *verifyComplaints5Processor) Init() stage.Outbound[VerifyComplaints5Data] {
	reports := make(map[party.Idx]*Complaints4Data, len(p.received))
	for idx, m := range p.received {
		m := m
		reports[idx] = &m
	}
	return stage.Broadcast(VerifyComplaints5Data{Reports: reports})
}

func complaintsEqual(a, b Complaints4Data) bool {
	return idxSliceEqual(sortIdxs(a.Accused), sortIdxs(b.Accused))
}

func (p *verifyComplaints5Processor) Process(messages map[party.Idx]*VerifyComplaints5Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	reports := make(map[party.Idx]map[party.Idx]*Complaints4Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			reports[idx] = m.Reports
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}

	agreed, inconsistent := stage.ConsensusOnBroadcast(p.st.common.AllIdxs, reports, complaintsEqual)
	if len(inconsistent) > 0 {
		return stage.Fail(party.NewError(
			errors.New("Complaints4 broadcast was not consistently received by every party"),
			p.StageName(), party.BroadcastFailure, inconsistent...))
	}
	p.st.agreedComplaints = agreed

	disputed := make(map[party.Idx]struct{})
	for _, c := range agreed {
		for _, d := range c.Accused {
			disputed[d] = struct{}{}
		}
	}
	if len(disputed) == 0 {
		return finalize(p.st)
	}
	return stage.NextStage(newSecretShares6Stage(p.st))
}

type secretShares6Processor struct{ st *ceremonyState }

func newSecretShares6Stage(st *ceremonyState) stage.Handle {
	return stage.NewBroadcastStage[SecretShares6Data](st.common, &secretShares6Processor{st: st})
}

func (p *secretShares6Processor) StageName() string { return "SecretShares6" }

func (p *secretShares6Processor) Init() stage.Outbound[SecretShares6Data] {
	disclosures := make(map[party.Idx]*big.Int)
	for accuser, c := range p.st.agreedComplaints {
		for _, accused := range c.Accused {
			if accused == p.st.common.OwnIdx {
				disclosures[accuser] = p.st.ownShares[accuser]
			}
		}
	}
	return stage.Broadcast(SecretShares6Data{Disclosures: disclosures})
}

func (p *secretShares6Processor) Process(messages map[party.Idx]*SecretShares6Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	received := make(map[party.Idx]SecretShares6Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			received[idx] = *m
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}
	return stage.NextStage(newBlame7Stage(p.st, received))
}

type blame7Processor struct {
	st          *ceremonyState
	disclosures map[party.Idx]SecretShares6Data
}

func newBlame7Stage(st *ceremonyState, disclosures map[party.Idx]SecretShares6Data) stage.Handle {
	return stage.NewBroadcastStage[Blame7Data](st.common, &blame7Processor{st: st, disclosures: disclosures})
}

func (p *blame7Processor) StageName() string { return "Blame7" }

func (p *blame7Processor) Init() stage.Outbound[Blame7Data] {
	var guilty []party.Idx
	for accuser, c := range p.st.agreedComplaints {
		for _, dealer := range c.Accused {
			disclosed, ok := p.disclosures[dealer].Disclosures[accuser]
			commits, haveCommits := p.st.dealerCommitments[dealer]
			if !ok || !haveCommits {
				guilty = append(guilty, dealer)
				continue
			}
			share := &vss.Share{Threshold: p.st.threshold, ID: big.NewInt(int64(accuser)), Share: disclosed}
			if !share.Verify(commits) {
				guilty = append(guilty, dealer)
			}
		}
	}
	return stage.Broadcast(Blame7Data{Guilty: sortIdxs(guilty)})
}

func (p *blame7Processor) Process(messages map[party.Idx]*Blame7Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	received := make(map[party.Idx]Blame7Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			received[idx] = *m
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}
	return stage.NextStage(newVerifyBlame8Stage(p.st, received, p.disclosures))
}

type verifyBlame8Processor struct {
	st          *ceremonyState
	received    map[party.Idx]Blame7Data
	disclosures map[party.Idx]SecretShares6Data
}

func newVerifyBlame8Stage(st *ceremonyState, received map[party.Idx]Blame7Data, disclosures map[party.Idx]SecretShares6Data) stage.Handle {
	return stage.NewBroadcastStage[VerifyBlame8Data](st.common, &verifyBlame8Processor{st: st, received: received, disclosures: disclosures})
}

func (p *verifyBlame8Processor) StageName() string { return "VerifyBlame8" }

func (p *verifyBlame8Processor) Init() stage.Outbound[VerifyBlame8Data] {
	reports := make(map[party.Idx]*Blame7Data, len(p.received))
	for idx, m := range p.received {
		m := m
		reports[idx] = &m
	}
	return stage.Broadcast(VerifyBlame8Data{Reports: reports})
}

func blameEqual(a, b Blame7Data) bool {
	return idxSliceEqual(sortIdxs(a.Guilty), sortIdxs(b.Guilty))
}

func (p *verifyBlame8Processor) Process(messages map[party.Idx]*VerifyBlame8Data) stage.Result {
	present := make(map[party.Idx]bool, len(messages))
	reports := make(map[party.Idx]map[party.Idx]*Blame7Data, len(messages))
	for idx, m := range messages {
		if m != nil {
			present[idx] = true
			reports[idx] = m.Reports
		}
	}
	if missing := missingSenders(p.st.common, present); len(missing) > 0 {
		return timeoutFailure(p.st.common, p.StageName(), missing)
	}

	agreed, inconsistent := stage.ConsensusOnBroadcast(p.st.common.AllIdxs, reports, blameEqual)
	if len(inconsistent) > 0 {
		return stage.Fail(party.NewError(
			errors.New("Blame7 broadcast was not consistently received by every party"),
			p.StageName(), party.BroadcastFailure, inconsistent...))
	}

	guiltySet := make(map[party.Idx]struct{})
	for _, b := range agreed {
		for _, d := range b.Guilty {
			guiltySet[d] = struct{}{}
		}
	}
	if len(guiltySet) > 0 {
		guilty := make([]party.Idx, 0, len(guiltySet))
		for d := range guiltySet {
			guilty = append(guilty, d)
		}
		return stage.Fail(party.NewError(
			errors.New("a dealer's disclosed share failed verification against its own public commitments"),
			p.StageName(), party.InvalidContribution, sortIdxs(guilty)...))
	}
	if err := reconcileExoneratedDealers(p.st, p.disclosures); err != nil {
		return stage.Fail(err)
	}
	return finalize(p.st)
}

// reconcileExoneratedDealers restores this party's own receivedShares entry
// for every dealer it personally accused in Complaints4, now that
// VerifyBlame8 has confirmed the group-wide guilty set is empty. Until now
// that entry was left missing (coefficient3Processor.Process only ever
// records a share that verified against the dealer's public commitments),
// which would otherwise nil-panic in finalize's secret-share summation.
// The dealer's disclosed share from SecretShares6Data -- re-checked here
// against the commitments coefficient3Processor.Process kept even through
// the accusation -- becomes this party's trusted record of what it should
// have received, since an exonerated dealer's public disclosure is the
// confirmed-correct value regardless of whatever arrived over the private
// channel.
func reconcileExoneratedDealers(st *ceremonyState, disclosures map[party.Idx]SecretShares6Data) *party.Error {
	ownID := big.NewInt(int64(st.common.OwnIdx))
	for _, dealer := range st.localAccusations {
		if _, have := st.receivedShares[dealer]; have {
			continue
		}
		commits, ok := st.dealerCommitments[dealer]
		if !ok {
			return party.NewError(
				errors.Errorf("dealer %d has no verified public commitments to reconcile against", dealer),
				"VerifyBlame8", party.InvalidContribution, dealer)
		}
		disclosed, ok := disclosures[dealer].Disclosures[st.common.OwnIdx]
		if !ok {
			return party.NewError(
				errors.Errorf("dealer %d never disclosed a share for this party despite being exonerated", dealer),
				"VerifyBlame8", party.InvalidContribution, dealer)
		}
		share := &vss.Share{Threshold: st.threshold, ID: ownID, Share: disclosed}
		if !share.Verify(commits) {
			return party.NewError(
				errors.Errorf("dealer %d's disclosed share failed verification despite exoneration", dealer),
				"VerifyBlame8", party.InvalidContribution, dealer)
		}
		st.receivedShares[dealer] = disclosed
	}
	return nil
}

// finalize computes the group public key, this party's aggregate secret
// share, and every participant's Feldman public share (§3's keygen Final
// stage). It is reached either directly from VerifyComplaints5 when no
// party raised a complaint, or from VerifyBlame8 once every dispute has
// been resolved in the accused dealers' favour.
func finalize(st *ceremonyState) stage.Result {
	var groupPublicKey *crypto.ECPoint
	secretShare := new(big.Int)

	for _, dealer := range st.common.AllIdxs {
		commits, ok := st.dealerCommitments[dealer]
		if !ok {
			return stage.Fail(party.NewError(
				errors.Errorf("no verified contribution recorded for dealer %d", dealer),
				"Final", party.InvalidContribution, dealer))
		}
		if groupPublicKey == nil {
			groupPublicKey = commits[0]
		} else {
			var err error
			groupPublicKey, err = groupPublicKey.Add(commits[0])
			if err != nil {
				return stage.Fail(party.NewError(errors.Wrap(err, "Final: summing dealer constant terms"), "Final", party.InvalidContribution, dealer))
			}
		}
		secretShare.Add(secretShare, st.receivedShares[dealer])
	}
	secretShare.Mod(secretShare, crypto.N)

	publicShares := make(map[party.Idx]*crypto.ECPoint, len(st.common.AllIdxs))
	for _, participant := range st.common.AllIdxs {
		var share *crypto.ECPoint
		for _, dealer := range st.common.AllIdxs {
			term, err := evalCommitments(st.dealerCommitments[dealer], big.NewInt(int64(participant)))
			if err != nil {
				return stage.Fail(party.NewError(errors.Wrap(err, "Final: evaluating public share"), "Final", party.InvalidContribution, participant))
			}
			if share == nil {
				share = term
			} else {
				share, err = share.Add(term)
				if err != nil {
					return stage.Fail(party.NewError(errors.Wrap(err, "Final: summing public share terms"), "Final", party.InvalidContribution, participant))
				}
			}
		}
		publicShares[participant] = share
	}

	return stage.Succeed(&keystore.KeyMaterial{
		Threshold:      st.threshold,
		GroupPublicKey: groupPublicKey,
		SecretShare:    secretShare,
		PublicShares:   publicShares,
	})
}
