// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package manager implements the Ceremony Manager (§4.5): the single
// shared registry of in-flight ceremonies, touched only at
// create/finalize/tick boundaries (§5), that turns local commands
// (KeygenRequest/SigningRequest/IdAcknowledge) and peer traffic into
// running ceremony.Runner tasks.
package manager

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lattice-chain/ceremony-engine/ceremony"
	"github.com/lattice-chain/ceremony-engine/common"
	"github.com/lattice-chain/ceremony-engine/crypto/schnorr"
	"github.com/lattice-chain/ceremony-engine/keygen"
	"github.com/lattice-chain/ceremony-engine/keystore"
	"github.com/lattice-chain/ceremony-engine/party"
	"github.com/lattice-chain/ceremony-engine/signing"
	"github.com/lattice-chain/ceremony-engine/stage"
	"github.com/lattice-chain/ceremony-engine/wire"
)

// CeremonyId identifies one ceremony instance. Ids presented to Start*
// must be strictly greater than the watermark (§8 invariant 2).
type CeremonyId = uint64

// Transport is the Peer Transport external collaborator named in §6,
// reduced to the single send operation a ceremony.Runner's outbound
// traffic needs. A real implementation wraps whatever network layer
// carries ceremony bytes between validators; tests use an in-memory fake.
type Transport interface {
	Send(ceremonyID CeremonyId, to party.AccountId, data wire.Message) error
}

// Config bundles the timing parameters every ceremony this Manager starts
// shares (§4.4/§4.5's stage deadline, ceremony cap, and unauthorised
// buffer TTL).
type Config struct {
	StageTimeout     time.Duration
	CeremonyDeadline time.Duration
	UnauthorisedTTL  time.Duration
}

// DefaultConfig returns timing parameters suitable for a production node;
// tests typically override these with much shorter durations.
func DefaultConfig() Config {
	return Config{
		StageTimeout:     30 * time.Second,
		CeremonyDeadline: 5 * time.Minute,
		UnauthorisedTTL:  10 * time.Second,
	}
}

// unauthorisedBuffer holds early messages for a ceremony id this node has
// not yet locally started (§4.4's "initial stage peculiarity"). It is
// opportunistic: parties that sent early messages for a never-requested
// ceremony are never blamed for it.
type unauthorisedBuffer struct {
	messages  map[party.AccountId]wire.Message
	createdAt time.Time
}

// ceremonyEntry is the registry's bookkeeping for one running ceremony.
type ceremonyEntry struct {
	inbound chan ceremony.InboundMessage
	index   *party.IndexMap
	cancel  context.CancelFunc
}

// Manager owns the registry of in-flight ceremonies (§4.5) -- the only
// structure shared across ceremony tasks -- plus the watermark and the
// unauthorised-message buffers keyed by the ceremony id they arrived for.
type Manager struct {
	mu         sync.Mutex
	ownID      party.AccountId
	store      keystore.Store
	transport  Transport
	cfg        Config
	randSource func() io.Reader

	ceremonies       map[CeremonyId]*ceremonyEntry
	unauthorised     map[CeremonyId]*unauthorisedBuffer
	latestCeremonyID CeremonyId
}

// New constructs a Manager for a single local validator identity.
func New(ownID party.AccountId, store keystore.Store, transport Transport, cfg Config) *Manager {
	return &Manager{
		ownID:        ownID,
		store:        store,
		transport:    transport,
		cfg:          cfg,
		randSource:   func() io.Reader { return rand.Reader },
		ceremonies:   make(map[CeremonyId]*ceremonyEntry),
		unauthorised: make(map[CeremonyId]*unauthorisedBuffer),
	}
}

// validateParticipants rejects a participant/signer set before it ever
// reaches a ceremony: duplicate account ids (party.NewSortedAccountIds
// would otherwise silently deduplicate them), a threshold below 1, and a
// set too small for the requested threshold (vss.Create rejects both with
// an error, which keygen's HashCommit1 turns into a panic -- a
// caller-supplied mistake must never reach that panic, per §7's "process
// panics only on impossible invariants").
func validateParticipants(participants []party.AccountId, threshold int) bool {
	seen := make(map[party.AccountId]struct{}, len(participants))
	for _, id := range participants {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return threshold >= 1 && len(participants) >= threshold+1
}

// StartKeygen implements §4.5's start_keygen: preconditions are id >
// latest_ceremony_id, the participant set being well-formed for the
// requested threshold (Testable Property -- party.InvalidParticipants),
// and the local identity being a member of participants. On success the
// resulting key material is written to the key store under keyID before
// the success Outcome is reported (§5's shared-resource policy).
func (m *Manager) StartKeygen(id CeremonyId, participants []party.AccountId, threshold int, keyID string, reply ceremony.Reply[*keystore.KeyMaterial]) {
	m.mu.Lock()
	if id <= m.latestCeremonyID {
		m.mu.Unlock()
		reply <- ceremony.Failure[*keystore.KeyMaterial](nil, party.DuplicateCeremonyId)
		return
	}

	if !validateParticipants(participants, threshold) {
		m.latestCeremonyID = id
		m.mu.Unlock()
		reply <- ceremony.Failure[*keystore.KeyMaterial](nil, party.InvalidParticipants)
		return
	}

	idx, err := party.New(participants, m.ownID)
	if err != nil {
		m.latestCeremonyID = id
		m.mu.Unlock()
		reply <- ceremony.Failure[*keystore.KeyMaterial](nil, party.NotParticipating)
		return
	}

	m.startCeremonyLocked(id, idx, keygen.StageOrder,
		func(c *party.Common) stage.Handle { return keygen.NewHashCommit1Stage(c, threshold) },
		func(res stage.Result) {
			if res.Failure != nil {
				reply <- ceremony.Failure[*keystore.KeyMaterial](idx.IdsOf(res.Failure.Culprits()), res.Failure.Reason())
				return
			}
			km := res.Success.(*keystore.KeyMaterial)
			if err := m.store.Put(keyID, km); err != nil {
				common.Logger.Errorf("manager: ceremony %d: failed writing key material for %q: %v", id, keyID, err)
			}
			reply <- ceremony.Success(km)
		})

	m.latestCeremonyID = id
	m.drainUnauthorisedLocked(id, idx)
	m.mu.Unlock()
}

// StartSigning implements §4.5's start_signing: an absent keyID replies
// immediately with UnknownKey and never creates a ceremony, matching §8
// scenario 6.
func (m *Manager) StartSigning(id CeremonyId, signers []party.AccountId, keyID string, payloads [][]byte, reply ceremony.Reply[[]*schnorr.Signature]) {
	m.mu.Lock()
	if id <= m.latestCeremonyID {
		m.mu.Unlock()
		reply <- ceremony.Failure[[]*schnorr.Signature](nil, party.DuplicateCeremonyId)
		return
	}

	key, err := m.store.Get(keyID)
	if err != nil {
		m.latestCeremonyID = id
		m.mu.Unlock()
		reply <- ceremony.Failure[[]*schnorr.Signature](nil, party.UnknownKey)
		return
	}

	if !validateParticipants(signers, key.Threshold) {
		m.latestCeremonyID = id
		m.mu.Unlock()
		reply <- ceremony.Failure[[]*schnorr.Signature](nil, party.InvalidParticipants)
		return
	}

	idx, err := party.New(signers, m.ownID)
	if err != nil {
		m.latestCeremonyID = id
		m.mu.Unlock()
		reply <- ceremony.Failure[[]*schnorr.Signature](nil, party.NotParticipating)
		return
	}

	m.startCeremonyLocked(id, idx, signing.StageOrder,
		func(c *party.Common) stage.Handle { return signing.NewCommit1Stage(c, key, payloads) },
		func(res stage.Result) {
			if res.Failure != nil {
				reply <- ceremony.Failure[[]*schnorr.Signature](idx.IdsOf(res.Failure.Culprits()), res.Failure.Reason())
				return
			}
			reply <- ceremony.Success(res.Success.([]*schnorr.Signature))
		})

	m.latestCeremonyID = id
	m.drainUnauthorisedLocked(id, idx)
	m.mu.Unlock()
}

// startCeremonyLocked wires a fresh party.Common, a ceremony.Runner, and
// an outbound pump goroutine together and launches the ceremony task. Must
// be called with mu held.
func (m *Manager) startCeremonyLocked(id CeremonyId, idx *party.IndexMap, stageOrder []string, makeInitial func(*party.Common) stage.Handle, onDone func(stage.Result)) {
	outbound := make(chan party.OutboundMessage, 256)
	cmn := &party.Common{
		CeremonyId: id,
		OwnIdx:     idx.OwnIdx(),
		AllIdxs:    idx.AllIdxs(),
		Index:      idx,
		Outbound:   outbound,
		Rand:       m.randSource(),
	}
	initial := makeInitial(cmn)
	inbound := make(chan ceremony.InboundMessage, 256)

	ctx, cancel := context.WithCancel(context.Background())
	runner := ceremony.NewRunner(cmn, ceremony.Config{
		StageOrder:       stageOrder,
		StageTimeout:     m.cfg.StageTimeout,
		CeremonyDeadline: m.cfg.CeremonyDeadline,
	}, initial, inbound)

	m.ceremonies[id] = &ceremonyEntry{inbound: inbound, index: idx, cancel: cancel}

	go m.pumpOutbound(id, idx, outbound)
	go func() {
		res := runner.Run(ctx)
		close(outbound)
		m.finish(id)
		onDone(res)
	}()
}

// pumpOutbound translates a single ceremony's OutboundMessage stream --
// addressed by the dense, ceremony-local Idx -- into Transport.Send calls
// addressed by the stable AccountId (§4.4's boundary between the index map
// and the peer transport).
func (m *Manager) pumpOutbound(id CeremonyId, idx *party.IndexMap, outbound <-chan party.OutboundMessage) {
	for msg := range outbound {
		if m.transport == nil {
			continue
		}
		to := idx.IdOf(msg.To)
		if err := m.transport.Send(id, to, msg.Data); err != nil {
			common.Logger.Warnf("manager: ceremony %d: failed sending to %s: %v", id, to, err)
		}
	}
}

func (m *Manager) finish(id CeremonyId) {
	m.mu.Lock()
	delete(m.ceremonies, id)
	m.mu.Unlock()
}

// ProcessPeerMessage implements §4.5's process_peer_message: resolve the
// sender against the ceremony's index map (dropping non-participants),
// then dispatch per §4.4. A message for a ceremony id this node has not
// yet started is buffered only if it is typed for some protocol's initial
// stage.
func (m *Manager) ProcessPeerMessage(sender party.AccountId, id CeremonyId, data wire.Message) {
	m.mu.Lock()
	entry, ok := m.ceremonies[id]
	if !ok {
		if data.StageTag() != keygen.InitialStageTag && data.StageTag() != signing.InitialStageTag {
			m.mu.Unlock()
			common.Logger.Debugf("manager: dropping non-initial-stage message for unknown ceremony %d from %s", id, sender)
			return
		}
		buf, ok := m.unauthorised[id]
		if !ok {
			buf = &unauthorisedBuffer{messages: make(map[party.AccountId]wire.Message), createdAt: time.Now()}
			m.unauthorised[id] = buf
		}
		buf.messages[sender] = data
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	idx, ok := entry.index.IdxOf(sender)
	if !ok {
		common.Logger.Warnf("manager: dropping message for ceremony %d from non-participant %s", id, sender)
		return
	}
	select {
	case entry.inbound <- ceremony.InboundMessage{Sender: idx, Data: data}:
	default:
		common.Logger.Warnf("manager: inbound channel saturated for ceremony %d, dropping message from %s", id, sender)
	}
}

// drainUnauthorisedLocked feeds a ceremony's matching unauthorised buffer,
// in sorted sender order, into its freshly created inbound channel;
// messages from accounts that turn out not to be participants are
// discarded (§4.4). Must be called with mu held, after the entry exists in
// m.ceremonies.
func (m *Manager) drainUnauthorisedLocked(id CeremonyId, idx *party.IndexMap) {
	buf, ok := m.unauthorised[id]
	if !ok {
		return
	}
	delete(m.unauthorised, id)
	entry, ok := m.ceremonies[id]
	if !ok {
		return
	}

	senders := make([]party.AccountId, 0, len(buf.messages))
	for sender := range buf.messages {
		senders = append(senders, sender)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i] < senders[j] })

	for _, sender := range senders {
		partyIdx, ok := idx.IdxOf(sender)
		if !ok {
			continue
		}
		entry.inbound <- ceremony.InboundMessage{Sender: partyIdx, Data: buf.messages[sender]}
	}
}

// UpdateLatestCeremonyId implements §4.5's update_latest_ceremony_id: bump
// the watermark without starting a ceremony. Idempotent for id <= latest.
func (m *Manager) UpdateLatestCeremonyId(id CeremonyId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id > m.latestCeremonyID {
		m.latestCeremonyID = id
	}
}

// Tick implements §4.5's tick sweep. Each ceremony's own Runner already
// self-enforces its stage and ceremony deadlines via its own timers (the
// Go goroutine-per-ceremony translation of §5's cooperative-task model
// needs no central poll for that); Tick's remaining sweep responsibility
// is purging unauthorised buffers whose TTL has elapsed, since nothing
// else owns their lifetime. Multiple buffers expiring in the same sweep
// are folded into a single aggregate log line via multierror, consistent
// with §4.5's "finalize or purge as appropriate" without individually
// reporting an Outcome for buffers that were never attached to a running
// ceremony.
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	var errs error
	purged := 0
	for id, buf := range m.unauthorised {
		if now.Sub(buf.createdAt) >= m.cfg.UnauthorisedTTL {
			delete(m.unauthorised, id)
			purged++
			errs = multierror.Append(errs, fmt.Errorf("ceremony %d: unauthorised buffer expired with %d buffered message(s)", id, len(buf.messages)))
		}
	}
	m.mu.Unlock()

	if errs != nil {
		common.Logger.Warnf("manager: tick purged %d unauthorised buffer(s): %v", purged, errs)
	}
}
