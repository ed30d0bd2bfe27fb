// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package manager_test

import (
	"crypto/rand"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-chain/ceremony-engine/ceremony"
	"github.com/lattice-chain/ceremony-engine/crypto"
	"github.com/lattice-chain/ceremony-engine/crypto/schnorr"
	"github.com/lattice-chain/ceremony-engine/crypto/vss"
	"github.com/lattice-chain/ceremony-engine/keystore"
	"github.com/lattice-chain/ceremony-engine/manager"
	"github.com/lattice-chain/ceremony-engine/party"
	"github.com/lattice-chain/ceremony-engine/signing"
	"github.com/lattice-chain/ceremony-engine/wire"
)

// transportFunc adapts a plain function to manager.Transport, the shape
// every test in this file needs for a lightweight fake.
type transportFunc func(id manager.CeremonyId, to party.AccountId, data wire.Message) error

func (f transportFunc) Send(id manager.CeremonyId, to party.AccountId, data wire.Message) error {
	return f(id, to, data)
}

func noopTransport() manager.Transport {
	return transportFunc(func(manager.CeremonyId, party.AccountId, wire.Message) error { return nil })
}

func buildKeyMaterial(t *testing.T, all []party.Idx, threshold int) map[party.Idx]*keystore.KeyMaterial {
	t.Helper()
	secret := big.NewInt(999983)
	ids := make([]*big.Int, len(all))
	for i, idx := range all {
		ids[i] = big.NewInt(int64(idx))
	}
	commits, shares, err := vss.Create(rand.Reader, threshold, secret, ids)
	require.NoError(t, err)
	_ = commits

	groupPublicKey := crypto.ScalarBaseMult(secret)
	publicShares := make(map[party.Idx]*crypto.ECPoint, len(all))
	for i, idx := range all {
		publicShares[idx] = crypto.ScalarBaseMult(shares[i].Share)
	}

	out := make(map[party.Idx]*keystore.KeyMaterial, len(all))
	for i, idx := range all {
		out[idx] = &keystore.KeyMaterial{
			Threshold:      threshold,
			GroupPublicKey: groupPublicKey,
			SecretShare:    shares[i].Share,
			PublicShares:   publicShares,
		}
	}
	return out
}

func TestManagerRejectsDuplicateCeremonyId(t *testing.T) {
	store := keystore.NewMemStore()
	m := manager.New("a", store, noopTransport(), manager.DefaultConfig())

	m.UpdateLatestCeremonyId(5)

	reply := make(chan ceremony.Outcome[*keystore.KeyMaterial], 1)
	m.StartKeygen(5, []party.AccountId{"a", "b", "c"}, 1, "k", reply)

	out := <-reply
	assert.False(t, out.IsSuccess())
	assert.Equal(t, party.DuplicateCeremonyId, out.Reason())
}

func TestManagerRejectsNotParticipating(t *testing.T) {
	store := keystore.NewMemStore()
	m := manager.New("z", store, noopTransport(), manager.DefaultConfig())

	reply := make(chan ceremony.Outcome[*keystore.KeyMaterial], 1)
	m.StartKeygen(1, []party.AccountId{"a", "b", "c"}, 1, "k", reply)

	out := <-reply
	assert.False(t, out.IsSuccess())
	assert.Equal(t, party.NotParticipating, out.Reason())
}

func TestManagerRejectsThresholdTooLargeForParticipants(t *testing.T) {
	store := keystore.NewMemStore()
	m := manager.New("a", store, noopTransport(), manager.DefaultConfig())

	reply := make(chan ceremony.Outcome[*keystore.KeyMaterial], 1)
	// threshold+1 == 3 participants required, only 2 supplied.
	m.StartKeygen(1, []party.AccountId{"a", "b"}, 2, "k", reply)

	out := <-reply
	assert.False(t, out.IsSuccess())
	assert.Equal(t, party.InvalidParticipants, out.Reason())
}

func TestManagerRejectsDuplicateParticipants(t *testing.T) {
	store := keystore.NewMemStore()
	m := manager.New("a", store, noopTransport(), manager.DefaultConfig())

	reply := make(chan ceremony.Outcome[*keystore.KeyMaterial], 1)
	m.StartKeygen(1, []party.AccountId{"a", "b", "b"}, 1, "k", reply)

	out := <-reply
	assert.False(t, out.IsSuccess())
	assert.Equal(t, party.InvalidParticipants, out.Reason())
}

func TestManagerRejectsThresholdTooLargeForSigners(t *testing.T) {
	store := keystore.NewMemStore()
	idx, err := party.New([]party.AccountId{"a", "b", "c"}, "")
	require.NoError(t, err)
	keyMaterial := buildKeyMaterial(t, idx.AllIdxs(), 2)
	partyIdx, ok := idx.IdxOf("a")
	require.True(t, ok)
	require.NoError(t, store.Put("k", keyMaterial[partyIdx]))

	m := manager.New("a", store, noopTransport(), manager.DefaultConfig())

	reply := make(chan ceremony.Outcome[[]*schnorr.Signature], 1)
	// the stored key needs threshold+1 == 3 signers, only 2 supplied.
	m.StartSigning(1, []party.AccountId{"a", "b"}, "k", [][]byte{[]byte("x")}, reply)

	out := <-reply
	assert.False(t, out.IsSuccess())
	assert.Equal(t, party.InvalidParticipants, out.Reason())
}

func TestManagerUnknownKeySigningRepliesImmediately(t *testing.T) {
	store := keystore.NewMemStore()
	m := manager.New("a", store, noopTransport(), manager.DefaultConfig())

	reply := make(chan ceremony.Outcome[[]*schnorr.Signature], 1)
	m.StartSigning(7, []party.AccountId{"a", "b", "c"}, "missing-key", [][]byte{[]byte("x")}, reply)

	out := <-reply
	assert.False(t, out.IsSuccess())
	assert.Equal(t, party.UnknownKey, out.Reason())
	assert.Empty(t, out.Blame())

	// The watermark advances to the requested id even though no ceremony
	// was ever created for it.
	reply2 := make(chan ceremony.Outcome[*keystore.KeyMaterial], 1)
	m.StartKeygen(7, []party.AccountId{"a", "b", "c"}, 1, "k", reply2)
	out2 := <-reply2
	assert.False(t, out2.IsSuccess())
	assert.Equal(t, party.DuplicateCeremonyId, out2.Reason())
}

func TestManagerTickWithExpiredUnauthorisedBufferDoesNotPanic(t *testing.T) {
	cfg := manager.Config{StageTimeout: time.Second, CeremonyDeadline: time.Second, UnauthorisedTTL: 10 * time.Millisecond}
	store := keystore.NewMemStore()
	m := manager.New("a", store, noopTransport(), cfg)

	m.ProcessPeerMessage("b", 99, signing.Commit1Data{Nonces: []schnorr.NoncePair{{}}})

	require.NotPanics(t, func() { m.Tick(time.Now().Add(time.Hour)) })
}

// network is a minimal in-memory router connecting several Managers by
// account id, standing in for §6's Peer Transport collaborator.
type network struct {
	mu    sync.Mutex
	peers map[party.AccountId]*manager.Manager
}

func newNetwork() *network {
	return &network{peers: make(map[party.AccountId]*manager.Manager)}
}

func (n *network) register(id party.AccountId, m *manager.Manager) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[id] = m
}

func (n *network) get(id party.AccountId) *manager.Manager {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

type routedTransport struct {
	from party.AccountId
	net  *network
}

func (rt *routedTransport) Send(ceremonyID manager.CeremonyId, to party.AccountId, data wire.Message) error {
	target := rt.net.get(to)
	if target == nil {
		return nil
	}
	target.ProcessPeerMessage(rt.from, ceremonyID, data)
	return nil
}

func TestManagerEndToEndSigningAcrossThreeNodes(t *testing.T) {
	ids := []party.AccountId{"a", "b", "c"}
	idx, err := party.New(ids, "")
	require.NoError(t, err)
	allIdxs := idx.AllIdxs()
	keyMaterial := buildKeyMaterial(t, allIdxs, 1)

	cfg := manager.Config{StageTimeout: 2 * time.Second, CeremonyDeadline: 10 * time.Second, UnauthorisedTTL: time.Second}
	net := newNetwork()
	managers := make(map[party.AccountId]*manager.Manager, len(ids))
	for _, id := range ids {
		store := keystore.NewMemStore()
		partyIdx, ok := idx.IdxOf(id)
		require.True(t, ok)
		require.NoError(t, store.Put("sig-key", keyMaterial[partyIdx]))
		m := manager.New(id, store, &routedTransport{from: id, net: net}, cfg)
		managers[id] = m
		net.register(id, m)
	}

	payloads := [][]byte{[]byte("settle:0x01..")}
	replies := make(map[party.AccountId]ceremony.Reply[[]*schnorr.Signature], len(ids))
	for _, id := range ids {
		replies[id] = make(chan ceremony.Outcome[[]*schnorr.Signature], 1)
		managers[id].StartSigning(1, ids, "sig-key", payloads, replies[id])
	}

	for _, id := range ids {
		select {
		case out := <-replies[id]:
			require.True(t, out.IsSuccess(), "node %s failed to sign: reason=%v blame=%v", id, out.Reason(), out.Blame())
			sigs, ok := out.Value()
			require.True(t, ok)
			require.Len(t, sigs, 1)
			partyIdx, _ := idx.IdxOf(id)
			assert.True(t, sigs[0].Verify(keyMaterial[partyIdx].GroupPublicKey, payloads[0]))
		case <-time.After(5 * time.Second):
			t.Fatalf("node %s: timed out waiting for a signing outcome", id)
		}
	}
}
