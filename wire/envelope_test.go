// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-chain/ceremony-engine/wire"
)

type testMessage struct {
	Tag     string
	Payload []byte
}

func (m testMessage) StageTag() string { return m.Tag }

func (m testMessage) DataSizeIsValid(numParties int) bool { return len(m.Payload) > 0 }

func init() {
	wire.RegisterMessage("wire_test.testMessage", testMessage{})
}

func TestEncodeDecodeEnvelopeRoundTrip(t *testing.T) {
	original := testMessage{Tag: "commit1", Payload: []byte{1, 2, 3}}
	raw, err := wire.EncodeEnvelope(7, original)
	require.NoError(t, err)

	env, err := wire.DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), env.CeremonyId)
	assert.Equal(t, original, env.Data)
}

func TestEncodeIsDeterministicForFixedVersion(t *testing.T) {
	msg := testMessage{Tag: "commit1", Payload: []byte{9}}
	a, err := wire.EncodeEnvelope(1, msg)
	require.NoError(t, err)
	b, err := wire.EncodeEnvelope(1, msg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, wire.ProtocolVersion, a[0])
}

func TestDecodeEnvelopeRejectsUnknownVersion(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = wire.DecodeEnvelope([]byte{0xff, 0x00})
	})
}

func TestDecodeEnvelopeReturnsUnknownVariantForUndecodableData(t *testing.T) {
	// A well-formed envelope with a ceremony id but garbage/un-decodable data bytes.
	raw, err := wire.EncodeEnvelope(3, testMessage{Tag: "x", Payload: []byte{1}})
	require.NoError(t, err)
	truncated := raw[:len(raw)-2]

	_, err = wire.DecodeEnvelope(truncated)
	assert.ErrorIs(t, err, wire.ErrUnknownVariant)
}
