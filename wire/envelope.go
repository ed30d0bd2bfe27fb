// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package wire implements the stable binary wire codec named in §4.2/§6:
// an envelope of {ceremony_id, data} keyed on a leading protocol-version
// byte. It generalizes the teacher's own encoding/gob-based codecs
// (keygen/wire.go, signing/wire.go, ecdsa/keygen/wire.go,
// ecdsa/signing/wire.go all encode tss.Message this exact way) into a
// single envelope codec shared by every protocol and stage, rather than
// one ad hoc EncodeMsg/DecodeMsg pair per protocol package.
package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolVersion is the only wire version this engine understands.
// Decoding any other leading byte is a fatal programming error (§4.2):
// the process must fail fast rather than attempt to interpret bytes under
// an unsupported framing.
const ProtocolVersion byte = 1

// Message is implemented by every stage payload type (keygen and signing
// alike). StageTag identifies which stage a payload belongs to, used both
// for routing (§4.4) and for the delay-policy table. DataSizeIsValid
// enforces §3's per-stage cardinality constraint before a message is ever
// handed to a stage processor.
type Message interface {
	StageTag() string
	DataSizeIsValid(numParties int) bool
}

// Envelope is the outer frame placed around every stage message (§3, §6).
type Envelope struct {
	CeremonyId uint64
	Data       Message
}

// ErrUnknownVariant is returned when the version byte is recognised but the
// inner payload cannot be decoded: an unregistered message type, or data
// that is truncated or otherwise malformed. Per §4.4 step 4, this is
// handled by logging and dropping the message -- it must never panic.
var ErrUnknownVariant = errors.New("wire: unknown or unregistered message variant")

// RegisterMessage registers a concrete Message implementation with the gob
// codec so it can travel inside the Data field of an Envelope. Each
// protocol package (keygen, signing) calls this from its own init().
func RegisterMessage(name string, value Message) {
	gob.RegisterName(name, value)
}

// EncodeEnvelope serializes ceremonyID and data behind a single leading
// protocol-version byte.
func EncodeEnvelope(ceremonyID uint64, data Message) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(ProtocolVersion)
	enc := gob.NewEncoder(buf)
	if err := enc.Encode(ceremonyID); err != nil {
		return nil, errors.Wrap(err, "wire.EncodeEnvelope: encoding ceremony id")
	}
	if err := enc.Encode(&data); err != nil {
		return nil, errors.Wrap(err, "wire.EncodeEnvelope: encoding data")
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope parses a wire envelope. An unrecognised protocol-version
// byte panics (§4.2: "the process MUST fail fast on serialization"); an
// unrecognised inner variant returns ErrUnknownVariant for the caller to
// drop per §4.4 step 4.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, errors.New("wire.DecodeEnvelope: empty payload")
	}
	version := raw[0]
	if version != ProtocolVersion {
		panic(fmt.Sprintf("wire.DecodeEnvelope: unsupported protocol version %d", version))
	}
	dec := gob.NewDecoder(bytes.NewReader(raw[1:]))
	var id uint64
	if err := dec.Decode(&id); err != nil {
		return nil, errors.Wrap(err, "wire.DecodeEnvelope: decoding ceremony id")
	}
	var data Message
	if err := dec.Decode(&data); err != nil {
		return nil, ErrUnknownVariant
	}
	return &Envelope{CeremonyId: id, Data: data}, nil
}
