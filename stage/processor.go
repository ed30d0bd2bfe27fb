// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package stage implements the generic one-round broadcast primitive
// (§4.2) shared by every protocol stage, plus the consensus-on-broadcast
// attribution algorithm (§4.3) used by every verification round. It
// generalizes the teacher's per-round structs (ecdsa/keygen/round_1.go,
// etc., each hand-coding its own Start/Update/CanProceed) into a single
// reusable harness parameterized over the stage's message type, the way
// original_source/engine/multisig/src/client/common/broadcast.rs's
// `BroadcastStage<C, Stage>` does in the source this spec was distilled
// from.
package stage

import (
	"github.com/lattice-chain/ceremony-engine/party"
	"github.com/lattice-chain/ceremony-engine/wire"
)

// Outbound is what a stage processor's Init produces: either the same
// message broadcast to everyone, or a distinct message addressed to each
// recipient (§4.2's DataToSend).
type Outbound[M wire.Message] struct {
	broadcast *M
	private   map[party.Idx]M
}

// Broadcast builds an Outbound carrying the same message for every party.
func Broadcast[M wire.Message](m M) Outbound[M] {
	return Outbound[M]{broadcast: &m}
}

// Private builds an Outbound carrying a distinct message per recipient.
// The map MUST include an entry for the local party's own index.
func Private[M wire.Message](messages map[party.Idx]M) Outbound[M] {
	return Outbound[M]{private: messages}
}

// Processor is the protocol-specific compute performed by one broadcast
// stage (§4.3): what to send, and what to do once every party's message
// (or a None for the missing ones) has been collected.
type Processor[M wire.Message] interface {
	// StageName identifies this stage for logging and delay-policy lookups.
	StageName() string
	// Init computes the data to broadcast or distribute privately.
	Init() Outbound[M]
	// Process consumes the full round of collected messages (nil entries
	// for parties that never sent one) and returns the stage's result.
	Process(messages map[party.Idx]*M) Result
}

// ProcessResult reports whether a stage has collected every expected message.
type ProcessResult int

const (
	NotReady ProcessResult = iota
	Ready
)

// Result is what a stage produces when it finalizes: either a handle for
// the next stage, or a terminal outcome (success value or failure).
type Result struct {
	Next    Handle
	Done    bool
	Success any
	Failure *party.Error
}

// NextStage wraps a successfully-initialized following stage.
func NextStage(next Handle) Result {
	return Result{Next: next}
}

// Succeed produces a terminal success outcome.
func Succeed(value any) Result {
	return Result{Done: true, Success: value}
}

// Fail produces a terminal failure outcome.
func Fail(err *party.Error) Result {
	return Result{Done: true, Failure: err}
}

// Handle is the type-erased interface the ceremony runner drives, the same
// role tss.Round plays for the teacher's LocalParty.
type Handle interface {
	StageName() string
	Init()
	ProcessMessage(sender party.Idx, raw wire.Message) ProcessResult
	Finalize() Result
	AwaitedParties() []party.Idx
}
