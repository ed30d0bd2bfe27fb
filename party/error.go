// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package party

import (
	"fmt"
)

// FailureReason is the taxonomy of per-ceremony failures (§7). Failures
// produced by a running ceremony (BroadcastFailure, InvalidContribution,
// InvalidSignature, Timeout) carry a blame set; the reasons the manager
// replies with before any ceremony starts (InvalidParticipants, UnknownKey,
// NotParticipating, DuplicateCeremonyId) carry an empty one.
type FailureReason int

const (
	InvalidParticipants FailureReason = iota
	UnknownKey
	BroadcastFailure
	InvalidContribution
	InvalidSignature
	Timeout
	NotParticipating
	DuplicateCeremonyId
)

func (r FailureReason) String() string {
	switch r {
	case InvalidParticipants:
		return "InvalidParticipants"
	case UnknownKey:
		return "UnknownKey"
	case BroadcastFailure:
		return "BroadcastFailure"
	case InvalidContribution:
		return "InvalidContribution"
	case InvalidSignature:
		return "InvalidSignature"
	case Timeout:
		return "Timeout"
	case NotParticipating:
		return "NotParticipating"
	case DuplicateCeremonyId:
		return "DuplicateCeremonyId"
	default:
		return fmt.Sprintf("FailureReason(%d)", int(r))
	}
}

// Error wraps a cause with the stage and culprits responsible for it.
// Generalizes v2/tss/error.go's (cause, task, round, victim, culprits) to
// carry a set of culprit indices rather than a single victim, since a
// ceremony failure can implicate more than one party at once.
type Error struct {
	cause    error
	stage    string
	reason   FailureReason
	culprits []Idx
}

func NewError(cause error, stage string, reason FailureReason, culprits ...Idx) *Error {
	return &Error{cause: cause, stage: stage, reason: reason, culprits: culprits}
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Cause() error { return e.cause }

func (e *Error) Stage() string { return e.stage }

func (e *Error) Reason() FailureReason { return e.reason }

func (e *Error) Culprits() []Idx { return e.culprits }

func (e *Error) Error() string {
	if e == nil || e.cause == nil {
		return "party.Error is nil"
	}
	if len(e.culprits) > 0 {
		return fmt.Sprintf("stage %s, reason %s, culprits %v: %s", e.stage, e.reason, e.culprits, e.cause.Error())
	}
	return fmt.Sprintf("stage %s, reason %s: %s", e.stage, e.reason, e.cause.Error())
}
