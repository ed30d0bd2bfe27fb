// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package ceremony implements the Ceremony Runner (§4.4) and its Outcome
// sum type (§7): the protocol-agnostic task that drives one stage.Handle
// sequence to completion, independent of whether it is a keygen or a
// signing ceremony.
package ceremony

import "github.com/lattice-chain/ceremony-engine/party"

// Outcome is a successful value or a failure reason paired with a sorted
// blame set (§7's "a failure always carries a deterministic, sorted
// account-id set suitable for on-chain punishment"). Generalizes the
// teacher's *tss.Error-or-result split into one closed sum type.
type Outcome[T any] struct {
	value  T
	ok     bool
	blame  party.SortedAccountIds
	reason party.FailureReason
}

// Success wraps a completed ceremony's result value.
func Success[T any](value T) Outcome[T] {
	return Outcome[T]{value: value, ok: true}
}

// Failure wraps a ceremony's terminal failure reason and blame set.
func Failure[T any](blame party.SortedAccountIds, reason party.FailureReason) Outcome[T] {
	return Outcome[T]{blame: blame, reason: reason}
}

func (o Outcome[T]) IsSuccess() bool { return o.ok }

// Value returns the success value and true, or the zero value and false.
func (o Outcome[T]) Value() (T, bool) { return o.value, o.ok }

func (o Outcome[T]) Blame() party.SortedAccountIds { return o.blame }

func (o Outcome[T]) Reason() party.FailureReason { return o.reason }

// Reply is the one-shot Outcome Reporter named in §4/§6: the channel a
// requester supplies with a KeygenRequest/SigningRequest and that the
// runner's finalization path sends to exactly once.
type Reply[T any] chan Outcome[T]
