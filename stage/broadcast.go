// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package stage

import (
	"fmt"

	"github.com/lattice-chain/ceremony-engine/common"
	"github.com/lattice-chain/ceremony-engine/party"
	"github.com/lattice-chain/ceremony-engine/wire"
)

// BroadcastStage wires a Processor into a Handle: it owns the bookkeeping
// every stage needs (who has reported in, who is still awaited) so that
// keygen and signing stage processors only ever implement the protocol
// math. This is the generic counterpart of each round_N.go the teacher
// hand-writes per protocol (e.g. ecdsa/keygen/round_1.go's Start/Update),
// collapsed into one harness per §4.2/§4.3.
type BroadcastStage[M wire.Message] struct {
	common    *party.Common
	processor Processor[M]
	collected map[party.Idx]M
}

// NewBroadcastStage constructs a stage Handle around a Processor.
func NewBroadcastStage[M wire.Message](common *party.Common, processor Processor[M]) *BroadcastStage[M] {
	return &BroadcastStage[M]{
		common:    common,
		processor: processor,
		collected: make(map[party.Idx]M),
	}
}

func (s *BroadcastStage[M]) StageName() string {
	return s.processor.StageName()
}

// Init computes the stage's outbound data and dispatches it. A broadcast
// payload is recorded locally and fanned out to every other party; a
// private distribution is recorded locally from the caller's own entry and
// otherwise sent one message per recipient. A private Outbound missing the
// local party's own entry is a programming error in the stage processor
// and panics immediately, per §4.2's "never silently omit a participant".
func (s *BroadcastStage[M]) Init() {
	out := s.processor.Init()

	if out.broadcast != nil {
		s.collected[s.common.OwnIdx] = *out.broadcast
		for _, to := range s.common.AllIdxsExceptOwn() {
			s.common.Outbound <- party.OutboundMessage{
				CeremonyId:  s.common.CeremonyId,
				To:          to,
				IsBroadcast: true,
				Data:        *out.broadcast,
			}
		}
		return
	}

	own, ok := out.private[s.common.OwnIdx]
	if !ok {
		panic(fmt.Sprintf("stage %s: Init produced a private round with no share for own index %d", s.StageName(), s.common.OwnIdx))
	}
	s.collected[s.common.OwnIdx] = own

	for to, msg := range out.private {
		if to == s.common.OwnIdx {
			continue
		}
		s.common.Outbound <- party.OutboundMessage{
			CeremonyId:  s.common.CeremonyId,
			To:          to,
			IsBroadcast: false,
			Data:        msg,
		}
	}
}

// ProcessMessage records an inbound message for this stage. It returns
// NotReady, without recording anything, if raw is not of this stage's
// message type (logged and dropped, §4.2; the runner routes next-stage
// messages into its delay buffer by stage tag before they ever reach this
// method), if the sender is not a known participant, if the message fails
// DataSizeIsValid, or if the sender has already reported for this round
// (logged and dropped, §4.3's "redundant messages are ignored").
func (s *BroadcastStage[M]) ProcessMessage(sender party.Idx, raw wire.Message) ProcessResult {
	msg, ok := raw.(M)
	if !ok {
		common.Logger.Debugf("stage %s: dropping message from party %d with unexpected type %T", s.StageName(), sender, raw)
		return NotReady
	}
	if !s.common.Index.Contains(sender) {
		common.Logger.Warnf("stage %s: dropping message from unknown party index %d", s.StageName(), sender)
		return NotReady
	}
	if !msg.DataSizeIsValid(len(s.common.AllIdxs)) {
		common.Logger.Warnf("stage %s: dropping message from party %d with invalid size", s.StageName(), sender)
		return NotReady
	}
	if _, already := s.collected[sender]; already {
		common.Logger.Debugf("stage %s: dropping redundant message from party %d", s.StageName(), sender)
		return NotReady
	}

	s.collected[sender] = msg

	if len(s.collected) == len(s.common.AllIdxs) {
		return Ready
	}
	return NotReady
}

// Finalize hands the full round -- nil for any party that never reported --
// to the processor.
func (s *BroadcastStage[M]) Finalize() Result {
	full := make(map[party.Idx]*M, len(s.common.AllIdxs))
	for _, idx := range s.common.AllIdxs {
		if msg, ok := s.collected[idx]; ok {
			m := msg
			full[idx] = &m
		} else {
			full[idx] = nil
		}
	}
	return s.processor.Process(full)
}

// AwaitedParties returns the participants this stage has not yet heard
// from, used by the runner as the blame set when the ceremony deadline
// passes, its context is cancelled, or its inbound channel closes. A
// stage-deadline timeout instead finalizes the stage, and the processor
// names the missing senders itself.
func (s *BroadcastStage[M]) AwaitedParties() []party.Idx {
	awaited := make([]party.Idx, 0, len(s.common.AllIdxs)-len(s.collected))
	for _, idx := range s.common.AllIdxs {
		if _, ok := s.collected[idx]; !ok {
			awaited = append(awaited, idx)
		}
	}
	return awaited
}
