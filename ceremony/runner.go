// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package ceremony

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/lattice-chain/ceremony-engine/common"
	"github.com/lattice-chain/ceremony-engine/party"
	"github.com/lattice-chain/ceremony-engine/stage"
	"github.com/lattice-chain/ceremony-engine/wire"
)

// InboundMessage is one already-decoded, already-sender-resolved piece of
// peer traffic handed to a Runner by the manager (§4.5's dispatch-per-§4.4).
type InboundMessage struct {
	Sender party.Idx
	Data   wire.Message
}

// Config bundles the fixed-for-life-of-ceremony parameters a Runner needs
// beyond party.Common: the protocol's static stage-tag schedule (used to
// decide whether an out-of-turn message belongs to the next stage or
// neither) and the two deadlines from §4.4/§5.
type Config struct {
	StageOrder       []string
	StageTimeout     time.Duration
	CeremonyDeadline time.Duration
}

// Runner drives a single ceremony's stage.Handle sequence to completion
// (§4.4/§5): exactly one active stage at a time, a delay buffer for
// messages addressed to the next stage, and a stage-deadline timer. This
// is the protocol-agnostic counterpart of the teacher's BaseParty/round
// machinery (tss/party.go), generalized from one in-process mutex-guarded
// object into an independent cooperative task communicating over a
// channel, the shape §5 requires.
type Runner struct {
	common *party.Common
	cfg    Config

	handle           stage.Handle
	stageIdx         int
	inbound          <-chan InboundMessage
	delay            map[party.Idx]wire.Message
	justTransitioned bool
}

// NewRunner constructs a Runner around the ceremony's first stage.Handle.
// The caller is responsible for having already drained any unauthorised
// buffer into inbound before the first call to Run (§4.4's "initial stage
// peculiarity").
func NewRunner(common *party.Common, cfg Config, initial stage.Handle, inbound <-chan InboundMessage) *Runner {
	return &Runner{
		common:  common,
		cfg:     cfg,
		handle:  initial,
		inbound: inbound,
		delay:   make(map[party.Idx]wire.Message),
	}
}

func (r *Runner) currentStageTag() string {
	if r.stageIdx >= len(r.cfg.StageOrder) {
		return r.handle.StageName()
	}
	return r.cfg.StageOrder[r.stageIdx]
}

func (r *Runner) nextStageTag() (string, bool) {
	if r.stageIdx+1 >= len(r.cfg.StageOrder) {
		return "", false
	}
	return r.cfg.StageOrder[r.stageIdx+1], true
}

// Run is the ceremony task's cooperative entry point (§5): a select loop
// over the inbound channel, the stage-deadline timer, and the overall
// ceremony deadline, returning once the stage sequence reaches a terminal
// stage.Result (success or failure). Cancelling ctx is equivalent to the
// manager's global-cap reaping (§5's cancellation policy) and always
// yields a Timeout failure blaming whoever the current stage was still
// awaiting.
func (r *Runner) Run(ctx context.Context) stage.Result {
	r.handle.Init()
	r.drainDelayBuffer()

	stageTimer := time.NewTimer(r.cfg.StageTimeout)
	defer stageTimer.Stop()
	ceremonyTimer := time.NewTimer(r.cfg.CeremonyDeadline)
	defer ceremonyTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return stage.Fail(party.NewError(ctx.Err(), r.currentStageTag(), party.Timeout, r.handle.AwaitedParties()...))

		case <-ceremonyTimer.C:
			return stage.Fail(party.NewError(
				errors.New("ceremony exceeded its maximum total duration"),
				r.currentStageTag(), party.Timeout, r.handle.AwaitedParties()...))

		case <-stageTimer.C:
			if res, done := r.finalizeCurrentStage(); done {
				return res
			}
			stageTimer.Reset(r.cfg.StageTimeout)

		case msg, ok := <-r.inbound:
			if !ok {
				return stage.Fail(party.NewError(
					errors.New("inbound channel closed before ceremony finalized"),
					r.currentStageTag(), party.Timeout, r.handle.AwaitedParties()...))
			}
			if res, done := r.route(msg); done {
				return res
			} else if r.justTransitioned {
				stageTimer.Reset(r.cfg.StageTimeout)
				r.justTransitioned = false
			}
		}
	}
}

// route implements §4.4's inbound handling: forward to the current stage
// if the tag matches, buffer for the next stage if it matches that
// instead, or log and drop.
func (r *Runner) route(msg InboundMessage) (stage.Result, bool) {
	tag := msg.Data.StageTag()

	if tag == r.currentStageTag() {
		if r.handle.ProcessMessage(msg.Sender, msg.Data) == stage.Ready {
			return r.finalizeCurrentStage()
		}
		return stage.Result{}, false
	}

	if next, ok := r.nextStageTag(); ok && tag == next {
		common.Logger.Debugf("ceremony: delaying %s message from party %d for stage %s", tag, msg.Sender, next)
		r.delay[msg.Sender] = msg.Data
		return stage.Result{}, false
	}

	common.Logger.Warnf("ceremony: dropping message with unexpected stage tag %s from party %d (current stage %s)", tag, msg.Sender, r.currentStageTag())
	return stage.Result{}, false
}

func (r *Runner) finalizeCurrentStage() (stage.Result, bool) {
	res := r.handle.Finalize()
	return r.transition(res)
}

// transition advances through as many stage completions as a single
// finalize (possibly followed by delay-buffer drains that themselves
// complete a stage) produces, terminating once a Done result is reached
// or no further progress is available from buffered messages.
func (r *Runner) transition(res stage.Result) (stage.Result, bool) {
	for {
		if res.Done {
			return res, true
		}
		r.handle = res.Next
		r.stageIdx++
		r.handle.Init()
		r.justTransitioned = true

		if !r.drainDelayBuffer() {
			return stage.Result{}, false
		}
		res = r.handle.Finalize()
	}
}

// drainDelayBuffer feeds every buffered message addressed to the current
// stage into it, in ascending sender order (§8 invariant 6: "Delay buffer
// contents are drained strictly before any message for the new current
// stage is processed"). Returns true if draining made the stage Ready.
func (r *Runner) drainDelayBuffer() bool {
	senders := make([]party.Idx, 0, len(r.delay))
	for idx := range r.delay {
		senders = append(senders, idx)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i] < senders[j] })

	for _, idx := range senders {
		msg, ok := r.delay[idx]
		if !ok {
			continue
		}
		delete(r.delay, idx)
		if msg.StageTag() != r.currentStageTag() {
			continue
		}
		if r.handle.ProcessMessage(idx, msg) == stage.Ready {
			return true
		}
	}
	return false
}
