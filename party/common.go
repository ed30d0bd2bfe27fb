// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package party

import (
	"io"

	"github.com/lattice-chain/ceremony-engine/wire"
)

// Common is the immutable-for-life-of-ceremony context (§3's CeremonyCommon):
// identifiers, the index map, the outbound sender, and the ceremony's own
// PRNG. It is shared by the generic broadcast stage, every stage processor,
// and the runner, the same way the teacher's tss.Parameters is threaded
// through every round implementation.
type Common struct {
	CeremonyId uint64
	OwnIdx     Idx
	AllIdxs    []Idx
	Index      *IndexMap
	Outbound   chan<- OutboundMessage
	Rand       io.Reader
}

// OutboundMessage is one piece of outgoing network traffic produced by a
// stage's Init(), always addressed to a single recipient To: a broadcast is
// sent as one OutboundMessage per recipient with IsBroadcast true, a private
// per-recipient share with IsBroadcast false.
type OutboundMessage struct {
	CeremonyId  uint64
	To          Idx
	IsBroadcast bool
	Data        wire.Message
}

// AllIdxsExceptOwn returns every participant index other than the local one,
// the recipient list for a broadcast stage's own outgoing message.
func (c *Common) AllIdxsExceptOwn() []Idx {
	out := make([]Idx, 0, len(c.AllIdxs)-1)
	for _, idx := range c.AllIdxs {
		if idx != c.OwnIdx {
			out = append(out, idx)
		}
	}
	return out
}
