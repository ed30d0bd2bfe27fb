// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package stage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lattice-chain/ceremony-engine/party"
	"github.com/lattice-chain/ceremony-engine/stage"
)

func intEqual(a, b int) bool { return a == b }

func ptr(n int) *int { return &n }

// TestConsensusOnBroadcastAgreesWhenEveryoneConsistent mirrors spec §8
// scenario: all n=3 reporters see the same value from every sender.
func TestConsensusOnBroadcastAgreesWhenEveryoneConsistent(t *testing.T) {
	all := []party.Idx{1, 2, 3}
	reports := map[party.Idx]map[party.Idx]*int{
		1: {1: ptr(10), 2: ptr(20), 3: ptr(30)},
		2: {1: ptr(10), 2: ptr(20), 3: ptr(30)},
		3: {1: ptr(10), 2: ptr(20), 3: ptr(30)},
	}

	agreed, inconsistent := stage.ConsensusOnBroadcast(all, reports, intEqual)

	assert.Empty(t, inconsistent)
	assert.Equal(t, 10, agreed[1])
	assert.Equal(t, 20, agreed[2])
	assert.Equal(t, 30, agreed[3])
}

// TestConsensusOnBroadcastBlamesDivergentBroadcaster mirrors spec §8
// scenario 5: one sender equivocated, so reporters split and no value
// reaches plurality for that sender.
func TestConsensusOnBroadcastBlamesDivergentBroadcaster(t *testing.T) {
	all := []party.Idx{1, 2, 3}
	reports := map[party.Idx]map[party.Idx]*int{
		1: {1: ptr(10), 2: ptr(20), 3: ptr(30)},
		2: {1: ptr(10), 2: ptr(20), 3: ptr(31)}, // 2 received a different value from sender 3
		3: {1: ptr(10), 2: ptr(20), 3: ptr(32)}, // 3 received yet another value from itself vs. what others saw
	}

	agreed, inconsistent := stage.ConsensusOnBroadcast(all, reports, intEqual)

	assert.Equal(t, 10, agreed[1])
	assert.Equal(t, 20, agreed[2])
	assert.Equal(t, []party.Idx{3}, inconsistent)
	_, ok := agreed[3]
	assert.False(t, ok)
}

// TestConsensusOnBroadcastToleratesMissingReports: a reporter that never
// received anything from a sender simply abstains from that sender's vote;
// a plurality among the rest still resolves normally.
func TestConsensusOnBroadcastToleratesMissingReports(t *testing.T) {
	all := []party.Idx{1, 2, 3}
	reports := map[party.Idx]map[party.Idx]*int{
		1: {1: ptr(10), 2: ptr(20), 3: ptr(30)},
		2: {1: ptr(10), 2: ptr(20)}, // never heard from sender 3
		3: {1: ptr(10), 2: ptr(20), 3: ptr(30)},
	}

	agreed, inconsistent := stage.ConsensusOnBroadcast(all, reports, intEqual)

	assert.Empty(t, inconsistent)
	assert.Equal(t, 30, agreed[3])
}
