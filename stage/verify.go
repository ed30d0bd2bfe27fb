// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package stage

import "github.com/lattice-chain/ceremony-engine/party"

// ConsensusOnBroadcast implements §4.3's attribution algorithm for a
// broadcast-verification round: every party reports what it believes it
// received from every sender in the prior broadcast round. For each
// sender, the value that a strict plurality (> n/2) of reporters agree on
// is adopted as that sender's broadcast value; any sender for which no
// value reaches plurality is inconsistent and added to the blame set,
// mirroring the echo-broadcast consistency check the teacher's keygen
// round 2 performs pairwise over hash commitments, generalized here to an
// arbitrary comparable payload type T via a caller-supplied equality
// function (T may hold unexported/pointer fields, e.g. *crypto.ECPoint,
// that reflect.DeepEqual cannot be trusted to compare correctly).
//
// reports[reporter][sender] is reporter's account of what sender
// broadcast; a nil entry means the reporter itself never received
// anything from that sender.
func ConsensusOnBroadcast[T any](
	allIdxs []party.Idx,
	reports map[party.Idx]map[party.Idx]*T,
	equal func(a, b T) bool,
) (agreed map[party.Idx]T, inconsistent []party.Idx) {
	agreed = make(map[party.Idx]T, len(allIdxs))
	quorum := len(allIdxs)/2 + 1

	for _, sender := range allIdxs {
		// groups[i] holds one representative value plus its vote count,
		// grouped by the caller's equality function.
		var values []T
		var counts []int

		for _, reporter := range allIdxs {
			byReporter, ok := reports[reporter]
			if !ok {
				continue
			}
			v, ok := byReporter[sender]
			if !ok || v == nil {
				continue
			}

			matched := false
			for i, existing := range values {
				if equal(existing, *v) {
					counts[i]++
					matched = true
					break
				}
			}
			if !matched {
				values = append(values, *v)
				counts = append(counts, 1)
			}
		}

		winner := -1
		for i, c := range counts {
			if c >= quorum {
				winner = i
				break
			}
		}

		if winner >= 0 {
			agreed[sender] = values[winner]
		} else {
			inconsistent = append(inconsistent, sender)
		}
	}

	return agreed, inconsistent
}
