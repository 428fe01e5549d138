// Package invariants holds the stateless predicates the stage machine
// relies on: legal stage transitions, deposit eligibility, lock
// computation, surplus computation and commission computation. Every
// function here is pure — no I/O, no repository, no adapter — so it
// can be exercised with plain table-driven tests (§8).
package invariants

import "github.com/klaytn-labs/otc-broker-engine/deal"

// transitionGraph encodes §3 invariant 1. SWAP is treated as canonical
// per Open Question 1 in spec.md §9: the engine's live behaviour
// requires it even where one variant of the source's type definitions
// omitted it.
var transitionGraph = map[deal.Stage][]deal.Stage{
	deal.StageCreated:    {deal.StageCollection},
	deal.StageCollection: {deal.StageWaiting, deal.StageReverted},
	deal.StageWaiting:    {deal.StageSwap, deal.StageCollection},
	deal.StageSwap:       {deal.StageClosed, deal.StageCollection},
	deal.StageReverted:   {deal.StageClosed},
	deal.StageClosed:     {},
}

// ValidTransition reports whether moving a deal from `from` to `to` is
// a legal edge of the stage graph.
func ValidTransition(from, to deal.Stage) bool {
	for _, candidate := range transitionGraph[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether stage has no outgoing edges.
func IsTerminal(stage deal.Stage) bool {
	return len(transitionGraph[stage]) == 0
}
