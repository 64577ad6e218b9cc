package negotiation

import (
	"sync"

	"nhbchain/core/market/model"
)

// chainKey identifies one Offer/Demand negotiation chain.
type chainKey struct {
	Offer  model.SubscriptionID
	Demand model.SubscriptionID
}

// chainState tracks the latest Proposal in a chain and a dedicated mutex
// that serializes every mutation to it. Spec.md §4.6 calls for per-chain
// task dispatch; a per-chain mutex gives the same serialization guarantee
// without a goroutine-per-chain lifecycle to manage.
type chainState struct {
	mu     sync.Mutex
	latest *model.Proposal
}

// chainTable is the in-memory index of active chains, keyed by (offer_id,
// demand_id). Each chain holds only its latest Proposal, and proposals are
// not written to any persistent store.
type chainTable struct {
	mu     sync.Mutex
	chains map[chainKey]*chainState
}

func newChainTable() *chainTable {
	return &chainTable{chains: make(map[chainKey]*chainState)}
}

func (t *chainTable) get(key chainKey) *chainState {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.chains[key]
	if !ok {
		c = &chainState{}
		t.chains[key] = c
	}
	return c
}
