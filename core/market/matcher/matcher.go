// Package matcher implements the single-consumer matching loop of spec.md
// §4.3, grounded on original_source's matcher::resolver::Resolver: a bounded
// channel of freshly inserted subscriptions is drained by one goroutine,
// which enumerates the opposite-kind candidates inserted earlier and emits
// a RawProposal for every pair whose constraints resolve to True on both
// sides.
package matcher

import (
	"context"
	"log/slog"

	"nhbchain/core/market/model"
	"nhbchain/core/market/store"
	"nhbchain/observability/metrics"
)

// RawProposal is an unconfirmed offer/demand pair the matcher believes
// satisfies both sides' constraints, handed off to the negotiation engine.
type RawProposal struct {
	Offer  *model.Subscription
	Demand *model.Subscription
}

// incoming tags a freshly inserted subscription with its kind so the single
// consumer goroutine knows which side to enumerate against.
type incoming struct {
	kind model.SubscriptionKind
	id   model.SubscriptionID
}

// Matcher owns the single-consumer resolution loop. Zero value is not
// usable; construct with New.
type Matcher struct {
	store     store.Store
	proposals chan<- RawProposal
	incoming  chan incoming
	log       *slog.Logger
}

// New constructs a Matcher that reads subscriptions from st and writes
// matches to proposals. Call Run in its own goroutine to start consuming.
func New(st store.Store, proposals chan<- RawProposal, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{
		store:     st,
		proposals: proposals,
		incoming:  make(chan incoming, 256),
		log:       log.With("component", "market.matcher"),
	}
}

// ReceiveOffer enqueues a newly saved offer for resolution. It never blocks:
// when the channel's buffer is full the id is dropped with a warning log and
// is not matched, and the caller is not told.
func (m *Matcher) ReceiveOffer(id model.SubscriptionID) {
	m.enqueue(incoming{kind: model.KindOffer, id: id})
}

// ReceiveDemand enqueues a newly saved demand for resolution.
func (m *Matcher) ReceiveDemand(id model.SubscriptionID) {
	m.enqueue(incoming{kind: model.KindDemand, id: id})
}

func (m *Matcher) enqueue(in incoming) {
	select {
	case m.incoming <- in:
	default:
		m.log.Warn("incoming queue full, dropping subscription", "id", in.id, "kind", in.kind)
	}
}

// Run drains the incoming queue until ctx is cancelled. It is meant to be
// the body of the matcher's single consumer goroutine, per spec.md §5.
func (m *Matcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-m.incoming:
			if err := m.resolveOne(in); err != nil {
				m.log.Warn("resolve failed", "id", in.id, "kind", in.kind, "error", err)
			}
		}
	}
}

func (m *Matcher) resolveOne(in incoming) error {
	switch in.kind {
	case model.KindOffer:
		offer, err := m.store.GetOffer(in.id)
		if err != nil {
			return err
		}
		demands, err := m.store.GetDemandsBefore(offer.InsertionTS)
		if err != nil {
			return err
		}
		for _, demand := range demands {
			m.tryEmit(offer, demand)
		}
	case model.KindDemand:
		demand, err := m.store.GetDemand(in.id)
		if err != nil {
			return err
		}
		offers, err := m.store.GetOffersBefore(demand.InsertionTS)
		if err != nil {
			return err
		}
		for _, offer := range offers {
			m.tryEmit(offer, demand)
		}
	}
	return nil
}

func (m *Matcher) tryEmit(offer, demand *model.Subscription) {
	ok, err := Matches(offer, demand)
	if err != nil {
		m.log.Warn("match evaluation error", "offer", offer.ID, "demand", demand.ID, "error", err)
		return
	}
	if !ok {
		return
	}
	select {
	case m.proposals <- RawProposal{Offer: offer, Demand: demand}:
		metrics.Market().ObserveMatchEmitted()
	default:
		m.log.Warn("proposal queue full, dropping match", "offer", offer.ID, "demand", demand.ID)
	}
}

// Matches reports whether offer and demand satisfy spec.md P1: both
// constraint expressions resolve to True against the opposite side's
// properties, and the pair is rejected outright if both sides belong to the
// same node (no self-trades), per original_source's matcher::resolver.
func Matches(offer, demand *model.Subscription) (bool, error) {
	if offer.NodeID == demand.NodeID {
		return false, nil
	}

	offerExpr, err := offer.ConstraintExpr()
	if err != nil {
		return false, err
	}
	demandExpr, err := demand.ConstraintExpr()
	if err != nil {
		return false, err
	}
	demandProps, err := demand.Properties()
	if err != nil {
		return false, err
	}
	offerProps, err := offer.Properties()
	if err != nil {
		return false, err
	}

	offerSideOutcome, err := offerExpr.Resolve(demandProps)
	if err != nil {
		return false, err
	}
	if !offerSideOutcome.IsTrue() {
		return false, nil
	}

	demandSideOutcome, err := demandExpr.Resolve(offerProps)
	if err != nil {
		return false, err
	}
	return demandSideOutcome.IsTrue(), nil
}
