// Package negotiation implements the proposal-chain engine of spec.md §4.6:
// it turns matcher output into Proposal chains, serializes counter-offers
// per chain, and feeds the in-memory per-subscription event queue that
// query_events drains.
package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"nhbchain/core/market/collab"
	marketerrors "nhbchain/core/market/errors"
	"nhbchain/core/market/matcher"
	"nhbchain/core/market/model"
	"nhbchain/core/market/notifier"
	"nhbchain/core/market/protocol"
	"nhbchain/core/market/resolver"
	"nhbchain/core/market/store"
	"nhbchain/observability/metrics"
)

// Engine owns proposal chains, the in-memory event queue, and the advisory
// notifier that wakes long-poll clients.
type Engine struct {
	store    store.Store
	events   *EventQueue
	notify   *notifier.Notifier
	overlay  collab.Overlay
	chains   *chainTable
	log      *slog.Logger
}

// New constructs a negotiation Engine. overlay may be nil for a
// single-process deployment that never transmits proposals to a peer node.
func New(st store.Store, notify *notifier.Notifier, overlay collab.Overlay, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:   st,
		events:  NewEventQueue(),
		notify:  notify,
		overlay: overlay,
		chains:  newChainTable(),
		log:     log.With("component", "market.negotiation"),
	}
}

func subIDForOwner(owner model.Owner, offerID, demandID model.SubscriptionID) model.SubscriptionID {
	if owner == model.OwnerProvider {
		return offerID
	}
	return demandID
}

func proposalEventType(owner model.Owner) model.EventType {
	if owner == model.OwnerProvider {
		return model.EventProviderProposal
	}
	return model.EventRequestorProposal
}

func propertyQueryEventType(owner model.Owner) model.EventType {
	if owner == model.OwnerProvider {
		return model.EventProviderPropertyQuery
	}
	return model.EventRequestorPropertyQuery
}

func (e *Engine) enqueueProposalEvent(p *model.Proposal, now time.Time) {
	subID := subIDForOwner(p.ID.Owner, p.OfferID, p.DemandID)
	evType := proposalEventType(p.ID.Owner)
	e.events.Push(subID, evType, p.ID.String(), nil, now)
	metrics.Market().ObserveProposalEvent(string(evType))
	if e.notify != nil {
		e.notify.Notify(string(subID))
	}
}

// HandleRawProposal consumes a matcher.RawProposal, starting a fresh
// negotiation chain. Per spec.md §4.6, the initial Proposal's owner tag is
// Requestor, so it lands in the Demand's queue as a RequestorProposal event.
func (e *Engine) HandleRawProposal(raw matcher.RawProposal, now time.Time) *model.Proposal {
	body := model.ProposalBody{
		PropertiesJSON: raw.Offer.PropertiesJSON,
		Constraints:    raw.Offer.Constraints,
	}
	p := model.NewInitialProposal(raw.Offer.ID, raw.Demand.ID, body, raw.Offer.NodeID, now)

	key := chainKey{Offer: raw.Offer.ID, Demand: raw.Demand.ID}
	chain := e.chains.get(key)
	chain.mu.Lock()
	chain.latest = p
	chain.mu.Unlock()

	e.enqueueProposalEvent(p, now)
	return p
}

// RunMatcherFeed drains proposals produced by a matcher until ctx is
// cancelled, handing each to HandleRawProposal.
func (e *Engine) RunMatcherFeed(ctx context.Context, proposals <-chan matcher.RawProposal, clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-proposals:
			if !ok {
				return
			}
			e.HandleRawProposal(raw, clock())
		}
	}
}

// QueryEvents drains up to maxEvents pending events for subID, waiting up
// to timeout for at least one to arrive if the queue starts empty.
func (e *Engine) QueryEvents(ctx context.Context, subID model.SubscriptionID, timeout time.Duration, maxEvents int) ([]model.MarketEvent, error) {
	if ev := e.events.Drain(subID, maxEvents); ev != nil {
		return ev, nil
	}
	if e.notify == nil || timeout <= 0 {
		return nil, nil
	}
	listener := e.notify.Listen(string(subID))
	defer listener.Close()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := listener.WaitForEvent(waitCtx); err != nil {
		if notifier.IsTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	return e.events.Drain(subID, maxEvents), nil
}

// validateSide checks that the subscription backing one side of a chain is
// still active, returning the store's error unchanged when it is not.
func (e *Engine) validateSide(kind model.SubscriptionKind, id model.SubscriptionID, now time.Time) error {
	var err error
	if kind == model.KindOffer {
		_, err = e.store.GetOffer(id)
	} else {
		_, err = e.store.GetDemand(id)
	}
	return err
}

// CounterProposal implements spec.md §4.6's counter_proposal: it validates
// the chain state and both sides' subscriptions, mints the next Proposal in
// the chain, records it, and enqueues a peer event.
func (e *Engine) CounterProposal(ctx context.Context, offerID, demandID model.SubscriptionID, prevProposalID model.ProposalID, body model.ProposalBody, issuer model.NodeID, now time.Time) (*model.Proposal, error) {
	key := chainKey{Offer: offerID, Demand: demandID}
	chain := e.chains.get(key)
	chain.mu.Lock()
	defer chain.mu.Unlock()

	if chain.latest == nil {
		return nil, marketerrors.ErrNoPrevious
	}
	if chain.latest.ID != prevProposalID {
		return nil, marketerrors.ErrAlreadyCountered
	}
	if chain.latest.State != model.ProposalDraft {
		return nil, marketerrors.ErrAlreadyCountered
	}

	if err := e.validateSide(model.KindOffer, offerID, now); err != nil {
		return nil, err
	}
	if err := e.validateSide(model.KindDemand, demandID, now); err != nil {
		return nil, err
	}

	if err := e.checkStillMatching(offerID, demandID, body); err != nil {
		return nil, err
	}

	next := chain.latest.Counter(body, issuer, now)
	chain.latest = next

	e.enqueueProposalEvent(next, now)
	e.transmit(ctx, next)
	return next, nil
}

// checkStillMatching re-resolves the countered body's constraints against
// the demand's live properties, whichever side issued the counter, and
// returns the NotMatching error of spec.md §4.6 only when the outcome is
// False; an Undefined outcome passes.
func (e *Engine) checkStillMatching(offerID, demandID model.SubscriptionID, body model.ProposalBody) error {
	demand, err := e.store.GetDemand(demandID)
	if err != nil {
		return err
	}
	expr, err := resolver.Parse(body.Constraints)
	if err != nil {
		return marketerrors.ErrInvalidConstraints
	}
	demandProps, err := demand.Properties()
	if err != nil {
		return err
	}
	outcome, err := expr.Resolve(demandProps)
	if err != nil {
		return err
	}
	if outcome.IsFalse() {
		return marketerrors.ErrNotMatching
	}
	return nil
}

// RejectProposal implements spec.md §4.6's reject_proposal: it transitions
// the chain's latest proposal to Rejected and enqueues an event on the side
// that issued it (the opposite of its owner tag). No further chain moves are
// possible after this.
func (e *Engine) RejectProposal(offerID, demandID model.SubscriptionID, id model.ProposalID, reason *string, now time.Time) error {
	key := chainKey{Offer: offerID, Demand: demandID}
	chain := e.chains.get(key)
	chain.mu.Lock()
	defer chain.mu.Unlock()

	if chain.latest == nil || chain.latest.ID != id {
		return marketerrors.ErrProposalNotFound
	}
	if chain.latest.State != model.ProposalDraft {
		return marketerrors.ErrAlreadyCountered
	}
	chain.latest.State = model.ProposalRejected

	peerOwner := id.Owner.Swap()
	peerSub := subIDForOwner(peerOwner, offerID, demandID)
	evType := proposalEventType(peerOwner)
	e.events.Push(peerSub, evType, id.String(), reason, now)
	metrics.Market().ObserveProposalEvent(string(evType))
	if e.notify != nil {
		e.notify.Notify(string(peerSub))
	}
	return nil
}

// LatestProposal returns the current head of the chain for (offerID,
// demandID), or nil if no proposal has been issued yet.
func (e *Engine) LatestProposal(offerID, demandID model.SubscriptionID) *model.Proposal {
	key := chainKey{Offer: offerID, Demand: demandID}
	chain := e.chains.get(key)
	chain.mu.Lock()
	defer chain.mu.Unlock()
	return chain.latest.Clone()
}

type propertyQueryReason struct {
	Refs     []string `json:"refs"`
	Residual string   `json:"residual"`
}

// RequestPropertyQuery enqueues a property-query event for the side named
// by owner, carrying the unresolved refs and residual expression from a
// resolver.Outcome with OutcomeUndefined, per spec.md §4.6 and §8 scenario 6.
func (e *Engine) RequestPropertyQuery(owner model.Owner, offerID, demandID model.SubscriptionID, outcome resolver.Outcome, now time.Time) error {
	if !outcome.IsUndefined() {
		return fmt.Errorf("negotiation: RequestPropertyQuery requires an Undefined outcome")
	}
	refs := make([]string, 0, len(outcome.Refs))
	for _, r := range outcome.Refs {
		refs = append(refs, r.String())
	}
	payload, err := json.Marshal(propertyQueryReason{Refs: refs, Residual: outcome.Residual.String()})
	if err != nil {
		return err
	}
	reason := string(payload)
	subID := subIDForOwner(owner, offerID, demandID)
	evType := propertyQueryEventType(owner)
	e.events.Push(subID, evType, "", &reason, now)
	metrics.Market().ObserveProposalEvent(string(evType))
	if e.notify != nil {
		e.notify.Notify(string(subID))
	}
	return nil
}

// peerNodeID resolves the NodeID that owns the subscription on the side
// named by owner, so the overlay collaborator can address it directly.
func (e *Engine) peerNodeID(owner model.Owner, offerID, demandID model.SubscriptionID) (string, error) {
	if owner == model.OwnerProvider {
		offer, err := e.store.GetOffer(offerID)
		if err != nil {
			return "", err
		}
		return string(offer.NodeID), nil
	}
	demand, err := e.store.GetDemand(demandID)
	if err != nil {
		return "", err
	}
	return string(demand.NodeID), nil
}

func (e *Engine) transmit(ctx context.Context, p *model.Proposal) {
	if e.overlay == nil {
		return
	}
	msg := protocol.ProposalMsg{
		ProposalID:     p.ID.String(),
		OfferID:        string(p.OfferID),
		DemandID:       string(p.DemandID),
		PropertiesJSON: p.Body.PropertiesJSON,
		Constraints:    p.Body.Constraints,
		Issuer:         string(p.Issuer),
		CreatedAt:      p.CreatedAt,
	}
	if p.PrevID != nil {
		msg.PrevProposalID = p.PrevID.String()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		e.log.Warn("failed to encode proposal for transmit", "proposal", p.ID, "error", err)
		return
	}
	peer, err := e.peerNodeID(p.ID.Owner.Swap(), p.OfferID, p.DemandID)
	if err != nil {
		e.log.Warn("failed to resolve proposal peer", "proposal", p.ID, "error", err)
		return
	}
	if err := e.overlay.SendTo(ctx, peer, "proposal", payload); err != nil {
		e.log.Warn("proposal transmit failed", "proposal", p.ID, "peer", peer, "error", err)
	}
}
