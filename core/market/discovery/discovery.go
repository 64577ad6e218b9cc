// Package discovery implements the gossip broadcast plane of spec.md §4.5:
// announcing and forwarding Offer ids and tombstones over the Overlay
// collaborator, using the subscription store itself as the seen-set for
// loop suppression, per spec.md §9.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"nhbchain/core/market/collab"
	marketerrors "nhbchain/core/market/errors"
	"nhbchain/core/market/matcher"
	"nhbchain/core/market/model"
	"nhbchain/core/market/protocol"
	"nhbchain/core/market/store"
	"nhbchain/observability/metrics"
)

// StopPropagateReason classifies why a node declines to forward a gossiped
// id, per spec.md §4.5.
type StopPropagateReason string

const (
	ReasonAlreadyExists      StopPropagateReason = "already-exists"
	ReasonAlreadyUnsubscribed StopPropagateReason = "already-unsubscribed"
	ReasonExpired            StopPropagateReason = "expired"
	ReasonError              StopPropagateReason = "error"
)

const (
	topicOffers             = "offers"
	topicOffersUnsubscribed = "offers-unsubscribed"
)

// Publisher is the Overlay collaborator the broadcaster publishes through;
// offer bodies are fetched separately through OfferFetcher.
type Publisher interface {
	collab.Overlay
}

// OfferFetcher retrieves the full body of offer ids a peer announced that
// this node doesn't yet have, per spec.md §6's RetrieveOffers RPC.
type OfferFetcher interface {
	RetrieveOffers(ctx context.Context, peer string, ids []model.SubscriptionID) ([]protocol.OfferPayload, error)
}

// Broadcaster fans out newly published or tombstoned offer ids and absorbs
// inbound gossip, re-broadcasting only the unknown subset.
type Broadcaster struct {
	store    store.Store
	matcher  *matcher.Matcher
	overlay  Publisher
	fetcher  OfferFetcher
	log      *slog.Logger
}

// New constructs a Broadcaster. matcher may be nil if newly stored offers
// are fed to the matcher through another path.
func New(st store.Store, m *matcher.Matcher, overlay Publisher, fetcher OfferFetcher, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{store: st, matcher: m, overlay: overlay, fetcher: fetcher, log: log.With("component", "market.discovery")}
}

// AnnounceOffer broadcasts a freshly saved local offer's id, per spec.md
// §4.5. Send failures are logged and never propagate to the caller —
// broadcast is best-effort.
func (b *Broadcaster) AnnounceOffer(ctx context.Context, id model.SubscriptionID) {
	b.broadcastIDs(ctx, topicOffers, []model.SubscriptionID{id})
}

// AnnounceUnsubscribe broadcasts a tombstone for id.
func (b *Broadcaster) AnnounceUnsubscribe(ctx context.Context, id model.SubscriptionID) {
	b.broadcastIDs(ctx, topicOffersUnsubscribed, []model.SubscriptionID{id})
}

func (b *Broadcaster) broadcastIDs(ctx context.Context, topic string, ids []model.SubscriptionID) {
	if b.overlay == nil || len(ids) == 0 {
		return
	}
	wire := make([]string, len(ids))
	for i, id := range ids {
		wire[i] = string(id)
	}
	var payload []byte
	var err error
	if topic == topicOffers {
		payload, err = json.Marshal(protocol.OffersBcast{OfferIDs: wire})
	} else {
		payload, err = json.Marshal(protocol.UnsubscribedOffersBcast{OfferIDs: wire})
	}
	if err != nil {
		b.log.Warn("failed to encode broadcast payload", "topic", topic, "error", err)
		return
	}
	if err := b.overlay.Broadcast(ctx, topic, payload); err != nil {
		b.log.Warn("broadcast failed", "topic", topic, "error", err)
	}
}

// HandleOffersBcast processes an inbound OffersBcast from peer: it forwards
// only the ids this node doesn't already know (delegating known-set lookup
// to the store per spec.md §9), fetches bodies for the rest, and
// re-broadcasts once stored.
func (b *Broadcaster) HandleOffersBcast(ctx context.Context, peer string, msg protocol.OffersBcast) error {
	metrics.Market().ObserveGossipReceived(topicOffers)
	ids := make([]model.SubscriptionID, len(msg.OfferIDs))
	for i, id := range msg.OfferIDs {
		ids[i] = model.SubscriptionID(id)
	}
	unknown, err := b.store.FilterOutKnownOfferIDs(ids)
	if err != nil {
		return err
	}
	if len(unknown) == 0 || b.fetcher == nil {
		return nil
	}
	bodies, err := b.fetcher.RetrieveOffers(ctx, peer, unknown)
	if err != nil {
		b.log.Warn("retrieve offers failed", "peer", peer, "error", err)
		return nil
	}
	var accepted []model.SubscriptionID
	for _, body := range bodies {
		reason, err := b.storeRemoteOffer(body)
		if err != nil {
			metrics.Market().ObserveGossipDropped(string(ReasonError))
			b.log.Warn("invalid remote offer", "offer_id", body.OfferID, "peer", peer, "error", err)
			continue
		}
		if reason != "" {
			metrics.Market().ObserveGossipDropped(string(reason))
			continue
		}
		accepted = append(accepted, model.SubscriptionID(body.OfferID))
	}
	if len(accepted) > 0 {
		metrics.Market().ObserveGossipForwarded(topicOffers)
		b.broadcastIDs(ctx, topicOffers, accepted)
	}
	return nil
}

func (b *Broadcaster) storeRemoteOffer(body protocol.OfferPayload) (StopPropagateReason, error) {
	sub, err := model.NewSubscription(model.KindOffer, model.NodeID(body.NodeID), body.PropertiesJSON, body.Constraints, body.CreatedAt, body.ExpiresAt)
	if err != nil {
		return ReasonError, err
	}
	sub.ID = model.SubscriptionID(body.OfferID)
	if err := sub.Validate(); err != nil {
		return ReasonError, err
	}
	stored, err := b.store.SaveOffer(sub)
	if err != nil {
		switch {
		case errors.Is(err, marketerrors.ErrExists):
			return ReasonAlreadyExists, nil
		case errors.Is(err, marketerrors.ErrUnsubscribed):
			return ReasonAlreadyUnsubscribed, nil
		case errors.Is(err, marketerrors.ErrExpired):
			return ReasonExpired, nil
		default:
			return ReasonError, err
		}
	}
	if b.matcher != nil {
		b.matcher.ReceiveOffer(stored.ID)
	}
	return "", nil
}

// HandleUnsubscribedOffersBcast processes an inbound tombstone broadcast:
// unknown ids are dropped, known-active ids are tombstoned and
// re-broadcast, already-tombstoned ids stop propagation silently.
func (b *Broadcaster) HandleUnsubscribedOffersBcast(ctx context.Context, msg protocol.UnsubscribedOffersBcast) {
	var toForward []model.SubscriptionID
	for _, raw := range msg.OfferIDs {
		id := model.SubscriptionID(raw)
		if _, err := b.store.GetOffer(id); err != nil {
			if errors.Is(err, marketerrors.ErrUnsubscribed) || errors.Is(err, marketerrors.ErrSubscriptionNotFound) {
				continue
			}
		}
		if err := b.store.UnsubscribeOffer(id, ""); err != nil {
			continue
		}
		toForward = append(toForward, id)
	}
	if len(toForward) > 0 {
		b.broadcastIDs(ctx, topicOffersUnsubscribed, toForward)
	}
}

// SweepLoop runs sweep_expired on interval until ctx is cancelled, per
// spec.md §4.4's background expiration task.
func SweepLoop(ctx context.Context, st store.Store, interval time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := st.SweepExpired(now); err != nil {
				log.Warn("sweep_expired failed", "error", err)
			} else if n > 0 {
				log.Info("swept expired subscriptions", "count", n)
			}
		}
	}
}
