// Package store defines the subscription store interface of spec.md §4.4
// (save/get/unsubscribe/sweep operations over Offer and Demand rows, with the
// tombstone-based deduplication primitive the broadcast layer relies on) and
// MemStore, an in-memory implementation of it.
package store

import (
	"sort"
	"sync"
	"time"

	"nhbchain/core/market/errors"
	"nhbchain/core/market/model"
	"nhbchain/observability/metrics"
)

func kindLabel(kind model.SubscriptionKind) string {
	if kind == model.KindOffer {
		return "offer"
	}
	return "demand"
}

// Store is the durable mapping from subscription id to Offer/Demand row
// plus an unsubscribed marker, per spec.md §4.4.
type Store interface {
	SaveOffer(offer *model.Subscription) (*model.Subscription, error)
	SaveDemand(demand *model.Subscription) (*model.Subscription, error)
	GetOffer(id model.SubscriptionID) (*model.Subscription, error)
	GetDemand(id model.SubscriptionID) (*model.Subscription, error)
	GetDemandsBefore(ts time.Time) ([]*model.Subscription, error)
	GetOffersBefore(ts time.Time) ([]*model.Subscription, error)
	UnsubscribeOffer(id model.SubscriptionID, caller model.NodeID) error
	UnsubscribeDemand(id model.SubscriptionID, caller model.NodeID) error
	FilterOutKnownOfferIDs(ids []model.SubscriptionID) ([]model.SubscriptionID, error)
	SweepExpired(now time.Time) (int, error)
}

type rowState uint8

const (
	stateActive rowState = iota
	stateUnsubscribed
	stateExpired
)

type row struct {
	sub        *model.Subscription
	state      rowState
	local      bool
	insertedAt time.Time
}

// MemStore is an in-memory Store implementation, grounded on nhbchain's own
// storage.MemDB map+mutex convention. It is sufficient for tests and for a
// single-process node that doesn't need cross-restart durability.
type MemStore struct {
	mu      sync.RWMutex
	offers  map[model.SubscriptionID]*row
	demands map[model.SubscriptionID]*row
	clock   func() time.Time
	seq     int64
}

// NewMemStore constructs an empty in-memory store. clock defaults to
// time.Now when nil, and exists purely to make insertion-order tests
// deterministic.
func NewMemStore(clock func() time.Time) *MemStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemStore{
		offers:  make(map[model.SubscriptionID]*row),
		demands: make(map[model.SubscriptionID]*row),
		clock:   clock,
	}
}

func (s *MemStore) nextInsertion() time.Time {
	s.seq++
	return s.clock().Add(time.Duration(s.seq) * time.Nanosecond)
}

func bucketFor(s *MemStore, kind model.SubscriptionKind) map[model.SubscriptionID]*row {
	if kind == model.KindOffer {
		return s.offers
	}
	return s.demands
}

func (s *MemStore) save(kind model.SubscriptionKind, sub *model.Subscription) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := bucketFor(s, kind)
	if existing, ok := bucket[sub.ID]; ok {
		switch existing.state {
		case stateActive:
			metrics.Market().ObserveSubscriptionRejected(kindLabel(kind), "exists")
			return nil, errors.ErrExists
		case stateUnsubscribed:
			metrics.Market().ObserveSubscriptionRejected(kindLabel(kind), "unsubscribed")
			return nil, errors.ErrUnsubscribed
		case stateExpired:
			metrics.Market().ObserveSubscriptionRejected(kindLabel(kind), "expired")
			return nil, errors.ErrExpired
		}
	}
	now := s.clock()
	if sub.IsExpired(now) {
		metrics.Market().ObserveSubscriptionRejected(kindLabel(kind), "expired")
		return nil, errors.ErrExpired
	}

	stored := sub.Clone()
	stored.InsertionTS = s.nextInsertion()
	bucket[sub.ID] = &row{sub: stored, state: stateActive, local: true, insertedAt: now}
	metrics.Market().ObserveSubscriptionSaved(kindLabel(kind))
	return stored.Clone(), nil
}

// SaveOffer implements Store.
func (s *MemStore) SaveOffer(offer *model.Subscription) (*model.Subscription, error) {
	return s.save(model.KindOffer, offer)
}

// SaveDemand implements Store.
func (s *MemStore) SaveDemand(demand *model.Subscription) (*model.Subscription, error) {
	return s.save(model.KindDemand, demand)
}

func (s *MemStore) get(kind model.SubscriptionKind, id model.SubscriptionID, now time.Time) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := bucketFor(s, kind)
	r, ok := bucket[id]
	if !ok {
		return nil, errors.ErrSubscriptionNotFound
	}
	if r.state == stateUnsubscribed {
		return nil, errors.ErrUnsubscribed
	}
	if r.state == stateExpired || r.sub.IsExpired(now) {
		return nil, errors.ErrExpired
	}
	return r.sub.Clone(), nil
}

// GetOffer implements Store.
func (s *MemStore) GetOffer(id model.SubscriptionID) (*model.Subscription, error) {
	return s.get(model.KindOffer, id, s.clock())
}

// GetDemand implements Store.
func (s *MemStore) GetDemand(id model.SubscriptionID) (*model.Subscription, error) {
	return s.get(model.KindDemand, id, s.clock())
}

func (s *MemStore) before(kind model.SubscriptionKind, ts time.Time) ([]*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock()
	bucket := bucketFor(s, kind)
	var out []*model.Subscription
	for _, r := range bucket {
		if r.state != stateActive {
			continue
		}
		if r.sub.IsExpired(now) {
			continue
		}
		if r.sub.InsertionTS.Before(ts) {
			out = append(out, r.sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InsertionTS.Before(out[j].InsertionTS) })
	return out, nil
}

// GetDemandsBefore implements Store: filters by insertion_ts < ts,
// non-expired, non-unsubscribed, per spec.md §4.4, oldest insertion first.
func (s *MemStore) GetDemandsBefore(ts time.Time) ([]*model.Subscription, error) {
	return s.before(model.KindDemand, ts)
}

// GetOffersBefore implements Store.
func (s *MemStore) GetOffersBefore(ts time.Time) ([]*model.Subscription, error) {
	return s.before(model.KindOffer, ts)
}

func (s *MemStore) unsubscribe(kind model.SubscriptionKind, id model.SubscriptionID, caller model.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := bucketFor(s, kind)
	r, ok := bucket[id]
	if !ok {
		return errors.ErrSubscriptionNotFound
	}
	if r.state == stateUnsubscribed {
		return errors.ErrUnsubscribed
	}
	if r.state == stateExpired || r.sub.IsExpired(s.clock()) {
		return errors.ErrExpired
	}
	r.state = stateUnsubscribed
	if !r.local {
		// Foreign-owned rows are removed after tombstoning so future
		// broadcasts re-check against the tombstone and stop, per
		// spec.md §4.4. We keep a tombstone-only stub behind so
		// FilterOutKnownOfferIDs still reports the id as known.
		// save marks every row it stores as local, so rows saved through
		// SaveOffer/SaveDemand keep their body here.
		delete(bucket, id)
		bucket[id] = &row{state: stateUnsubscribed, local: false}
	}
	return nil
}

// UnsubscribeOffer implements Store.
func (s *MemStore) UnsubscribeOffer(id model.SubscriptionID, caller model.NodeID) error {
	return s.unsubscribe(model.KindOffer, id, caller)
}

// UnsubscribeDemand implements Store.
func (s *MemStore) UnsubscribeDemand(id model.SubscriptionID, caller model.NodeID) error {
	return s.unsubscribe(model.KindDemand, id, caller)
}

// FilterOutKnownOfferIDs returns the subset of ids not already active or
// tombstoned — the primary gossip deduplication primitive of spec.md §4.4.
func (s *MemStore) FilterOutKnownOfferIDs(ids []model.SubscriptionID) ([]model.SubscriptionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SubscriptionID
	for _, id := range ids {
		if _, ok := s.offers[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// SweepExpired marks subscriptions whose expiration has passed as expired.
// It is idempotent, per spec.md §4.4.
func (s *MemStore) SweepExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, bucket := range []map[model.SubscriptionID]*row{s.offers, s.demands} {
		for _, r := range bucket {
			if r.state == stateActive && r.sub.IsExpired(now) {
				r.state = stateExpired
				count++
			}
		}
	}
	return count, nil
}
