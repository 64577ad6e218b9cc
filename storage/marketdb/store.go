package marketdb

import (
	"errors"
	"time"

	"gorm.io/gorm"

	marketerrors "nhbchain/core/market/errors"
	"nhbchain/core/market/model"
)

// Store is a gorm-backed implementation of store.Store, the durable
// counterpart to store.MemStore for deployments that need subscriptions to
// survive a restart.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an already-migrated *gorm.DB as a market Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func toRow(sub *model.Subscription, local bool) *SubscriptionRow {
	return &SubscriptionRow{
		ID:             string(sub.ID),
		Kind:           uint8(sub.Kind),
		NodeID:         string(sub.NodeID),
		PropertiesJSON: sub.PropertiesJSON,
		Constraints:    sub.Constraints,
		CreatedAt:      sub.CreatedAt,
		InsertionTS:    sub.InsertionTS,
		ExpiresAt:      sub.ExpiresAt,
		Unsubscribed:   sub.Unsubscribed,
		Local:          local,
	}
}

func fromRow(row *SubscriptionRow) *model.Subscription {
	sub, err := model.NewSubscription(model.SubscriptionKind(row.Kind), model.NodeID(row.NodeID), row.PropertiesJSON, row.Constraints, row.CreatedAt, row.ExpiresAt)
	if err != nil {
		// The row was persisted after passing Validate once; a decode
		// failure here means on-disk corruption rather than a normal
		// error a caller can react to.
		return nil
	}
	sub.ID = model.SubscriptionID(row.ID)
	sub.InsertionTS = row.InsertionTS
	sub.Unsubscribed = row.Unsubscribed
	return sub
}

func (s *Store) save(kind model.SubscriptionKind, sub *model.Subscription, local bool) (*model.Subscription, error) {
	var existing SubscriptionRow
	err := s.db.Where("id = ? AND kind = ?", string(sub.ID), uint8(kind)).First(&existing).Error
	switch {
	case err == nil:
		if existing.Unsubscribed {
			return nil, marketerrors.ErrUnsubscribed
		}
		if !existing.ExpiresAt.After(time.Now()) {
			return nil, marketerrors.ErrExpired
		}
		return nil, marketerrors.ErrExists
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, marketerrors.ErrPersistence
	}

	if sub.IsExpired(time.Now()) {
		return nil, marketerrors.ErrExpired
	}

	stored := sub.Clone()
	stored.InsertionTS = time.Now()
	row := toRow(stored, local)
	if err := s.db.Create(row).Error; err != nil {
		return nil, marketerrors.ErrPersistence
	}
	return stored.Clone(), nil
}

// SaveOffer implements store.Store.
func (s *Store) SaveOffer(offer *model.Subscription) (*model.Subscription, error) {
	return s.save(model.KindOffer, offer, true)
}

// SaveDemand implements store.Store.
func (s *Store) SaveDemand(demand *model.Subscription) (*model.Subscription, error) {
	return s.save(model.KindDemand, demand, true)
}

func (s *Store) get(kind model.SubscriptionKind, id model.SubscriptionID) (*model.Subscription, error) {
	var row SubscriptionRow
	err := s.db.Where("id = ? AND kind = ?", string(id), uint8(kind)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, marketerrors.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, marketerrors.ErrPersistence
	}
	if row.Unsubscribed {
		return nil, marketerrors.ErrUnsubscribed
	}
	if !row.ExpiresAt.After(time.Now()) {
		return nil, marketerrors.ErrExpired
	}
	sub := fromRow(&row)
	if sub == nil {
		return nil, marketerrors.ErrInternal
	}
	return sub, nil
}

// GetOffer implements store.Store.
func (s *Store) GetOffer(id model.SubscriptionID) (*model.Subscription, error) { return s.get(model.KindOffer, id) }

// GetDemand implements store.Store.
func (s *Store) GetDemand(id model.SubscriptionID) (*model.Subscription, error) {
	return s.get(model.KindDemand, id)
}

func (s *Store) before(kind model.SubscriptionKind, ts time.Time) ([]*model.Subscription, error) {
	var rows []SubscriptionRow
	err := s.db.Where("kind = ? AND unsubscribed = ? AND insertion_ts < ? AND expires_at > ?", uint8(kind), false, ts, time.Now()).Order("insertion_ts").Find(&rows).Error
	if err != nil {
		return nil, marketerrors.ErrPersistence
	}
	out := make([]*model.Subscription, 0, len(rows))
	for i := range rows {
		if sub := fromRow(&rows[i]); sub != nil {
			out = append(out, sub)
		}
	}
	return out, nil
}

// GetDemandsBefore implements store.Store.
func (s *Store) GetDemandsBefore(ts time.Time) ([]*model.Subscription, error) {
	return s.before(model.KindDemand, ts)
}

// GetOffersBefore implements store.Store.
func (s *Store) GetOffersBefore(ts time.Time) ([]*model.Subscription, error) {
	return s.before(model.KindOffer, ts)
}

func (s *Store) unsubscribe(kind model.SubscriptionKind, id model.SubscriptionID) error {
	var row SubscriptionRow
	err := s.db.Where("id = ? AND kind = ?", string(id), uint8(kind)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return marketerrors.ErrSubscriptionNotFound
	}
	if err != nil {
		return marketerrors.ErrPersistence
	}
	if row.Unsubscribed {
		return marketerrors.ErrUnsubscribed
	}
	if !row.ExpiresAt.After(time.Now()) {
		return marketerrors.ErrExpired
	}
	result := s.db.Model(&SubscriptionRow{}).Where("id = ? AND kind = ? AND unsubscribed = ?", string(id), uint8(kind), false).Update("unsubscribed", true)
	if result.Error != nil {
		return marketerrors.ErrPersistence
	}
	if result.RowsAffected == 0 {
		return marketerrors.ErrUnsubscribed
	}
	if !row.Local {
		s.db.Where("id = ? AND kind = ?", string(id), uint8(kind)).Delete(&SubscriptionRow{})
		s.db.Create(&SubscriptionRow{ID: string(id), Kind: uint8(kind), NodeID: row.NodeID, PropertiesJSON: []byte("{}"), ExpiresAt: row.ExpiresAt, Unsubscribed: true})
	}
	return nil
}

// UnsubscribeOffer implements store.Store.
func (s *Store) UnsubscribeOffer(id model.SubscriptionID, _ model.NodeID) error {
	return s.unsubscribe(model.KindOffer, id)
}

// UnsubscribeDemand implements store.Store.
func (s *Store) UnsubscribeDemand(id model.SubscriptionID, _ model.NodeID) error {
	return s.unsubscribe(model.KindDemand, id)
}

// FilterOutKnownOfferIDs implements store.Store.
func (s *Store) FilterOutKnownOfferIDs(ids []model.SubscriptionID) ([]model.SubscriptionID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	wire := make([]string, len(ids))
	for i, id := range ids {
		wire[i] = string(id)
	}
	var knownIDs []string
	if err := s.db.Model(&SubscriptionRow{}).Where("kind = ? AND id IN ?", uint8(model.KindOffer), wire).Pluck("id", &knownIDs).Error; err != nil {
		return nil, marketerrors.ErrPersistence
	}
	known := make(map[string]bool, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = true
	}
	var out []model.SubscriptionID
	for _, id := range ids {
		if !known[string(id)] {
			out = append(out, id)
		}
	}
	return out, nil
}

// SweepExpired implements store.Store.
func (s *Store) SweepExpired(now time.Time) (int, error) {
	result := s.db.Model(&SubscriptionRow{}).Where("unsubscribed = ? AND expires_at <= ?", false, now).Update("unsubscribed", true)
	if result.Error != nil {
		return 0, marketerrors.ErrPersistence
	}
	return int(result.RowsAffected), nil
}
