package marketdb

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	marketerrors "nhbchain/core/market/errors"
	"nhbchain/core/market/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func newOffer(t *testing.T, node string, created, expires time.Time) *model.Subscription {
	t.Helper()
	sub, err := model.NewSubscription(model.KindOffer, model.NodeID(node), []byte(`{"cpu":8}`), "", created, expires)
	require.NoError(t, err)
	return sub
}

func TestGormSaveOfferRoundTrips(t *testing.T) {
	now := time.Now()
	s := NewStore(setupTestDB(t))
	offer := newOffer(t, "node-a", now, now.Add(time.Hour))

	saved, err := s.SaveOffer(offer)
	require.NoError(t, err)

	got, err := s.GetOffer(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.NodeID, got.NodeID)
	assert.JSONEq(t, string(offer.PropertiesJSON), string(got.PropertiesJSON))
}

func TestGormSaveOfferRejectsDuplicate(t *testing.T) {
	now := time.Now()
	s := NewStore(setupTestDB(t))
	offer := newOffer(t, "node-a", now, now.Add(time.Hour))

	_, err := s.SaveOffer(offer)
	require.NoError(t, err)

	_, err = s.SaveOffer(offer)
	assert.ErrorIs(t, err, marketerrors.ErrExists)
}

func TestGormGetOfferAfterUnsubscribe(t *testing.T) {
	now := time.Now()
	s := NewStore(setupTestDB(t))
	offer := newOffer(t, "node-a", now, now.Add(time.Hour))
	saved, err := s.SaveOffer(offer)
	require.NoError(t, err)

	require.NoError(t, s.UnsubscribeOffer(saved.ID, "node-a"))

	_, err = s.GetOffer(saved.ID)
	assert.ErrorIs(t, err, marketerrors.ErrUnsubscribed)

	err = s.UnsubscribeOffer(saved.ID, "node-a")
	assert.ErrorIs(t, err, marketerrors.ErrUnsubscribed)
}

func TestGormGetOffersBeforeOrdersByInsertion(t *testing.T) {
	now := time.Now()
	s := NewStore(setupTestDB(t))

	first, err := s.SaveOffer(newOffer(t, "node-a", now, now.Add(time.Hour)))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = s.SaveOffer(newOffer(t, "node-b", now, now.Add(time.Hour)))
	require.NoError(t, err)

	before, err := s.GetOffersBefore(first.InsertionTS.Add(time.Microsecond))
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, first.ID, before[0].ID)
}

func TestGormFilterOutKnownOfferIDs(t *testing.T) {
	now := time.Now()
	s := NewStore(setupTestDB(t))
	known, err := s.SaveOffer(newOffer(t, "node-a", now, now.Add(time.Hour)))
	require.NoError(t, err)

	unknownID, err := model.NewSubscriptionID("node-z", []byte(`{}`), "", now, now.Add(time.Hour))
	require.NoError(t, err)

	filtered, err := s.FilterOutKnownOfferIDs([]model.SubscriptionID{known.ID, unknownID})
	require.NoError(t, err)
	assert.Equal(t, []model.SubscriptionID{unknownID}, filtered)
}

func TestGormSweepExpiredIsIdempotent(t *testing.T) {
	now := time.Now()
	s := NewStore(setupTestDB(t))
	_, err := s.SaveOffer(newOffer(t, "node-a", now.Add(-time.Hour), now.Add(time.Millisecond)))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := s.SweepExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.SweepExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
