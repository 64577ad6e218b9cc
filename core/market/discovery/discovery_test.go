package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nhbchain/core/market/model"
	"nhbchain/core/market/protocol"
	"nhbchain/core/market/store"
)

type recordingOverlay struct {
	sent []protocol.OffersBcast
}

func (r *recordingOverlay) Broadcast(_ context.Context, topic string, payload []byte) error {
	return nil
}
func (r *recordingOverlay) SendTo(context.Context, string, string, []byte) error { return nil }
func (r *recordingOverlay) LocalNodeID() string                                 { return "local" }

type fakeFetcher struct {
	bodies []protocol.OfferPayload
}

func (f *fakeFetcher) RetrieveOffers(ctx context.Context, peer string, ids []model.SubscriptionID) ([]protocol.OfferPayload, error) {
	return f.bodies, nil
}

func TestHandleOffersBcastFiltersKnownIDs(t *testing.T) {
	now := time.Unix(1000, 0)
	st := store.NewMemStore(func() time.Time { return now })
	known, err := st.SaveOffer(mustLocalOffer(t, now))
	require.NoError(t, err)

	remoteProps := []byte(`{}`)
	remoteID, err := model.NewSubscriptionID("node-remote", remoteProps, "", now, now.Add(time.Hour))
	require.NoError(t, err)
	fetcher := &fakeFetcher{bodies: []protocol.OfferPayload{{
		OfferID:        string(remoteID),
		NodeID:         "node-remote",
		PropertiesJSON: remoteProps,
		Constraints:    "",
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}}}
	b := New(st, nil, &recordingOverlay{}, fetcher, nil)

	err = b.HandleOffersBcast(context.Background(), "peer-1", protocol.OffersBcast{OfferIDs: []string{string(known.ID), string(remoteID)}})
	require.NoError(t, err)

	stored, err := st.GetOffer(remoteID)
	require.NoError(t, err)
	assert.Equal(t, model.NodeID("node-remote"), stored.NodeID)
}

func TestHandleUnsubscribedOffersBcastStopsOnTombstone(t *testing.T) {
	now := time.Unix(1000, 0)
	st := store.NewMemStore(func() time.Time { return now })
	offer, err := st.SaveOffer(mustLocalOffer(t, now))
	require.NoError(t, err)

	b := New(st, nil, &recordingOverlay{}, nil, nil)
	b.HandleUnsubscribedOffersBcast(context.Background(), protocol.UnsubscribedOffersBcast{OfferIDs: []string{string(offer.ID)}})

	_, err = st.GetOffer(offer.ID)
	assert.Error(t, err)

	// Re-delivering the same tombstone must not error or panic.
	b.HandleUnsubscribedOffersBcast(context.Background(), protocol.UnsubscribedOffersBcast{OfferIDs: []string{string(offer.ID)}})
}

func mustLocalOffer(t *testing.T, now time.Time) *model.Subscription {
	t.Helper()
	sub, err := model.NewSubscription(model.KindOffer, "node-local", []byte(`{}`), "", now, now.Add(time.Hour))
	require.NoError(t, err)
	return sub
}
