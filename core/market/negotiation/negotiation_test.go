package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketerrors "nhbchain/core/market/errors"
	"nhbchain/core/market/matcher"
	"nhbchain/core/market/model"
	"nhbchain/core/market/notifier"
	"nhbchain/core/market/store"
)

func setupChain(t *testing.T, now time.Time) (*Engine, *model.Subscription, *model.Subscription, *model.Proposal) {
	t.Helper()
	st := store.NewMemStore(func() time.Time { return now })
	n := notifier.New()
	e := New(st, n, nil, nil)

	offer, err := model.NewSubscription(model.KindOffer, "node-b", []byte(`{"golem.node.debug.subnet":"blaa","golem.com.pricing.model":"linear"}`), `(golem.node.debug.subnet=blaa)(golem.srv.comp.expiration>0)`, now, now.Add(time.Hour))
	require.NoError(t, err)
	storedOffer, err := st.SaveOffer(offer)
	require.NoError(t, err)

	demand, err := model.NewSubscription(model.KindDemand, "node-a", []byte(`{"golem.srv.comp.expiration":3,"golem.srv.comp.task_package":"test-package","golem.node.debug.subnet":"blaa"}`), `(golem.com.pricing.model=linear)`, now, now.Add(time.Hour))
	require.NoError(t, err)
	storedDemand, err := st.SaveDemand(demand)
	require.NoError(t, err)

	ok, err := matcher.Matches(storedOffer, storedDemand)
	require.NoError(t, err)
	require.True(t, ok)

	initial := e.HandleRawProposal(matcher.RawProposal{Offer: storedOffer, Demand: storedDemand}, now)
	return e, storedOffer, storedDemand, initial
}

func TestTwoNodeMatchEnqueuesRequestorProposal(t *testing.T) {
	now := time.Unix(1000, 0)
	e, offer, demand, initial := setupChain(t, now)

	assert.Equal(t, model.OwnerRequestor, initial.ID.Owner)

	events, err := e.QueryEvents(context.Background(), demand.ID, time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventRequestorProposal, events[0].Type)
	assert.Equal(t, initial.ID.String(), events[0].ArtifactID)

	noEvents, err := e.QueryEvents(context.Background(), offer.ID, time.Millisecond, 10)
	require.NoError(t, err)
	assert.Empty(t, noEvents)
}

func TestCounterOfferChainAppendsAndNotifiesPeer(t *testing.T) {
	now := time.Unix(1000, 0)
	e, offer, demand, initial := setupChain(t, now)
	_, err := e.QueryEvents(context.Background(), demand.ID, time.Millisecond, 10)
	require.NoError(t, err)

	body := model.ProposalBody{
		PropertiesJSON: []byte(`{"golem.srv.comp.max_cost":10}`),
		Constraints:    "",
	}
	countered, err := e.CounterProposal(context.Background(), offer.ID, demand.ID, initial.ID, body, demand.NodeID, now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, countered.PrevID)
	assert.Equal(t, initial.ID, *countered.PrevID)
	assert.Equal(t, model.OwnerProvider, countered.ID.Owner)

	events, err := e.QueryEvents(context.Background(), offer.ID, time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventProviderProposal, events[0].Type)
}

func TestSimultaneousCounterFails(t *testing.T) {
	now := time.Unix(1000, 0)
	e, offer, demand, initial := setupChain(t, now)

	body := model.ProposalBody{PropertiesJSON: []byte(`{}`), Constraints: ""}
	_, err := e.CounterProposal(context.Background(), offer.ID, demand.ID, initial.ID, body, demand.NodeID, now.Add(time.Second))
	require.NoError(t, err)

	_, err = e.CounterProposal(context.Background(), offer.ID, demand.ID, initial.ID, body, demand.NodeID, now.Add(time.Second))
	assert.ErrorIs(t, err, marketerrors.ErrAlreadyCountered)
}

func TestRejectProposalStopsChain(t *testing.T) {
	now := time.Unix(1000, 0)
	e, offer, demand, initial := setupChain(t, now)

	require.NoError(t, e.RejectProposal(offer.ID, demand.ID, initial.ID, nil, now.Add(time.Second)))

	body := model.ProposalBody{PropertiesJSON: []byte(`{}`), Constraints: ""}
	_, err := e.CounterProposal(context.Background(), offer.ID, demand.ID, initial.ID, body, demand.NodeID, now.Add(2*time.Second))
	assert.ErrorIs(t, err, marketerrors.ErrAlreadyCountered)
}
