package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketerrors "nhbchain/core/market/errors"
)

func TestSubscriptionIDRoundTrip(t *testing.T) {
	created := time.Unix(1000, 0)
	expires := created.Add(time.Hour)
	sub, err := NewSubscription(KindOffer, "node-a", []byte(`{"a":1}`), "(a=1)", created, expires)
	require.NoError(t, err)
	assert.NoError(t, sub.Validate())

	// Tampering with the properties must invalidate the hash.
	tampered := sub.Clone()
	tampered.PropertiesJSON = []byte(`{"a":2}`)
	assert.ErrorIs(t, tampered.Validate(), marketerrors.ErrIDHashMismatch)
}

func TestProposalChainOwnerAlternates(t *testing.T) {
	now := time.Unix(2000, 0)
	initial := NewInitialProposal("offer-1", "demand-1", ProposalBody{}, "node-r", now)
	assert.Equal(t, OwnerRequestor, initial.ID.Owner)

	countered := initial.Counter(ProposalBody{}, "node-p", now.Add(time.Second))
	assert.Equal(t, OwnerProvider, countered.ID.Owner)
	require.NotNil(t, countered.PrevID)
	assert.Equal(t, initial.ID.Owner.Swap(), countered.ID.Owner)
	assert.NotEqual(t, countered.PrevID.Owner, countered.ID.Owner)
}

func TestProposalIDWireFormat(t *testing.T) {
	id := NewProposalID("offer-1", "demand-1", time.Unix(0, 0), OwnerProvider)
	wire := id.String()
	parsed, err := ParseProposalID(wire)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}
