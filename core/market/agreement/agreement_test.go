package agreement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketerrors "nhbchain/core/market/errors"
	"nhbchain/core/market/model"
	"nhbchain/core/market/notifier"
)

type fakeLookup struct {
	proposal *model.Proposal
}

func (f *fakeLookup) LatestProposal(offerID, demandID model.SubscriptionID) *model.Proposal {
	return f.proposal
}

func counteredProposal(offerID, demandID model.SubscriptionID, now time.Time) *model.Proposal {
	initial := model.NewInitialProposal(offerID, demandID, model.ProposalBody{}, "node-a", now)
	return initial.Counter(model.ProposalBody{PropertiesJSON: []byte(`{}`)}, "node-b", now.Add(time.Second))
}

func TestCreateConfirmApproveTerminate(t *testing.T) {
	now := time.Unix(1000, 0)
	offerID, demandID := model.SubscriptionID("offer-1"), model.SubscriptionID("demand-1")
	lookup := &fakeLookup{proposal: counteredProposal(offerID, demandID, now)}
	n := notifier.New()
	m := New(lookup, nil, nil, n, nil)

	agr, err := m.CreateAgreement(offerID, demandID, "node-b", "node-a", now.Add(time.Hour), now, model.OwnerRequestor)
	require.NoError(t, err)
	assert.Equal(t, model.AgreementProposal, agr.State)

	require.NoError(t, m.ConfirmAgreement(context.Background(), agr.ID, "session-1"))
	confirmed, err := m.Get(agr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgreementPending, confirmed.State)

	require.NoError(t, m.ApproveAgreement(context.Background(), agr.ID, now.Add(time.Minute)))
	approved, err := m.Get(agr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgreementApproved, approved.State)
	require.NotNil(t, approved.ApprovedDate)

	reason := "maintenance window"
	require.NoError(t, m.TerminateAgreement(agr.ID, "node-a", &reason))
	terminated, err := m.Get(agr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgreementTerminated, terminated.State)

	got, err := m.GetTerminateReason(agr.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, reason, got.Message)
}

func TestCreateAgreementRequiresCounteredProposal(t *testing.T) {
	now := time.Unix(1000, 0)
	offerID, demandID := model.SubscriptionID("offer-1"), model.SubscriptionID("demand-1")
	initial := model.NewInitialProposal(offerID, demandID, model.ProposalBody{}, "node-a", now)
	lookup := &fakeLookup{proposal: initial}
	m := New(lookup, nil, nil, notifier.New(), nil)

	_, err := m.CreateAgreement(offerID, demandID, "node-b", "node-a", now.Add(time.Hour), now, model.OwnerRequestor)
	assert.ErrorIs(t, err, marketerrors.ErrNoNegotiations)
}

func TestAgreementExpiresWithoutConfirm(t *testing.T) {
	now := time.Now()
	offerID, demandID := model.SubscriptionID("offer-1"), model.SubscriptionID("demand-1")
	lookup := &fakeLookup{proposal: counteredProposal(offerID, demandID, now)}
	m := New(lookup, nil, nil, notifier.New(), nil)

	agr, err := m.CreateAgreement(offerID, demandID, "node-b", "node-a", now.Add(100*time.Millisecond), now, model.OwnerRequestor)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	expired, err := m.Get(agr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgreementExpired, expired.State)

	err = m.ConfirmAgreement(context.Background(), agr.ID, "")
	assert.ErrorIs(t, err, marketerrors.ErrWrongAgreementState)
}
