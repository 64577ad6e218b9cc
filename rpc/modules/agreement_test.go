package modules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nhbchain/core/market/agreement"
	"nhbchain/core/market/model"
	"nhbchain/core/market/notifier"
)

type fakeProposalLookup struct {
	proposal *model.Proposal
}

func (f *fakeProposalLookup) LatestProposal(offerID, demandID model.SubscriptionID) *model.Proposal {
	return f.proposal
}

func counteredProposalFixture(offerID, demandID model.SubscriptionID, now time.Time) *model.Proposal {
	initial := model.NewInitialProposal(offerID, demandID, model.ProposalBody{}, "node-a", now)
	return initial.Counter(model.ProposalBody{PropertiesJSON: []byte(`{}`)}, "node-b", now.Add(time.Second))
}

func newTestAgreementModule(t *testing.T, defaultTTL time.Duration) (*AgreementModule, model.SubscriptionID, model.SubscriptionID) {
	t.Helper()
	offerID, demandID := model.SubscriptionID("offer-1"), model.SubscriptionID("demand-1")
	lookup := &fakeProposalLookup{proposal: counteredProposalFixture(offerID, demandID, time.Now())}
	manager := agreement.New(lookup, nil, nil, notifier.New(), nil)
	return NewAgreementModule(manager, defaultTTL), offerID, demandID
}

func TestCreateAgreementAppliesDefaultTTL(t *testing.T) {
	mod, offerID, demandID := newTestAgreementModule(t, 5*time.Minute)

	raw, err := json.Marshal(map[string]any{
		"offerId":     string(offerID),
		"demandId":    string(demandID),
		"providerId":  "node-b",
		"requestorId": "node-a",
	})
	require.NoError(t, err)

	result, merr := mod.CreateAgreement(raw)
	require.Nil(t, merr)
	require.NotNil(t, result)
	assert.Equal(t, "Proposal", result.State)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), time.Unix(result.ValidTo, 0), 30*time.Second)
}

func TestCreateAgreementRejectsMissingValidToWithoutDefault(t *testing.T) {
	mod, offerID, demandID := newTestAgreementModule(t, 0)

	raw, err := json.Marshal(map[string]any{
		"offerId":     string(offerID),
		"demandId":    string(demandID),
		"providerId":  "node-b",
		"requestorId": "node-a",
	})
	require.NoError(t, err)

	_, merr := mod.CreateAgreement(raw)
	require.NotNil(t, merr)
	assert.Equal(t, codeInvalidParams, merr.Code)
}

func TestAgreementLifecycleThroughModule(t *testing.T) {
	mod, offerID, demandID := newTestAgreementModule(t, time.Hour)

	created, merr := mod.CreateAgreement(mustJSON(t, map[string]any{
		"offerId":     string(offerID),
		"demandId":    string(demandID),
		"providerId":  "node-b",
		"requestorId": "node-a",
	}))
	require.Nil(t, merr)

	require.Nil(t, mod.ConfirmAgreement(mustJSON(t, map[string]any{"id": created.ID, "appSessionId": "session-1"})))
	require.Nil(t, mod.ApproveAgreement(mustJSON(t, map[string]any{"id": created.ID})))

	got, merr := mod.GetAgreement(mustJSON(t, map[string]any{"id": created.ID}))
	require.Nil(t, merr)
	assert.Equal(t, "Approved", got.State)
	require.NotNil(t, got.ApprovedDate)

	reason := "scheduled maintenance"
	require.Nil(t, mod.TerminateAgreement(mustJSON(t, map[string]any{"id": created.ID, "by": "node-a", "reason": reason})))

	terminated, merr := mod.GetAgreement(mustJSON(t, map[string]any{"id": created.ID}))
	require.Nil(t, merr)
	assert.Equal(t, "Terminated", terminated.State)
}

func TestAgreementModuleRequiresID(t *testing.T) {
	mod, _, _ := newTestAgreementModule(t, time.Hour)
	merr := mod.ApproveAgreement(mustJSON(t, map[string]any{}))
	require.NotNil(t, merr)
	assert.Equal(t, codeInvalidParams, merr.Code)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
