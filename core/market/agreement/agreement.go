// Package agreement implements the Agreement state automaton of spec.md
// §4.7: create/confirm/approve/reject/cancel/terminate, an expiration timer
// per Agreement, and remote-error hiding for signing failures.
package agreement

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"nhbchain/core/market/collab"
	marketerrors "nhbchain/core/market/errors"
	"nhbchain/core/market/model"
	"nhbchain/core/market/notifier"
	"nhbchain/core/market/protocol"
	"nhbchain/observability/metrics"
)

// ProposalLookup resolves a terminal Proposal by chain key, the minimal
// contract the agreement package needs from the negotiation engine. It
// avoids a hard package dependency so either side can be tested in
// isolation.
type ProposalLookup interface {
	LatestProposal(offerID, demandID model.SubscriptionID) *model.Proposal
}

type record struct {
	mu        sync.Mutex
	agreement *model.Agreement
	timer     *time.Timer
}

// Manager owns the Agreement state table, per-Agreement expiration timers,
// and signature handling via the identity collaborator.
type Manager struct {
	mu       sync.Mutex
	records  map[model.AgreementID]*record
	proposals ProposalLookup
	identity collab.Identity
	overlay  collab.Overlay
	notify   *notifier.Notifier
	log      *slog.Logger
}

// New constructs an Agreement Manager.
func New(proposals ProposalLookup, identity collab.Identity, overlay collab.Overlay, notify *notifier.Notifier, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		records:   make(map[model.AgreementID]*record),
		proposals: proposals,
		identity:  identity,
		overlay:   overlay,
		notify:    notify,
		log:       log.With("component", "market.agreement"),
	}
}

// CreateAgreement implements spec.md §4.7's create_agreement: the named
// proposal chain must hold a terminal Draft proposal (a counter-offer took
// place). Which node owns that proposal is not checked. It returns
// ErrInvalidExpiration, ErrProposalNotFound, ErrNoNegotiations, or
// ErrAlreadyProposed per the error taxonomy.
func (m *Manager) CreateAgreement(offerID, demandID model.SubscriptionID, providerID, requestorID model.NodeID, validTo, now time.Time, owner model.Owner) (*model.Agreement, error) {
	if !validTo.After(now) {
		return nil, marketerrors.ErrInvalidExpiration
	}
	latest := m.proposals.LatestProposal(offerID, demandID)
	if latest == nil {
		return nil, marketerrors.ErrProposalNotFound
	}
	if latest.PrevID == nil {
		return nil, marketerrors.ErrNoNegotiations
	}
	if latest.State != model.ProposalDraft {
		return nil, marketerrors.ErrAlreadyProposed
	}

	agr := model.NewAgreement(latest, latest, providerID, requestorID, validTo, now, owner)

	m.mu.Lock()
	if _, exists := m.records[agr.ID]; exists {
		m.mu.Unlock()
		return nil, marketerrors.ErrAlreadyProposed
	}
	rec := &record{agreement: agr}
	m.records[agr.ID] = rec
	m.mu.Unlock()

	m.scheduleExpiration(rec, validTo)
	metrics.Market().ObserveAgreementTransition(agr.State.String())
	return agr.Clone(), nil
}

func (m *Manager) lookup(id model.AgreementID) (*record, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	m.mu.Unlock()
	if !ok {
		return nil, marketerrors.ErrAgreementNotFound
	}
	return rec, nil
}

// ConfirmAgreement implements Proposal→Pending, stamping a proposed
// signature via the identity collaborator and notifying the Provider.
func (m *Manager) ConfirmAgreement(ctx context.Context, id model.AgreementID, appSessionID string) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.agreement.State != model.AgreementProposal {
		return marketerrors.ErrWrongAgreementState
	}

	sig, err := m.sign(ctx, string(rec.agreement.RequestorID), rec.agreement)
	if err != nil {
		return err
	}
	rec.agreement.ProposedSignature = sig
	rec.agreement.AppSessionID = appSessionID
	rec.agreement.State = model.AgreementPending
	metrics.Market().ObserveAgreementTransition(rec.agreement.State.String())

	m.transmit(ctx, rec.agreement, "propose-agreement")
	m.wakeProvider(rec.agreement)
	return nil
}

// WaitForApproval long-polls for a Pending Agreement to reach a terminal
// Requestor-observable state.
func (m *Manager) WaitForApproval(ctx context.Context, id model.AgreementID, timeout time.Duration) (model.AgreementState, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	for {
		rec.mu.Lock()
		state := rec.agreement.State
		rec.mu.Unlock()
		if state != model.AgreementPending {
			return state, nil
		}
		if m.notify == nil {
			return state, nil
		}
		listener := m.notify.Listen(id.String())
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		err := listener.WaitForEvent(waitCtx)
		cancel()
		listener.Close()
		if err != nil {
			if notifier.IsTimeout(err) {
				return model.AgreementPending, nil
			}
			return 0, err
		}
	}
}

// ApproveAgreement implements Pending→Approved (Provider side).
func (m *Manager) ApproveAgreement(ctx context.Context, id model.AgreementID, now time.Time) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.agreement.State != model.AgreementPending {
		return marketerrors.ErrWrongAgreementState
	}

	sig, err := m.sign(ctx, string(rec.agreement.ProviderID), rec.agreement)
	if err != nil {
		return err
	}
	rec.agreement.ApprovedSignature = sig
	rec.agreement.ApprovedDate = &now
	rec.agreement.State = model.AgreementApproved
	m.cancelTimer(rec)
	metrics.Market().ObserveAgreementTransition(rec.agreement.State.String())

	m.transmit(ctx, rec.agreement, "approve-agreement")
	m.wakeRequestor(rec.agreement)
	return nil
}

// RejectAgreement implements Pending→Rejected.
func (m *Manager) RejectAgreement(id model.AgreementID, reason *string) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.transitionTerminal(rec, model.AgreementPending, model.AgreementRejected, reason, "")
}

// CancelAgreement implements Proposal|Pending→Cancelled (Requestor side).
func (m *Manager) CancelAgreement(id model.AgreementID, reason *string) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.agreement.State != model.AgreementProposal && rec.agreement.State != model.AgreementPending {
		return marketerrors.ErrWrongAgreementState
	}
	rec.agreement.State = model.AgreementCancelled
	rec.agreement.TerminateInfo = reasonToTermination(reason, "cancelled")
	m.cancelTimer(rec)
	metrics.Market().ObserveAgreementTransition(rec.agreement.State.String())
	m.wakeBoth(rec.agreement)
	return nil
}

// TerminateAgreement implements Approved→Terminated, recording a
// TerminationReason visible to both sides via GetTerminateReason.
func (m *Manager) TerminateAgreement(id model.AgreementID, by model.NodeID, reason *string) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.agreement.State != model.AgreementApproved {
		return marketerrors.ErrWrongAgreementState
	}
	rec.agreement.State = model.AgreementTerminated
	rec.agreement.TerminatedBy = by
	rec.agreement.TerminateInfo = reasonToTermination(reason, "terminated")
	metrics.Market().ObserveAgreementTransition(rec.agreement.State.String())
	m.wakeBoth(rec.agreement)
	return nil
}

// GetTerminateReason returns the reason recorded for a terminal Agreement,
// or nil if none was supplied.
func (m *Manager) GetTerminateReason(id model.AgreementID) (*model.TerminationReason, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.agreement.TerminateInfo, nil
}

// Get returns a defensive copy of the current Agreement state.
func (m *Manager) Get(id model.AgreementID) (*model.Agreement, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.agreement.Clone(), nil
}

func reasonToTermination(reason *string, code string) *model.TerminationReason {
	msg := ""
	if reason != nil {
		msg = *reason
	}
	return &model.TerminationReason{Code: code, Message: msg}
}

func (m *Manager) transitionTerminal(rec *record, from, to model.AgreementState, reason *string, code string) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.agreement.State != from {
		return marketerrors.ErrWrongAgreementState
	}
	rec.agreement.State = to
	if code == "" {
		code = to.String()
	}
	rec.agreement.TerminateInfo = reasonToTermination(reason, code)
	m.cancelTimer(rec)
	metrics.Market().ObserveAgreementTransition(to.String())
	m.wakeBoth(rec.agreement)
	return nil
}

// sign asks the identity collaborator to sign the JSON encoding of the
// agreement's id string. A signing failure is reported as a RemoteError
// whose public message hides the collaborator's details. Signatures are
// not verified anywhere in this package.
func (m *Manager) sign(ctx context.Context, nodeID string, agr *model.Agreement) ([]byte, error) {
	if m.identity == nil {
		return nil, nil
	}
	payload, err := json.Marshal(agr.ID.String())
	if err != nil {
		return nil, marketerrors.ErrInternal
	}
	sig, err := m.identity.Sign(ctx, nodeID, payload)
	if err != nil {
		return nil, marketerrors.NewRemoteError("signing failed", err.Error())
	}
	return sig, nil
}

func (m *Manager) scheduleExpiration(rec *record, validTo time.Time) {
	delay := time.Until(validTo)
	if delay < 0 {
		delay = 0
	}
	rec.timer = time.AfterFunc(delay, func() {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.agreement.State == model.AgreementProposal || rec.agreement.State == model.AgreementPending {
			rec.agreement.State = model.AgreementExpired
			metrics.Market().ObserveAgreementExpired()
			metrics.Market().ObserveAgreementTransition(rec.agreement.State.String())
			m.wakeBoth(rec.agreement)
		}
	})
}

func (m *Manager) cancelTimer(rec *record) {
	if rec.timer != nil {
		rec.timer.Stop()
	}
}

func (m *Manager) wakeProvider(agr *model.Agreement) {
	if m.notify != nil {
		m.notify.Notify(agr.ID.String() + ":provider")
	}
}

func (m *Manager) wakeRequestor(agr *model.Agreement) {
	if m.notify != nil {
		m.notify.Notify(agr.ID.String())
	}
}

func (m *Manager) wakeBoth(agr *model.Agreement) {
	if m.notify == nil {
		return
	}
	m.notify.Notify(agr.ID.String())
	m.notify.Notify(agr.ID.String() + ":provider")
}

func (m *Manager) transmit(ctx context.Context, agr *model.Agreement, topic string) {
	if m.overlay == nil {
		return
	}
	var payload []byte
	var err error
	switch topic {
	case "approve-agreement":
		payload, err = json.Marshal(protocol.AgreementApprovedMsg{
			AgreementID: agr.ID.String(),
			Signature:   agr.ApprovedSignature,
			ApprovedAt:  time.Now(),
		})
	default:
		payload, err = json.Marshal(struct {
			AgreementID string `json:"agreement_id"`
		}{AgreementID: agr.ID.String()})
	}
	if err != nil {
		m.log.Warn("failed to encode agreement message", "agreement", agr.ID, "error", err)
		return
	}
	peer := string(agr.ProviderID)
	if topic == "approve-agreement" {
		peer = string(agr.RequestorID)
	}
	if err := m.overlay.SendTo(ctx, peer, topic, payload); err != nil {
		m.log.Warn("agreement transmit failed", "agreement", agr.ID, "peer", peer, "error", err)
	}
}
