package modules

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhbchain/core/market/agreement"
	"nhbchain/core/market/model"
)

// AgreementModule exposes the Agreement lifecycle (create, confirm, approve,
// reject, cancel, terminate) over JSON-RPC.
type AgreementModule struct {
	manager    *agreement.Manager
	defaultTTL time.Duration
}

// NewAgreementModule constructs an agreement RPC module. defaultTTL is used
// for create_agreement calls that omit validTo, sourced from
// config.MarketConfig.DefaultAgreementTTL.
func NewAgreementModule(manager *agreement.Manager, defaultTTL time.Duration) *AgreementModule {
	return &AgreementModule{manager: manager, defaultTTL: defaultTTL}
}

var errAgreementModuleOffline = &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "agreement module not initialised"}

type createAgreementParams struct {
	OfferID         string `json:"offerId"`
	DemandID        string `json:"demandId"`
	ProviderID      string `json:"providerId"`
	RequestorID     string `json:"requestorId"`
	ValidToUnix     int64  `json:"validTo"`
	RequestingParty string `json:"requestingParty"`
}

type agreementResult struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	ProviderID   string `json:"providerId"`
	RequestorID  string `json:"requestorId"`
	CreatedAt    int64  `json:"createdAt"`
	ValidTo      int64  `json:"validTo"`
	ApprovedDate *int64 `json:"approvedDate,omitempty"`
	AppSessionID string `json:"appSessionId,omitempty"`
}

func formatAgreementResult(agr *model.Agreement) agreementResult {
	res := agreementResult{
		ID:           agr.ID.String(),
		State:        agr.State.String(),
		ProviderID:   string(agr.ProviderID),
		RequestorID:  string(agr.RequestorID),
		CreatedAt:    agr.CreatedAt.Unix(),
		ValidTo:      agr.ValidTo.Unix(),
		AppSessionID: agr.AppSessionID,
	}
	if agr.ApprovedDate != nil {
		ts := agr.ApprovedDate.Unix()
		res.ApprovedDate = &ts
	}
	return res
}

// CreateAgreement implements spec.md §4.7's create_agreement. The caller's
// owner tag is derived from requestingParty ("provider" or "requestor").
func (m *AgreementModule) CreateAgreement(raw json.RawMessage) (*agreementResult, *ModuleError) {
	if m == nil || m.manager == nil {
		return nil, errAgreementModuleOffline
	}
	var params createAgreementParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	offerID := model.SubscriptionID(strings.TrimSpace(params.OfferID))
	demandID := model.SubscriptionID(strings.TrimSpace(params.DemandID))
	if offerID == "" || demandID == "" {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "offerId and demandId are required"}
	}
	now := time.Now()
	validTo := time.Unix(params.ValidToUnix, 0)
	if params.ValidToUnix <= 0 {
		if m.defaultTTL <= 0 {
			return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "validTo must be a future unix timestamp"}
		}
		validTo = now.Add(m.defaultTTL)
	}
	owner := model.OwnerRequestor
	if strings.EqualFold(strings.TrimSpace(params.RequestingParty), "provider") {
		owner = model.OwnerProvider
	}
	agr, err := m.manager.CreateAgreement(offerID, demandID, model.NodeID(params.ProviderID), model.NodeID(params.RequestorID), validTo, now, owner)
	if err != nil {
		return nil, marketStateError(err)
	}
	result := formatAgreementResult(agr)
	return &result, nil
}

type agreementIDParams struct {
	ID           string `json:"id"`
	AppSessionID string `json:"appSessionId,omitempty"`
	Reason       string `json:"reason,omitempty"`
	By           string `json:"by,omitempty"`
}

// ConfirmAgreement implements Proposal→Pending.
func (m *AgreementModule) ConfirmAgreement(raw json.RawMessage) *ModuleError {
	if m == nil || m.manager == nil {
		return errAgreementModuleOffline
	}
	id, params, perr := parseAgreementIDParams(raw)
	if perr != nil {
		return perr
	}
	if err := m.manager.ConfirmAgreement(context.Background(), id, params.AppSessionID); err != nil {
		return marketStateError(err)
	}
	return nil
}

// ApproveAgreement implements Pending→Approved.
func (m *AgreementModule) ApproveAgreement(raw json.RawMessage) *ModuleError {
	if m == nil || m.manager == nil {
		return errAgreementModuleOffline
	}
	id, _, perr := parseAgreementIDParams(raw)
	if perr != nil {
		return perr
	}
	if err := m.manager.ApproveAgreement(context.Background(), id, time.Now()); err != nil {
		return marketStateError(err)
	}
	return nil
}

// RejectAgreement implements Pending→Rejected.
func (m *AgreementModule) RejectAgreement(raw json.RawMessage) *ModuleError {
	if m == nil || m.manager == nil {
		return errAgreementModuleOffline
	}
	id, params, perr := parseAgreementIDParams(raw)
	if perr != nil {
		return perr
	}
	reason := optionalReason(params.Reason)
	if err := m.manager.RejectAgreement(id, reason); err != nil {
		return marketStateError(err)
	}
	return nil
}

// CancelAgreement implements Proposal|Pending→Cancelled.
func (m *AgreementModule) CancelAgreement(raw json.RawMessage) *ModuleError {
	if m == nil || m.manager == nil {
		return errAgreementModuleOffline
	}
	id, params, perr := parseAgreementIDParams(raw)
	if perr != nil {
		return perr
	}
	reason := optionalReason(params.Reason)
	if err := m.manager.CancelAgreement(id, reason); err != nil {
		return marketStateError(err)
	}
	return nil
}

// TerminateAgreement implements Approved→Terminated.
func (m *AgreementModule) TerminateAgreement(raw json.RawMessage) *ModuleError {
	if m == nil || m.manager == nil {
		return errAgreementModuleOffline
	}
	id, params, perr := parseAgreementIDParams(raw)
	if perr != nil {
		return perr
	}
	reason := optionalReason(params.Reason)
	if err := m.manager.TerminateAgreement(id, model.NodeID(params.By), reason); err != nil {
		return marketStateError(err)
	}
	return nil
}

// GetAgreement returns the current Agreement state.
func (m *AgreementModule) GetAgreement(raw json.RawMessage) (*agreementResult, *ModuleError) {
	if m == nil || m.manager == nil {
		return nil, errAgreementModuleOffline
	}
	id, _, perr := parseAgreementIDParams(raw)
	if perr != nil {
		return nil, perr
	}
	agr, err := m.manager.Get(id)
	if err != nil {
		return nil, marketStateError(err)
	}
	result := formatAgreementResult(agr)
	return &result, nil
}

func parseAgreementIDParams(raw json.RawMessage) (model.AgreementID, agreementIDParams, *ModuleError) {
	var params agreementIDParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return model.AgreementID{}, params, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	trimmed := strings.TrimSpace(params.ID)
	if trimmed == "" {
		return model.AgreementID{}, params, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "id is required"}
	}
	id, err := model.ParseProposalID(trimmed)
	if err != nil {
		return model.AgreementID{}, params, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid id", Data: err.Error()}
	}
	return id, params, nil
}

func optionalReason(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
