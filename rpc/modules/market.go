package modules

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	marketerrors "nhbchain/core/market/errors"
	"nhbchain/core/market/matcher"
	"nhbchain/core/market/model"
	"nhbchain/core/market/negotiation"
	"nhbchain/core/market/store"
)

// MarketModule exposes the subscription, discovery, and negotiation surface
// of the market subsystem over JSON-RPC, following the param-struct and
// ModuleError conventions of EscrowModule.
type MarketModule struct {
	store     store.Store
	matcher   *matcher.Matcher
	engine    *negotiation.Engine
	announce  func(ctx context.Context, id model.SubscriptionID)
	unannounce func(ctx context.Context, id model.SubscriptionID)
}

// NewMarketModule constructs a market RPC module. announce/unannounce may be
// nil when the node doesn't participate in gossip (single-process mode).
func NewMarketModule(st store.Store, m *matcher.Matcher, engine *negotiation.Engine, announce, unannounce func(ctx context.Context, id model.SubscriptionID)) *MarketModule {
	return &MarketModule{store: st, matcher: m, engine: engine, announce: announce, unannounce: unannounce}
}

var errMarketModuleOffline = &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "market module not initialised"}

type subscribeOfferParams struct {
	NodeID         string          `json:"nodeId"`
	Properties     json.RawMessage `json:"properties"`
	Constraints    string          `json:"constraints"`
	ExpiresInSecs  int64           `json:"expiresInSeconds"`
}

type subscriptionResult struct {
	ID          string `json:"id"`
	NodeID      string `json:"nodeId"`
	CreatedAt   int64  `json:"createdAt"`
	ExpiresAt   int64  `json:"expiresAt"`
	InsertionTS int64  `json:"insertionTs"`
}

func formatSubscriptionResult(sub *model.Subscription) subscriptionResult {
	return subscriptionResult{
		ID:          string(sub.ID),
		NodeID:      string(sub.NodeID),
		CreatedAt:   sub.CreatedAt.Unix(),
		ExpiresAt:   sub.ExpiresAt.Unix(),
		InsertionTS: sub.InsertionTS.UnixNano(),
	}
}

func (m *MarketModule) subscribe(kind model.SubscriptionKind, raw json.RawMessage) (*subscriptionResult, *ModuleError) {
	if m == nil || m.store == nil {
		return nil, errMarketModuleOffline
	}
	var params subscribeOfferParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	nodeID := strings.TrimSpace(params.NodeID)
	if nodeID == "" {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "nodeId is required"}
	}
	if params.ExpiresInSecs <= 0 {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "expiresInSeconds must be positive"}
	}
	now := time.Now()
	sub, err := model.NewSubscription(kind, model.NodeID(nodeID), params.Properties, params.Constraints, now, now.Add(time.Duration(params.ExpiresInSecs)*time.Second))
	if err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	}

	var stored *model.Subscription
	var saveErr error
	if kind == model.KindOffer {
		stored, saveErr = m.store.SaveOffer(sub)
	} else {
		stored, saveErr = m.store.SaveDemand(sub)
	}
	if saveErr != nil {
		return nil, marketStateError(saveErr)
	}

	if kind == model.KindOffer {
		if m.matcher != nil {
			m.matcher.ReceiveOffer(stored.ID)
		}
		if m.announce != nil {
			m.announce(context.Background(), stored.ID)
		}
	} else if m.matcher != nil {
		m.matcher.ReceiveDemand(stored.ID)
	}

	result := formatSubscriptionResult(stored)
	return &result, nil
}

// SubscribeOffer implements spec.md §4.2's subscribe_offer.
func (m *MarketModule) SubscribeOffer(raw json.RawMessage) (*subscriptionResult, *ModuleError) {
	return m.subscribe(model.KindOffer, raw)
}

// SubscribeDemand implements spec.md §4.2's subscribe_demand. Demands are
// never gossiped, per spec.md §9, so no announce callback fires here.
func (m *MarketModule) SubscribeDemand(raw json.RawMessage) (*subscriptionResult, *ModuleError) {
	return m.subscribe(model.KindDemand, raw)
}

type unsubscribeParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

// UnsubscribeOffer implements spec.md §4.2's unsubscribe_offer.
func (m *MarketModule) UnsubscribeOffer(raw json.RawMessage) *ModuleError {
	return m.unsubscribe(model.KindOffer, raw)
}

// UnsubscribeDemand implements spec.md §4.2's unsubscribe_demand.
func (m *MarketModule) UnsubscribeDemand(raw json.RawMessage) *ModuleError {
	return m.unsubscribe(model.KindDemand, raw)
}

func (m *MarketModule) unsubscribe(kind model.SubscriptionKind, raw json.RawMessage) *ModuleError {
	if m == nil || m.store == nil {
		return errMarketModuleOffline
	}
	var params unsubscribeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	id := model.SubscriptionID(strings.TrimSpace(params.ID))
	if id == "" {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "id is required"}
	}
	var err error
	if kind == model.KindOffer {
		err = m.store.UnsubscribeOffer(id, model.NodeID(params.Caller))
	} else {
		err = m.store.UnsubscribeDemand(id, model.NodeID(params.Caller))
	}
	if err != nil {
		return marketStateError(err)
	}
	if kind == model.KindOffer && m.unannounce != nil {
		m.unannounce(context.Background(), id)
	}
	return nil
}

type queryEventsParams struct {
	SubscriptionID string `json:"subscriptionId"`
	TimeoutSeconds int64  `json:"timeoutSeconds"`
	MaxEvents      int    `json:"maxEvents"`
}

type marketEventResult struct {
	ID         int64   `json:"id"`
	Type       string  `json:"type"`
	ArtifactID string  `json:"artifactId,omitempty"`
	Reason     *string `json:"reason,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// QueryEvents implements spec.md §4.6's query_events long-poll.
func (m *MarketModule) QueryEvents(raw json.RawMessage) ([]marketEventResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, errMarketModuleOffline
	}
	var params queryEventsParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	subID := model.SubscriptionID(strings.TrimSpace(params.SubscriptionID))
	if subID == "" {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "subscriptionId is required"}
	}
	maxEvents := params.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 32
	}
	timeout := time.Duration(params.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	events, err := m.engine.QueryEvents(ctx, subID, timeout, maxEvents)
	if err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
	out := make([]marketEventResult, len(events))
	for i, ev := range events {
		out[i] = marketEventResult{ID: ev.ID, Type: string(ev.Type), ArtifactID: ev.ArtifactID, Reason: ev.Reason, Timestamp: ev.Timestamp.Unix()}
	}
	return out, nil
}

type counterProposalParams struct {
	OfferID        string          `json:"offerId"`
	DemandID       string          `json:"demandId"`
	PrevProposalID string          `json:"prevProposalId"`
	Properties     json.RawMessage `json:"properties"`
	Constraints    string          `json:"constraints"`
	Issuer         string          `json:"issuer"`
}

type proposalResult struct {
	ID       string `json:"id"`
	PrevID   string `json:"prevId,omitempty"`
	State    string `json:"state"`
	Issuer   string `json:"issuer"`
}

// CounterProposal implements spec.md §4.6's counter_proposal.
func (m *MarketModule) CounterProposal(raw json.RawMessage) (*proposalResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, errMarketModuleOffline
	}
	var params counterProposalParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	offerID := model.SubscriptionID(strings.TrimSpace(params.OfferID))
	demandID := model.SubscriptionID(strings.TrimSpace(params.DemandID))
	if offerID == "" || demandID == "" {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "offerId and demandId are required"}
	}
	prevID, err := model.ParseProposalID(params.PrevProposalID)
	if err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid prevProposalId", Data: err.Error()}
	}
	body := model.ProposalBody{PropertiesJSON: params.Properties, Constraints: params.Constraints}
	p, err := m.engine.CounterProposal(context.Background(), offerID, demandID, prevID, body, model.NodeID(params.Issuer), time.Now())
	if err != nil {
		return nil, marketStateError(err)
	}
	result := proposalResult{ID: p.ID.String(), State: p.State.String(), Issuer: string(p.Issuer)}
	if p.PrevID != nil {
		result.PrevID = p.PrevID.String()
	}
	return &result, nil
}

// marketStateError maps market error-taxonomy sentinels onto JSON-RPC HTTP
// status codes, per spec.md §7's Validation/State/Not-found/Internal split.
func marketStateError(err error) *ModuleError {
	switch {
	case errors.Is(err, marketerrors.ErrSubscriptionNotFound),
		errors.Is(err, marketerrors.ErrProposalNotFound),
		errors.Is(err, marketerrors.ErrAgreementNotFound):
		return &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, marketerrors.ErrExists),
		errors.Is(err, marketerrors.ErrUnsubscribed),
		errors.Is(err, marketerrors.ErrExpired),
		errors.Is(err, marketerrors.ErrAlreadyCountered),
		errors.Is(err, marketerrors.ErrNoPrevious),
		errors.Is(err, marketerrors.ErrNotMatching),
		errors.Is(err, marketerrors.ErrNoNegotiations),
		errors.Is(err, marketerrors.ErrAlreadyProposed),
		errors.Is(err, marketerrors.ErrAlreadyConfirmed),
		errors.Is(err, marketerrors.ErrAlreadyApproved),
		errors.Is(err, marketerrors.ErrWrongAgreementState):
		return &ModuleError{HTTPStatus: http.StatusConflict, Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, marketerrors.ErrInvalidProperties),
		errors.Is(err, marketerrors.ErrInvalidConstraints),
		errors.Is(err, marketerrors.ErrIDHashMismatch),
		errors.Is(err, marketerrors.ErrUnknownOwner),
		errors.Is(err, marketerrors.ErrInvalidExpiration),
		errors.Is(err, marketerrors.ErrInvalidID):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	default:
		var remote *marketerrors.RemoteError
		if errors.As(err, &remote) {
			return &ModuleError{HTTPStatus: http.StatusBadGateway, Code: codeServerError, Message: remote.PublicMsg}
		}
		return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
}
