package model

import (
	"encoding/json"
	"time"

	"nhbchain/core/market/errors"
	"nhbchain/core/market/props"
	"nhbchain/core/market/resolver"
)

// Subscription is either an Offer or a Demand, per spec.md §3.
type Subscription struct {
	ID             SubscriptionID
	Kind           SubscriptionKind
	NodeID         NodeID
	PropertiesJSON []byte
	Constraints    string
	CreatedAt      time.Time
	InsertionTS    time.Time
	ExpiresAt      time.Time
	Unsubscribed   bool

	properties *props.Set
	expr       resolver.Expr
}

// NewSubscription validates and mints a subscription id for a freshly
// published Offer or Demand. InsertionTS is left unset here; the store sets
// it when the subscription is saved (spec.md §5).
func NewSubscription(kind SubscriptionKind, nodeID NodeID, propertiesJSON []byte, constraints string, createdAt, expiresAt time.Time) (*Subscription, error) {
	if !json.Valid(propertiesJSON) {
		return nil, errors.ErrInvalidProperties
	}
	var probe map[string]interface{}
	if err := json.Unmarshal(propertiesJSON, &probe); err != nil {
		return nil, errors.ErrInvalidProperties
	}
	if !expiresAt.After(createdAt) {
		return nil, errors.ErrInvalidExpiration
	}
	expr, err := resolver.Parse(constraints)
	if err != nil {
		return nil, err
	}
	propSet, err := props.FromJSON(propertiesJSON)
	if err != nil {
		return nil, err
	}
	id, err := NewSubscriptionID(nodeID, propertiesJSON, constraints, createdAt, expiresAt)
	if err != nil {
		return nil, err
	}
	return &Subscription{
		ID:             id,
		Kind:           kind,
		NodeID:         nodeID,
		PropertiesJSON: propertiesJSON,
		Constraints:    constraints,
		CreatedAt:      createdAt,
		ExpiresAt:      expiresAt,
		properties:     propSet,
		expr:           expr,
	}, nil
}

// Properties lazily parses and caches the flattened property set.
func (s *Subscription) Properties() (*props.Set, error) {
	if s.properties != nil {
		return s.properties, nil
	}
	set, err := props.FromJSON(s.PropertiesJSON)
	if err != nil {
		return nil, err
	}
	s.properties = set
	return set, nil
}

// ConstraintExpr lazily parses and caches the constraint expression.
func (s *Subscription) ConstraintExpr() (resolver.Expr, error) {
	if s.expr != nil {
		return s.expr, nil
	}
	expr, err := resolver.Parse(s.Constraints)
	if err != nil {
		return nil, err
	}
	s.expr = expr
	return expr, nil
}

// Validate re-checks the invariants of spec.md §3: id hash must recompute,
// expiration must follow creation, properties must be a JSON object, and
// the constraint expression must parse.
func (s *Subscription) Validate() error {
	if !ValidateSubscriptionID(s.ID, s.NodeID, s.PropertiesJSON, s.Constraints, s.CreatedAt, s.ExpiresAt) {
		return errors.ErrIDHashMismatch
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return errors.ErrInvalidExpiration
	}
	var probe map[string]interface{}
	if !json.Valid(s.PropertiesJSON) || json.Unmarshal(s.PropertiesJSON, &probe) != nil {
		return errors.ErrInvalidProperties
	}
	if _, err := resolver.Parse(s.Constraints); err != nil {
		return err
	}
	return nil
}

// IsExpired reports whether the subscription's expiration has passed as of
// now.
func (s *Subscription) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Clone returns a shallow copy of the subscription safe for callers to
// mutate without affecting the stored row.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	clone := *s
	clone.PropertiesJSON = append([]byte(nil), s.PropertiesJSON...)
	return &clone
}
