// Package protocol defines the wire messages exchanged between market
// nodes over the Overlay collaborator (spec.md §6): discovery broadcasts and
// negotiation proposal traffic. Message bodies are plain structs tagged for
// JSON, matching the encoding nhbchain's p2p layer uses for its own gossip
// payloads.
package protocol

import "time"

// OffersBcast announces newly published offer ids to peers, per spec.md
// §4.5. Peers that already know an id drop it silently.
type OffersBcast struct {
	OfferIDs []string `json:"offer_ids"`
}

// UnsubscribedOffersBcast announces that the listed offer ids have been
// withdrawn, letting peers drop their local copies.
type UnsubscribedOffersBcast struct {
	OfferIDs []string `json:"offer_ids"`
}

// RetrieveOffers asks a peer to resend the full bodies of the listed offer
// ids, used after a node reconnects and wants to backfill gaps in its seen
// set.
type RetrieveOffers struct {
	OfferIDs []string `json:"offer_ids"`
}

// OfferPayload carries the full body of an offer in response to
// RetrieveOffers; OffersBcast itself carries only ids.
type OfferPayload struct {
	OfferID        string    `json:"offer_id"`
	NodeID         string    `json:"node_id"`
	PropertiesJSON []byte    `json:"properties_json"`
	Constraints    string    `json:"constraints"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ProposalMsg carries a single round of a negotiation chain over the wire,
// per spec.md §4.6.
type ProposalMsg struct {
	ProposalID     string    `json:"proposal_id"`
	PrevProposalID string    `json:"prev_proposal_id,omitempty"`
	OfferID        string    `json:"offer_id"`
	DemandID       string    `json:"demand_id"`
	PropertiesJSON []byte    `json:"properties_json"`
	Constraints    string    `json:"constraints"`
	Issuer         string    `json:"issuer"`
	CreatedAt      time.Time `json:"created_at"`
}

// RejectProposalMsg notifies the peer side of a chain that the most recent
// proposal has been rejected, ending the chain.
type RejectProposalMsg struct {
	ProposalID string  `json:"proposal_id"`
	Reason     *string `json:"reason,omitempty"`
}

// PropertyQueryMsg asks the peer to resolve additional property references
// that were undefined during matching, per spec.md §9's supplemented
// property-query round trip (residual expression exchange).
type PropertyQueryMsg struct {
	SubscriptionID string   `json:"subscription_id"`
	Refs           []string `json:"refs"`
	Residual       string   `json:"residual"`
}

// PropertyQueryAnswerMsg answers a PropertyQueryMsg with resolved property
// values for the requested refs.
type PropertyQueryAnswerMsg struct {
	SubscriptionID string            `json:"subscription_id"`
	Values         map[string]string `json:"values"`
}

// AgreementApprovedMsg notifies the counterparty that an agreement has been
// approved and carries the approving signature, per spec.md §4.7.
type AgreementApprovedMsg struct {
	AgreementID string    `json:"agreement_id"`
	Signature   []byte    `json:"signature"`
	ApprovedAt  time.Time `json:"approved_at"`
}

// AgreementTerminatedMsg notifies the counterparty of a terminal state
// transition and, when present, a human-readable reason.
type AgreementTerminatedMsg struct {
	AgreementID string  `json:"agreement_id"`
	Code        string  `json:"code"`
	Message     *string `json:"message,omitempty"`
}
