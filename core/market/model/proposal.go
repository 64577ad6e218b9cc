package model

import "time"

// ProposalState enumerates the lifecycle of a single negotiation round, per
// spec.md §3.
type ProposalState uint8

const (
	ProposalInitial ProposalState = iota
	ProposalDraft
	ProposalRejected
	ProposalAccepted
	ProposalExpired
)

func (s ProposalState) String() string {
	switch s {
	case ProposalInitial:
		return "Initial"
	case ProposalDraft:
		return "Draft"
	case ProposalRejected:
		return "Rejected"
	case ProposalAccepted:
		return "Accepted"
	case ProposalExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// ProposalBody carries the negotiable payload of a Proposal: the property
// document and constraint expression proposed for this round.
type ProposalBody struct {
	PropertiesJSON []byte
	Constraints    string
}

// Proposal links one Offer id and one Demand id and forms a chain with its
// predecessor, per spec.md §3.
type Proposal struct {
	ID         ProposalID
	PrevID     *ProposalID
	OfferID    SubscriptionID
	DemandID   SubscriptionID
	Body       ProposalBody
	Issuer     NodeID
	State      ProposalState
	CreatedAt  time.Time
}

// NewInitialProposal creates the first Proposal in a chain for a matched
// Offer/Demand pair. Initial proposals always reach the Demand's side
// first, so the id's owner tag is Requestor, per spec.md §4.6.
func NewInitialProposal(offerID, demandID SubscriptionID, body ProposalBody, issuer NodeID, createdAt time.Time) *Proposal {
	return &Proposal{
		ID:        NewProposalID(offerID, demandID, createdAt, OwnerRequestor),
		PrevID:    nil,
		OfferID:   offerID,
		DemandID:  demandID,
		Body:      body,
		Issuer:    issuer,
		State:     ProposalDraft,
		CreatedAt: createdAt,
	}
}

// Counter creates the next Proposal in the chain, countering p. The new
// proposal's owner tag is the opposite of p's — spec.md P4: for any
// proposal whose prev_id = q, q.owner != p.owner.
func (p *Proposal) Counter(body ProposalBody, issuer NodeID, createdAt time.Time) *Proposal {
	prev := p.ID
	return &Proposal{
		ID:        NewProposalID(p.OfferID, p.DemandID, createdAt, p.ID.Owner.Swap()),
		PrevID:    &prev,
		OfferID:   p.OfferID,
		DemandID:  p.DemandID,
		Body:      body,
		Issuer:    issuer,
		State:     ProposalDraft,
		CreatedAt: createdAt,
	}
}

// Clone returns a deep copy safe for callers to mutate.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Body.PropertiesJSON = append([]byte(nil), p.Body.PropertiesJSON...)
	if p.PrevID != nil {
		prev := *p.PrevID
		clone.PrevID = &prev
	}
	return &clone
}
