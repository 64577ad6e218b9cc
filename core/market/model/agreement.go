package model

import "time"

// AgreementState enumerates the automaton states of spec.md §4.7.
type AgreementState uint8

const (
	AgreementProposal AgreementState = iota
	AgreementPending
	AgreementApproved
	AgreementRejected
	AgreementCancelled
	AgreementExpired
	AgreementTerminated
)

func (s AgreementState) String() string {
	switch s {
	case AgreementProposal:
		return "Proposal"
	case AgreementPending:
		return "Pending"
	case AgreementApproved:
		return "Approved"
	case AgreementRejected:
		return "Rejected"
	case AgreementCancelled:
		return "Cancelled"
	case AgreementExpired:
		return "Expired"
	case AgreementTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s has no further transitions.
func (s AgreementState) IsTerminal() bool {
	switch s {
	case AgreementRejected, AgreementCancelled, AgreementExpired, AgreementTerminated:
		return true
	default:
		return false
	}
}

// Snapshot freezes one side's properties/constraints at Agreement creation
// time, per spec.md §3.
type Snapshot struct {
	PropertiesJSON []byte
	Constraints    string
}

// TerminationReason captures why an Agreement was terminated, visible to
// both sides via get_terminate_reason (spec.md §6), grounded on
// original_source's test_agreement_reason.rs.
type TerminationReason struct {
	Code    string
	Message string
}

// Agreement is a committed bilateral contract derived from a terminal
// Proposal, per spec.md §3.
type Agreement struct {
	ID             AgreementID
	OfferSnapshot  Snapshot
	DemandSnapshot Snapshot
	ProviderID     NodeID
	RequestorID    NodeID
	CreatedAt      time.Time
	ValidTo        time.Time
	ApprovedDate   *time.Time
	State          AgreementState
	AppSessionID   string

	ProposedSignature  []byte
	ApprovedSignature  []byte
	CommittedSignature []byte

	TerminatedBy  NodeID
	TerminateInfo *TerminationReason
}

// NewAgreement creates an Agreement in the initial Proposal state from a
// pair of terminal offer/demand proposals, per spec.md §4.7's
// create_agreement operation.
func NewAgreement(offerProposal, demandProposal *Proposal, providerID, requestorID NodeID, validTo time.Time, createdAt time.Time, owner Owner) *Agreement {
	id := offerProposal.ID.WithOwner(owner)
	return &Agreement{
		ID: id,
		OfferSnapshot: Snapshot{
			PropertiesJSON: offerProposal.Body.PropertiesJSON,
			Constraints:    offerProposal.Body.Constraints,
		},
		DemandSnapshot: Snapshot{
			PropertiesJSON: demandProposal.Body.PropertiesJSON,
			Constraints:    demandProposal.Body.Constraints,
		},
		ProviderID:  providerID,
		RequestorID: requestorID,
		CreatedAt:   createdAt,
		ValidTo:     validTo,
		State:       AgreementProposal,
	}
}

// Clone returns a deep copy safe for callers to mutate.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	clone.OfferSnapshot.PropertiesJSON = append([]byte(nil), a.OfferSnapshot.PropertiesJSON...)
	clone.DemandSnapshot.PropertiesJSON = append([]byte(nil), a.DemandSnapshot.PropertiesJSON...)
	clone.ProposedSignature = append([]byte(nil), a.ProposedSignature...)
	clone.ApprovedSignature = append([]byte(nil), a.ApprovedSignature...)
	clone.CommittedSignature = append([]byte(nil), a.CommittedSignature...)
	if a.ApprovedDate != nil {
		t := *a.ApprovedDate
		clone.ApprovedDate = &t
	}
	if a.TerminateInfo != nil {
		reason := *a.TerminateInfo
		clone.TerminateInfo = &reason
	}
	return &clone
}
