package model

import "time"

// EventType enumerates the market event kinds of spec.md §3, mirroring the
// original implementation's numeric grouping (Provider* in the 1000s,
// Requestor* in the 2000s) purely as a documentation convention; the Go
// representation below uses a plain string enum instead of magic numbers.
type EventType string

const (
	EventProviderProposal       EventType = "ProviderProposal"
	EventProviderAgreement      EventType = "ProviderAgreement"
	EventProviderPropertyQuery  EventType = "ProviderPropertyQuery"
	EventRequestorProposal      EventType = "RequestorProposal"
	EventRequestorPropertyQuery EventType = "RequestorPropertyQuery"
)

// MarketEvent is a per-subscription queue entry, per spec.md §3.
type MarketEvent struct {
	ID             int64
	SubscriptionID SubscriptionID
	Timestamp      time.Time
	Type           EventType
	ArtifactID     string
	Reason         *string
}
