// Package errors enumerates the market subsystem's error taxonomy from
// spec.md §7: Validation, State, Not-found, Remote protocol, Transport,
// Persistence, and Internal. All sentinels live in this file, grouped by
// concern into separate var blocks.
package errors

import stderrors "errors"

// Validation errors: malformed literals, malformed filters, id-hash
// mismatch, unknown subscription owner.
var (
	ErrInvalidProperties  = stderrors.New("market: properties must be a JSON object")
	ErrInvalidConstraints = stderrors.New("market: constraint expression failed to parse")
	ErrIDHashMismatch     = stderrors.New("market: subscription id hash does not match its body")
	ErrUnknownOwner       = stderrors.New("market: subscription owner is not recognised")
	ErrInvalidExpiration  = stderrors.New("market: expiration must be after creation")
)

// State errors: wrong state for the requested operation. These are normal
// race outcomes, not server failures.
var (
	ErrExists              = stderrors.New("market: subscription already exists")
	ErrUnsubscribed        = stderrors.New("market: subscription has been unsubscribed")
	ErrExpired             = stderrors.New("market: subscription or proposal has expired")
	ErrAlreadyCountered    = stderrors.New("market: proposal chain already has a newer counter")
	ErrNoPrevious          = stderrors.New("market: no previous proposal to counter")
	ErrNotMatching         = stderrors.New("market: constraints no longer resolve to a match")
	ErrNoNegotiations      = stderrors.New("market: proposal was never countered")
	ErrAlreadyProposed     = stderrors.New("market: agreement already exists in Proposal state")
	ErrAlreadyConfirmed    = stderrors.New("market: agreement already confirmed")
	ErrAlreadyApproved     = stderrors.New("market: agreement already approved")
	ErrWrongAgreementState = stderrors.New("market: agreement is not in the required state")
)

// Not-found errors: missing subscription, proposal, or agreement.
var (
	ErrSubscriptionNotFound = stderrors.New("market: subscription not found")
	ErrProposalNotFound     = stderrors.New("market: proposal not found")
	ErrAgreementNotFound    = stderrors.New("market: agreement not found")
)

// Other top-level error kinds.
var (
	ErrInvalidID     = stderrors.New("market: malformed identifier")
	ErrTransport     = stderrors.New("market: overlay transport failure")
	ErrPersistence   = stderrors.New("market: persistence operation failed")
	ErrInternal      = stderrors.New("market: internal invariant violation")
)

// RemoteError classifies an outbound protocol error with a sanitized public
// message and a locally-logged original message, per spec.md §4.7's
// remote-error hiding rule: the original message is blanked before
// transmission so local internals never leak to a peer.
type RemoteError struct {
	PublicMsg   string
	originalMsg string
}

// NewRemoteError builds a RemoteError that keeps originalMsg for local
// logging only.
func NewRemoteError(publicMsg, originalMsg string) *RemoteError {
	return &RemoteError{PublicMsg: publicMsg, originalMsg: originalMsg}
}

func (e *RemoteError) Error() string { return e.PublicMsg }

// Original returns the unsanitized message for local logging. Callers must
// never forward this value across the wire.
func (e *RemoteError) Original() string { return e.originalMsg }

// Sanitized returns a copy of the error with the original message blanked,
// safe to serialize onto the wire.
func (e *RemoteError) Sanitized() *RemoteError {
	return &RemoteError{PublicMsg: e.PublicMsg}
}
