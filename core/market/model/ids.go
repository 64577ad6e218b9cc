// Package model defines the shared data model of the market-and-agreement
// subsystem described in spec.md §3: subscriptions, proposals, market
// events, and agreements, plus the content-addressable identifier schemes
// that tie them together.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// NodeID is an opaque identifier for a market participant. The identity
// collaborator (spec.md §6) is responsible for minting and verifying these;
// the market core treats them as comparable strings.
type NodeID string

// SubscriptionKind distinguishes Offers from Demands.
type SubscriptionKind uint8

const (
	KindOffer SubscriptionKind = iota
	KindDemand
)

func (k SubscriptionKind) String() string {
	if k == KindOffer {
		return "offer"
	}
	return "demand"
}

// SubscriptionID is the wire format of spec.md §6: 32 hex random prefix
// characters, a hyphen, then the hex SHA3-256 hash over canonical
// properties/constraints/node/timestamps.
type SubscriptionID string

// randomPrefix generates the 128-bit random prefix component of a
// subscription id.
func randomPrefix() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("model: failed to generate subscription id prefix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// hashSubscription computes the content hash that makes a subscription id
// reproducible from its body, per spec.md §3's invariant that "id hash must
// recompute".
func hashSubscription(nodeID NodeID, propertiesJSON []byte, constraints string, createdAt, expiresAt time.Time) [32]byte {
	h := sha3.New256()
	h.Write([]byte(nodeID))
	h.Write(propertiesJSON)
	h.Write([]byte(constraints))
	h.Write([]byte(strconv.FormatInt(createdAt.UTC().UnixNano(), 10)))
	h.Write([]byte(strconv.FormatInt(expiresAt.UTC().UnixNano(), 10)))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NewSubscriptionID mints a fresh subscription id for the given body.
func NewSubscriptionID(nodeID NodeID, propertiesJSON []byte, constraints string, createdAt, expiresAt time.Time) (SubscriptionID, error) {
	prefix, err := randomPrefix()
	if err != nil {
		return "", err
	}
	sum := hashSubscription(nodeID, propertiesJSON, constraints, createdAt, expiresAt)
	return SubscriptionID(prefix + "-" + hex.EncodeToString(sum[:])), nil
}

// ValidateSubscriptionID recomputes the hash suffix of id against the
// supplied body and reports whether it matches.
func ValidateSubscriptionID(id SubscriptionID, nodeID NodeID, propertiesJSON []byte, constraints string, createdAt, expiresAt time.Time) bool {
	parts := strings.SplitN(string(id), "-", 2)
	if len(parts) != 2 {
		return false
	}
	sum := hashSubscription(nodeID, propertiesJSON, constraints, createdAt, expiresAt)
	return parts[1] == hex.EncodeToString(sum[:])
}

// Owner tags which side of a bilateral negotiation chain a Proposal or
// Agreement id belongs to. Owner-tagged ids replace role-specific id types:
// the hash payload is stable, only the tag flips as a message crosses the
// wire, per spec.md §9.
type Owner byte

const (
	OwnerProvider  Owner = 'P'
	OwnerRequestor Owner = 'R'
)

func (o Owner) String() string { return string(o) }

// Swap returns the opposite owner tag.
func (o Owner) Swap() Owner {
	if o == OwnerProvider {
		return OwnerRequestor
	}
	return OwnerProvider
}

// Valid reports whether o is a recognised owner tag.
func (o Owner) Valid() bool { return o == OwnerProvider || o == OwnerRequestor }

// ParseOwner parses a single-character owner tag.
func ParseOwner(s string) (Owner, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("model: invalid owner tag %q", s)
	}
	o := Owner(s[0])
	if !o.Valid() {
		return 0, fmt.Errorf("model: invalid owner tag %q", s)
	}
	return o, nil
}

// ProposalID is the wire format "P-<hex>" or "R-<hex>": an owner tag plus a
// SHA3-256 hash over offer_id ‖ demand_id ‖ creation_ts, per spec.md §3.
// AgreementID reuses the same type: an Agreement's id is the promoted
// Proposal's id at the moment of promotion (spec.md §3).
type ProposalID struct {
	Owner Owner
	Hash  string
}

func (p ProposalID) String() string {
	return fmt.Sprintf("%c-%s", p.Owner, p.Hash)
}

// IsZero reports whether p is the unset value.
func (p ProposalID) IsZero() bool { return p.Hash == "" }

// WithOwner returns a copy of p with the same hash tagged for owner, used
// when a proposal id crosses the wire, per spec.md §3.
func (p ProposalID) WithOwner(owner Owner) ProposalID {
	return ProposalID{Owner: owner, Hash: p.Hash}
}

// ParseProposalID parses the "P-<hex>"/"R-<hex>" wire format.
func ParseProposalID(s string) (ProposalID, error) {
	idx := strings.IndexByte(s, '-')
	if idx != 1 {
		return ProposalID{}, fmt.Errorf("model: malformed proposal id %q", s)
	}
	owner, err := ParseOwner(s[:1])
	if err != nil {
		return ProposalID{}, err
	}
	hash := s[2:]
	if hash == "" {
		return ProposalID{}, fmt.Errorf("model: malformed proposal id %q", s)
	}
	return ProposalID{Owner: owner, Hash: hash}, nil
}

// HashProposal computes the stable hash payload of a proposal id. The same
// hash is reused regardless of which side observes the proposal; only the
// Owner tag differs, per spec.md §9.
func HashProposal(offerID, demandID SubscriptionID, creationTS time.Time) string {
	h := sha3.New256()
	h.Write([]byte(offerID))
	h.Write([]byte(demandID))
	h.Write([]byte(creationTS.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// NewProposalID mints a proposal id for the given pair and creation time,
// tagged for owner.
func NewProposalID(offerID, demandID SubscriptionID, creationTS time.Time, owner Owner) ProposalID {
	return ProposalID{Owner: owner, Hash: HashProposal(offerID, demandID, creationTS)}
}

// AgreementID aliases ProposalID: an Agreement's id is the proposal id at
// the moment of promotion, per spec.md §3.
type AgreementID = ProposalID
