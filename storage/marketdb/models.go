// Package marketdb defines gorm rows for the market-and-agreement
// subsystem's subscriptions, proposals, market events, and agreements,
// following the row-model-plus-AutoMigrate convention of
// services/otc-gateway/models. AutoMigrate creates all four tables; Store
// reads and writes only the subscription table.
package marketdb

import (
	"time"

	"gorm.io/gorm"
)

// SubscriptionRow is the gorm row for both offer and demand tables; Kind
// distinguishes them within a single physical table rather than the two
// logical tables of spec.md §6, trading a WHERE clause for one fewer
// migration to keep in sync.
type SubscriptionRow struct {
	ID             string `gorm:"primaryKey"`
	Kind           uint8  `gorm:"index;not null"`
	NodeID         string `gorm:"index;not null"`
	PropertiesJSON []byte `gorm:"type:jsonb;not null"`
	Constraints    string `gorm:"not null"`
	CreatedAt      time.Time
	InsertionTS    time.Time `gorm:"index"`
	ExpiresAt      time.Time `gorm:"index"`
	Unsubscribed   bool      `gorm:"index;not null;default:false"`
	Local          bool      `gorm:"not null;default:false"`
}

func (SubscriptionRow) TableName() string { return "market_subscriptions" }

// ProposalRow is the gorm row backing spec.md §6's proposal table.
type ProposalRow struct {
	ID             string `gorm:"primaryKey"`
	Owner          string `gorm:"size:1;not null"`
	PrevID         *string
	OfferID        string `gorm:"index;not null"`
	DemandID       string `gorm:"index;not null"`
	BodyProperties []byte `gorm:"type:jsonb;not null"`
	BodyConstraints string `gorm:"not null"`
	Issuer         string `gorm:"not null"`
	State          uint8  `gorm:"not null"`
	CreatedAt      time.Time
}

func (ProposalRow) TableName() string { return "market_proposals" }

// MarketEventRow is the gorm row backing spec.md §6's market_event table.
type MarketEventRow struct {
	AutoID         int64  `gorm:"primaryKey;autoIncrement"`
	SubscriptionID string `gorm:"index;not null"`
	Timestamp      time.Time
	EventType      string `gorm:"not null"`
	ArtifactID     string
	Reason         *string
}

func (MarketEventRow) TableName() string { return "market_events" }

// AgreementRow is the gorm row backing spec.md §6's agreement table.
type AgreementRow struct {
	ID                 string `gorm:"primaryKey"`
	Owner              string `gorm:"size:1;not null"`
	OfferSnapshotProps []byte `gorm:"type:jsonb;not null"`
	OfferSnapshotCons  string `gorm:"not null"`
	DemandSnapshotProps []byte `gorm:"type:jsonb;not null"`
	DemandSnapshotCons string `gorm:"not null"`
	ProviderID         string `gorm:"index;not null"`
	RequestorID        string `gorm:"index;not null"`
	CreatedAt          time.Time
	ValidTo            time.Time `gorm:"index"`
	ApprovedDate       *time.Time
	State              uint8 `gorm:"index;not null"`
	AppSessionID       string
	ProposedSignature  []byte
	ApprovedSignature  []byte
	CommittedSignature []byte
	TerminatedBy       string
	TerminationCode    string
	TerminationMessage string
}

func (AgreementRow) TableName() string { return "market_agreements" }

// AutoMigrate creates or updates every market table, matching
// services/otc-gateway/models.AutoMigrate's convention of one call at
// startup.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&SubscriptionRow{},
		&ProposalRow{},
		&MarketEventRow{},
		&AgreementRow{},
	)
}
