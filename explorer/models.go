package explorer

import (
	"time"

	"github.com/google/uuid"
)

// EventRecord stores every emitted engine event verbatim: one row per event,
// attributes flattened to JSON. It is the raw feed the typed tables below are
// derived from.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// InvestmentRecord is one admitted contribution.
type InvestmentRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	OfferingID   string    `gorm:"size:64;index"`
	Investor     string    `gorm:"size:40;index"`
	PaymentAsset string    `gorm:"size:16"`
	Amount       string    `gorm:"size:80"`
	UsdValue     string    `gorm:"size:80"`
	Tokens       string    `gorm:"size:80"`
	CreatedAt    time.Time
}

// RefundRecord is one returned escrow deposit.
type RefundRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OfferingID string    `gorm:"size:64;index"`
	Investor   string    `gorm:"size:40;index"`
	Asset      string    `gorm:"size:16"`
	Amount     string    `gorm:"size:80"`
	CreatedAt  time.Time
}

// PayoutRecord is one settled payout: periodic, final or emergency unlock.
type PayoutRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OfferingID string    `gorm:"size:64;index"`
	Investor   string    `gorm:"size:40;index"`
	Kind       string    `gorm:"size:24;index"`
	Amount     string    `gorm:"size:80"`
	Penalty    string    `gorm:"size:80"`
	CreatedAt  time.Time
}

// ValidatorRecord tracks the KYB validator set over time.
type ValidatorRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Validator string    `gorm:"size:40;index"`
	Action    string    `gorm:"size:16"`
	CreatedAt time.Time
}
