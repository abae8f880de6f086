package explorer

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web5lab/payout-ai/core/events"
	"github.com/web5lab/payout-ai/core/types"
)

// Indexer subscribes to engine events and materialises them into queryable
// SQL tables. It satisfies events.Emitter so it can be fanned in next to the
// service emitter; indexing failures are logged, never propagated back into
// the engines.
type Indexer struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open initialises the explorer database at the supplied sqlite DSN and
// migrates the schema.
func Open(dsn string, log *slog.Logger) (*Indexer, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&EventRecord{},
		&InvestmentRecord{},
		&RefundRecord{},
		&PayoutRecord{},
		&ValidatorRecord{},
	); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (ix *Indexer) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying handle for read queries.
func (ix *Indexer) DB() *gorm.DB {
	if ix == nil {
		return nil
	}
	return ix.db
}

// payloadCarrier is implemented by every engine event wrapper.
type payloadCarrier interface {
	Event() *types.Event
}

// Emit implements events.Emitter.
func (ix *Indexer) Emit(evt events.Event) {
	if ix == nil || ix.db == nil || evt == nil {
		return
	}
	carrier, ok := evt.(payloadCarrier)
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	if err := ix.index(payload); err != nil {
		ix.log.Error("explorer index failed", "type", payload.Type, "err", err)
	}
}

func (ix *Indexer) index(payload *types.Event) error {
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return err
	}
	record := &EventRecord{
		ID:         uuid.New(),
		Type:       payload.Type,
		Attributes: string(attrs),
	}
	if err := ix.db.Create(record).Error; err != nil {
		return err
	}
	get := func(key string) string { return payload.Attributes[key] }

	switch payload.Type {
	case "offering.investment":
		return ix.db.Create(&InvestmentRecord{
			ID:           uuid.New(),
			OfferingID:   get("offeringId"),
			Investor:     get("investor"),
			PaymentAsset: get("paymentAsset"),
			Amount:       get("amount"),
			UsdValue:     get("usdValue"),
			Tokens:       get("tokens"),
		}).Error
	case "escrow.refunded":
		return ix.db.Create(&RefundRecord{
			ID:         uuid.New(),
			OfferingID: get("offeringId"),
			Investor:   get("investor"),
			Asset:      get("asset"),
			Amount:     get("amount"),
		}).Error
	case "payout.claimed":
		return ix.db.Create(&PayoutRecord{
			ID:         uuid.New(),
			OfferingID: get("offering"),
			Investor:   get("investor"),
			Kind:       "periodic",
			Amount:     get("due"),
		}).Error
	case "payout.final_claimed":
		return ix.db.Create(&PayoutRecord{
			ID:         uuid.New(),
			OfferingID: get("offering"),
			Investor:   get("investor"),
			Kind:       "final",
			Amount:     get("principal"),
		}).Error
	case "payout.emergency_unlock":
		return ix.db.Create(&PayoutRecord{
			ID:         uuid.New(),
			OfferingID: get("offering"),
			Investor:   get("investor"),
			Kind:       "emergency",
			Amount:     get("returned"),
			Penalty:    get("penalty"),
		}).Error
	case "invest.validator_added", "invest.validator_removed":
		action := "added"
		if strings.HasSuffix(payload.Type, "removed") {
			action = "removed"
		}
		return ix.db.Create(&ValidatorRecord{
			ID:        uuid.New(),
			Validator: get("validator"),
			Action:    action,
		}).Error
	}
	return nil
}

// Investments returns the most recent admitted contributions, newest first.
func (ix *Indexer) Investments(limit int) ([]InvestmentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []InvestmentRecord
	err := ix.db.Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// Payouts returns the most recent settled payouts, newest first.
func (ix *Indexer) Payouts(limit int) ([]PayoutRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []PayoutRecord
	err := ix.db.Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// Refunds returns the most recent refunds, newest first.
func (ix *Indexer) Refunds(limit int) ([]RefundRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []RefundRecord
	err := ix.db.Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}
