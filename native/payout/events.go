package payout

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/web5lab/payout-ai/core/types"
)

const (
	EventTypeRegistered      = "payout.registered"
	EventTypeClaimed         = "payout.claimed"
	EventTypeFinalClaimed    = "payout.final_claimed"
	EventTypeEmergencyUnlock = "payout.emergency_unlock"
)

func positionAttrs(p *Position) map[string]string {
	attrs := make(map[string]string)
	if p == nil {
		return attrs
	}
	attrs["offering"] = hex.EncodeToString(p.OfferingID[:])
	attrs["investor"] = hex.EncodeToString(p.Investor[:])
	attrs["asset"] = p.Asset
	if p.Principal != nil {
		attrs["principal"] = p.Principal.String()
	}
	if p.TotalPayoutsClaimed != nil {
		attrs["totalClaimed"] = p.TotalPayoutsClaimed.String()
	}
	attrs["frequency"] = strconv.FormatUint(p.PayoutFrequency, 10)
	return attrs
}

// NewRegisteredEvent returns the payload emitted when a claim right is
// created.
func NewRegisteredEvent(p *Position) *types.Event {
	attrs := positionAttrs(p)
	if p != nil && p.PayoutAmountPerPeriod != nil {
		attrs["perPeriod"] = p.PayoutAmountPerPeriod.String()
	}
	return &types.Event{Type: EventTypeRegistered, Attributes: attrs}
}

// NewClaimedEvent returns the payload emitted for a settled periodic payout.
func NewClaimedEvent(p *Position, due *big.Int, periods int64) *types.Event {
	attrs := positionAttrs(p)
	if due != nil {
		attrs["due"] = due.String()
	}
	attrs["periods"] = strconv.FormatInt(periods, 10)
	return &types.Event{Type: EventTypeClaimed, Attributes: attrs}
}

// NewFinalClaimedEvent returns the payload emitted when the principal is
// returned at maturity.
func NewFinalClaimedEvent(p *Position) *types.Event {
	return &types.Event{Type: EventTypeFinalClaimed, Attributes: positionAttrs(p)}
}

// NewEmergencyUnlockEvent returns the payload emitted for an early exit with
// penalty.
func NewEmergencyUnlockEvent(p *Position, returned, penalty *big.Int) *types.Event {
	attrs := positionAttrs(p)
	if returned != nil {
		attrs["returned"] = returned.String()
	}
	if penalty != nil {
		attrs["penalty"] = penalty.String()
	}
	return &types.Event{Type: EventTypeEmergencyUnlock, Attributes: attrs}
}
