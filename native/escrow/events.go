package escrow

import (
	"encoding/hex"
	"math/big"

	"github.com/web5lab/payout-ai/core/types"
)

const (
	EventTypeDeposited      = "escrow.deposited"
	EventTypeRefunded       = "escrow.refunded"
	EventTypeRefundsEnabled = "escrow.refunds_enabled"
	EventTypeWithdrawn      = "escrow.withdrawn"
)

// NewDepositedEvent returns the canonical event payload for a recorded
// deposit.
func NewDepositedEvent(d *Deposit) *types.Event {
	attrs := make(map[string]string)
	if d != nil {
		sanitized, err := SanitizeDeposit(d)
		if err == nil {
			attrs["offeringId"] = hex.EncodeToString(sanitized.OfferingID[:])
			attrs["investor"] = hex.EncodeToString(sanitized.Investor[:])
			attrs["asset"] = sanitized.Asset
			attrs["amount"] = sanitized.Amount.String()
		}
	}
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewRefundedEvent returns the canonical event payload for a released refund.
func NewRefundedEvent(offeringID [32]byte, investor [20]byte, asset string, amount *big.Int) *types.Event {
	amt := "0"
	if amount != nil {
		amt = amount.String()
	}
	return &types.Event{Type: EventTypeRefunded, Attributes: map[string]string{
		"offeringId": hex.EncodeToString(offeringID[:]),
		"investor":   hex.EncodeToString(investor[:]),
		"asset":      asset,
		"amount":     amt,
	}}
}

// NewRefundsEnabledEvent returns the payload emitted when the one-way refund
// switch flips.
func NewRefundsEnabledEvent() *types.Event {
	return &types.Event{Type: EventTypeRefundsEnabled, Attributes: map[string]string{}}
}

// NewWithdrawnEvent returns the payload emitted for an administrative sweep.
func NewWithdrawnEvent(asset string, amount *big.Int, to [20]byte) *types.Event {
	amt := "0"
	if amount != nil {
		amt = amount.String()
	}
	return &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
		"asset":  asset,
		"amount": amt,
		"to":     hex.EncodeToString(to[:]),
	}}
}
