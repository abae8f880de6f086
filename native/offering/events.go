package offering

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/web5lab/payout-ai/core/types"
)

const (
	EventTypeCreated        = "offering.created"
	EventTypeInvestment     = "offering.investment"
	EventTypeSoftCapReached = "offering.softcap_reached"
	EventTypeSaleClosed     = "offering.sale_closed"
	EventTypeFinalized      = "offering.finalized"
	EventTypeCancelled      = "offering.cancelled"
	EventTypeTokensClaimed  = "offering.tokens_claimed"
)

func offeringAttrs(o *Offering) map[string]string {
	attrs := make(map[string]string)
	if o == nil {
		return attrs
	}
	attrs["offeringId"] = hex.EncodeToString(o.ID[:])
	attrs["owner"] = hex.EncodeToString(o.Owner[:])
	attrs["saleAsset"] = o.SaleAsset
	if o.TotalRaised != nil {
		attrs["totalRaised"] = o.TotalRaised.String()
	}
	attrs["status"] = o.Status.String()
	return attrs
}

// NewCreatedEvent returns the payload emitted when a round is registered.
func NewCreatedEvent(o *Offering) *types.Event {
	attrs := offeringAttrs(o)
	if o != nil {
		if o.FundraisingCap != nil {
			attrs["fundraisingCap"] = o.FundraisingCap.String()
		}
		attrs["startTime"] = strconv.FormatInt(o.StartTime, 10)
		attrs["endTime"] = strconv.FormatInt(o.EndTime, 10)
		attrs["payoutEnabled"] = strconv.FormatBool(o.PayoutEnabled)
	}
	return &types.Event{Type: EventTypeCreated, Attributes: attrs}
}

// NewInvestmentEvent returns the payload emitted for an admitted
// contribution.
func NewInvestmentEvent(o *Offering, investor [20]byte, asset string, amount, value, tokens *big.Int) *types.Event {
	attrs := offeringAttrs(o)
	attrs["investor"] = hex.EncodeToString(investor[:])
	attrs["paymentAsset"] = asset
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	if value != nil {
		attrs["usdValue"] = value.String()
	}
	if tokens != nil {
		attrs["tokens"] = tokens.String()
	}
	return &types.Event{Type: EventTypeInvestment, Attributes: attrs}
}

// NewSoftCapReachedEvent returns the payload emitted exactly once when the
// soft cap is crossed.
func NewSoftCapReachedEvent(o *Offering) *types.Event {
	return &types.Event{Type: EventTypeSoftCapReached, Attributes: offeringAttrs(o)}
}

// NewSaleClosedEvent returns the payload emitted when the raise reaches the
// fundraising cap.
func NewSaleClosedEvent(o *Offering) *types.Event {
	return &types.Event{Type: EventTypeSaleClosed, Attributes: offeringAttrs(o)}
}

// NewFinalizedEvent returns the payload emitted at the Finalized transition.
func NewFinalizedEvent(o *Offering) *types.Event {
	return &types.Event{Type: EventTypeFinalized, Attributes: offeringAttrs(o)}
}

// NewCancelledEvent returns the payload emitted at the Cancelled transition.
func NewCancelledEvent(o *Offering) *types.Event {
	return &types.Event{Type: EventTypeCancelled, Attributes: offeringAttrs(o)}
}

// NewTokensClaimedEvent returns the payload emitted when an investor settles
// a pending claim, either as a direct transfer or a payout registration.
func NewTokensClaimedEvent(o *Offering, investor [20]byte, tokens *big.Int, registered bool) *types.Event {
	attrs := offeringAttrs(o)
	attrs["investor"] = hex.EncodeToString(investor[:])
	if tokens != nil {
		attrs["tokens"] = tokens.String()
	}
	attrs["payoutRegistered"] = strconv.FormatBool(registered)
	return &types.Event{Type: EventTypeTokensClaimed, Attributes: attrs}
}
