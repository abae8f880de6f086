package invest

import (
	"encoding/hex"
	"math/big"

	"github.com/web5lab/payout-ai/core/types"
)

const (
	EventTypeValidatorAdded     = "invest.validator_added"
	EventTypeValidatorRemoved   = "invest.validator_removed"
	EventTypeCredentialAccepted = "invest.credential_accepted"
	EventTypeRefundClaimed      = "invest.refund_claimed"
)

// NewValidatorAddedEvent returns the payload emitted when a KYB validator is
// registered.
func NewValidatorAddedEvent(validator [20]byte) *types.Event {
	return &types.Event{Type: EventTypeValidatorAdded, Attributes: map[string]string{
		"validator": hex.EncodeToString(validator[:]),
	}}
}

// NewValidatorRemovedEvent returns the payload emitted when a KYB validator
// is deregistered.
func NewValidatorRemovedEvent(validator [20]byte) *types.Event {
	return &types.Event{Type: EventTypeValidatorRemoved, Attributes: map[string]string{
		"validator": hex.EncodeToString(validator[:]),
	}}
}

// NewCredentialAcceptedEvent returns the payload emitted when a credential
// digest is consumed.
func NewCredentialAcceptedEvent(investor, signer [20]byte, digest [32]byte) *types.Event {
	return &types.Event{Type: EventTypeCredentialAccepted, Attributes: map[string]string{
		"investor": hex.EncodeToString(investor[:]),
		"signer":   hex.EncodeToString(signer[:]),
		"digest":   hex.EncodeToString(digest[:]),
	}}
}

// NewRefundClaimedEvent returns the payload emitted when an escrowed deposit
// is returned after cancellation.
func NewRefundClaimedEvent(offeringID [32]byte, investor [20]byte, asset string, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"offeringId": hex.EncodeToString(offeringID[:]),
		"investor":   hex.EncodeToString(investor[:]),
		"asset":      asset,
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeRefundClaimed, Attributes: attrs}
}
