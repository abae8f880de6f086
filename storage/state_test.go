package storage

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/web5lab/payout-ai/native/escrow"
	"github.com/web5lab/payout-ai/native/offering"
	"github.com/web5lab/payout-ai/native/payout"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	return NewState(NewMemDB())
}

func TestAccountRoundTrip(t *testing.T) {
	state := newTestState(t)
	addr := []byte{0x01, 0x02}

	account, err := state.GetAccount(addr)
	require.NoError(t, err)
	require.NotNil(t, account)
	require.Zero(t, account.Balance("USDC").Sign())

	account.Nonce = 7
	account.SetBalance("USDC", big.NewInt(1_000_000))
	require.NoError(t, state.PutAccount(addr, account))

	loaded, err := state.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(7), loaded.Nonce)
	require.Zero(t, loaded.Balance("USDC").Cmp(big.NewInt(1_000_000)))
}

func TestEscrowDepositRoundTrip(t *testing.T) {
	state := newTestState(t)
	offeringID := [32]byte{0xAA}
	investor := [20]byte{0x01}

	_, ok := state.EscrowDepositGet(offeringID, investor)
	require.False(t, ok)

	deposit := &escrow.Deposit{
		OfferingID: offeringID,
		Investor:   investor,
		Amount:     big.NewInt(500),
		Asset:      "usdc",
	}
	require.NoError(t, state.EscrowDepositPut(deposit))

	loaded, ok := state.EscrowDepositGet(offeringID, investor)
	require.True(t, ok)
	require.Equal(t, "USDC", loaded.Asset)
	require.Zero(t, loaded.Amount.Cmp(big.NewInt(500)))

	// Writes overwrite the single slot.
	deposit.Amount = big.NewInt(200)
	require.NoError(t, state.EscrowDepositPut(deposit))
	loaded, ok = state.EscrowDepositGet(offeringID, investor)
	require.True(t, ok)
	require.Zero(t, loaded.Amount.Cmp(big.NewInt(200)))
}

func TestEscrowRefundSwitch(t *testing.T) {
	state := newTestState(t)
	enabled, err := state.EscrowRefundsEnabled()
	require.NoError(t, err)
	require.False(t, enabled)

	require.NoError(t, state.EscrowSetRefundsEnabled())
	enabled, err = state.EscrowRefundsEnabled()
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestOfferingRoundTrip(t *testing.T) {
	state := newTestState(t)
	record := &offering.Offering{
		ID:             [32]byte{0xBB},
		Owner:          [20]byte{0x02},
		SaleAsset:      "PAI",
		MinInvestment:  big.NewInt(100),
		MaxInvestment:  big.NewInt(0),
		SoftCap:        big.NewInt(5_000),
		FundraisingCap: big.NewInt(10_000),
		PricePerToken:  big.NewInt(1),
		StartTime:      100,
		EndTime:        200,
		TotalRaised:    big.NewInt(1_234),
		PaymentAssets:  map[string]uint8{"USDC": 6},
	}
	require.NoError(t, state.OfferingPut(record))

	loaded, ok := state.OfferingGet(record.ID)
	require.True(t, ok)
	require.Equal(t, record.SaleAsset, loaded.SaleAsset)
	require.Zero(t, loaded.TotalRaised.Cmp(big.NewInt(1_234)))
	require.Equal(t, uint8(6), loaded.PaymentAssets["USDC"])

	contrib, err := state.ContributionGet(record.ID, record.Owner)
	require.NoError(t, err)
	require.Zero(t, contrib.Sign())

	require.NoError(t, state.ContributionPut(record.ID, record.Owner, big.NewInt(777)))
	contrib, err = state.ContributionGet(record.ID, record.Owner)
	require.NoError(t, err)
	require.Zero(t, contrib.Cmp(big.NewInt(777)))

	require.NoError(t, state.PendingClaimPut(record.ID, record.Owner, big.NewInt(42)))
	pending, err := state.PendingClaimGet(record.ID, record.Owner)
	require.NoError(t, err)
	require.Zero(t, pending.Cmp(big.NewInt(42)))
}

func TestPayoutPositionAndMaturity(t *testing.T) {
	state := newTestState(t)
	investor := [20]byte{0x03}
	offeringID := [32]byte{0xA1}
	otherOffering := [32]byte{0xB2}

	_, ok := state.PayoutPositionGet(offeringID, investor)
	require.False(t, ok)

	position := &payout.Position{
		OfferingID:            offeringID,
		Investor:              investor,
		Principal:             big.NewInt(1_000),
		Asset:                 "PAI",
		PayoutFrequency:       2_592_000,
		LastPayoutTime:        1_700_000_000,
		TotalPayoutsClaimed:   big.NewInt(50),
		PayoutAmountPerPeriod: big.NewInt(50),
	}
	require.NoError(t, state.PayoutPositionPut(position))

	loaded, ok := state.PayoutPositionGet(offeringID, investor)
	require.True(t, ok)
	require.Zero(t, loaded.Principal.Cmp(big.NewInt(1_000)))
	require.Equal(t, position.PayoutFrequency, loaded.PayoutFrequency)

	// Positions are scoped to their round.
	_, ok = state.PayoutPositionGet(otherOffering, investor)
	require.False(t, ok)

	// Invalid positions never reach the store.
	bad := position.Clone()
	bad.TotalPayoutsClaimed = big.NewInt(2_000)
	require.Error(t, state.PayoutPositionPut(bad))

	_, fixed, err := state.PayoutMaturityGet(offeringID)
	require.NoError(t, err)
	require.False(t, fixed)

	require.NoError(t, state.PayoutMaturitySet(offeringID, 1_800_000_000))
	maturity, fixed, err := state.PayoutMaturityGet(offeringID)
	require.NoError(t, err)
	require.True(t, fixed)
	require.Equal(t, int64(1_800_000_000), maturity)

	// Maturities are scoped to their round too.
	_, fixed, err = state.PayoutMaturityGet(otherOffering)
	require.NoError(t, err)
	require.False(t, fixed)
}

func TestValidatorSet(t *testing.T) {
	state := newTestState(t)
	a := [20]byte{0x0A}
	b := [20]byte{0x0B}

	count, err := state.KYBValidatorCount()
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, state.KYBValidatorPut(a))
	require.NoError(t, state.KYBValidatorPut(a)) // idempotent
	require.NoError(t, state.KYBValidatorPut(b))

	count, err = state.KYBValidatorCount()
	require.NoError(t, err)
	require.Equal(t, 2, count)

	has, err := state.KYBValidatorHas(a)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, state.KYBValidatorDelete(a))
	has, err = state.KYBValidatorHas(a)
	require.NoError(t, err)
	require.False(t, has)
	count, err = state.KYBValidatorCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestUsedDigestsAndRefundSignals(t *testing.T) {
	state := newTestState(t)
	digest := [32]byte{0xCC}
	offeringID := [32]byte{0xDD}

	used, err := state.UsedDigestHas(digest)
	require.NoError(t, err)
	require.False(t, used)
	require.NoError(t, state.UsedDigestPut(digest))
	used, err = state.UsedDigestHas(digest)
	require.NoError(t, err)
	require.True(t, used)

	signalled, err := state.RefundSignalGet(offeringID)
	require.NoError(t, err)
	require.False(t, signalled)
	require.NoError(t, state.RefundSignalSet(offeringID))
	signalled, err = state.RefundSignalGet(offeringID)
	require.NoError(t, err)
	require.True(t, signalled)
}
