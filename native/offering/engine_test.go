package offering

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/web5lab/payout-ai/core/types"
	"github.com/web5lab/payout-ai/native/common"
	"github.com/web5lab/payout-ai/native/escrow"
	"github.com/web5lab/payout-ai/native/oracle"
)

type contribKey struct {
	offering [32]byte
	investor [20]byte
}

type mockState struct {
	offerings map[[32]byte]*Offering
	contribs  map[contribKey]*big.Int
	pending   map[contribKey]*big.Int
	accounts  map[string]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		offerings: make(map[[32]byte]*Offering),
		contribs:  make(map[contribKey]*big.Int),
		pending:   make(map[contribKey]*big.Int),
		accounts:  make(map[string]*types.Account),
	}
}

func (m *mockState) OfferingPut(o *Offering) error {
	m.offerings[o.ID] = o.Clone()
	return nil
}

func (m *mockState) OfferingGet(id [32]byte) (*Offering, bool) {
	o, ok := m.offerings[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (m *mockState) ContributionGet(offeringID [32]byte, investor [20]byte) (*big.Int, error) {
	if v, ok := m.contribs[contribKey{offeringID, investor}]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) ContributionPut(offeringID [32]byte, investor [20]byte, value *big.Int) error {
	m.contribs[contribKey{offeringID, investor}] = new(big.Int).Set(value)
	return nil
}

func (m *mockState) PendingClaimGet(offeringID [32]byte, investor [20]byte) (*big.Int, error) {
	if v, ok := m.pending[contribKey{offeringID, investor}]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) PendingClaimPut(offeringID [32]byte, investor [20]byte, tokens *big.Int) error {
	m.pending[contribKey{offeringID, investor}] = new(big.Int).Set(tokens)
	return nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	if acc, ok := m.accounts[string(addr)]; ok {
		return acc.Clone(), nil
	}
	return types.NewAccount(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	m.accounts[string(addr)] = account.Clone()
	return nil
}

func (m *mockState) fund(addr [20]byte, asset string, amount int64) {
	acc, ok := m.accounts[string(addr[:])]
	if !ok {
		acc = types.NewAccount()
	}
	acc.SetBalance(asset, big.NewInt(amount))
	m.accounts[string(addr[:])] = acc
}

func (m *mockState) balance(addr [20]byte, asset string) *big.Int {
	acc, ok := m.accounts[string(addr[:])]
	if !ok {
		return big.NewInt(0)
	}
	return acc.Balance(asset)
}

type depositRecord struct {
	offeringID [32]byte
	investor   [20]byte
	asset      string
	amount     *big.Int
}

type mockCustodian struct {
	deposits []depositRecord
	failWith error
}

func (m *mockCustodian) DepositNative(caller [20]byte, offeringID [32]byte, investor [20]byte, amount *big.Int) error {
	return m.DepositToken(caller, offeringID, investor, escrow.AssetNative, amount)
}

func (m *mockCustodian) DepositToken(caller [20]byte, offeringID [32]byte, investor [20]byte, asset string, amount *big.Int) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.deposits = append(m.deposits, depositRecord{offeringID, investor, asset, new(big.Int).Set(amount)})
	return nil
}

type mockRegistrar struct {
	registered   []depositRecord
	registerFail error
	fixFail      error
	maturity     int64
	fixed        bool
}

func (m *mockRegistrar) RegisterInvestment(caller [20]byte, offeringID [32]byte, investor [20]byte, amount *big.Int, frequency uint64) error {
	if m.registerFail != nil {
		return m.registerFail
	}
	m.registered = append(m.registered, depositRecord{offeringID: offeringID, investor: investor, amount: new(big.Int).Set(amount)})
	return nil
}

func (m *mockRegistrar) FixMaturity(caller [20]byte, offeringID [32]byte, maturity int64) error {
	if m.fixFail != nil {
		return m.fixFail
	}
	m.maturity = maturity
	m.fixed = true
	return nil
}

type mockSignaler struct {
	signalled [][32]byte
}

func (m *mockSignaler) SignalRefunds(caller [20]byte, offeringID [32]byte) error {
	m.signalled = append(m.signalled, offeringID)
	return nil
}

var (
	testOwner    = [20]byte{0x01}
	testRouter   = [20]byte{0x02}
	testInvestor = [20]byte{0x03}
	testModule   = [20]byte{0x04}
	testTreasury = [20]byte{0x05}
)

const testStart = int64(1_700_000_000)

// usd converts whole dollars to the 10^18 unit of account.
func usd(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), oracle.PriceScale)
}

type testHarness struct {
	engine   *Engine
	state    *mockState
	custody  *mockCustodian
	payouts  *mockRegistrar
	refunds  *mockSignaler
	manual   *oracle.Manual
	now      int64
	offering *Offering
}

func newTestHarness(t *testing.T, mutate func(*Offering)) *testHarness {
	t.Helper()
	h := &testHarness{
		state:   newMockState(),
		custody: &mockCustodian{},
		payouts: &mockRegistrar{},
		refunds: &mockSignaler{},
		manual:  oracle.NewManual(),
		now:     testStart,
	}
	h.engine = NewEngine()
	h.engine.SetState(h.state)
	h.engine.SetCustody(h.custody)
	h.engine.SetPayouts(h.payouts)
	h.engine.SetRefundSignaler(h.refunds)
	h.engine.SetRouter(testRouter)
	h.engine.SetModuleAddress(testModule)
	h.engine.SetSaleTreasury(testTreasury)
	h.engine.SetPayoutTerms(30*24*3600, 365*24*3600)
	h.engine.SetNowFunc(func() int64 { return h.now })
	if err := h.engine.SetTokenOracle("USDC", h.manual); err != nil {
		t.Fatalf("set oracle: %v", err)
	}
	h.manual.Set("USDC", new(big.Int).Set(oracle.PriceScale), time.Unix(h.now, 0))

	def := &Offering{
		Owner:          testOwner,
		SaleAsset:      "PAI",
		MinInvestment:  usd(100),
		MaxInvestment:  big.NewInt(0),
		SoftCap:        usd(5_000),
		FundraisingCap: usd(10_000),
		PricePerToken:  new(big.Int).Quo(oracle.PriceScale, big.NewInt(2)),
		StartTime:      testStart,
		EndTime:        testStart + 7*24*3600,
		PaymentAssets:  map[string]uint8{"USDC": 6},
	}
	if mutate != nil {
		mutate(def)
	}
	created, err := h.engine.Create(def)
	if err != nil {
		t.Fatalf("create offering: %v", err)
	}
	h.offering = created
	return h
}

// usdcAmount converts whole dollars into the 6-decimal payment asset.
func usdcAmount(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), big.NewInt(1_000_000))
}

func TestCreateValidation(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	engine.SetNowFunc(func() int64 { return testStart })

	if _, err := engine.Create(nil); err == nil {
		t.Fatalf("expected nil definition rejection")
	}
	def := &Offering{
		Owner:          testOwner,
		SaleAsset:      "PAI",
		FundraisingCap: usd(100),
		PricePerToken:  big.NewInt(0),
		StartTime:      testStart,
		EndTime:        testStart + 3600,
	}
	if _, err := engine.Create(def); err == nil {
		t.Fatalf("expected zero token price rejection")
	}
	def.PricePerToken = oracle.PriceScale
	def.EndTime = testStart - 1
	if _, err := engine.Create(def); err == nil {
		t.Fatalf("expected past end time rejection")
	}
}

func TestInvestComputesTokensFromOracleValue(t *testing.T) {
	h := newTestHarness(t, nil)

	// 1000 USDC at $1.00 with token price $0.50 entitles 2000 tokens.
	err := h.engine.Invest(testRouter, h.offering.ID, "usdc", testInvestor, usdcAmount(1000))
	if err != nil {
		t.Fatalf("invest: %v", err)
	}
	contrib, err := h.engine.ContributionOf(h.offering.ID, testInvestor)
	if err != nil {
		t.Fatalf("contribution: %v", err)
	}
	if contrib.Cmp(usd(1000)) != 0 {
		t.Fatalf("contribution = %s, want %s", contrib, usd(1000))
	}
	pending, err := h.engine.PendingClaimOf(h.offering.ID, testInvestor)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	wantTokens := new(big.Int).Mul(big.NewInt(2000), oracle.PriceScale)
	if pending.Cmp(wantTokens) != 0 {
		t.Fatalf("pending tokens = %s, want %s", pending, wantTokens)
	}
	stored, err := h.engine.Get(h.offering.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.TotalRaised.Cmp(usd(1000)) != 0 {
		t.Fatalf("total raised = %s, want %s", stored.TotalRaised, usd(1000))
	}
	if len(h.custody.deposits) != 1 {
		t.Fatalf("expected one escrow deposit, got %d", len(h.custody.deposits))
	}
	dep := h.custody.deposits[0]
	if dep.asset != "USDC" || dep.amount.Cmp(usdcAmount(1000)) != 0 {
		t.Fatalf("unexpected deposit %s %s", dep.asset, dep.amount)
	}
}

func TestInvestRejections(t *testing.T) {
	h := newTestHarness(t, nil)
	id := h.offering.ID

	if err := h.engine.Invest(testOwner, id, "USDC", testInvestor, usdcAmount(500)); !errors.Is(err, ErrUnauthorizedRouter) {
		t.Fatalf("expected router rejection, got %v", err)
	}
	if err := h.engine.Invest(testRouter, id, "USDC", testInvestor, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
	if err := h.engine.Invest(testRouter, id, "DOGE", testInvestor, usdcAmount(500)); !errors.Is(err, ErrAssetNotWhitelisted) {
		t.Fatalf("expected whitelist rejection, got %v", err)
	}
	if err := h.engine.Invest(testRouter, id, "USDC", testInvestor, usdcAmount(50)); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected minimum rejection, got %v", err)
	}
	h.now = h.offering.EndTime
	if err := h.engine.Invest(testRouter, id, "USDC", testInvestor, usdcAmount(500)); !errors.Is(err, ErrOutsideWindow) {
		t.Fatalf("expected window rejection, got %v", err)
	}
	h.now = testStart
	if len(h.custody.deposits) != 0 {
		t.Fatalf("rejected investments must not reach escrow")
	}
}

func TestInvestStalePriceRejected(t *testing.T) {
	h := newTestHarness(t, nil)
	h.manual.Set("USDC", oracle.PriceScale, time.Unix(testStart-25*3600, 0))
	err := h.engine.Invest(testRouter, h.offering.ID, "USDC", testInvestor, usdcAmount(500))
	if !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price rejection, got %v", err)
	}
}

func TestInvestRespectsInvestorCap(t *testing.T) {
	h := newTestHarness(t, func(o *Offering) {
		o.MaxInvestment = usd(1_500)
	})
	if err := h.engine.Invest(testRouter, h.offering.ID, "USDC", testInvestor, usdcAmount(1000)); err != nil {
		t.Fatalf("first invest: %v", err)
	}
	err := h.engine.Invest(testRouter, h.offering.ID, "USDC", testInvestor, usdcAmount(1000))
	if !errors.Is(err, ErrInvestorCapExceeded) {
		t.Fatalf("expected investor cap rejection, got %v", err)
	}
}

func TestInvestRespectsFundraisingCap(t *testing.T) {
	h := newTestHarness(t, nil)
	other := [20]byte{0x06}

	if err := h.engine.Invest(testRouter, h.offering.ID, "USDC", testInvestor, usdcAmount(6_000)); err != nil {
		t.Fatalf("first invest: %v", err)
	}
	err := h.engine.Invest(testRouter, h.offering.ID, "USDC", other, usdcAmount(6_000))
	if !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("expected cap rejection, got %v", err)
	}
	stored, _ := h.engine.Get(h.offering.ID)
	if stored.TotalRaised.Cmp(usd(6_000)) != 0 {
		t.Fatalf("total raised mutated by rejected investment: %s", stored.TotalRaised)
	}

	// Filling the cap exactly closes the sale.
	if err := h.engine.Invest(testRouter, h.offering.ID, "USDC", other, usdcAmount(4_000)); err != nil {
		t.Fatalf("fill invest: %v", err)
	}
	stored, _ = h.engine.Get(h.offering.ID)
	if !stored.SaleClosed {
		t.Fatalf("expected sale closed at cap")
	}
	err = h.engine.Invest(testRouter, h.offering.ID, "USDC", testInvestor, usdcAmount(500))
	if !errors.Is(err, ErrRoundClosed) {
		t.Fatalf("expected closed round rejection, got %v", err)
	}
}

func TestSoftCapFlagSetOnce(t *testing.T) {
	h := newTestHarness(t, nil)
	if err := h.engine.Invest(testRouter, h.offering.ID, "USDC", testInvestor, usdcAmount(5_000)); err != nil {
		t.Fatalf("invest: %v", err)
	}
	stored, _ := h.engine.Get(h.offering.ID)
	if !stored.SoftCapReached {
		t.Fatalf("soft cap flag not set")
	}
	snap, err := h.engine.Status(h.offering.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !snap.SoftCapReached || snap.Closed || snap.Finalized {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestFinalizeLifecycle(t *testing.T) {
	h := newTestHarness(t, func(o *Offering) {
		o.PayoutEnabled = true
	})
	id := h.offering.ID

	// Early finalize needs the owner and the soft cap.
	if err := h.engine.Finalize(testOwner, id); !errors.Is(err, ErrFinalizeNotReady) {
		t.Fatalf("expected not-ready rejection, got %v", err)
	}
	if err := h.engine.Invest(testRouter, id, "USDC", testInvestor, usdcAmount(5_000)); err != nil {
		t.Fatalf("invest: %v", err)
	}
	if err := h.engine.Finalize(testInvestor, id); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected owner-only rejection, got %v", err)
	}
	if ok, _ := h.engine.CanFinalize(id); !ok {
		t.Fatalf("expected finalize eligibility after soft cap")
	}
	if err := h.engine.Finalize(testOwner, id); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !h.payouts.fixed {
		t.Fatalf("payout maturity not fixed on finalize")
	}
	if want := h.now + 365*24*3600; h.payouts.maturity != want {
		t.Fatalf("maturity = %d, want %d", h.payouts.maturity, want)
	}
	if err := h.engine.Finalize(testOwner, id); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected terminal rejection, got %v", err)
	}
	if err := h.engine.Invest(testRouter, id, "USDC", testInvestor, usdcAmount(500)); !errors.Is(err, ErrRoundClosed) {
		t.Fatalf("expected closed rejection after finalize, got %v", err)
	}
}

func TestFinalizeMaturityFailureLeavesRoundActive(t *testing.T) {
	h := newTestHarness(t, func(o *Offering) {
		o.PayoutEnabled = true
	})
	id := h.offering.ID
	h.now = h.offering.EndTime + 1

	h.payouts.fixFail = errors.New("maturity rejected")
	if err := h.engine.Finalize(testOwner, id); err == nil {
		t.Fatal("finalize succeeded despite maturity failure")
	}
	stored, _ := h.engine.Get(id)
	if stored.Status != StatusActive {
		t.Fatalf("round no longer active after failed finalize: %v", stored.Status)
	}

	h.payouts.fixFail = nil
	if err := h.engine.Finalize(testOwner, id); err != nil {
		t.Fatalf("retry finalize: %v", err)
	}
	stored, _ = h.engine.Get(id)
	if stored.Status != StatusFinalized {
		t.Fatalf("round not finalized after retry: %v", stored.Status)
	}
}

func TestFinalizeAfterEndTimeByAnyone(t *testing.T) {
	h := newTestHarness(t, nil)
	h.now = h.offering.EndTime + 1
	if err := h.engine.Finalize(testInvestor, h.offering.ID); err != nil {
		t.Fatalf("finalize after end: %v", err)
	}
	stored, _ := h.engine.Get(h.offering.ID)
	if stored.Status != StatusFinalized || !stored.SaleClosed {
		t.Fatalf("unexpected state after finalize: %+v", stored)
	}
}

func TestCancelSignalsRefunds(t *testing.T) {
	h := newTestHarness(t, nil)
	id := h.offering.ID

	if err := h.engine.Cancel(testInvestor, id); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected owner-only rejection, got %v", err)
	}
	if err := h.engine.Cancel(testOwner, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(h.refunds.signalled) != 1 || h.refunds.signalled[0] != id {
		t.Fatalf("refund signal missing")
	}
	if err := h.engine.Cancel(testOwner, id); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected terminal rejection, got %v", err)
	}
	if err := h.engine.Finalize(testOwner, id); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected finalize rejection after cancel, got %v", err)
	}
	if err := h.engine.Invest(testRouter, id, "USDC", testInvestor, usdcAmount(500)); !errors.Is(err, ErrRoundClosed) {
		t.Fatalf("expected closed rejection after cancel, got %v", err)
	}
}

func TestClaimTokensDirectTransfer(t *testing.T) {
	h := newTestHarness(t, nil)
	id := h.offering.ID

	if err := h.engine.Invest(testRouter, id, "USDC", testInvestor, usdcAmount(1000)); err != nil {
		t.Fatalf("invest: %v", err)
	}
	if err := h.engine.ClaimTokens(id, testInvestor); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("expected not-finalized rejection, got %v", err)
	}
	h.now = h.offering.EndTime + 1
	if err := h.engine.Finalize(testOwner, id); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Treasury cannot cover the 2000-token claim yet.
	if err := h.engine.ClaimTokens(id, testInvestor); !errors.Is(err, ErrInsufficientSaleTokens) {
		t.Fatalf("expected treasury shortfall rejection, got %v", err)
	}
	pending, _ := h.engine.PendingClaimOf(id, testInvestor)
	if pending.Sign() == 0 {
		t.Fatalf("failed claim must not burn the pending balance")
	}

	wantTokens := new(big.Int).Mul(big.NewInt(2000), oracle.PriceScale)
	acc := types.NewAccount()
	acc.SetBalance("PAI", wantTokens)
	if err := h.state.PutAccount(testTreasury[:], acc); err != nil {
		t.Fatalf("seed treasury: %v", err)
	}
	if err := h.engine.ClaimTokens(id, testInvestor); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := h.state.balance(testInvestor, "PAI"); got.Cmp(wantTokens) != 0 {
		t.Fatalf("investor balance = %s, want %s", got, wantTokens)
	}
	if got := h.state.balance(testTreasury, "PAI"); got.Sign() != 0 {
		t.Fatalf("treasury not drained: %s", got)
	}
	if err := h.engine.ClaimTokens(id, testInvestor); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected empty claim rejection, got %v", err)
	}
}

func TestClaimTokensRegistersPayoutPosition(t *testing.T) {
	h := newTestHarness(t, func(o *Offering) {
		o.PayoutEnabled = true
	})
	id := h.offering.ID

	if err := h.engine.Invest(testRouter, id, "USDC", testInvestor, usdcAmount(1000)); err != nil {
		t.Fatalf("invest: %v", err)
	}
	h.now = h.offering.EndTime + 1
	if err := h.engine.Finalize(testOwner, id); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := h.engine.ClaimTokens(id, testInvestor); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(h.payouts.registered) != 1 {
		t.Fatalf("expected one payout registration, got %d", len(h.payouts.registered))
	}
	wantTokens := new(big.Int).Mul(big.NewInt(2000), oracle.PriceScale)
	reg := h.payouts.registered[0]
	if reg.investor != testInvestor || reg.amount.Cmp(wantTokens) != 0 {
		t.Fatalf("unexpected registration %x %s", reg.investor, reg.amount)
	}
	if reg.offeringID != id {
		t.Fatalf("registration bound to wrong round")
	}
	pending, _ := h.engine.PendingClaimOf(id, testInvestor)
	if pending.Sign() != 0 {
		t.Fatalf("pending claim not consumed")
	}
}

func TestClaimTokensRegistrationFailurePreservesClaim(t *testing.T) {
	h := newTestHarness(t, func(o *Offering) {
		o.PayoutEnabled = true
	})
	id := h.offering.ID

	if err := h.engine.Invest(testRouter, id, "USDC", testInvestor, usdcAmount(1000)); err != nil {
		t.Fatalf("invest: %v", err)
	}
	h.now = h.offering.EndTime + 1
	if err := h.engine.Finalize(testOwner, id); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	pendingBefore, _ := h.engine.PendingClaimOf(id, testInvestor)
	if pendingBefore.Sign() <= 0 {
		t.Fatalf("expected pending claim after invest")
	}

	h.payouts.registerFail = errors.New("registration rejected")
	if err := h.engine.ClaimTokens(id, testInvestor); err == nil {
		t.Fatal("claim succeeded despite registration failure")
	}
	pending, _ := h.engine.PendingClaimOf(id, testInvestor)
	if pending.Cmp(pendingBefore) != 0 {
		t.Fatalf("pending claim = %s after failed registration, want %s", pending, pendingBefore)
	}

	// Once registration works the same claim settles in full.
	h.payouts.registerFail = nil
	if err := h.engine.ClaimTokens(id, testInvestor); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if len(h.payouts.registered) != 1 || h.payouts.registered[0].amount.Cmp(pendingBefore) != 0 {
		t.Fatalf("expected one registration of %s", pendingBefore)
	}
}

func TestWhitelistManagement(t *testing.T) {
	h := newTestHarness(t, nil)
	id := h.offering.ID

	if err := h.engine.SetWhitelistedPaymentAsset(testInvestor, id, "DAI", 18, true); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized rejection, got %v", err)
	}
	if err := h.engine.SetWhitelistedPaymentAsset(testOwner, id, "dai", 18, true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	stored, _ := h.engine.Get(id)
	if dec, ok := stored.PaymentAssetDecimals("DAI"); !ok || dec != 18 {
		t.Fatalf("DAI not whitelisted with 18 decimals")
	}
	if err := h.engine.SetWhitelistedPaymentAsset(testOwner, id, "USDC", 6, false); err != nil {
		t.Fatalf("delist: %v", err)
	}
	err := h.engine.Invest(testRouter, id, "USDC", testInvestor, usdcAmount(500))
	if !errors.Is(err, ErrAssetNotWhitelisted) {
		t.Fatalf("expected delisted asset rejection, got %v", err)
	}
}

func TestEscrowFailureLeavesNoTrace(t *testing.T) {
	h := newTestHarness(t, nil)
	h.custody.failWith = errors.New("vault unavailable")
	err := h.engine.Invest(testRouter, h.offering.ID, "USDC", testInvestor, usdcAmount(1000))
	if err == nil {
		t.Fatalf("expected custody failure to surface")
	}
	contrib, _ := h.engine.ContributionOf(h.offering.ID, testInvestor)
	pending, _ := h.engine.PendingClaimOf(h.offering.ID, testInvestor)
	stored, _ := h.engine.Get(h.offering.ID)
	if contrib.Sign() != 0 || pending.Sign() != 0 || stored.TotalRaised.Sign() != 0 {
		t.Fatalf("failed deposit left accounting traces")
	}
}
