package offering

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/web5lab/payout-ai/core/events"
	"github.com/web5lab/payout-ai/core/types"
	"github.com/web5lab/payout-ai/native/common"
	"github.com/web5lab/payout-ai/native/escrow"
	"github.com/web5lab/payout-ai/native/oracle"
)

// DefaultMaxQuoteAge is the staleness bound applied to oracle observations.
const DefaultMaxQuoteAge = 24 * time.Hour

var (
	errNilState  = errors.New("offering engine: state not configured")
	errNilEscrow = errors.New("offering engine: escrow not configured")

	// ErrNotFound indicates no offering exists under the identifier.
	ErrNotFound = errors.New("offering: not found")
	// ErrUnauthorizedRouter rejects investment calls that do not come
	// through the investment manager.
	ErrUnauthorizedRouter = errors.New("offering: caller is not the authorized router")
	// ErrRoundClosed rejects investments into closed, finalized or
	// cancelled rounds.
	ErrRoundClosed = errors.New("offering: round closed")
	// ErrOutsideWindow rejects investments outside [startTime, endTime).
	ErrOutsideWindow = errors.New("offering: outside investment window")
	// ErrAssetNotWhitelisted rejects payment in assets the round does not
	// accept.
	ErrAssetNotWhitelisted = errors.New("offering: payment asset not whitelisted")
	// ErrInvalidAmount rejects zero-amount investments.
	ErrInvalidAmount = errors.New("offering: amount must be positive")
	// ErrNoOracle indicates no price source is registered for the asset.
	ErrNoOracle = errors.New("offering: no oracle for payment asset")
	// ErrStalePrice rejects oracle observations older than the staleness
	// bound.
	ErrStalePrice = errors.New("offering: oracle price stale")
	// ErrBelowMinimum rejects contributions below the round minimum.
	ErrBelowMinimum = errors.New("offering: below minimum investment")
	// ErrInvestorCapExceeded rejects contributions that would push the
	// investor above the per-investor maximum.
	ErrInvestorCapExceeded = errors.New("offering: investor cap exceeded")
	// ErrCapExceeded rejects contributions that would push the round above
	// its fundraising cap.
	ErrCapExceeded = errors.New("offering: fundraising cap exceeded")
	// ErrZeroTokens rejects contributions whose token entitlement rounds to
	// zero.
	ErrZeroTokens = errors.New("offering: token amount rounds to zero")
	// ErrNotFinalized rejects claims before finalize.
	ErrNotFinalized = errors.New("offering: not finalized")
	// ErrAlreadyTerminal rejects lifecycle transitions out of a terminal
	// state.
	ErrAlreadyTerminal = errors.New("offering: already finalized or cancelled")
	// ErrFinalizeNotReady rejects finalize before end time without the soft
	// cap.
	ErrFinalizeNotReady = errors.New("offering: cannot finalize yet")
	// ErrNothingToClaim indicates the investor has no pending claim.
	ErrNothingToClaim = errors.New("offering: nothing to claim")
	// ErrInsufficientSaleTokens indicates the sale treasury cannot cover the
	// claim.
	ErrInsufficientSaleTokens = errors.New("offering: insufficient sale token balance")
)

type engineState interface {
	OfferingPut(*Offering) error
	OfferingGet(id [32]byte) (*Offering, bool)
	ContributionGet(offeringID [32]byte, investor [20]byte) (*big.Int, error)
	ContributionPut(offeringID [32]byte, investor [20]byte, value *big.Int) error
	PendingClaimGet(offeringID [32]byte, investor [20]byte) (*big.Int, error)
	PendingClaimPut(offeringID [32]byte, investor [20]byte, tokens *big.Int) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// custodian is the slice of the escrow engine the offering writes deposits
// through.
type custodian interface {
	DepositNative(caller [20]byte, offeringID [32]byte, investor [20]byte, amount *big.Int) error
	DepositToken(caller [20]byte, offeringID [32]byte, investor [20]byte, asset string, amount *big.Int) error
}

// payoutRegistrar is the slice of the payout engine the offering notifies at
// claim and finalize time.
type payoutRegistrar interface {
	RegisterInvestment(caller [20]byte, offeringID [32]byte, investor [20]byte, amount *big.Int, frequency uint64) error
	FixMaturity(caller [20]byte, offeringID [32]byte, maturity int64) error
}

// refundSignaler receives the per-offering refund signal on cancellation.
type refundSignaler interface {
	SignalRefunds(caller [20]byte, offeringID [32]byte) error
}

type offeringEvent struct {
	evt *types.Event
}

func (e offeringEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e offeringEvent) Event() *types.Event { return e.evt }

// Engine drives the investment state machine for every fundraising round it
// owns: admission, capital-raise accounting and the finalize/cancel
// lifecycle. Contributions are valued through per-asset oracles and custodied
// in the escrow engine.
type Engine struct {
	state           engineState
	emitter         events.Emitter
	guard           *common.CallGuard
	authority       *common.Authority
	custody         custodian
	payouts         payoutRegistrar
	refunds         refundSignaler
	oracles         map[string]oracle.Source
	moduleAddr      [20]byte
	router          [20]byte
	saleTreasury    [20]byte
	maxQuoteAge     time.Duration
	payoutFrequency uint64
	maturityDelay   int64
	nowFn           func() int64
}

// NewEngine creates an offering engine with a no-op emitter and the default
// 24h oracle staleness bound.
func NewEngine() *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		guard:       common.NewCallGuard(),
		oracles:     make(map[string]oracle.Source),
		maxQuoteAge: DefaultMaxQuoteAge,
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAuthority configures the capability object consulted for administrative
// operations.
func (e *Engine) SetAuthority(authority *common.Authority) { e.authority = authority }

// SetCustody wires the escrow engine deposits are forwarded to.
func (e *Engine) SetCustody(c custodian) { e.custody = c }

// SetPayouts wires the payout engine claims are registered with.
func (e *Engine) SetPayouts(p payoutRegistrar) { e.payouts = p }

// SetRefundSignaler wires the investment manager callback notified when a
// round is cancelled.
func (e *Engine) SetRefundSignaler(r refundSignaler) { e.refunds = r }

// SetModuleAddress configures the address this engine acts under when
// calling the escrow and payout engines.
func (e *Engine) SetModuleAddress(addr [20]byte) { e.moduleAddr = addr }

// SetRouter configures the only address allowed to submit investments,
// normally the investment manager module.
func (e *Engine) SetRouter(addr [20]byte) { e.router = addr }

// SetSaleTreasury configures the account holding sale tokens for direct
// claims.
func (e *Engine) SetSaleTreasury(addr [20]byte) { e.saleTreasury = addr }

// SetMaxQuoteAge overrides the oracle staleness bound. Non-positive values
// restore the default.
func (e *Engine) SetMaxQuoteAge(age time.Duration) {
	if age <= 0 {
		e.maxQuoteAge = DefaultMaxQuoteAge
		return
	}
	e.maxQuoteAge = age
}

// SetPayoutTerms configures the payout frequency (seconds) and the delay
// between finalize and maturity applied to payout-enabled rounds.
func (e *Engine) SetPayoutTerms(frequency uint64, maturityDelay int64) {
	e.payoutFrequency = frequency
	e.maturityDelay = maturityDelay
}

// SetTokenOracle registers the price source consulted for a payment asset.
func (e *Engine) SetTokenOracle(asset string, source oracle.Source) error {
	symbol, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if e.oracles == nil {
		e.oracles = make(map[string]oracle.Source)
	}
	e.oracles[symbol] = source
	return nil
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(offeringEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadOffering(id [32]byte) (*Offering, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	off, ok := e.state.OfferingGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return off, nil
}

// Create validates and persists a new fundraising round. The identifier is
// the keccak256 hash of the owner, sale asset and schedule, giving
// deterministic IDs for idempotent creation.
func (e *Engine) Create(def *Offering) (*Offering, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if def == nil {
		return nil, fmt.Errorf("offering: nil definition")
	}
	sanitized, err := SanitizeOffering(def)
	if err != nil {
		return nil, err
	}
	if sanitized.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("offering: owner required")
	}
	now := e.now()
	if sanitized.EndTime <= now {
		return nil, fmt.Errorf("offering: end time already passed")
	}
	sanitized.CreatedAt = now
	sanitized.Status = StatusActive
	sanitized.SaleClosed = false
	sanitized.SoftCapReached = false
	sanitized.TotalRaised = big.NewInt(0)
	id := ethcrypto.Keccak256Hash(
		sanitized.Owner[:],
		[]byte(sanitized.SaleAsset),
		big.NewInt(sanitized.StartTime).Bytes(),
		big.NewInt(sanitized.EndTime).Bytes(),
	)
	sanitized.ID = id
	if _, ok := e.state.OfferingGet(id); ok {
		return nil, fmt.Errorf("offering: identifier already exists")
	}
	if err := e.state.OfferingPut(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(sanitized))
	return sanitized.Clone(), nil
}

// Invest admits a contribution into the round. The call either fully commits
// the escrow deposit, raised totals and pending claim, or leaves no trace.
func (e *Engine) Invest(caller [20]byte, offeringID [32]byte, paymentAsset string, investor [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter("offering/invest")
	if err != nil {
		return err
	}
	defer release()
	if e.custody == nil {
		return errNilEscrow
	}
	if e.router == ([20]byte{}) || caller != e.router {
		return ErrUnauthorizedRouter
	}
	if investor == ([20]byte{}) {
		return fmt.Errorf("offering: investor address required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	off, err := e.loadOffering(offeringID)
	if err != nil {
		return err
	}
	if off.Status != StatusActive || off.SaleClosed {
		return ErrRoundClosed
	}
	now := e.now()
	if now < off.StartTime || now >= off.EndTime {
		return ErrOutsideWindow
	}
	symbol, err := escrow.NormalizeAsset(paymentAsset)
	if err != nil {
		return err
	}
	decimals, ok := off.PaymentAssetDecimals(symbol)
	if !ok {
		return ErrAssetNotWhitelisted
	}
	source, ok := e.oracles[symbol]
	if !ok || source == nil {
		return ErrNoOracle
	}
	quote, err := source.Price(symbol)
	if err != nil {
		return fmt.Errorf("offering: oracle read: %w", err)
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return fmt.Errorf("offering: oracle price must be positive")
	}
	observed := quote.ObservedAt.Unix()
	if quote.ObservedAt.IsZero() || now-observed > int64(e.maxQuoteAge/time.Second) {
		return ErrStalePrice
	}
	usdValue, err := convertToUnit(amount, quote.Price, decimals)
	if err != nil {
		return err
	}
	if usdValue.Cmp(off.MinInvestment) < 0 {
		return ErrBelowMinimum
	}
	contribution, err := e.state.ContributionGet(offeringID, investor)
	if err != nil {
		return err
	}
	newContribution := new(big.Int).Add(contribution, usdValue)
	if off.MaxInvestment.Sign() > 0 && newContribution.Cmp(off.MaxInvestment) > 0 {
		return ErrInvestorCapExceeded
	}
	newTotal := new(big.Int).Add(off.TotalRaised, usdValue)
	if newTotal.Cmp(off.FundraisingCap) > 0 {
		return ErrCapExceeded
	}
	tokens, err := tokensForValue(usdValue, off.PricePerToken)
	if err != nil {
		return err
	}
	if tokens.Sign() == 0 {
		return ErrZeroTokens
	}

	// Custody first: if the deposit fails nothing else has been written and
	// the whole investment rolls back.
	if symbol == escrow.AssetNative {
		err = e.custody.DepositNative(e.moduleAddr, offeringID, investor, amount)
	} else {
		err = e.custody.DepositToken(e.moduleAddr, offeringID, investor, symbol, amount)
	}
	if err != nil {
		return fmt.Errorf("offering: escrow deposit: %w", err)
	}

	pending, err := e.state.PendingClaimGet(offeringID, investor)
	if err != nil {
		return err
	}
	off.TotalRaised = newTotal
	softCapCrossed := false
	if !off.SoftCapReached && off.SoftCap.Sign() > 0 && newTotal.Cmp(off.SoftCap) >= 0 {
		off.SoftCapReached = true
		softCapCrossed = true
	}
	saleClosed := false
	if newTotal.Cmp(off.FundraisingCap) >= 0 {
		off.SaleClosed = true
		saleClosed = true
	}
	if err := e.state.ContributionPut(offeringID, investor, newContribution); err != nil {
		return err
	}
	if err := e.state.PendingClaimPut(offeringID, investor, new(big.Int).Add(pending, tokens)); err != nil {
		return err
	}
	if err := e.state.OfferingPut(off); err != nil {
		return err
	}
	e.emit(NewInvestmentEvent(off, investor, symbol, amount, usdValue, tokens))
	if softCapCrossed {
		e.emit(NewSoftCapReachedEvent(off))
	}
	if saleClosed {
		e.emit(NewSaleClosedEvent(off))
	}
	return nil
}

// CanFinalize reports whether the round is eligible for finalization.
func (e *Engine) CanFinalize(offeringID [32]byte) (bool, error) {
	off, err := e.loadOffering(offeringID)
	if err != nil {
		return false, err
	}
	if off.Status != StatusActive {
		return false, nil
	}
	return e.now() >= off.EndTime || off.SoftCapReached, nil
}

// Finalize moves the round to its Finalized terminal state. Before end time
// only the round owner may finalize, and only once the soft cap has been
// reached; after end time anyone may settle the transition. Payout-enabled
// rounds have their maturity schedule fixed here.
func (e *Engine) Finalize(caller [20]byte, offeringID [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	off, err := e.loadOffering(offeringID)
	if err != nil {
		return err
	}
	if off.Status != StatusActive {
		return ErrAlreadyTerminal
	}
	now := e.now()
	if now < off.EndTime {
		if caller != off.Owner {
			return common.ErrUnauthorized
		}
		if !off.SoftCapReached {
			return ErrFinalizeNotReady
		}
	}
	// The maturity schedule is fixed before the terminal state is persisted
	// so a failed fix leaves the round Active and retryable.
	if off.PayoutEnabled && e.payouts != nil {
		if err := e.payouts.FixMaturity(e.moduleAddr, offeringID, now+e.maturityDelay); err != nil {
			return fmt.Errorf("offering: fix maturity: %w", err)
		}
	}
	off.Status = StatusFinalized
	off.SaleClosed = true
	if err := e.state.OfferingPut(off); err != nil {
		return err
	}
	e.emit(NewFinalizedEvent(off))
	return nil
}

// Cancel moves the round to its Cancelled terminal state and signals that
// refunds are now permitted for this round. Only the round owner may cancel,
// and only before finalize.
func (e *Engine) Cancel(caller [20]byte, offeringID [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	off, err := e.loadOffering(offeringID)
	if err != nil {
		return err
	}
	if off.Status != StatusActive {
		return ErrAlreadyTerminal
	}
	if caller != off.Owner {
		return common.ErrUnauthorized
	}
	off.Status = StatusCancelled
	off.SaleClosed = true
	if err := e.state.OfferingPut(off); err != nil {
		return err
	}
	if e.refunds != nil {
		if err := e.refunds.SignalRefunds(e.moduleAddr, offeringID); err != nil {
			return fmt.Errorf("offering: refund signal: %w", err)
		}
	}
	e.emit(NewCancelledEvent(off))
	return nil
}

// ClaimTokens settles the investor's pending claim after finalize.
// Payout-enabled rounds register the amount with the payout engine instead of
// transferring sale tokens; either way a failure on the outbound side leaves
// the pending claim intact.
func (e *Engine) ClaimTokens(offeringID [32]byte, investor [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter("offering/claim")
	if err != nil {
		return err
	}
	defer release()
	off, err := e.loadOffering(offeringID)
	if err != nil {
		return err
	}
	if off.Status != StatusFinalized {
		return ErrNotFinalized
	}
	pending, err := e.state.PendingClaimGet(offeringID, investor)
	if err != nil {
		return err
	}
	if pending.Sign() <= 0 {
		return ErrNothingToClaim
	}
	if off.PayoutEnabled {
		if e.payouts == nil {
			return fmt.Errorf("offering: payout engine not configured")
		}
		if err := e.payouts.RegisterInvestment(e.moduleAddr, offeringID, investor, pending, e.payoutFrequency); err != nil {
			return fmt.Errorf("offering: register payout: %w", err)
		}
		if err := e.state.PendingClaimPut(offeringID, investor, big.NewInt(0)); err != nil {
			return err
		}
		e.emit(NewTokensClaimedEvent(off, investor, pending, true))
		return nil
	}
	treasuryAcc, err := e.state.GetAccount(e.saleTreasury[:])
	if err != nil {
		return err
	}
	if treasuryAcc == nil {
		treasuryAcc = types.NewAccount()
	}
	if treasuryAcc.Balance(off.SaleAsset).Cmp(pending) < 0 {
		return ErrInsufficientSaleTokens
	}
	if err := e.state.PendingClaimPut(offeringID, investor, big.NewInt(0)); err != nil {
		return err
	}
	investorAcc, err := e.state.GetAccount(investor[:])
	if err != nil {
		return err
	}
	if investorAcc == nil {
		investorAcc = types.NewAccount()
	}
	treasuryAcc.SetBalance(off.SaleAsset, new(big.Int).Sub(treasuryAcc.Balance(off.SaleAsset), pending))
	investorAcc.SetBalance(off.SaleAsset, new(big.Int).Add(investorAcc.Balance(off.SaleAsset), pending))
	if err := e.state.PutAccount(e.saleTreasury[:], treasuryAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(investor[:], investorAcc); err != nil {
		return err
	}
	e.emit(NewTokensClaimedEvent(off, investor, pending, false))
	return nil
}

// SetWhitelistedPaymentAsset adds or removes a payment asset for the round.
// Restricted to the round owner or an administrator.
func (e *Engine) SetWhitelistedPaymentAsset(caller [20]byte, offeringID [32]byte, asset string, decimals uint8, allowed bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	off, err := e.loadOffering(offeringID)
	if err != nil {
		return err
	}
	if caller != off.Owner && (e.authority == nil || !e.authority.Allowed(common.RoleAdmin, caller)) {
		return common.ErrUnauthorized
	}
	symbol, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if off.PaymentAssets == nil {
		off.PaymentAssets = make(map[string]uint8)
	}
	if allowed {
		off.PaymentAssets[symbol] = decimals
	} else {
		delete(off.PaymentAssets, symbol)
	}
	return e.state.OfferingPut(off)
}

// ContributionOf returns the investor's cumulative unit-of-account
// contribution.
func (e *Engine) ContributionOf(offeringID [32]byte, investor [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.ContributionGet(offeringID, investor)
}

// PendingClaimOf returns the investor's unclaimed token entitlement.
func (e *Engine) PendingClaimOf(offeringID [32]byte, investor [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.PendingClaimGet(offeringID, investor)
}

// Status returns the read-model snapshot exposed on the admin surface.
func (e *Engine) Status(offeringID [32]byte) (*StatusSnapshot, error) {
	off, err := e.loadOffering(offeringID)
	if err != nil {
		return nil, err
	}
	return &StatusSnapshot{
		ID:             off.ID,
		Active:         off.Status == StatusActive,
		Closed:         off.SaleClosed,
		Finalized:      off.Status == StatusFinalized,
		Cancelled:      off.Status == StatusCancelled,
		SoftCapReached: off.SoftCapReached,
		Raised:         cloneOrZero(off.TotalRaised),
		Cap:            cloneOrZero(off.FundraisingCap),
		EndTime:        off.EndTime,
	}, nil
}

// Get returns a copy of the stored offering.
func (e *Engine) Get(offeringID [32]byte) (*Offering, error) {
	off, err := e.loadOffering(offeringID)
	if err != nil {
		return nil, err
	}
	return off.Clone(), nil
}
