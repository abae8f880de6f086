package payout

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/web5lab/payout-ai/core/events"
	"github.com/web5lab/payout-ai/core/types"
	"github.com/web5lab/payout-ai/native/common"
)

var (
	errNilState = errors.New("payout engine: state not configured")
	errNilPool  = errors.New("payout engine: pool not configured")

	// ErrInvalidAmount rejects zero registrations before any state change.
	ErrInvalidAmount = errors.New("payout: amount must be positive")
	// ErrUnauthorizedRegistrar rejects registration calls from anyone other
	// than the bound offering.
	ErrUnauthorizedRegistrar = errors.New("payout: caller is not the registered offering")
	// ErrPositionExists rejects a second registration for the same investor
	// within one offering.
	ErrPositionExists = errors.New("payout: position already exists")
	// ErrNoPosition indicates no claim right exists for the investor.
	ErrNoPosition = errors.New("payout: no position for investor")
	// ErrAlreadyFinal indicates the claim right has been retired.
	ErrAlreadyFinal = errors.New("payout: final tokens already claimed")
	// ErrPeriodNotElapsed indicates less than one full payout period has
	// passed since the last claim.
	ErrPeriodNotElapsed = errors.New("payout: period not elapsed")
	// ErrNothingDue indicates the due amount clamped to zero.
	ErrNothingDue = errors.New("payout: nothing due")
	// ErrNotMatured rejects final settlement before the fixed maturity.
	ErrNotMatured = errors.New("payout: maturity not reached")
	// ErrMaturityNotFixed indicates the offering has not finalized yet.
	ErrMaturityNotFixed = errors.New("payout: maturity not fixed")
	// ErrMaturityAlreadyFixed rejects a second maturity fix for the same
	// offering.
	ErrMaturityAlreadyFixed = errors.New("payout: maturity already fixed")
	// ErrOutstandingPayout forces investors to settle elapsed periodic
	// payouts before taking principal back.
	ErrOutstandingPayout = errors.New("payout: unclaimed payout period outstanding")
	// ErrUnlockAfterMaturity rejects an emergency unlock once maturity has
	// passed; the regular final claim applies from then on.
	ErrUnlockAfterMaturity = errors.New("payout: already matured, claim final tokens instead")
)

const bpsDenominator = 10_000

type engineState interface {
	PayoutPositionPut(*Position) error
	PayoutPositionGet(offeringID [32]byte, investor [20]byte) (*Position, bool)
	PayoutMaturityGet(offeringID [32]byte) (int64, bool, error)
	PayoutMaturitySet(offeringID [32]byte, maturity int64) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type payoutEvent struct {
	evt *types.Event
}

func (e payoutEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e payoutEvent) Event() *types.Event { return e.evt }

// Engine computes per-investor periodic payout obligations against a fixed
// rate and releases the principal at maturity. Positions are sourced from the
// offering's settled totals but owned exclusively by this engine, keyed by
// the round they were registered under.
type Engine struct {
	state          engineState
	emitter        events.Emitter
	guard          *common.CallGuard
	registrar      [20]byte
	pool           [20]byte
	treasury       [20]byte
	principalAsset string
	payoutRateBps  uint64
	penaltyBps     uint64
	nowFn          func() int64
}

// NewEngine creates a payout engine with a no-op emitter and the supplied
// payout rate and emergency-unlock penalty, both in basis points.
func NewEngine(payoutRateBps, penaltyBps uint64) *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		guard:         common.NewCallGuard(),
		payoutRateBps: payoutRateBps,
		penaltyBps:    penaltyBps,
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistrar binds the offering address allowed to register investments and
// fix the maturity schedule.
func (e *Engine) SetRegistrar(addr [20]byte) { e.registrar = addr }

// SetPool configures the account funding periodic payouts and principal
// returns.
func (e *Engine) SetPool(addr [20]byte) { e.pool = addr }

// SetTreasury configures the account receiving emergency-unlock penalties.
func (e *Engine) SetTreasury(addr [20]byte) { e.treasury = addr }

// SetPrincipalAsset configures the asset positions are denominated in.
func (e *Engine) SetPrincipalAsset(asset string) { e.principalAsset = asset }

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
	e.emitter.Emit(payoutEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) poolBalance() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.pool == ([20]byte{}) {
		return nil, errNilPool
	}
	poolAcc, err := e.state.GetAccount(e.pool[:])
	if err != nil {
		return nil, err
	}
	if poolAcc == nil {
		return big.NewInt(0), nil
	}
	return poolAcc.Balance(e.principalAsset), nil
}

func (e *Engine) transferFromPool(to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.pool == ([20]byte{}) {
		return errNilPool
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	poolAcc, err := e.state.GetAccount(e.pool[:])
	if err != nil {
		return err
	}
	if poolAcc == nil {
		poolAcc = types.NewAccount()
	}
	if poolAcc.Balance(e.principalAsset).Cmp(amt) < 0 {
		return fmt.Errorf("payout: insufficient pool balance for %s", e.principalAsset)
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	if toAcc == nil {
		toAcc = types.NewAccount()
	}
	poolAcc.SetBalance(e.principalAsset, new(big.Int).Sub(poolAcc.Balance(e.principalAsset), amt))
	toAcc.SetBalance(e.principalAsset, new(big.Int).Add(toAcc.Balance(e.principalAsset), amt))
	if err := e.state.PutAccount(e.pool[:], poolAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// PayoutPerPeriod derives the fixed per-period payout for a principal amount
// at the engine's configured rate.
func (e *Engine) PayoutPerPeriod(principal *big.Int) *big.Int {
	amt := cloneBigInt(principal)
	amt.Mul(amt, new(big.Int).SetUint64(e.payoutRateBps))
	return amt.Quo(amt, big.NewInt(bpsDenominator))
}

// RegisterInvestment creates the investor's claim right for the given round.
// Only the bound offering may call it, once per round and investor, with a
// positive amount.
func (e *Engine) RegisterInvestment(caller [20]byte, offeringID [32]byte, investor [20]byte, amount *big.Int, frequency uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.registrar || e.registrar == ([20]byte{}) {
		return ErrUnauthorizedRegistrar
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if frequency == 0 {
		return fmt.Errorf("payout: frequency must be positive")
	}
	if _, ok := e.state.PayoutPositionGet(offeringID, investor); ok {
		return ErrPositionExists
	}
	pos := &Position{
		OfferingID:            offeringID,
		Investor:              investor,
		Principal:             amt,
		Asset:                 e.principalAsset,
		PayoutFrequency:       frequency,
		LastPayoutTime:        e.now(),
		TotalPayoutsClaimed:   big.NewInt(0),
		PayoutAmountPerPeriod: e.PayoutPerPeriod(amt),
	}
	if err := e.state.PayoutPositionPut(pos); err != nil {
		return err
	}
	e.emit(NewRegisteredEvent(pos))
	return nil
}

// FixMaturity records the final settlement time for one round. The offering
// calls this once at finalize.
func (e *Engine) FixMaturity(caller [20]byte, offeringID [32]byte, maturity int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.registrar || e.registrar == ([20]byte{}) {
		return ErrUnauthorizedRegistrar
	}
	if maturity <= 0 {
		return fmt.Errorf("payout: maturity must be positive")
	}
	if _, ok, err := e.state.PayoutMaturityGet(offeringID); err != nil {
		return err
	} else if ok {
		return ErrMaturityAlreadyFixed
	}
	return e.state.PayoutMaturitySet(offeringID, maturity)
}

// Maturity returns the round's fixed maturity time when set.
func (e *Engine) Maturity(offeringID [32]byte) (int64, bool, error) {
	if e == nil || e.state == nil {
		return 0, false, errNilState
	}
	return e.state.PayoutMaturityGet(offeringID)
}

// ClaimPayout settles every fully elapsed payout period since the last claim.
// The due amount is clamped so lifetime payouts never exceed the principal,
// and the clock advances by whole periods only so partial periods are never
// lost to drift.
func (e *Engine) ClaimPayout(offeringID [32]byte, investor [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter("payout/claim")
	if err != nil {
		return err
	}
	defer release()
	pos, ok := e.state.PayoutPositionGet(offeringID, investor)
	if !ok {
		return ErrNoPosition
	}
	if pos.ClaimedFinal {
		return ErrAlreadyFinal
	}
	now := e.now()
	elapsed := now - pos.LastPayoutTime
	if elapsed < int64(pos.PayoutFrequency) {
		return ErrPeriodNotElapsed
	}
	periods := elapsed / int64(pos.PayoutFrequency)
	due := new(big.Int).Mul(cloneBigInt(pos.PayoutAmountPerPeriod), big.NewInt(periods))
	remaining := new(big.Int).Sub(cloneBigInt(pos.Principal), cloneBigInt(pos.TotalPayoutsClaimed))
	if due.Cmp(remaining) > 0 {
		due = remaining
	}
	if due.Sign() <= 0 {
		return ErrNothingDue
	}
	// Advance by exactly the settled periods, never to "now".
	pos.LastPayoutTime += periods * int64(pos.PayoutFrequency)
	pos.TotalPayoutsClaimed = new(big.Int).Add(cloneBigInt(pos.TotalPayoutsClaimed), due)
	if err := e.transferFromPool(investor, due); err != nil {
		return err
	}
	if err := e.state.PayoutPositionPut(pos); err != nil {
		return err
	}
	e.emit(NewClaimedEvent(pos, due, periods))
	return nil
}

// ClaimFinalTokens retires the claim right after maturity and returns the
// original principal. It refuses to settle while a fully elapsed payout
// period remains unclaimed, so periodic obligations cannot be bypassed. The
// principal transfer runs before the position is retired: a failed transfer
// leaves the claim right intact.
func (e *Engine) ClaimFinalTokens(offeringID [32]byte, investor [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter("payout/final")
	if err != nil {
		return err
	}
	defer release()
	pos, ok := e.state.PayoutPositionGet(offeringID, investor)
	if !ok {
		return ErrNoPosition
	}
	if pos.ClaimedFinal {
		return ErrAlreadyFinal
	}
	maturity, fixed, err := e.state.PayoutMaturityGet(offeringID)
	if err != nil {
		return err
	}
	if !fixed {
		return ErrMaturityNotFixed
	}
	now := e.now()
	if now < maturity {
		return ErrNotMatured
	}
	remaining := new(big.Int).Sub(cloneBigInt(pos.Principal), cloneBigInt(pos.TotalPayoutsClaimed))
	if now-pos.LastPayoutTime >= int64(pos.PayoutFrequency) && remaining.Sign() > 0 {
		return ErrOutstandingPayout
	}
	if err := e.transferFromPool(investor, pos.Principal); err != nil {
		return err
	}
	pos.ClaimedFinal = true
	if err := e.state.PayoutPositionPut(pos); err != nil {
		return err
	}
	e.emit(NewFinalClaimedEvent(pos))
	return nil
}

// EmergencyUnlock exits the claim right before maturity, returning the
// principal minus the configured penalty. The penalty is routed to the
// treasury and the position is retired exactly as in a final claim. The pool
// must cover the full principal up front so the payout and the penalty
// settle together or not at all.
func (e *Engine) EmergencyUnlock(offeringID [32]byte, investor [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter("payout/unlock")
	if err != nil {
		return err
	}
	defer release()
	pos, ok := e.state.PayoutPositionGet(offeringID, investor)
	if !ok {
		return ErrNoPosition
	}
	if pos.ClaimedFinal {
		return ErrAlreadyFinal
	}
	maturity, fixed, err := e.state.PayoutMaturityGet(offeringID)
	if err != nil {
		return err
	}
	if fixed && e.now() >= maturity {
		return ErrUnlockAfterMaturity
	}
	principal := cloneBigInt(pos.Principal)
	penalty := new(big.Int).Mul(principal, new(big.Int).SetUint64(e.penaltyBps))
	penalty.Quo(penalty, big.NewInt(bpsDenominator))
	returned := new(big.Int).Sub(principal, penalty)
	if returned.Sign() < 0 {
		return fmt.Errorf("payout: penalty exceeds principal")
	}
	held, err := e.poolBalance()
	if err != nil {
		return err
	}
	if held.Cmp(principal) < 0 {
		return fmt.Errorf("payout: insufficient pool balance for %s", e.principalAsset)
	}
	if err := e.transferFromPool(investor, returned); err != nil {
		return err
	}
	if penalty.Sign() > 0 && e.treasury != ([20]byte{}) {
		if err := e.transferFromPool(e.treasury, penalty); err != nil {
			return err
		}
	}
	pos.ClaimedFinal = true
	if err := e.state.PayoutPositionPut(pos); err != nil {
		return err
	}
	e.emit(NewEmergencyUnlockEvent(pos, returned, penalty))
	return nil
}

// PositionOf returns a copy of the investor's position in the round when one
// exists.
func (e *Engine) PositionOf(offeringID [32]byte, investor [20]byte) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, ok := e.state.PayoutPositionGet(offeringID, investor)
	if !ok {
		return nil, nil
	}
	return pos.Clone(), nil
}
