package escrow

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/web5lab/payout-ai/core/events"
	"github.com/web5lab/payout-ai/core/types"
	"github.com/web5lab/payout-ai/native/common"
)

var (
	errNilState = errors.New("escrow engine: state not configured")
	errNilVault = errors.New("escrow engine: vault not configured")

	// ErrInvalidAmount rejects zero or negative deposit amounts before any
	// state is touched.
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	// ErrRefundsEnabled rejects deposits once the one-way refund switch has
	// been flipped.
	ErrRefundsEnabled = errors.New("escrow: refunds enabled, deposits closed")
	// ErrRefundsDisabled rejects refunds before the switch is flipped.
	ErrRefundsDisabled = errors.New("escrow: refunds not enabled")
	// ErrNothingToRefund indicates no live deposit record for the key.
	ErrNothingToRefund = errors.New("escrow: nothing to refund")
	// ErrUnboundOffering indicates no router has been registered for the
	// offering identifier.
	ErrUnboundOffering = errors.New("escrow: offering not bound")
	// ErrInsufficientVault rejects sweeps exceeding the held balance.
	ErrInsufficientVault = errors.New("escrow: insufficient vault balance")
)

type engineState interface {
	EscrowDepositPut(*Deposit) error
	EscrowDepositGet(offeringID [32]byte, investor [20]byte) (*Deposit, bool)
	EscrowRefundsEnabled() (bool, error)
	EscrowSetRefundsEnabled() error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine owns custody of deposited value for every offering bound to it.
// Deposits map (offeringID, investor) to a single-slot record; refunds are
// governed by a global one-way switch.
type Engine struct {
	state     engineState
	emitter   events.Emitter
	authority *common.Authority
	guard     *common.CallGuard
	vault     [20]byte
	routers   map[[32]byte][20]byte
}

// NewEngine creates an escrow engine with a no-op emitter. Callers configure
// state, vault and authority before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		guard:   common.NewCallGuard(),
		routers: make(map[[32]byte][20]byte),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault configures the address custodying escrowed funds.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetAuthority configures the capability object consulted for administrative
// operations.
func (e *Engine) SetAuthority(authority *common.Authority) { e.authority = authority }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// BindOffering registers the router address allowed to deposit on behalf of
// the offering. Deposits from any other caller are rejected.
func (e *Engine) BindOffering(offeringID [32]byte, router [20]byte) {
	if e == nil {
		return
	}
	if e.routers == nil {
		e.routers = make(map[[32]byte][20]byte)
	}
	e.routers[offeringID] = router
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) requireAdmin(caller [20]byte) error {
	if e == nil || e.authority == nil {
		return common.ErrUnauthorized
	}
	return e.authority.Require(common.RoleAdmin, caller)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*big.Int)
	}
	return acc
}

func (e *Engine) transferAsset(from, to [20]byte, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance(normalized).Cmp(amt) < 0 {
		return fmt.Errorf("escrow: insufficient %s balance", normalized)
	}
	fromAcc.SetBalance(normalized, new(big.Int).Sub(fromAcc.Balance(normalized), amt))
	toAcc.SetBalance(normalized, new(big.Int).Add(toAcc.Balance(normalized), amt))
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return err
	}
	return nil
}

// DepositNative records custody of native currency sent by the investor.
func (e *Engine) DepositNative(caller [20]byte, offeringID [32]byte, investor [20]byte, amount *big.Int) error {
	return e.deposit(caller, offeringID, investor, AssetNative, amount)
}

// DepositToken records custody of a fungible token sent by the investor.
func (e *Engine) DepositToken(caller [20]byte, offeringID [32]byte, investor [20]byte, asset string, amount *big.Int) error {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if normalized == AssetNative {
		return fmt.Errorf("escrow: use DepositNative for the native asset")
	}
	return e.deposit(caller, offeringID, investor, normalized, amount)
}

func (e *Engine) deposit(caller [20]byte, offeringID [32]byte, investor [20]byte, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter("escrow/deposit")
	if err != nil {
		return err
	}
	defer release()
	if e.vault == ([20]byte{}) {
		return errNilVault
	}
	router, ok := e.routers[offeringID]
	if !ok {
		return ErrUnboundOffering
	}
	if caller != router {
		return fmt.Errorf("escrow: %w: caller %s is not the offering router",
			common.ErrUnauthorized, hex.EncodeToString(caller[:]))
	}
	if investor == ([20]byte{}) {
		return fmt.Errorf("escrow: investor address required")
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	enabled, err := e.state.EscrowRefundsEnabled()
	if err != nil {
		return err
	}
	if enabled {
		return ErrRefundsEnabled
	}
	if err := e.transferAsset(investor, e.vault, asset, amt); err != nil {
		return err
	}
	// Single-slot accounting: a new deposit for the same key overwrites any
	// prior record rather than adding to it.
	record := &Deposit{OfferingID: offeringID, Investor: investor, Amount: amt, Asset: asset}
	if err := e.state.EscrowDepositPut(record); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(record))
	return nil
}

// EnableRefunds flips the one-way refund switch. Once set, all future
// deposits are rejected and refunds become claimable.
func (e *Engine) EnableRefunds(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	enabled, err := e.state.EscrowRefundsEnabled()
	if err != nil {
		return err
	}
	if enabled {
		return nil
	}
	if err := e.state.EscrowSetRefundsEnabled(); err != nil {
		return err
	}
	e.emit(NewRefundsEnabledEvent())
	return nil
}

// RefundsEnabled reports the state of the one-way switch.
func (e *Engine) RefundsEnabled() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.EscrowRefundsEnabled()
}

// Refund releases the recorded deposit back to the investor. The record is
// zeroed strictly before the outbound transfer so a reentered call observes
// "already refunded" instead of double-paying; a failed transfer therefore
// leaves the investor owed nothing more.
func (e *Engine) Refund(caller [20]byte, offeringID [32]byte, investor [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter("escrow/refund")
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	enabled, err := e.state.EscrowRefundsEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		return ErrRefundsDisabled
	}
	record, ok := e.state.EscrowDepositGet(offeringID, investor)
	if !ok || !record.Live() {
		return ErrNothingToRefund
	}
	owed := cloneBigInt(record.Amount)
	asset := record.Asset
	zeroed := record.Clone()
	zeroed.Amount = big.NewInt(0)
	if err := e.state.EscrowDepositPut(zeroed); err != nil {
		return err
	}
	if err := e.transferAsset(e.vault, investor, asset, owed); err != nil {
		return fmt.Errorf("escrow: refund transfer: %w", err)
	}
	e.emit(NewRefundedEvent(offeringID, investor, asset, owed))
	return nil
}

// Withdraw sweeps contract-held balance to the supplied destination. The
// request fails when it exceeds the vault's held balance.
func (e *Engine) Withdraw(caller [20]byte, asset string, amount *big.Int, to [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter("escrow/withdraw")
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	vaultAcc, err := e.state.GetAccount(e.vault[:])
	if err != nil {
		return err
	}
	if ensureAccount(vaultAcc).Balance(normalized).Cmp(amt) < 0 {
		return ErrInsufficientVault
	}
	if err := e.transferAsset(e.vault, to, normalized, amt); err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(normalized, amt, to))
	return nil
}

// DepositInfo returns the live deposit record for the key, or nil when no
// deposit exists.
func (e *Engine) DepositInfo(offeringID [32]byte, investor [20]byte) (*Deposit, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.EscrowDepositGet(offeringID, investor)
	if !ok {
		return nil, nil
	}
	return record.Clone(), nil
}
