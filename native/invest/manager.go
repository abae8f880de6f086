package invest

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/web5lab/payout-ai/core/events"
	"github.com/web5lab/payout-ai/core/types"
	"github.com/web5lab/payout-ai/crypto"
	"github.com/web5lab/payout-ai/native/common"
	"github.com/web5lab/payout-ai/native/escrow"
)

var (
	errNilState = errors.New("invest manager: state not configured")

	// ErrNoValidators indicates no KYB validator has been registered yet, so
	// no credential can be accepted.
	ErrNoValidators = errors.New("invest: no KYB validators registered")
	// ErrLastValidator rejects removal of the final registered validator.
	ErrLastValidator = errors.New("invest: cannot remove last KYB validator")
	// ErrValidatorExists rejects duplicate validator registration.
	ErrValidatorExists = errors.New("invest: validator already registered")
	// ErrValidatorUnknown indicates the address is not a registered
	// validator.
	ErrValidatorUnknown = errors.New("invest: validator not registered")
	// ErrCredentialExpired rejects credentials past their expiry.
	ErrCredentialExpired = errors.New("invest: credential expired")
	// ErrCredentialUsed rejects credentials whose digest was already
	// consumed.
	ErrCredentialUsed = errors.New("invest: credential already used")
	// ErrUnknownSigner rejects credentials signed by anyone outside the
	// validator set.
	ErrUnknownSigner = errors.New("invest: signer is not a KYB validator")
	// ErrUnauthorizedOffering rejects refund signals from anyone but the
	// offering module.
	ErrUnauthorizedOffering = errors.New("invest: caller is not the offering module")
	// ErrRefundsNotSignalled rejects refund claims for rounds that were
	// never cancelled.
	ErrRefundsNotSignalled = errors.New("invest: refunds not signalled for offering")
	// ErrNoDeposit indicates the investor holds no live escrow deposit for
	// the round.
	ErrNoDeposit = errors.New("invest: no live deposit")
	// ErrAssetMismatch rejects refund claims naming a different asset than
	// the one deposited.
	ErrAssetMismatch = errors.New("invest: deposit asset mismatch")
)

type managerState interface {
	KYBValidatorPut(addr [20]byte) error
	KYBValidatorDelete(addr [20]byte) error
	KYBValidatorHas(addr [20]byte) (bool, error)
	KYBValidatorCount() (int, error)
	UsedDigestPut(digest [32]byte) error
	UsedDigestHas(digest [32]byte) (bool, error)
	RefundSignalSet(offeringID [32]byte) error
	RefundSignalGet(offeringID [32]byte) (bool, error)
}

// investSink is the slice of the offering engine investments are forwarded
// to after credential verification.
type investSink interface {
	Invest(caller [20]byte, offeringID [32]byte, paymentAsset string, investor [20]byte, amount *big.Int) error
}

// refundCustodian is the slice of the escrow engine refunds are settled
// through.
type refundCustodian interface {
	DepositInfo(offeringID [32]byte, investor [20]byte) (*escrow.Deposit, error)
	Refund(caller [20]byte, offeringID [32]byte, investor [20]byte) error
}

type investEvent struct {
	evt *types.Event
}

func (e investEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e investEvent) Event() *types.Event { return e.evt }

// Manager is the sole admission gate in front of the offering engine. Every
// investment must carry a KYB credential signed by a registered validator;
// consumed credential digests are recorded forever so a signature can never
// authorize twice. The manager also owns the per-offering refund signal set
// when a round is cancelled.
type Manager struct {
	state        managerState
	emitter      events.Emitter
	authority    *common.Authority
	offerings    investSink
	custody      refundCustodian
	chainID      uint64
	managerAddr  [20]byte
	offeringAddr [20]byte
	nowFn        func() int64
}

// NewManager creates an investment manager with a no-op emitter.
func NewManager(chainID uint64) *Manager {
	return &Manager{
		emitter: events.NoopEmitter{},
		chainID: chainID,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the manager.
func (m *Manager) SetState(state managerState) { m.state = state }

// SetAuthority configures the capability object gating validator set
// changes.
func (m *Manager) SetAuthority(authority *common.Authority) { m.authority = authority }

// SetOfferings wires the offering engine verified investments are forwarded
// to.
func (m *Manager) SetOfferings(sink investSink) { m.offerings = sink }

// SetCustody wires the escrow engine refunds are settled through.
func (m *Manager) SetCustody(c refundCustodian) { m.custody = c }

// SetAddress configures the address this manager acts under when calling
// downstream engines. The address is part of every credential digest.
func (m *Manager) SetAddress(addr [20]byte) { m.managerAddr = addr }

// SetOfferingModule configures the only address allowed to signal refunds.
func (m *Manager) SetOfferingModule(addr [20]byte) { m.offeringAddr = addr }

// SetNowFunc overrides the time source used for expiry checks. Primarily
// intended for tests.
func (m *Manager) SetNowFunc(now func() int64) {
	if now == nil {
		m.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	m.nowFn = now
}

// SetEmitter configures the event emitter used by the manager. Passing nil
// resets the emitter to a no-op implementation.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

func (m *Manager) emit(event *types.Event) {
	if m == nil || m.emitter == nil || event == nil {
		return
	}
	m.emitter.Emit(investEvent{evt: event})
}

func (m *Manager) requireAdmin(caller [20]byte) error {
	if m.authority == nil {
		return common.ErrUnauthorized
	}
	return m.authority.Require(common.RoleAdmin, caller)
}

// AddKYBValidator registers a validator address whose signatures admit
// investors. Restricted to administrators.
func (m *Manager) AddKYBValidator(caller, validator [20]byte) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if err := m.requireAdmin(caller); err != nil {
		return err
	}
	if validator == ([20]byte{}) {
		return fmt.Errorf("invest: validator address required")
	}
	exists, err := m.state.KYBValidatorHas(validator)
	if err != nil {
		return err
	}
	if exists {
		return ErrValidatorExists
	}
	if err := m.state.KYBValidatorPut(validator); err != nil {
		return err
	}
	m.emit(NewValidatorAddedEvent(validator))
	return nil
}

// RemoveKYBValidator deregisters a validator. The set can never be emptied
// once populated: removing the last validator is rejected so admission stays
// possible.
func (m *Manager) RemoveKYBValidator(caller, validator [20]byte) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if err := m.requireAdmin(caller); err != nil {
		return err
	}
	exists, err := m.state.KYBValidatorHas(validator)
	if err != nil {
		return err
	}
	if !exists {
		return ErrValidatorUnknown
	}
	count, err := m.state.KYBValidatorCount()
	if err != nil {
		return err
	}
	if count <= 1 {
		return ErrLastValidator
	}
	if err := m.state.KYBValidatorDelete(validator); err != nil {
		return err
	}
	m.emit(NewValidatorRemovedEvent(validator))
	return nil
}

// IsKYBValidator reports whether the address is a registered validator.
func (m *Manager) IsKYBValidator(addr [20]byte) (bool, error) {
	if m == nil || m.state == nil {
		return false, errNilState
	}
	return m.state.KYBValidatorHas(addr)
}

// IsSignatureUsed reports whether a credential digest has been consumed.
func (m *Manager) IsSignatureUsed(digest [32]byte) (bool, error) {
	if m == nil || m.state == nil {
		return false, errNilState
	}
	return m.state.UsedDigestHas(digest)
}

// VerifyCredential checks a KYB credential without consuming it, returning
// the digest and the recovered signer on success.
func (m *Manager) VerifyCredential(investor [20]byte, nonce uint64, expiry int64, sig []byte) ([32]byte, [20]byte, error) {
	var zeroDigest [32]byte
	var zeroAddr [20]byte
	if m == nil || m.state == nil {
		return zeroDigest, zeroAddr, errNilState
	}
	count, err := m.state.KYBValidatorCount()
	if err != nil {
		return zeroDigest, zeroAddr, err
	}
	if count == 0 {
		return zeroDigest, zeroAddr, ErrNoValidators
	}
	if expiry < m.nowFn() {
		return zeroDigest, zeroAddr, ErrCredentialExpired
	}
	digest := Credential{
		Domain:   CredentialDomain,
		ChainID:  m.chainID,
		Manager:  m.managerAddr,
		Investor: investor,
		Nonce:    nonce,
		Expiry:   expiry,
	}.Hash()
	used, err := m.state.UsedDigestHas(digest)
	if err != nil {
		return zeroDigest, zeroAddr, err
	}
	if used {
		return zeroDigest, zeroAddr, ErrCredentialUsed
	}
	signer, err := crypto.RecoverAddress(digest[:], sig)
	if err != nil {
		return zeroDigest, zeroAddr, fmt.Errorf("invest: recover signer: %w", err)
	}
	registered, err := m.state.KYBValidatorHas(signer)
	if err != nil {
		return zeroDigest, zeroAddr, err
	}
	if !registered {
		return zeroDigest, zeroAddr, ErrUnknownSigner
	}
	return digest, signer, nil
}

// RouteInvestmentWithCredential verifies the credential, consumes its digest
// and forwards the investment to the offering engine. The digest is marked
// used before the forward: a credential spent on a failing investment is
// spent for good.
func (m *Manager) RouteInvestmentWithCredential(offeringID [32]byte, paymentAsset string, investor [20]byte, amount *big.Int, nonce uint64, expiry int64, sig []byte) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if m.offerings == nil {
		return fmt.Errorf("invest: offering engine not configured")
	}
	digest, signer, err := m.VerifyCredential(investor, nonce, expiry, sig)
	if err != nil {
		return err
	}
	if err := m.state.UsedDigestPut(digest); err != nil {
		return err
	}
	m.emit(NewCredentialAcceptedEvent(investor, signer, digest))
	if err := m.offerings.Invest(m.managerAddr, offeringID, paymentAsset, investor, amount); err != nil {
		return err
	}
	return nil
}

// SignalRefunds records that a round was cancelled and its deposits may be
// claimed back. Only the offering module may signal.
func (m *Manager) SignalRefunds(caller [20]byte, offeringID [32]byte) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if m.offeringAddr == ([20]byte{}) || caller != m.offeringAddr {
		return ErrUnauthorizedOffering
	}
	return m.state.RefundSignalSet(offeringID)
}

// RefundsSignalled reports whether refunds were signalled for the round.
func (m *Manager) RefundsSignalled(offeringID [32]byte) (bool, error) {
	if m == nil || m.state == nil {
		return false, errNilState
	}
	return m.state.RefundSignalGet(offeringID)
}

// ClaimRefund returns an investor's escrowed deposit after the round was
// cancelled. The claim names the asset it expects back; a mismatch with the
// recorded deposit is rejected.
func (m *Manager) ClaimRefund(offeringID [32]byte, investor [20]byte, asset string) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if m.custody == nil {
		return fmt.Errorf("invest: escrow engine not configured")
	}
	signalled, err := m.state.RefundSignalGet(offeringID)
	if err != nil {
		return err
	}
	if !signalled {
		return ErrRefundsNotSignalled
	}
	deposit, err := m.custody.DepositInfo(offeringID, investor)
	if err != nil {
		return err
	}
	if deposit == nil || !deposit.Live() {
		return ErrNoDeposit
	}
	symbol, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if deposit.Asset != symbol {
		return ErrAssetMismatch
	}
	if err := m.custody.Refund(m.managerAddr, offeringID, investor); err != nil {
		return err
	}
	m.emit(NewRefundClaimedEvent(offeringID, investor, deposit.Asset, deposit.Amount))
	return nil
}
