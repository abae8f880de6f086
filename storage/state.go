package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/web5lab/payout-ai/core/types"
	"github.com/web5lab/payout-ai/native/escrow"
	"github.com/web5lab/payout-ai/native/offering"
	"github.com/web5lab/payout-ai/native/payout"
)

// State persists every engine's records in a single key-value store under
// namespaced keys. It satisfies the state interfaces of the escrow, offering,
// payout and invest engines, so one State instance backs the whole
// settlement pipeline.
type State struct {
	db Database
}

// NewState wraps a key-value database in the settlement state schema.
func NewState(db Database) *State {
	return &State{db: db}
}

const (
	keyEscrowRefunds = "escrow/refunds_enabled"
	keyValidatorSet  = "invest/validators"
)

func keyAccount(addr []byte) []byte {
	return []byte("acct/" + hex.EncodeToString(addr))
}

func keyEscrowDeposit(offeringID [32]byte, investor [20]byte) []byte {
	return []byte("escrow/deposit/" + hex.EncodeToString(offeringID[:]) + "/" + hex.EncodeToString(investor[:]))
}

func keyOffering(id [32]byte) []byte {
	return []byte("offering/record/" + hex.EncodeToString(id[:]))
}

func keyContribution(offeringID [32]byte, investor [20]byte) []byte {
	return []byte("offering/contrib/" + hex.EncodeToString(offeringID[:]) + "/" + hex.EncodeToString(investor[:]))
}

func keyPendingClaim(offeringID [32]byte, investor [20]byte) []byte {
	return []byte("offering/claim/" + hex.EncodeToString(offeringID[:]) + "/" + hex.EncodeToString(investor[:]))
}

func keyPayoutPosition(offeringID [32]byte, investor [20]byte) []byte {
	return []byte("payout/position/" + hex.EncodeToString(offeringID[:]) + "/" + hex.EncodeToString(investor[:]))
}

func keyPayoutMaturity(offeringID [32]byte) []byte {
	return []byte("payout/maturity/" + hex.EncodeToString(offeringID[:]))
}

func keyUsedDigest(digest [32]byte) []byte {
	return []byte("invest/used/" + hex.EncodeToString(digest[:]))
}

func keyRefundSignal(offeringID [32]byte) []byte {
	return []byte("invest/refund_signal/" + hex.EncodeToString(offeringID[:]))
}

func (s *State) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", string(key), err)
	}
	return true, nil
}

func (s *State) putJSON(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", string(key), err)
	}
	return s.db.Put(key, raw)
}

func (s *State) getBigInt(key []byte) (*big.Int, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("storage: corrupt amount under %s", string(key))
	}
	return value, nil
}

func (s *State) putBigInt(key []byte, value *big.Int) error {
	if value == nil {
		value = big.NewInt(0)
	}
	return s.db.Put(key, []byte(value.String()))
}

// --- Accounts ---

// GetAccount loads the account record for the address, returning a fresh
// empty account when none is stored.
func (s *State) GetAccount(addr []byte) (*types.Account, error) {
	account := types.NewAccount()
	if _, err := s.getJSON(keyAccount(addr), account); err != nil {
		return nil, err
	}
	if account.Balances == nil {
		account.Balances = make(map[string]*big.Int)
	}
	return account, nil
}

// PutAccount stores the account record for the address.
func (s *State) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		account = types.NewAccount()
	}
	return s.putJSON(keyAccount(addr), account)
}

// --- Escrow ---

func (s *State) EscrowDepositPut(deposit *escrow.Deposit) error {
	sanitized, err := escrow.SanitizeDeposit(deposit)
	if err != nil {
		return err
	}
	return s.putJSON(keyEscrowDeposit(sanitized.OfferingID, sanitized.Investor), sanitized)
}

func (s *State) EscrowDepositGet(offeringID [32]byte, investor [20]byte) (*escrow.Deposit, bool) {
	deposit := new(escrow.Deposit)
	ok, err := s.getJSON(keyEscrowDeposit(offeringID, investor), deposit)
	if err != nil || !ok {
		return nil, false
	}
	return deposit, true
}

func (s *State) EscrowRefundsEnabled() (bool, error) {
	return s.db.Has([]byte(keyEscrowRefunds))
}

// EscrowSetRefundsEnabled flips the one-way refund switch. There is no
// corresponding clear operation.
func (s *State) EscrowSetRefundsEnabled() error {
	return s.db.Put([]byte(keyEscrowRefunds), []byte{1})
}

// --- Offerings ---

func (s *State) OfferingPut(record *offering.Offering) error {
	if record == nil {
		return fmt.Errorf("storage: nil offering")
	}
	return s.putJSON(keyOffering(record.ID), record)
}

func (s *State) OfferingGet(id [32]byte) (*offering.Offering, bool) {
	record := new(offering.Offering)
	ok, err := s.getJSON(keyOffering(id), record)
	if err != nil || !ok {
		return nil, false
	}
	return record, true
}

func (s *State) ContributionGet(offeringID [32]byte, investor [20]byte) (*big.Int, error) {
	return s.getBigInt(keyContribution(offeringID, investor))
}

func (s *State) ContributionPut(offeringID [32]byte, investor [20]byte, value *big.Int) error {
	return s.putBigInt(keyContribution(offeringID, investor), value)
}

func (s *State) PendingClaimGet(offeringID [32]byte, investor [20]byte) (*big.Int, error) {
	return s.getBigInt(keyPendingClaim(offeringID, investor))
}

func (s *State) PendingClaimPut(offeringID [32]byte, investor [20]byte, tokens *big.Int) error {
	return s.putBigInt(keyPendingClaim(offeringID, investor), tokens)
}

// --- Payout positions ---

func (s *State) PayoutPositionPut(position *payout.Position) error {
	sanitized, err := payout.SanitizePosition(position)
	if err != nil {
		return err
	}
	return s.putJSON(keyPayoutPosition(sanitized.OfferingID, sanitized.Investor), sanitized)
}

func (s *State) PayoutPositionGet(offeringID [32]byte, investor [20]byte) (*payout.Position, bool) {
	position := new(payout.Position)
	ok, err := s.getJSON(keyPayoutPosition(offeringID, investor), position)
	if err != nil || !ok {
		return nil, false
	}
	return position, true
}

func (s *State) PayoutMaturityGet(offeringID [32]byte) (int64, bool, error) {
	raw, err := s.db.Get(keyPayoutMaturity(offeringID))
	if errors.Is(err, ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	maturity, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("storage: corrupt maturity: %w", err)
	}
	return maturity, true, nil
}

func (s *State) PayoutMaturitySet(offeringID [32]byte, maturity int64) error {
	return s.db.Put(keyPayoutMaturity(offeringID), []byte(strconv.FormatInt(maturity, 10)))
}

// --- KYB validators and credentials ---

func (s *State) loadValidators() ([][20]byte, error) {
	var encoded []string
	if _, err := s.getJSON([]byte(keyValidatorSet), &encoded); err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(encoded))
	for _, entry := range encoded {
		raw, err := hex.DecodeString(entry)
		if err != nil || len(raw) != 20 {
			return nil, fmt.Errorf("storage: corrupt validator entry %q", entry)
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, addr)
	}
	return out, nil
}

func (s *State) storeValidators(validators [][20]byte) error {
	encoded := make([]string, 0, len(validators))
	for _, addr := range validators {
		encoded = append(encoded, hex.EncodeToString(addr[:]))
	}
	return s.putJSON([]byte(keyValidatorSet), encoded)
}

func (s *State) KYBValidatorPut(addr [20]byte) error {
	validators, err := s.loadValidators()
	if err != nil {
		return err
	}
	for _, existing := range validators {
		if existing == addr {
			return nil
		}
	}
	return s.storeValidators(append(validators, addr))
}

func (s *State) KYBValidatorDelete(addr [20]byte) error {
	validators, err := s.loadValidators()
	if err != nil {
		return err
	}
	filtered := validators[:0]
	for _, existing := range validators {
		if existing != addr {
			filtered = append(filtered, existing)
		}
	}
	return s.storeValidators(filtered)
}

func (s *State) KYBValidatorHas(addr [20]byte) (bool, error) {
	validators, err := s.loadValidators()
	if err != nil {
		return false, err
	}
	for _, existing := range validators {
		if existing == addr {
			return true, nil
		}
	}
	return false, nil
}

func (s *State) KYBValidatorCount() (int, error) {
	validators, err := s.loadValidators()
	if err != nil {
		return 0, err
	}
	return len(validators), nil
}

// UsedDigestPut records a consumed credential digest. The set only ever
// grows; replay protection outlives every offering.
func (s *State) UsedDigestPut(digest [32]byte) error {
	return s.db.Put(keyUsedDigest(digest), []byte{1})
}

func (s *State) UsedDigestHas(digest [32]byte) (bool, error) {
	return s.db.Has(keyUsedDigest(digest))
}

func (s *State) RefundSignalSet(offeringID [32]byte) error {
	return s.db.Put(keyRefundSignal(offeringID), []byte{1})
}

func (s *State) RefundSignalGet(offeringID [32]byte) (bool, error) {
	return s.db.Has(keyRefundSignal(offeringID))
}
