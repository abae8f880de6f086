package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// AssetNative is the reserved symbol for the chain's native currency.
const AssetNative = "NATIVE"

// Deposit is the custody record held for a single (offering, investor) pair.
// At most one live deposit exists per key: a later deposit for the same pair
// overwrites the earlier one. This is intentional single-slot accounting, not
// additive accumulation.
type Deposit struct {
	OfferingID [32]byte
	Investor   [20]byte
	Amount     *big.Int
	Asset      string
}

// Clone returns a deep copy of the deposit so callers can safely mutate the
// copy without affecting the stored instance.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Amount != nil {
		clone.Amount = new(big.Int).Set(d.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Live reports whether the record still custodies funds. A zeroed record is
// treated as "no deposit".
func (d *Deposit) Live() bool {
	return d != nil && d.Amount != nil && d.Amount.Sign() > 0
}

// NormalizeAsset canonicalises an asset symbol to uppercase and rejects empty
// symbols.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("escrow: asset symbol required")
	}
	return trimmed, nil
}

// SanitizeDeposit validates and normalises the supplied record, returning a
// cloned instance with canonical asset casing and a non-nil amount field.
func SanitizeDeposit(d *Deposit) (*Deposit, error) {
	if d == nil {
		return nil, fmt.Errorf("escrow: nil deposit")
	}
	clone := d.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if clone.Amount == nil {
		clone.Amount = big.NewInt(0)
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow: deposit amount must be non-negative")
	}
	return clone, nil
}
