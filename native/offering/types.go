package offering

import (
	"fmt"
	"math/big"

	"github.com/web5lab/payout-ai/native/escrow"
)

// Status represents the lifecycle states of a fundraising round. Transitions
// are one-way: Active is the only state that admits investments, and both
// Finalized and Cancelled are terminal.
type Status uint8

const (
	StatusActive Status = iota
	StatusFinalized
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusFinalized, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusFinalized:
		return "finalized"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Offering captures the configuration and accounting of a single fundraising
// round. Monetary caps and limits are denominated in the unit of account
// (USD) at 10^18 precision; PricePerToken is USD per whole sale token at the
// same precision.
type Offering struct {
	ID             [32]byte
	Owner          [20]byte
	SaleAsset      string
	MinInvestment  *big.Int
	MaxInvestment  *big.Int
	SoftCap        *big.Int
	FundraisingCap *big.Int
	PricePerToken  *big.Int
	StartTime      int64
	EndTime        int64
	PayoutEnabled  bool
	Status         Status
	SaleClosed     bool
	SoftCapReached bool
	TotalRaised    *big.Int
	CreatedAt      int64
	// PaymentAssets whitelists accepted payment assets and records their
	// on-ledger decimals, keyed by canonical symbol.
	PaymentAssets map[string]uint8
}

// Clone returns a deep copy of the offering so callers can safely mutate the
// copy without affecting the stored instance.
func (o *Offering) Clone() *Offering {
	if o == nil {
		return nil
	}
	clone := *o
	clone.MinInvestment = cloneOrZero(o.MinInvestment)
	clone.MaxInvestment = cloneOrZero(o.MaxInvestment)
	clone.SoftCap = cloneOrZero(o.SoftCap)
	clone.FundraisingCap = cloneOrZero(o.FundraisingCap)
	clone.PricePerToken = cloneOrZero(o.PricePerToken)
	clone.TotalRaised = cloneOrZero(o.TotalRaised)
	clone.PaymentAssets = make(map[string]uint8, len(o.PaymentAssets))
	for asset, decimals := range o.PaymentAssets {
		clone.PaymentAssets[asset] = decimals
	}
	return &clone
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// PaymentAssetDecimals resolves the decimals for a whitelisted payment asset.
func (o *Offering) PaymentAssetDecimals(asset string) (uint8, bool) {
	if o == nil || o.PaymentAssets == nil {
		return 0, false
	}
	decimals, ok := o.PaymentAssets[asset]
	return decimals, ok
}

// SanitizeOffering validates and normalises the supplied definition,
// returning a cloned instance with canonical asset casing and non-nil amount
// fields. The function does not mutate the original value.
func SanitizeOffering(o *Offering) (*Offering, error) {
	if o == nil {
		return nil, fmt.Errorf("offering: nil offering")
	}
	clone := o.Clone()
	saleAsset, err := escrow.NormalizeAsset(clone.SaleAsset)
	if err != nil {
		return nil, fmt.Errorf("offering: sale asset: %w", err)
	}
	clone.SaleAsset = saleAsset
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("offering: invalid status: %d", clone.Status)
	}
	if clone.PricePerToken.Sign() <= 0 {
		return nil, fmt.Errorf("offering: token price must be positive")
	}
	if clone.FundraisingCap.Sign() <= 0 {
		return nil, fmt.Errorf("offering: fundraising cap must be positive")
	}
	if clone.SoftCap.Sign() < 0 || clone.SoftCap.Cmp(clone.FundraisingCap) > 0 {
		return nil, fmt.Errorf("offering: soft cap must not exceed fundraising cap")
	}
	if clone.MinInvestment.Sign() < 0 {
		return nil, fmt.Errorf("offering: minimum investment must be non-negative")
	}
	if clone.MaxInvestment.Sign() > 0 && clone.MaxInvestment.Cmp(clone.MinInvestment) < 0 {
		return nil, fmt.Errorf("offering: maximum investment below minimum")
	}
	if clone.EndTime <= clone.StartTime {
		return nil, fmt.Errorf("offering: end time must be after start time")
	}
	if clone.TotalRaised.Sign() < 0 {
		return nil, fmt.Errorf("offering: raised total must be non-negative")
	}
	if clone.TotalRaised.Cmp(clone.FundraisingCap) > 0 {
		return nil, fmt.Errorf("offering: raised total exceeds fundraising cap")
	}
	normalized := make(map[string]uint8, len(clone.PaymentAssets))
	for asset, decimals := range clone.PaymentAssets {
		symbol, err := escrow.NormalizeAsset(asset)
		if err != nil {
			return nil, err
		}
		normalized[symbol] = decimals
	}
	clone.PaymentAssets = normalized
	return clone, nil
}

// StatusSnapshot is the read model returned to administrators and the HTTP
// surface.
type StatusSnapshot struct {
	ID             [32]byte
	Active         bool
	Closed         bool
	Finalized      bool
	Cancelled      bool
	SoftCapReached bool
	Raised         *big.Int
	Cap            *big.Int
	EndTime        int64
}
