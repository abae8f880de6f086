package payout

import (
	"fmt"
	"math/big"
)

// Position is the per-investor claim right created when an offering registers
// a settled investment. Positions are keyed by the round and the investor, so
// one investor can hold independent claim rights across rounds. Periodic
// payouts accrue against Principal at a fixed per-period amount; ClaimedFinal
// is set at most once and is terminal.
type Position struct {
	OfferingID            [32]byte
	Investor              [20]byte
	Principal             *big.Int
	Asset                 string
	PayoutFrequency       uint64
	LastPayoutTime        int64
	TotalPayoutsClaimed   *big.Int
	PayoutAmountPerPeriod *big.Int
	ClaimedFinal          bool
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Principal != nil {
		clone.Principal = new(big.Int).Set(p.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	if p.TotalPayoutsClaimed != nil {
		clone.TotalPayoutsClaimed = new(big.Int).Set(p.TotalPayoutsClaimed)
	} else {
		clone.TotalPayoutsClaimed = big.NewInt(0)
	}
	if p.PayoutAmountPerPeriod != nil {
		clone.PayoutAmountPerPeriod = new(big.Int).Set(p.PayoutAmountPerPeriod)
	} else {
		clone.PayoutAmountPerPeriod = big.NewInt(0)
	}
	return &clone
}

// SanitizePosition validates the invariants every stored position must hold.
func SanitizePosition(p *Position) (*Position, error) {
	if p == nil {
		return nil, fmt.Errorf("payout: nil position")
	}
	clone := p.Clone()
	if clone.OfferingID == ([32]byte{}) {
		return nil, fmt.Errorf("payout: offering id required")
	}
	if clone.Principal.Sign() <= 0 {
		return nil, fmt.Errorf("payout: principal must be positive")
	}
	if clone.PayoutFrequency == 0 {
		return nil, fmt.Errorf("payout: frequency must be positive")
	}
	if clone.TotalPayoutsClaimed.Sign() < 0 {
		return nil, fmt.Errorf("payout: claimed total must be non-negative")
	}
	if clone.TotalPayoutsClaimed.Cmp(clone.Principal) > 0 {
		return nil, fmt.Errorf("payout: claimed total exceeds principal")
	}
	return clone, nil
}
