package offering

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// unitScale is the fixed-point scale of the unit of account (USD, 10^18).
var unitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ErrValueOverflow indicates the unit-of-account conversion left the
// permitted 128-bit range. This is an explicit precondition, not a silent
// wrap.
var ErrValueOverflow = errors.New("offering: converted value exceeds 128-bit range")

// convertToUnit values a raw payment amount in the unit of account:
// amount * price / 10^decimals, where price is USD per whole asset unit at
// 10^18 precision. Both the intermediate product and the result are bounds
// checked.
func convertToUnit(amount, price *big.Int, decimals uint8) (*big.Int, error) {
	if amount == nil || price == nil || amount.Sign() <= 0 || price.Sign() <= 0 {
		return nil, errors.New("offering: amount and price must be positive")
	}
	amt, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrValueOverflow
	}
	prc, overflow := uint256.FromBig(price)
	if overflow {
		return nil, ErrValueOverflow
	}
	product := new(uint256.Int)
	if _, overflow = product.MulOverflow(amt, prc); overflow {
		return nil, ErrValueOverflow
	}
	divisor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	value := new(uint256.Int).Div(product, divisor)
	if value.BitLen() > 128 {
		return nil, ErrValueOverflow
	}
	return value.ToBig(), nil
}

// tokensForValue computes the sale tokens owed for a unit-of-account value at
// the given USD-per-token price: value * 10^18 / price.
func tokensForValue(value, pricePerToken *big.Int) (*big.Int, error) {
	if pricePerToken == nil || pricePerToken.Sign() <= 0 {
		return nil, errors.New("offering: token price must be positive")
	}
	if value == nil || value.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	tokens := new(big.Int).Mul(value, unitScale)
	return tokens.Quo(tokens, pricePerToken), nil
}
