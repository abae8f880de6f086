package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OfferingSeed declares a fundraising round created at daemon startup. All
// monetary fields are decimal USD strings ("250000", "0.50") scaled to the
// 10^18 unit of account when applied.
type OfferingSeed struct {
	Owner          string           `yaml:"owner"`
	SaleAsset      string           `yaml:"saleAsset"`
	MinInvestment  string           `yaml:"minInvestment"`
	MaxInvestment  string           `yaml:"maxInvestment"`
	SoftCap        string           `yaml:"softCap"`
	FundraisingCap string           `yaml:"fundraisingCap"`
	PricePerToken  string           `yaml:"pricePerToken"`
	StartTime      int64            `yaml:"startTime"`
	EndTime        int64            `yaml:"endTime"`
	PayoutEnabled  bool             `yaml:"payoutEnabled"`
	PaymentAssets  map[string]uint8 `yaml:"paymentAssets"`
}

type seedFile struct {
	Offerings []OfferingSeed `yaml:"offerings"`
}

// LoadOfferingSeeds parses the YAML seed file at path. A missing path yields
// an empty slice so seeding stays optional.
func LoadOfferingSeeds(path string) ([]OfferingSeed, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var parsed seedFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("config: parse offering seeds: %w", err)
	}
	return parsed.Offerings, nil
}

// unitScale is the 10^18 fixed-point scale of the unit of account.
var unitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseUnitAmount converts a decimal string into the 10^18-scaled unit of
// account. Empty strings parse as zero.
func ParseUnitAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", value)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must be non-negative", value)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(unitScale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
