package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultOracleStaleness bounds how old an oracle observation may be
	// before investments valuing against it are rejected.
	DefaultOracleStaleness = 24 * time.Hour
	// DefaultPayoutRateBps is the per-period payout rate in basis points.
	DefaultPayoutRateBps = uint64(500)
	// DefaultPayoutPeriod is the payout accrual period.
	DefaultPayoutPeriod = 30 * 24 * time.Hour
	// DefaultPenaltyBps is the emergency-unlock penalty in basis points.
	DefaultPenaltyBps = uint64(2_000)
	// DefaultMaturityDelay separates finalize from payout maturity.
	DefaultMaturityDelay = 365 * 24 * time.Hour
)

// Config is the daemon configuration decoded from TOML.
type Config struct {
	ListenAddress    string `toml:"ListenAddress"`
	MetricsAddress   string `toml:"MetricsAddress"`
	DataDir          string `toml:"DataDir"`
	ExplorerDB       string `toml:"ExplorerDB"`
	Environment      string `toml:"Environment"`
	ChainID          uint64 `toml:"ChainID"`
	LogFile          string `toml:"LogFile"`
	OfferingSeedFile string `toml:"OfferingSeedFile"`

	// Addresses are hex-encoded 20-byte account identifiers.
	AdminAddress    string `toml:"AdminAddress"`
	VaultAddress    string `toml:"VaultAddress"`
	TreasuryAddress string `toml:"TreasuryAddress"`
	PoolAddress     string `toml:"PoolAddress"`
	SaleTreasury    string `toml:"SaleTreasury"`

	OracleStalenessSeconds int64  `toml:"OracleStalenessSeconds"`
	PayoutRateBps          uint64 `toml:"PayoutRateBps"`
	PayoutPeriodSeconds    uint64 `toml:"PayoutPeriodSeconds"`
	PenaltyBps             uint64 `toml:"PenaltyBps"`
	MaturityDelaySeconds   int64  `toml:"MaturityDelaySeconds"`

	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
}

// Load reads the configuration file at path, creating a default file when
// none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalise fills in defaults for every field left unset.
func (c *Config) Normalise() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9090"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./payout-data"
	}
	if strings.TrimSpace(c.ExplorerDB) == "" {
		c.ExplorerDB = "./payout-data/explorer.db"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if c.ChainID == 0 {
		c.ChainID = 4217
	}
	if c.OracleStalenessSeconds <= 0 {
		c.OracleStalenessSeconds = int64(DefaultOracleStaleness / time.Second)
	}
	if c.PayoutRateBps == 0 {
		c.PayoutRateBps = DefaultPayoutRateBps
	}
	if c.PayoutPeriodSeconds == 0 {
		c.PayoutPeriodSeconds = uint64(DefaultPayoutPeriod / time.Second)
	}
	if c.PenaltyBps == 0 {
		c.PenaltyBps = DefaultPenaltyBps
	}
	if c.MaturityDelaySeconds <= 0 {
		c.MaturityDelaySeconds = int64(DefaultMaturityDelay / time.Second)
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = 50
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 100
	}
}

// Validate rejects configurations that cannot produce a working daemon.
func (c *Config) Validate() error {
	if c.PayoutRateBps > 10_000 {
		return fmt.Errorf("config: PayoutRateBps %d exceeds 10000", c.PayoutRateBps)
	}
	if c.PenaltyBps > 10_000 {
		return fmt.Errorf("config: PenaltyBps %d exceeds 10000", c.PenaltyBps)
	}
	for name, value := range map[string]string{
		"AdminAddress":    c.AdminAddress,
		"VaultAddress":    c.VaultAddress,
		"TreasuryAddress": c.TreasuryAddress,
		"PoolAddress":     c.PoolAddress,
		"SaleTreasury":    c.SaleTreasury,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := ParseAddress(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// OracleStaleness returns the staleness bound as a duration.
func (c *Config) OracleStaleness() time.Duration {
	return time.Duration(c.OracleStalenessSeconds) * time.Second
}

// MaturityDelay returns the finalize-to-maturity delay as a duration.
func (c *Config) MaturityDelay() time.Duration {
	return time.Duration(c.MaturityDelaySeconds) * time.Second
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Normalise()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
