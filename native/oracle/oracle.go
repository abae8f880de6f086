package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// PriceScale is the fixed-point scale used for all quoted prices: a quote of
// 1.00 USD is represented as 10^18.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Quote captures a price observation for a single asset. Price is the USD
// value of one whole unit of the asset at PriceScale precision.
type Quote struct {
	Price      *big.Int
	ObservedAt time.Time
	Source     string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{ObservedAt: q.ObservedAt, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Source resolves the latest price observation for the supplied asset symbol.
type Source interface {
	Price(asset string) (Quote, error)
}

// ErrNoFreshQuote indicates that no registered source produced a quote within
// the configured freshness window.
var ErrNoFreshQuote = errors.New("oracle: no fresh quote available")

// Aggregator consults a list of registered sources in priority order until a
// fresh, positive quote is obtained.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]Source
	maxAge   time.Duration
	nowFn    func() time.Time
}

// NewAggregator constructs an aggregator with the provided priority ordering
// and freshness window. A zero maxAge disables the freshness check.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		sources:  make(map[string]Source),
		maxAge:   maxAge,
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the aggregator clock, primarily for deterministic
// testing.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.nowFn = now
	a.mu.Unlock()
}

// Register adds or replaces a source under the supplied identifier.
// Identifiers are stored in lowercase so lookups remain consistent regardless
// of configuration casing.
func (a *Aggregator) Register(name string, source Source) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// Price fetches a quote from the configured sources respecting the priority
// ordering. Stale and non-positive quotes are skipped; the last failure is
// surfaced when every source is exhausted.
func (a *Aggregator) Price(asset string) (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("oracle aggregator not configured")
	}
	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return Quote{}, fmt.Errorf("oracle: asset symbol required")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.nowFn()
	a.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now.Add(-maxAge)
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		source := a.sources[strings.ToLower(name)]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		quote, err := source.Price(symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle: source %s returned invalid price", name)
			continue
		}
		if maxAge > 0 && quote.ObservedAt.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = strings.ToLower(name)
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}

// Manual provides an in-memory source implementation used for tests and
// manual overrides during incident response.
type Manual struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManual constructs an empty manual source.
func NewManual() *Manual {
	return &Manual{quotes: make(map[string]Quote)}
}

// Set stores the provided price for the asset at the supplied observation
// time.
func (m *Manual) Set(asset string, price *big.Int, observedAt time.Time) {
	if m == nil || price == nil {
		return
	}
	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return
	}
	m.mu.Lock()
	m.quotes[symbol] = Quote{Price: new(big.Int).Set(price), ObservedAt: observedAt, Source: "manual"}
	m.mu.Unlock()
}

// SetDecimal records a decimal price string, e.g. "1.00" or "0.9987".
func (m *Manual) SetDecimal(asset, price string, observedAt time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual oracle: invalid price %q", price)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("manual oracle: price must be positive")
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(PriceScale))
	m.Set(asset, new(big.Int).Quo(scaled.Num(), scaled.Denom()), observedAt)
	return nil
}

// Price retrieves the stored quote for the asset.
func (m *Manual) Price(asset string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual oracle not configured")
	}
	symbol := normaliseSymbol(asset)
	m.mu.RLock()
	stored, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("manual oracle: quote for %s not found", asset)
	}
	return stored.Clone(), nil
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
