// Package oracle provides the market data surface the trading core consumes:
// current prices with provenance timestamps and a coarse volatility regime per
// symbol. Consumers decide how stale a quote they are willing to act on.
package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/clock"
)

var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// Quote is a point-in-time price observation. AsOf is when the price was
// observed, not when it was served.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.AsOf)
}

// Regime summarizes current market conditions for a symbol. Volatility is an
// annualized fraction; the risk gate compares it against its high-volatility
// threshold.
type Regime struct {
	Symbol     string          `json:"symbol"`
	Volatility decimal.Decimal `json:"volatility"`
}

// PriceOracle serves quotes and regimes.
type PriceOracle interface {
	CurrentPrice(ctx context.Context, symbol string) (Quote, error)
	CurrentRegime(ctx context.Context, symbol string) (Regime, error)
}

// StaticOracle serves prices from an in-memory table. It backs the paper
// broker and tests.
type StaticOracle struct {
	mu      sync.RWMutex
	clock   clock.Clock
	quotes  map[string]Quote
	regimes map[string]Regime
}

func NewStaticOracle(clk clock.Clock) *StaticOracle {
	return &StaticOracle{
		clock:   clk,
		quotes:  make(map[string]Quote),
		regimes: make(map[string]Regime),
	}
}

// SetPrice records a fresh quote stamped with the oracle's clock.
func (o *StaticOracle) SetPrice(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quotes[symbol] = Quote{Symbol: symbol, Price: price, AsOf: o.clock.Now()}
}

// SetPriceAt records a quote with an explicit observation time.
func (o *StaticOracle) SetPriceAt(symbol string, price decimal.Decimal, asOf time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quotes[symbol] = Quote{Symbol: symbol, Price: price, AsOf: asOf}
}

func (o *StaticOracle) SetVolatility(symbol string, volatility decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.regimes[symbol] = Regime{Symbol: symbol, Volatility: volatility}
}

func (o *StaticOracle) CurrentPrice(_ context.Context, symbol string) (Quote, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	q, ok := o.quotes[symbol]
	if !ok {
		return Quote{}, ErrPriceUnavailable
	}
	return q, nil
}

func (o *StaticOracle) CurrentRegime(_ context.Context, symbol string) (Regime, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	r, ok := o.regimes[symbol]
	if !ok {
		// Unknown symbols default to a calm regime rather than blocking
		// trading on missing volatility data.
		return Regime{Symbol: symbol, Volatility: decimal.Zero}, nil
	}
	return r, nil
}
