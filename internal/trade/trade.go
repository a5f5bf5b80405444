// Package trade defines the persistent trade configuration, the order
// requests the signal layer hands to the orchestrator, and the correlation
// pairing that links the two legs of a double trade.
package trade

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pairtrader/internal/numeric"
	"pairtrader/pkg/exchanges/common"
)

var (
	ErrNoPrice = errors.New("no reference price set")
	ErrNoSize  = errors.New("neither size nor quote amount configured")
)

// Config is one leg's trading configuration. It is created once per
// configured pair and persists across repeated executions; the balance
// carries accumulate truncation leftovers between runs.
type Config struct {
	Venue  string
	Market common.MarketType
	Symbol string
	Base   string // base currency, e.g. BTC
	Quote  string // quote currency, e.g. USDT

	Side common.Side
	Type common.OrderType

	// Exactly one of Size / QuoteAmount drives a market order at any time.
	Size                decimal.Decimal // base units
	QuoteAmount         decimal.Decimal // quote budget, used when Size is zero
	OriginalQuoteAmount decimal.Decimal // user-specified target the carry reconciles against
	Leverage            int             // futures only, >= 1

	PricePrecision int32
	QtyPrecision   int32
	TickSize       decimal.Decimal
	MinNotional    decimal.Decimal

	// Truncation leftovers, applied to the next order of this config.
	BaseBalance  decimal.Decimal
	QuoteBalance decimal.Decimal
}

// ReconcileQuoteAmount settles QuoteAmount against the configured target and
// the quote carry. It fails without touching the carry when the reconciled
// amount would miss the venue minimum notional.
func (c *Config) ReconcileQuoteAmount() error {
	delivered, carry, err := numeric.ReconcileQuote(c.QuoteAmount, c.OriginalQuoteAmount, c.QuoteBalance, c.MinNotional)
	if err != nil {
		return err
	}
	c.QuoteAmount = delivered
	c.QuoteBalance = carry
	return nil
}

// ResolveQty turns the configuration into an order quantity for the given
// reference price, truncated to the venue precision. Truncation leftovers go
// back into the matching balance carry so repeated orders settle at the
// configured notional.
func (c *Config) ResolveQty(price decimal.Decimal) (decimal.Decimal, error) {
	if !c.Size.IsZero() {
		raw := c.Size.Add(c.BaseBalance)
		qty := numeric.Truncate(raw, c.QtyPrecision)
		if qty.IsZero() {
			return decimal.Zero, ErrNoSize
		}
		if !numeric.MeetsMinNotional(price, qty, c.MinNotional) {
			return decimal.Zero, numeric.ErrBelowMinNotional
		}
		c.BaseBalance = raw.Sub(qty)
		return qty, nil
	}

	if c.QuoteAmount.IsZero() {
		return decimal.Zero, ErrNoSize
	}
	if price.IsZero() {
		return decimal.Zero, ErrNoPrice
	}
	if err := c.ReconcileQuoteAmount(); err != nil {
		return decimal.Zero, err
	}

	lev := decimal.NewFromInt(int64(max(c.Leverage, 1)))
	raw := c.QuoteAmount.Mul(lev).Div(price)
	qty := numeric.Truncate(raw, c.QtyPrecision)
	if qty.IsZero() {
		return decimal.Zero, ErrNoSize
	}
	// Unspent quote from truncation is carried forward, not lost.
	spent := qty.Mul(price).Div(lev)
	c.QuoteBalance = c.QuoteBalance.Add(c.QuoteAmount.Sub(spent))
	c.QuoteAmount = spent
	return qty, nil
}

// LimitPrice truncates the reference price to the venue price precision,
// coarsened by extra decimal places dropped on precision-rejection retries.
func (c *Config) LimitPrice(price decimal.Decimal, coarsen int32) decimal.Decimal {
	places := c.PricePrecision - coarsen
	if places < 0 {
		places = 0
	}
	return numeric.Truncate(price, places)
}

// Request is one order intent handed to the orchestrator. A request with an
// empty venue is the "trading stopped" sentinel that resets orchestrator
// bookkeeping.
type Request struct {
	Venue         string
	Market        common.MarketType
	Creds         common.Credentials
	Config        *Config
	Price         decimal.Decimal // price snapshot at signal time
	CorrelationID string          // shared by both legs of a double trade
	CreatedAt     time.Time
}

// Sentinel reports whether the request is the trading-stopped marker.
func (r Request) Sentinel() bool { return r.Venue == "" }

// Result is the outcome of one completed leg.
type Result struct {
	Venue         string
	Market        common.MarketType
	Symbol        string
	Side          common.Side
	AvgPrice      decimal.Decimal
	NetQty        decimal.Decimal // executed base quantity net of base-currency commission
	Proceeds      decimal.Decimal // executed quote value
	Commission    decimal.Decimal
	Err           string // empty on success
	CorrelationID string
	CompletedAt   time.Time
}

// OK reports whether the leg completed without a terminal error.
func (r Result) OK() bool { return r.Err == "" }

// Pair binds the two correlated legs of a double trade. The linkage is
// created once and is stable for the lifetime of the pair; fill results are
// pushed across by the orchestrator after a leg completes.
type Pair struct {
	ID   string
	legs [2]*Config
}

// NewPair links two configs under a correlation id.
func NewPair(id string, a, b *Config) (*Pair, error) {
	if a == nil || b == nil || a == b {
		return nil, fmt.Errorf("pair %s: two distinct legs required", id)
	}
	return &Pair{ID: id, legs: [2]*Config{a, b}}, nil
}

// Other returns the leg correlated with c, or nil when c is not part of the
// pair.
func (p *Pair) Other(c *Config) *Config {
	switch c {
	case p.legs[0]:
		return p.legs[1]
	case p.legs[1]:
		return p.legs[0]
	}
	return nil
}

// Legs returns both legs in configured order.
func (p *Pair) Legs() []*Config { return []*Config{p.legs[0], p.legs[1]} }

// ApplyResult writes the completed leg's net fill onto the opposite leg so
// it is sized from actual executions rather than from the original signal:
// a buy's net quantity becomes the other leg's size, a sell's net proceeds
// become the other leg's quote budget.
func (p *Pair) ApplyResult(completed *Config, res Result) {
	other := p.Other(completed)
	if other == nil || !res.OK() {
		return
	}
	if res.Side == common.SideBuy {
		other.Size = res.NetQty
	} else {
		other.QuoteAmount = res.Proceeds
	}
}
