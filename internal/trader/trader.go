// Package trader wraps a spot or futures connector behind one uniform
// surface so the orchestrator can run "a trade on venue X" without caring
// about the market type.
package trader

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"pairtrader/internal/connector"
	"pairtrader/internal/trade"
	"pairtrader/pkg/exchanges/binance"
	"pairtrader/pkg/exchanges/common"
	"pairtrader/pkg/exchanges/ftx"
	"pairtrader/pkg/exchanges/kucoin"
)

// Trader holds exactly one connector variant, selected by market type at
// construction.
type Trader struct {
	spot    *connector.Connector
	futures *connector.Connector
}

// New resolves the venue codec for the request and builds the matching
// connector variant. All traders on the same venue share one request pacer.
func New(req trade.Request, opts connector.Options) (*Trader, error) {
	venue, err := buildVenue(req.Venue, req.Market, req.Creds)
	if err != nil {
		return nil, err
	}
	if opts.Limiter == nil {
		opts.Limiter = venueLimiter(req.Venue)
	}
	conn := connector.New(venue, req.Config, opts)
	t := &Trader{}
	if req.Market == common.MarketFutures {
		t.futures = conn
	} else {
		t.spot = conn
	}
	return t, nil
}

// NewWithConnector wraps an already-built connector, for callers that
// resolve the venue codec themselves.
func NewWithConnector(conn *connector.Connector, market common.MarketType) *Trader {
	t := &Trader{}
	if market == common.MarketFutures {
		t.futures = conn
	} else {
		t.spot = conn
	}
	return t
}

func buildVenue(name string, market common.MarketType, creds common.Credentials) (common.Venue, error) {
	switch name {
	case "binance":
		// Binance rejects requests whose timestamp drifts outside the
		// receive window, so its codec signs with the synced clock.
		binanceClockOnce.Do(func() {
			binanceClock.Start(context.Background())
		})
		return binance.New(binance.Config{Credentials: creds, Now: binanceClock.Now}, market), nil
	case "kucoin":
		return kucoin.New(kucoin.Config{Credentials: creds}, market), nil
	case "ftx":
		return ftx.New(ftx.Config{Credentials: creds}, market), nil
	}
	return nil, fmt.Errorf("trader: unsupported venue %q", name)
}

func (t *Trader) active() *connector.Connector {
	if t.futures != nil {
		return t.futures
	}
	return t.spot
}

// IsFutures reports which variant is active.
func (t *Trader) IsFutures() bool { return t.futures != nil }

func (t *Trader) SetPrice(p decimal.Decimal)           { t.active().SetPrice(p) }
func (t *Trader) SetLeverage()                         { t.active().SetLeverage() }
func (t *Trader) StartConnect(ctx context.Context)     { t.active().StartConnect(ctx) }
func (t *Trader) AveragePrice() decimal.Decimal        { return t.active().AveragePrice() }
func (t *Trader) QuantityPurchased() decimal.Decimal   { return t.active().QuantityPurchased() }
func (t *Trader) SizePurchased() decimal.Decimal       { return t.active().SizePurchased() }
func (t *Trader) ErrorString() string                  { return t.active().ErrorString() }
func (t *Trader) State() connector.State               { return t.active().State() }
func (t *Trader) Result() trade.Result                 { return t.active().Result() }

// Per-venue pacers, shared by every connector hitting that venue.
var (
	limiterMu sync.Mutex
	limiters  = make(map[string]*common.RateLimiter)
)

func venueLimiter(name string) *common.RateLimiter {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	if l, ok := limiters[name]; ok {
		return l
	}
	l := common.NewRateLimiter(5, 1200, time.Minute)
	limiters[name] = l
	return l
}

var (
	binanceClockOnce sync.Once
	binanceClock     = common.NewTimeSync(binanceServerTime)
)

func binanceServerTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.binance.com/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var body struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	if body.ServerTime == 0 {
		return 0, fmt.Errorf("trader: empty server time response")
	}
	return body.ServerTime, nil
}
