// Package connector drives a single order through one exchange venue: submit,
// monitor to completion, aggregate fills. One Connector instance serves
// exactly one order; the per-venue wire differences live behind the
// common.Venue codec.
package connector

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pairtrader/internal/trade"
	"pairtrader/pkg/exchanges/common"
)

// State is a connector's position in the order lifecycle.
type State int

const (
	StateInitial State = iota
	StateLeveragePending
	StateSubmitted
	StateMonitoring
	StateLimitRetry
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateLeveragePending:
		return "leverage-pending"
	case StateSubmitted:
		return "order-submitted"
	case StateMonitoring:
		return "monitoring"
	case StateLimitRetry:
		return "limit-retry"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrMaxRetries is the terminal message after exhausting precision retries.
const ErrMaxRetries = "Maximum number of retries"

// errSchema is surfaced when a response is missing expected fields; the raw
// body is unexpected so the message stays generic.
const errSchema = "unexpected response format"

// Options tune a connector's timing and retry budget.
type Options struct {
	SettleDelay time.Duration // wait before the first status poll
	PollMax     time.Duration // cap on the poll backoff interval
	PollBudget  time.Duration // overall monitoring deadline
	MaxRetries  int           // consecutive precision-rejection retries allowed
	HTTPClient  *http.Client
	Limiter     *common.RateLimiter
}

func (o *Options) defaults() {
	if o.SettleDelay <= 0 {
		o.SettleDelay = 400 * time.Millisecond
	}
	if o.PollMax <= 0 {
		o.PollMax = 5 * time.Second
	}
	if o.PollBudget <= 0 {
		o.PollBudget = 2 * time.Minute
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.HTTPClient == nil {
		o.HTTPClient = newHTTPClient()
	}
}

// newHTTPClient builds the client a connector exclusively owns, with
// connect/handshake/read deadlines in the 10-30s range.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 20 * time.Second,
		},
	}
}

// Connector owns one order's lifecycle against one venue. It is single-use:
// StartConnect runs the state machine to a terminal state exactly once.
type Connector struct {
	venue common.Venue
	cfg   *trade.Config
	opts  Options

	price        decimal.Decimal
	wantLeverage bool

	started  bool
	state    State
	clientID string
	orderID  string

	agg    *aggregator
	last   common.OrderUpdate
	errMsg string
	result trade.Result
}

// New builds a connector for one order on the given venue.
func New(venue common.Venue, cfg *trade.Config, opts Options) *Connector {
	opts.defaults()
	return &Connector{
		venue:    venue,
		cfg:      cfg,
		opts:     opts,
		state:    StateInitial,
		clientID: "pt-" + uuid.NewString(),
		agg:      newAggregator(cfg.Base, cfg.Quote),
	}
}

// SetPrice records the reference price used to size a market order or place
// a limit order.
func (c *Connector) SetPrice(p decimal.Decimal) { c.price = p }

// SetLeverage marks that a leverage-set request must precede the order.
func (c *Connector) SetLeverage() { c.wantLeverage = true }

// State returns the current lifecycle state.
func (c *Connector) State() State { return c.state }

// ErrorString is empty on success, otherwise the terminal cause.
func (c *Connector) ErrorString() string { return c.errMsg }

// AveragePrice is valid after completion; zero if never filled.
func (c *Connector) AveragePrice() decimal.Decimal { return c.result.AvgPrice }

// QuantityPurchased is the executed base quantity net of base-currency
// commission; zero if never filled.
func (c *Connector) QuantityPurchased() decimal.Decimal { return c.result.NetQty }

// SizePurchased is the executed quote value net of quote-currency commission;
// zero if never filled.
func (c *Connector) SizePurchased() decimal.Decimal { return c.result.Proceeds }

// Result returns the completed leg outcome.
func (c *Connector) Result() trade.Result { return c.result }

// StartConnect runs the order to a terminal state. It blocks until done or
// failed and is a no-op on reuse.
func (c *Connector) StartConnect(ctx context.Context) {
	if c.started {
		return
	}
	c.started = true
	defer func() {
		c.buildResult()
		c.opts.HTTPClient.CloseIdleConnections()
	}()

	if c.wantLeverage && c.venue.Market() == common.MarketFutures {
		c.state = StateLeveragePending
		if !c.setLeverage(ctx) {
			return
		}
	}

	if !c.submit(ctx) {
		return
	}

	c.state = StateMonitoring
	c.monitor(ctx)
}

// setLeverage sends the leverage request. Failure or mismatch is terminal
// with the raw error body recorded.
func (c *Connector) setLeverage(ctx context.Context) bool {
	status, body, err := c.do(ctx, func() (*http.Request, error) {
		return c.venue.SetLeverage(ctx, c.cfg.Symbol, c.cfg.Leverage)
	})
	if err != nil {
		c.fail("transport: " + err.Error())
		return false
	}
	if status/100 != 2 {
		c.fail(strings.TrimSpace(string(body)))
		return false
	}
	if err := c.venue.ParseLeverage(body, c.cfg.Leverage); err != nil {
		c.fail(strings.TrimSpace(string(body)))
		return false
	}
	return true
}

// submit sends order creation, handling the rate-limit and precision
// rejection policies. On return true the connector holds either an order id
// or a client id to monitor by.
func (c *Connector) submit(ctx context.Context) bool {
	qty, err := c.cfg.ResolveQty(c.price)
	if err != nil {
		// Validation failures terminate before any network call.
		c.fail(err.Error())
		return false
	}

	ordType := c.cfg.Type
	retries := 0
	for {
		spec := common.OrderSpec{
			Symbol:   c.cfg.Symbol,
			Side:     c.cfg.Side,
			Type:     ordType,
			Qty:      qty,
			ClientID: c.clientID,
		}
		if ordType == common.OrderTypeLimit {
			spec.Price = c.cfg.LimitPrice(c.price, int32(retries))
			spec.TimeInForce = "GTC"
		}
		if retries > 0 {
			coarse := c.cfg.QtyPrecision - int32(retries)
			if coarse < 0 {
				coarse = 0
			}
			spec.Qty = spec.Qty.Truncate(coarse)
		}

		c.state = StateSubmitted
		status, body, err := c.do(ctx, func() (*http.Request, error) {
			return c.venue.CreateOrder(ctx, spec)
		})
		if err != nil {
			c.fail("transport: " + err.Error())
			return false
		}
		if status/100 == 2 {
			ack, err := c.venue.ParseCreate(body)
			if err != nil {
				c.fail(errSchema)
				return false
			}
			c.orderID = ack.OrderID
			return true
		}

		switch c.venue.Classify(status, body) {
		case common.ErrKindRateLimited:
			// The order may already have been accepted; skip straight to
			// polling by client order id.
			log.Printf("connector: %s %s rate limited on submit, monitoring by client id", c.venue.Name(), c.cfg.Symbol)
			return true
		case common.ErrKindPrecision:
			retries++
			if retries > c.opts.MaxRetries {
				c.fail(ErrMaxRetries)
				return false
			}
			c.state = StateLimitRetry
			ordType = common.OrderTypeLimit
			log.Printf("connector: %s %s precision rejected, retrying as limit (attempt %d/%d)",
				c.venue.Name(), c.cfg.Symbol, retries, c.opts.MaxRetries)
		default:
			c.fail(strings.TrimSpace(string(body)))
			return false
		}
	}
}

// monitor polls the order until a terminal status, folding partial fills as
// they appear.
func (c *Connector) monitor(ctx context.Context) {
	// Settle delay respects the venue's consistency window before the
	// first poll.
	select {
	case <-ctx.Done():
		c.fail("transport: " + ctx.Err().Error())
		return
	case <-time.After(c.opts.SettleDelay):
	}

	sched := backoff.NewExponentialBackOff()
	sched.InitialInterval = 500 * time.Millisecond
	sched.MaxInterval = c.opts.PollMax
	deadline := time.Now().Add(c.opts.PollBudget)

	for {
		update, retryable, errMsg := c.poll(ctx)
		if errMsg != "" {
			if !retryable {
				c.fail(errMsg)
				return
			}
		} else if update.Status.Terminal() {
			c.fetchFills(ctx)
			c.finalize(update)
			return
		} else if update.Status == common.StatusPartial {
			c.fetchFills(ctx)
		}

		if time.Now().After(deadline) {
			c.fail("monitoring deadline exceeded")
			return
		}
		select {
		case <-ctx.Done():
			c.fail("transport: " + ctx.Err().Error())
			return
		case <-time.After(sched.NextBackOff()):
		}
	}
}

// poll performs one status query. retryable reports whether a returned error
// permits another attempt.
func (c *Connector) poll(ctx context.Context) (common.OrderUpdate, bool, string) {
	status, body, err := c.do(ctx, func() (*http.Request, error) {
		return c.venue.QueryOrder(ctx, c.cfg.Symbol, c.orderID, c.clientID)
	})
	if err != nil {
		return common.OrderUpdate{}, false, "transport: " + err.Error()
	}
	if status/100 != 2 {
		if c.venue.Classify(status, body) == common.ErrKindRateLimited {
			return common.OrderUpdate{}, true, "rate limited"
		}
		return common.OrderUpdate{}, false, strings.TrimSpace(string(body))
	}
	update, err := c.venue.ParseQuery(body)
	if err != nil {
		return common.OrderUpdate{}, false, errSchema
	}
	if c.orderID == "" && update.OrderID != "" {
		c.orderID = update.OrderID
	}
	c.last = update
	return update, false, ""
}

// fetchFills pulls the fill records and folds them into the aggregate.
// Failures here are tolerated; finalize falls back to the order snapshot.
func (c *Connector) fetchFills(ctx context.Context) {
	status, body, err := c.do(ctx, func() (*http.Request, error) {
		return c.venue.QueryFills(ctx, c.cfg.Symbol, c.orderID, c.clientID)
	})
	if err != nil || status/100 != 2 {
		return
	}
	fills, err := c.venue.ParseFills(body)
	if err != nil {
		return
	}
	c.agg.fold(fills)
}

// finalize computes the aggregate outcome from a terminal update.
func (c *Connector) finalize(update common.OrderUpdate) {
	executed := update.ExecutedQty
	if executed.IsZero() {
		executed = c.agg.qty
	}
	if executed.IsZero() {
		c.fail(fmt.Sprintf("order %s with no fills", strings.ToLower(string(update.Status))))
		return
	}
	c.state = StateDone
	log.Printf("connector: %s %s %s done qty=%s avg=%s",
		c.venue.Name(), c.cfg.Symbol, c.cfg.Side, executed, c.agg.averagePrice(update))
}

func (c *Connector) fail(msg string) {
	c.state = StateFailed
	c.errMsg = msg
	log.Printf("connector: %s %s failed: %s", c.venue.Name(), c.cfg.Symbol, msg)
}

// buildResult freezes the outcome once the state machine stops.
func (c *Connector) buildResult() {
	res := trade.Result{
		Venue:       c.venue.Name(),
		Market:      c.venue.Market(),
		Symbol:      c.cfg.Symbol,
		Side:        c.cfg.Side,
		Err:         c.errMsg,
		CompletedAt: time.Now(),
	}
	if c.state == StateDone {
		res.AvgPrice = c.agg.averagePrice(c.last)
		res.NetQty = c.agg.netQty(c.last)
		res.Proceeds = c.agg.netProceeds(c.last)
		res.Commission = c.agg.commission()
	}
	c.result = res
}

// do paces, sends and reads one signed request. The returned error covers
// transport failures only; HTTP-level errors come back as status+body.
func (c *Connector) do(ctx context.Context, build func() (*http.Request, error)) (int, []byte, error) {
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}
	req, err := build()
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	if c.opts.Limiter != nil {
		if h := c.venue.UsageHeader(); h != "" {
			c.opts.Limiter.UpdateFromHeader(resp.Header.Get(h))
		}
	}
	return resp.StatusCode, body, nil
}
