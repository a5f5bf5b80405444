// Package orchestrator owns the single worker that drains the trade queue.
// One item, a single leg or a correlated pair, runs to completion before
// the next is pulled, so venue rate-limit budgets are never shared between
// trades and the session bookkeeping (leverage flags, futures quantity
// memory) stays consistent.
package orchestrator

import (
	"context"
	"log"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"pairtrader/internal/connector"
	"pairtrader/internal/events"
	"pairtrader/internal/history"
	"pairtrader/internal/trade"
	"pairtrader/internal/trader"
	"pairtrader/pkg/exchanges/common"
)

// Status is a point-in-time snapshot for the operator API.
type Status struct {
	QueueDepth     int      `json:"queue_depth"`
	Busy           bool     `json:"busy"`
	LeverageSet    []string `json:"leverage_set"`
	FuturesQty     string   `json:"futures_qty"`
	LastAction     string   `json:"last_action"`
	TradesExecuted int      `json:"trades_executed"`
}

// Orchestrator is the serialized trade runner.
type Orchestrator struct {
	queue *Queue
	hist  *history.Log
	bus   *events.Bus
	opts  connector.Options

	// newTrader is swappable in tests.
	newTrader func(trade.Request, connector.Options) (*trader.Trader, error)

	mu          sync.Mutex
	pairs       []*trade.Pair
	leverageSet map[string]bool // futures venues leverage was set on this session
	futuresQty  decimal.Decimal // first futures leg quantity, hedging default
	lastAction  string          // side of the last successful futures trade
	busy        bool
	executed    int
}

// New builds an orchestrator draining queue into hist, publishing on bus.
func New(queue *Queue, hist *history.Log, bus *events.Bus, opts connector.Options) *Orchestrator {
	return &Orchestrator{
		queue:       queue,
		hist:        hist,
		bus:         bus,
		opts:        opts,
		newTrader:   trader.New,
		leverageSet: make(map[string]bool),
	}
}

// RegisterPair makes the orchestrator push fill results across the two legs
// of a configured pair.
func (o *Orchestrator) RegisterPair(p *trade.Pair) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pairs = append(o.pairs, p)
}

func (o *Orchestrator) pairFor(cfg *trade.Config) *trade.Pair {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.pairs {
		if p.Other(cfg) != nil {
			return p
		}
	}
	return nil
}

// Status reports the current bookkeeping for the operator API.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	venues := make([]string, 0, len(o.leverageSet))
	for v := range o.leverageSet {
		venues = append(venues, v)
	}
	return Status{
		QueueDepth:     o.queue.Depth(),
		Busy:           o.busy,
		LeverageSet:    venues,
		FuturesQty:     o.futuresQty.String(),
		LastAction:     o.lastAction,
		TradesExecuted: o.executed,
	}
}

// Run drains the queue until the context is canceled or the queue closes.
// It blocks on each item: no two trades ever overlap.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-o.queue.Chan():
			if !ok {
				return
			}
			o.handle(ctx, item)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, item Item) {
	if item.Sentinel() {
		o.reset()
		return
	}

	o.mu.Lock()
	o.busy = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.busy = false
		o.executed++
		o.mu.Unlock()
	}()

	switch len(item.Legs) {
	case 1:
		o.runSingle(ctx, item.Legs[0])
	case 2:
		o.runDouble(ctx, item.Legs[0], item.Legs[1])
	default:
		log.Printf("orchestrator: dropping item with %d legs", len(item.Legs))
	}
}

// reset clears last-trade memory on the trading-stopped sentinel so the next
// session starts from scratch.
func (o *Orchestrator) reset() {
	o.mu.Lock()
	o.leverageSet = make(map[string]bool)
	o.futuresQty = decimal.Zero
	o.lastAction = ""
	o.mu.Unlock()
	log.Printf("orchestrator: trading stopped, session state reset")
	if o.bus != nil {
		o.bus.Publish(events.EventTradingStopped, nil)
	}
}

func (o *Orchestrator) runSingle(ctx context.Context, req trade.Request) {
	tr, restore := o.prepare(req)
	if tr == nil {
		return
	}

	if o.bus != nil {
		o.bus.Publish(events.EventTradeStarted, req.CorrelationID)
	}
	tr.StartConnect(ctx)
	res := o.settle(tr, req)
	restore()
	o.record(res)
}

// runDouble starts both legs and lets them interleave; results are
// reconciled in the order the legs were supplied.
func (o *Orchestrator) runDouble(ctx context.Context, first, second trade.Request) {
	trFirst, restoreFirst := o.prepare(first)
	trSecond, restoreSecond := o.prepare(second)
	if trFirst == nil || trSecond == nil {
		restoreFirst()
		restoreSecond()
		return
	}

	if o.bus != nil {
		o.bus.Publish(events.EventTradeStarted, first.CorrelationID)
	}

	var wg conc.WaitGroup
	wg.Go(func() { trFirst.StartConnect(ctx) })
	wg.Go(func() { trSecond.StartConnect(ctx) })
	wg.Wait()

	resFirst := o.settle(trFirst, first)
	resSecond := o.settle(trSecond, second)
	restoreFirst()
	restoreSecond()
	o.record(resFirst)
	o.record(resSecond)
}

// prepare builds the trader for a request and applies the session rules:
// leverage at most once per futures venue, and the remembered futures
// quantity (doubled) as the default size of a size-less futures trade. The
// returned restore puts the default back to zero after the run so the
// config stays size-less and a later attempt recomputes from the (possibly
// halved) memory.
func (o *Orchestrator) prepare(req trade.Request) (*trader.Trader, func()) {
	restore := func() {}
	tr, err := o.newTrader(req, o.opts)
	if err != nil {
		log.Printf("orchestrator: %v", err)
		o.record(trade.Result{
			Venue:         req.Venue,
			Market:        req.Market,
			Symbol:        req.Config.Symbol,
			Side:          req.Config.Side,
			Err:           err.Error(),
			CorrelationID: req.CorrelationID,
		})
		return nil, restore
	}

	tr.SetPrice(req.Price)

	if req.Market == common.MarketFutures {
		o.mu.Lock()
		if req.Config.Leverage > 1 && !o.leverageSet[req.Venue] {
			tr.SetLeverage()
			// Marked before the run so the second leg of a double trade
			// does not set it again; demoted if the leg fails.
			o.leverageSet[req.Venue] = true
		}
		if req.Config.Size.IsZero() && req.Config.QuoteAmount.IsZero() && o.futuresQty.IsPositive() {
			cfg := req.Config
			def := o.futuresQty.Mul(decimal.NewFromInt(2))
			cfg.Size = def
			restore = func() {
				// A paired leg may have written a real size in the
				// meantime; only clear the untouched default.
				if cfg.Size.Equal(def) {
					cfg.Size = decimal.Zero
				}
			}
		}
		o.mu.Unlock()
	}
	return tr, restore
}

// settle folds one completed leg back into session state and pushes its fill
// onto the correlated leg.
func (o *Orchestrator) settle(tr *trader.Trader, req trade.Request) trade.Result {
	res := tr.Result()
	res.CorrelationID = req.CorrelationID

	if req.Market == common.MarketFutures {
		o.mu.Lock()
		if res.OK() {
			if o.futuresQty.IsZero() {
				o.futuresQty = res.NetQty
			}
			o.lastAction = string(res.Side)
		} else {
			// Do not inherit a false assumption into the next attempt.
			o.futuresQty = o.futuresQty.Div(decimal.NewFromInt(2))
			o.lastAction = ""
			delete(o.leverageSet, req.Venue)
		}
		o.mu.Unlock()
	}

	if p := o.pairFor(req.Config); p != nil {
		p.ApplyResult(req.Config, res)
	}
	return res
}

func (o *Orchestrator) record(res trade.Result) {
	if o.hist != nil {
		o.hist.Append(res)
	}
	if o.bus == nil {
		return
	}
	if res.OK() {
		o.bus.Publish(events.EventTradeCompleted, res)
	} else {
		o.bus.Publish(events.EventTradeFailed, res)
	}
}
