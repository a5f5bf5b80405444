// Package signal watches venue price feeds for a configured pair and
// enqueues a correlated double trade when the cross-venue spread opens
// past a threshold.
package signal

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"pairtrader/internal/events"
	"pairtrader/internal/feed"
	"pairtrader/internal/orchestrator"
	"pairtrader/internal/trade"
	"pairtrader/pkg/exchanges/common"
)

// Config parameterizes one detector.
type Config struct {
	Pair *trade.Pair

	// Threshold is the fractional spread that triggers a trade,
	// e.g. 0.002 for 20 bps.
	Threshold decimal.Decimal

	// Cooldown is the minimum gap between fired signals.
	Cooldown time.Duration

	// Creds supplies API credentials per venue name.
	Creds map[string]common.Credentials
}

// Detector folds ticks for the two legs of a pair and fires when the
// buy leg trades below the sell leg by at least the threshold.
type Detector struct {
	queue *orchestrator.Queue
	bus   *events.Bus
	cfg   Config

	prices    map[*trade.Config]decimal.Decimal
	lastFired time.Time
	now       func() time.Time
}

// New builds a detector pushing onto queue and announcing on bus.
func New(queue *orchestrator.Queue, bus *events.Bus, cfg Config) *Detector {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return &Detector{
		queue:  queue,
		bus:    bus,
		cfg:    cfg,
		prices: make(map[*trade.Config]decimal.Decimal),
		now:    time.Now,
	}
}

// Run consumes every tick channel until the context is canceled. Ticks are
// folded sequentially, so Observe needs no locking.
func (d *Detector) Run(ctx context.Context, feeds ...<-chan feed.Tick) {
	merged := make(chan feed.Tick, 100)

	var wg conc.WaitGroup
	for _, ch := range feeds {
		ch := ch
		wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- t:
					case <-ctx.Done():
						return
					}
				}
			}
		})
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for t := range merged {
		d.Observe(t)
	}
}

// Observe records one tick and fires a double trade if both legs have a
// price and the spread clears the threshold. It reports whether a trade
// was enqueued.
func (d *Detector) Observe(t feed.Tick) bool {
	leg := d.match(t)
	if leg == nil {
		return false
	}
	mid := t.Mid()
	if !mid.IsPositive() {
		return false
	}
	d.prices[leg] = mid

	legs := d.cfg.Pair.Legs()
	var buyLeg, sellLeg *trade.Config
	for _, l := range legs {
		if l.Side == common.SideBuy {
			buyLeg = l
		} else {
			sellLeg = l
		}
	}
	if buyLeg == nil || sellLeg == nil {
		return false
	}
	buyPx, sellPx := d.prices[buyLeg], d.prices[sellLeg]
	if !buyPx.IsPositive() || !sellPx.IsPositive() {
		return false
	}

	// Only a discount on the buy venue is actionable with the configured
	// sides; an inverted spread is ignored.
	spread := sellPx.Sub(buyPx).Div(buyPx)
	if spread.LessThan(d.cfg.Threshold) {
		return false
	}
	if now := d.now(); now.Sub(d.lastFired) < d.cfg.Cooldown {
		return false
	}
	d.lastFired = d.now()

	id := uuid.NewString()
	item := orchestrator.Item{Legs: []trade.Request{
		d.request(buyLeg, buyPx, id),
		d.request(sellLeg, sellPx, id),
	}}
	log.Printf("signal: spread %s on %s/%s vs %s/%s, firing %s",
		spread.StringFixed(5), buyLeg.Venue, buyLeg.Symbol, sellLeg.Venue, sellLeg.Symbol, id)
	d.queue.Enqueue(item)
	if d.bus != nil {
		d.bus.Publish(events.EventTradeQueued, id)
	}
	return true
}

func (d *Detector) match(t feed.Tick) *trade.Config {
	for _, leg := range d.cfg.Pair.Legs() {
		if leg.Venue == t.Venue && leg.Market == t.Market && leg.Symbol == t.Symbol {
			return leg
		}
	}
	return nil
}

func (d *Detector) request(leg *trade.Config, px decimal.Decimal, id string) trade.Request {
	return trade.Request{
		Venue:         leg.Venue,
		Market:        leg.Market,
		Creds:         d.cfg.Creds[leg.Venue],
		Config:        leg,
		Price:         px,
		CorrelationID: id,
		CreatedAt:     d.now(),
	}
}
