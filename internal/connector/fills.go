package connector

import (
	"github.com/shopspring/decimal"

	"pairtrader/pkg/exchanges/common"
)

// aggregator folds fill records into execution totals. Re-polling replays
// fills, so every record is deduplicated by its exchange-assigned trade id.
type aggregator struct {
	base  string
	quote string

	seen      map[string]struct{}
	qty       decimal.Decimal
	notional  decimal.Decimal
	priceSum  decimal.Decimal
	count     int
	baseComm  decimal.Decimal
	quoteComm decimal.Decimal
}

func newAggregator(base, quote string) *aggregator {
	return &aggregator{base: base, quote: quote, seen: make(map[string]struct{})}
}

func (a *aggregator) fold(fills []common.Fill) {
	for _, f := range fills {
		if _, dup := a.seen[f.TradeID]; dup {
			continue
		}
		a.seen[f.TradeID] = struct{}{}
		a.qty = a.qty.Add(f.Qty)
		a.notional = a.notional.Add(f.Price.Mul(f.Qty))
		a.priceSum = a.priceSum.Add(f.Price)
		a.count++
		// Commission is netted only when charged in a currency this trade
		// actually moves.
		switch f.CommissionAsset {
		case a.base:
			a.baseComm = a.baseComm.Add(f.Commission)
		case a.quote:
			a.quoteComm = a.quoteComm.Add(f.Commission)
		}
	}
}

// averagePrice prefers the venue's directly reported average, then the mean
// over distinct fills, then the cumulative-quote derivation.
func (a *aggregator) averagePrice(update common.OrderUpdate) decimal.Decimal {
	if update.AvgPrice.IsPositive() {
		return update.AvgPrice
	}
	if a.count > 0 {
		return a.priceSum.Div(decimal.NewFromInt(int64(a.count)))
	}
	if update.CumQuote.IsPositive() && update.ExecutedQty.IsPositive() {
		return update.CumQuote.Div(update.ExecutedQty)
	}
	return decimal.Zero
}

// netQty is the executed base quantity minus base-currency commission.
func (a *aggregator) netQty(update common.OrderUpdate) decimal.Decimal {
	qty := a.qty
	if qty.IsZero() {
		qty = update.ExecutedQty
	}
	return qty.Sub(a.baseComm)
}

// netProceeds is the executed quote value minus quote-currency commission.
func (a *aggregator) netProceeds(update common.OrderUpdate) decimal.Decimal {
	proceeds := update.CumQuote
	if proceeds.IsZero() {
		proceeds = a.notional
	}
	return proceeds.Sub(a.quoteComm)
}

func (a *aggregator) commission() decimal.Decimal {
	return a.baseComm.Add(a.quoteComm)
}
