// Package numeric holds the pure order-sizing arithmetic shared by the
// connectors: exchange-mandated decimal truncation, quote-budget
// reconciliation against the running balance carry, and the minimum-notional
// gate that runs before any network call.
package numeric

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrBelowMinNotional = errors.New("notional below exchange minimum")

// Truncate drops every digit beyond places without rounding. Exchanges reject
// over-precise values, and rounding up could exceed the available balance, so
// the direction is always toward zero.
func Truncate(v decimal.Decimal, places int32) decimal.Decimal {
	if places < 0 {
		places = 0
	}
	return v.Truncate(places)
}

// MeetsMinNotional reports whether price*qty clears the venue minimum. A zero
// minimum disables the check.
func MeetsMinNotional(price, qty, min decimal.Decimal) bool {
	if min.IsZero() {
		return true
	}
	return price.Mul(qty).Cmp(min) >= 0
}

// ReconcileQuote settles a live quote-currency request against the configured
// target and the leftover carry from earlier truncations.
//
// When the live request falls short of the target (price moved between signal
// and execution), the shortfall is pulled out of the carry, up to what the
// carry holds. When it exceeds the target, the excess is pushed back into the
// carry for the next order. Value is conserved across calls:
// delivered + carry' == requested + carry.
//
// The delivered amount must still clear minNotional; otherwise the carry is
// left untouched and ErrBelowMinNotional is returned.
func ReconcileQuote(requested, target, carry, minNotional decimal.Decimal) (delivered, newCarry decimal.Decimal, err error) {
	delivered = requested
	newCarry = carry

	switch requested.Cmp(target) {
	case -1:
		shortfall := target.Sub(requested)
		pulled := decimal.Min(shortfall, carry)
		delivered = requested.Add(pulled)
		newCarry = carry.Sub(pulled)
	case 1:
		delivered = target
		newCarry = carry.Add(requested.Sub(target))
	}

	if !minNotional.IsZero() && delivered.Cmp(minNotional) < 0 {
		return requested, carry, ErrBelowMinNotional
	}
	return delivered, newCarry, nil
}
