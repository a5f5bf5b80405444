package trade

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"pairtrader/internal/numeric"
	"pairtrader/pkg/exchanges/common"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func TestResolveQtySizePathCarriesTruncationDust(t *testing.T) {
	cfg := &Config{
		Size:         d(t, "1.23456"),
		QtyPrecision: 3,
	}
	qty, err := cfg.ResolveQty(d(t, "100"))
	if err != nil {
		t.Fatalf("ResolveQty: %v", err)
	}
	if !qty.Equal(d(t, "1.234")) {
		t.Errorf("qty = %s, want 1.234", qty)
	}
	if !cfg.BaseBalance.Equal(d(t, "0.00056")) {
		t.Errorf("base carry = %s, want 0.00056", cfg.BaseBalance)
	}

	// The carry tops up the next resolution.
	cfg.Size = d(t, "1.0005")
	qty, err = cfg.ResolveQty(d(t, "100"))
	if err != nil {
		t.Fatalf("ResolveQty: %v", err)
	}
	if !qty.Equal(d(t, "1.001")) {
		t.Errorf("qty = %s, want 1.001", qty)
	}
	if !cfg.BaseBalance.Equal(d(t, "0.00006")) {
		t.Errorf("base carry = %s, want 0.00006", cfg.BaseBalance)
	}
}

func TestResolveQtyQuotePathCarriesUnspentQuote(t *testing.T) {
	cfg := &Config{
		QuoteAmount:         d(t, "100"),
		OriginalQuoteAmount: d(t, "100"),
		QtyPrecision:        3,
	}
	qty, err := cfg.ResolveQty(d(t, "30"))
	if err != nil {
		t.Fatalf("ResolveQty: %v", err)
	}
	// 100/30 = 3.3333... -> 3.333
	if !qty.Equal(d(t, "3.333")) {
		t.Errorf("qty = %s, want 3.333", qty)
	}
	spent := d(t, "99.99") // 3.333 * 30
	if !cfg.QuoteAmount.Equal(spent) {
		t.Errorf("quote amount = %s, want %s", cfg.QuoteAmount, spent)
	}
	if !cfg.QuoteBalance.Equal(d(t, "0.01")) {
		t.Errorf("quote carry = %s, want 0.01", cfg.QuoteBalance)
	}
	// No value is created or destroyed by the split.
	if !cfg.QuoteAmount.Add(cfg.QuoteBalance).Equal(d(t, "100")) {
		t.Errorf("spent+carry = %s, want 100", cfg.QuoteAmount.Add(cfg.QuoteBalance))
	}
}

func TestResolveQtyLeverageScalesQuantityOnly(t *testing.T) {
	cfg := &Config{
		QuoteAmount:         d(t, "100"),
		OriginalQuoteAmount: d(t, "100"),
		Leverage:            5,
		QtyPrecision:        3,
	}
	qty, err := cfg.ResolveQty(d(t, "50"))
	if err != nil {
		t.Fatalf("ResolveQty: %v", err)
	}
	// 100*5/50 = 10
	if !qty.Equal(d(t, "10")) {
		t.Errorf("qty = %s, want 10", qty)
	}
	// The margin spent stays at the unlevered notional.
	if !cfg.QuoteAmount.Equal(d(t, "100")) {
		t.Errorf("quote amount = %s, want 100", cfg.QuoteAmount)
	}
}

func TestResolveQtyBelowMinNotional(t *testing.T) {
	cfg := &Config{
		Size:         d(t, "0.001"),
		QtyPrecision: 3,
		MinNotional:  d(t, "10"),
	}
	_, err := cfg.ResolveQty(d(t, "100"))
	if !errors.Is(err, numeric.ErrBelowMinNotional) {
		t.Fatalf("err = %v, want ErrBelowMinNotional", err)
	}
	// A failed resolution must not consume the carry.
	if !cfg.BaseBalance.IsZero() {
		t.Errorf("base carry = %s, want 0", cfg.BaseBalance)
	}
}

func TestResolveQtyNothingConfigured(t *testing.T) {
	cfg := &Config{QtyPrecision: 3}
	if _, err := cfg.ResolveQty(d(t, "100")); !errors.Is(err, ErrNoSize) {
		t.Fatalf("err = %v, want ErrNoSize", err)
	}
}

func TestLimitPriceCoarsens(t *testing.T) {
	cfg := &Config{PricePrecision: 4}
	cases := []struct {
		coarsen int32
		want    string
	}{
		{0, "123.4567"},
		{1, "123.456"},
		{2, "123.45"},
		{10, "123"},
	}
	for _, tc := range cases {
		if got := cfg.LimitPrice(d(t, "123.45678"), tc.coarsen); !got.Equal(d(t, tc.want)) {
			t.Errorf("LimitPrice(coarsen=%d) = %s, want %s", tc.coarsen, got, tc.want)
		}
	}
}

func TestPairApplyResult(t *testing.T) {
	buy := &Config{Side: common.SideBuy, Size: d(t, "5")}
	sell := &Config{Side: common.SideSell, QuoteAmount: d(t, "500")}
	pair, err := NewPair("p", buy, sell)
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}

	pair.ApplyResult(buy, Result{Side: common.SideBuy, NetQty: d(t, "1.996")})
	if !sell.Size.Equal(d(t, "1.996")) {
		t.Errorf("sell leg size = %s, want 1.996", sell.Size)
	}

	pair.ApplyResult(sell, Result{Side: common.SideSell, Proceeds: d(t, "99.5")})
	if !buy.QuoteAmount.Equal(d(t, "99.5")) {
		t.Errorf("buy leg quote amount = %s, want 99.5", buy.QuoteAmount)
	}

	// Failed legs must not touch the opposite side.
	pair.ApplyResult(buy, Result{Side: common.SideBuy, NetQty: d(t, "9"), Err: "boom"})
	if !sell.Size.Equal(d(t, "1.996")) {
		t.Errorf("sell leg size after failed apply = %s, want 1.996", sell.Size)
	}
}

func TestPairRejectsDegenerateLegs(t *testing.T) {
	leg := &Config{}
	if _, err := NewPair("p", leg, leg); err == nil {
		t.Error("NewPair accepted a self-paired leg")
	}
	if _, err := NewPair("p", leg, nil); err == nil {
		t.Error("NewPair accepted a nil leg")
	}
}

func TestSentinelRequest(t *testing.T) {
	if !(Request{}).Sentinel() {
		t.Error("empty request should be the sentinel")
	}
	if (Request{Venue: "binance"}).Sentinel() {
		t.Error("venue-bearing request must not be the sentinel")
	}
}
