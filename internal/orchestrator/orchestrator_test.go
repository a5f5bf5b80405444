package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pairtrader/internal/connector"
	"pairtrader/internal/events"
	"pairtrader/internal/history"
	"pairtrader/internal/trade"
	"pairtrader/internal/trader"
	"pairtrader/pkg/exchanges/binance"
	"pairtrader/pkg/exchanges/common"
)

// fakeExchange serves the Binance spot and futures REST shapes. Orders fill
// completely; symbol FAILUSDT is always rejected.
type fakeExchange struct {
	orderDelay   time.Duration
	leverageHits atomic.Int32
	orders       atomic.Int32
	inflight     atomic.Int32
	maxInflight  atomic.Int32

	qtyMu      sync.Mutex
	quantities []string
}

func (f *fakeExchange) lastQuantity() string {
	f.qtyMu.Lock()
	defer f.qtyMu.Unlock()
	if len(f.quantities) == 0 {
		return ""
	}
	return f.quantities[len(f.quantities)-1]
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/fapi/v1/leverage":
		f.leverageHits.Add(1)
		w.Write([]byte(`{"symbol":"BTCUSDT","leverage":10}`))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/order"):
		_ = r.ParseForm()
		if r.PostForm.Get("symbol") == "FAILUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
			return
		}
		f.qtyMu.Lock()
		f.quantities = append(f.quantities, r.PostForm.Get("quantity"))
		f.qtyMu.Unlock()
		cur := f.inflight.Add(1)
		defer f.inflight.Add(-1)
		for {
			old := f.maxInflight.Load()
			if cur <= old || f.maxInflight.CompareAndSwap(old, cur) {
				break
			}
		}
		f.orders.Add(1)
		delay := f.orderDelay
		if delay == 0 {
			delay = 5 * time.Millisecond
		}
		time.Sleep(delay)
		w.Write([]byte(`{"orderId":1,"clientOrderId":"c","status":"NEW"}`))
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/order"):
		w.Write([]byte(`{"orderId":1,"status":"FILLED","executedQty":"1","cummulativeQuoteQty":"50","avgPrice":"50"}`))
	case r.Method == http.MethodGet &&
		(strings.HasSuffix(r.URL.Path, "/myTrades") || strings.HasSuffix(r.URL.Path, "/userTrades")):
		w.Write([]byte(`[]`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// newTestOrchestrator points every trader at the fake exchange with fast
// polling options.
func newTestOrchestrator(t *testing.T, srv *httptest.Server) (*Orchestrator, *Queue, *history.Log, *events.Bus) {
	t.Helper()
	queue := NewQueue(16)
	hist := history.NewLog()
	bus := events.NewBus()
	o := New(queue, hist, bus, connector.Options{})
	o.newTrader = func(req trade.Request, _ connector.Options) (*trader.Trader, error) {
		venue := binance.New(binance.Config{
			Credentials: req.Creds,
			BaseURL:     srv.URL,
		}, req.Market)
		conn := connector.New(venue, req.Config, connector.Options{
			SettleDelay: time.Millisecond,
			PollMax:     10 * time.Millisecond,
			PollBudget:  2 * time.Second,
		})
		return trader.NewWithConnector(conn, req.Market), nil
	}
	return o, queue, hist, bus
}

func spotLeg(side common.Side, symbol string) *trade.Config {
	return &trade.Config{
		Venue:          "binance",
		Market:         common.MarketSpot,
		Symbol:         symbol,
		Base:           "BTC",
		Quote:          "USDT",
		Side:           side,
		Type:           common.OrderTypeMarket,
		Size:           decimal.NewFromInt(1),
		Leverage:       1,
		PricePrecision: 2,
		QtyPrecision:   3,
	}
}

func futuresLeg(symbol string, leverage int, size int64) *trade.Config {
	return &trade.Config{
		Venue:          "binance",
		Market:         common.MarketFutures,
		Symbol:         symbol,
		Base:           "BTC",
		Quote:          "USDT",
		Side:           common.SideBuy,
		Type:           common.OrderTypeMarket,
		Size:           decimal.NewFromInt(size),
		Leverage:       leverage,
		PricePrecision: 2,
		QtyPrecision:   3,
	}
}

func request(cfg *trade.Config, id string) trade.Request {
	return trade.Request{
		Venue:         cfg.Venue,
		Market:        cfg.Market,
		Config:        cfg,
		Price:         decimal.NewFromInt(50),
		CorrelationID: id,
		CreatedAt:     time.Now(),
	}
}

func TestRunSingleRecordsHistoryAndAppliesPair(t *testing.T) {
	fake := &fakeExchange{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	o, _, hist, bus := newTestOrchestrator(t, srv)

	buy := spotLeg(common.SideBuy, "BTCUSDT")
	sell := spotLeg(common.SideSell, "ETHUSDT")
	sell.Size = decimal.NewFromInt(3)
	pair, err := trade.NewPair("test-pair", buy, sell)
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	o.RegisterPair(pair)

	completed, unsub := bus.Subscribe(events.EventTradeCompleted, 10)
	defer unsub()

	o.handle(context.Background(), Item{Legs: []trade.Request{request(buy, "corr-1")}})

	if hist.Len() != 1 {
		t.Fatalf("history length = %d, want 1", hist.Len())
	}
	res, _ := hist.Last()
	if res.Err != "" {
		t.Fatalf("trade failed: %s", res.Err)
	}
	if res.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %q, want corr-1", res.CorrelationID)
	}
	// A buy pushes its net quantity into the opposite leg's size.
	if !sell.Size.Equal(decimal.NewFromInt(1)) {
		t.Errorf("opposite leg size = %s, want 1", sell.Size)
	}
	select {
	case <-completed:
	default:
		t.Error("no completed event published")
	}
}

func TestRunDoubleSharesCorrelationID(t *testing.T) {
	fake := &fakeExchange{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	o, _, hist, _ := newTestOrchestrator(t, srv)

	buy := spotLeg(common.SideBuy, "BTCUSDT")
	sell := spotLeg(common.SideSell, "ETHUSDT")
	o.handle(context.Background(), Item{Legs: []trade.Request{
		request(buy, "corr-7"),
		request(sell, "corr-7"),
	}})

	entries := hist.All()
	if len(entries) != 2 {
		t.Fatalf("history length = %d, want 2", len(entries))
	}
	for i, e := range entries {
		if e.CorrelationID != "corr-7" {
			t.Errorf("entry %d correlation id = %q, want corr-7", i, e.CorrelationID)
		}
		if e.Err != "" {
			t.Errorf("entry %d failed: %s", i, e.Err)
		}
	}
}

func TestQueueSerializesSingleTrades(t *testing.T) {
	fake := &fakeExchange{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	o, queue, hist, _ := newTestOrchestrator(t, srv)

	for i := 0; i < 4; i++ {
		queue.Enqueue(Item{Legs: []trade.Request{request(spotLeg(common.SideBuy, "BTCUSDT"), "s")}})
	}
	queue.Close()
	o.Run(context.Background())

	if hist.Len() != 4 {
		t.Fatalf("history length = %d, want 4", hist.Len())
	}
	if got := fake.maxInflight.Load(); got > 1 {
		t.Errorf("max concurrent orders = %d, want 1", got)
	}
}

func TestLeverageSetOncePerVenue(t *testing.T) {
	fake := &fakeExchange{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	o, _, _, _ := newTestOrchestrator(t, srv)

	ctx := context.Background()
	o.handle(ctx, Item{Legs: []trade.Request{request(futuresLeg("BTCUSDT", 10, 1), "a")}})
	o.handle(ctx, Item{Legs: []trade.Request{request(futuresLeg("BTCUSDT", 10, 1), "b")}})

	if got := fake.leverageHits.Load(); got != 1 {
		t.Errorf("leverage endpoint hit %d times, want 1", got)
	}
}

func TestFuturesQuantityMemory(t *testing.T) {
	fake := &fakeExchange{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	o, _, _, _ := newTestOrchestrator(t, srv)
	ctx := context.Background()

	// First successful futures trade seeds the memory with its net qty.
	o.handle(ctx, Item{Legs: []trade.Request{request(futuresLeg("BTCUSDT", 1, 1), "a")}})
	if got := o.Status().FuturesQty; got != "1" {
		t.Fatalf("futures qty after first trade = %s, want 1", got)
	}

	// A size-less futures trade defaults to double the memory for that run
	// only; the config stays size-less afterwards.
	sizeless := futuresLeg("BTCUSDT", 1, 0)
	o.handle(ctx, Item{Legs: []trade.Request{request(sizeless, "b")}})
	if got := fake.lastQuantity(); got != "2" {
		t.Errorf("submitted quantity = %q, want 2", got)
	}
	if !sizeless.Size.IsZero() {
		t.Errorf("config size after run = %s, want 0", sizeless.Size)
	}

	// A failed futures trade halves the memory.
	o.handle(ctx, Item{Legs: []trade.Request{request(futuresLeg("FAILUSDT", 1, 1), "c")}})
	if got := o.Status().FuturesQty; got != "0.5" {
		t.Errorf("futures qty after failure = %s, want 0.5", got)
	}
	if got := o.Status().LastAction; got != "" {
		t.Errorf("last action after failure = %q, want empty", got)
	}
}

func TestSentinelResetsSession(t *testing.T) {
	fake := &fakeExchange{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	o, _, _, bus := newTestOrchestrator(t, srv)
	ctx := context.Background()

	stopped, unsub := bus.Subscribe(events.EventTradingStopped, 1)
	defer unsub()

	o.handle(ctx, Item{Legs: []trade.Request{request(futuresLeg("BTCUSDT", 10, 1), "a")}})
	o.handle(ctx, Item{Legs: []trade.Request{{}}})

	st := o.Status()
	if st.FuturesQty != "0" {
		t.Errorf("futures qty after reset = %s, want 0", st.FuturesQty)
	}
	if len(st.LeverageSet) != 0 {
		t.Errorf("leverage flags after reset = %v, want none", st.LeverageSet)
	}
	if st.LastAction != "" {
		t.Errorf("last action after reset = %q, want empty", st.LastAction)
	}
	select {
	case <-stopped:
	default:
		t.Error("no trading-stopped event published")
	}
}

func TestRunDoubleInterleavesLegsAndSetsLeverageOnce(t *testing.T) {
	fake := &fakeExchange{orderDelay: 50 * time.Millisecond}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	o, _, hist, _ := newTestOrchestrator(t, srv)

	buy := spotLeg(common.SideBuy, "BTCUSDT")
	sell := futuresLeg("ETHUSDT", 10, 2)
	sell.Side = common.SideSell
	pair, err := trade.NewPair("double-pair", buy, sell)
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	o.RegisterPair(pair)

	o.handle(context.Background(), Item{Legs: []trade.Request{
		request(buy, "corr-9"),
		request(sell, "corr-9"),
	}})

	entries := hist.All()
	if len(entries) != 2 {
		t.Fatalf("history length = %d, want 2", len(entries))
	}
	for i, e := range entries {
		if e.Err != "" {
			t.Fatalf("entry %d failed: %s", i, e.Err)
		}
	}
	if got := fake.maxInflight.Load(); got < 2 {
		t.Errorf("max concurrent orders = %d, want 2 (legs must interleave)", got)
	}
	if got := fake.leverageHits.Load(); got != 1 {
		t.Errorf("leverage endpoint hit %d times, want 1", got)
	}
	// The buy's net quantity lands in the futures leg's size, the sell's
	// proceeds in the spot leg's quote amount.
	if !sell.Size.Equal(decimal.NewFromInt(1)) {
		t.Errorf("futures leg size = %s, want 1", sell.Size)
	}
	if !buy.QuoteAmount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("spot leg quote amount = %s, want 50", buy.QuoteAmount)
	}
}
