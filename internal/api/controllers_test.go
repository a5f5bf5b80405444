package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"pairtrader/internal/connector"
	"pairtrader/internal/events"
	"pairtrader/internal/history"
	"pairtrader/internal/orchestrator"
	"pairtrader/internal/trade"
	"pairtrader/pkg/exchanges/common"
)

func newTestServer(t *testing.T) (*Server, *orchestrator.Queue, *history.Log) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	queue := orchestrator.NewQueue(8)
	hist := history.NewLog()
	bus := events.NewBus()
	orch := orchestrator.New(queue, hist, bus, connector.Options{})
	creds := map[string]common.Credentials{
		"binance": {Key: "k", Secret: "s"},
	}
	return NewServer(bus, hist, orch, queue, creds, "test-secret", "admin-key"), queue, hist
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := generateToken("test-secret", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("generateToken: %v", err)
	}
	return "Bearer " + token
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	s, _, _ := newTestServer(t)
	for _, path := range []string{"/api/status", "/api/history"} {
		w := httptest.NewRecorder()
		s.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, w.Code)
		}
	}
}

func TestTokenIssuanceFlow(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Wrong key is rejected.
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/token",
		bytes.NewBufferString(`{"key":"wrong"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d, want 401", w.Code)
	}

	// Correct key mints a token that passes the middleware.
	w = httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/token",
		bytes.NewBufferString(`{"key":"admin-key"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, want 200", w.Code)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("token response = %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status with minted token = %d, want 200", w.Code)
	}
}

func TestGetHistoryLimit(t *testing.T) {
	s, _, hist := newTestServer(t)
	for i := 0; i < 5; i++ {
		hist.Append(trade.Result{Venue: "binance", Symbol: "BTCUSDT"})
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil)
	req.Header.Set("Authorization", bearer(t))
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestPostTradeValidatesAndEnqueues(t *testing.T) {
	s, queue, _ := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/trades", bytes.NewBufferString(body))
		req.Header.Set("Authorization", bearer(t))
		s.Router.ServeHTTP(w, req)
		return w
	}

	if w := post(`{"venue":"binance","market":"spot","symbol":"BTCUSDT","side":"hold","price":"50"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad side status = %d, want 400", w.Code)
	}
	if w := post(`{"venue":"binance","market":"spot","symbol":"BTCUSDT","side":"buy","price":"0"}`); w.Code != http.StatusBadRequest {
		t.Errorf("zero price status = %d, want 400", w.Code)
	}
	if w := post(`{"venue":"kucoin","market":"spot","symbol":"BTC-USDT","side":"buy","price":"50","size":"1"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unconfigured venue status = %d, want 400", w.Code)
	}

	w := post(`{"venue":"binance","market":"spot","symbol":"BTCUSDT","base":"BTC","quote":"USDT","side":"buy","price":"50","quote_amount":"100","qty_precision":3}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("valid trade status = %d, want 202: %s", w.Code, w.Body.String())
	}
	if queue.Depth() != 1 {
		t.Fatalf("queue depth = %d, want 1", queue.Depth())
	}
	item := <-queue.Chan()
	if len(item.Legs) != 1 || item.Legs[0].Config.Symbol != "BTCUSDT" {
		t.Errorf("queued item = %+v", item)
	}
	if item.Legs[0].CorrelationID == "" {
		t.Error("queued trade has no correlation id")
	}
}

func TestPostStopEnqueuesSentinel(t *testing.T) {
	s, queue, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stop", nil)
	req.Header.Set("Authorization", bearer(t))
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	item := <-queue.Chan()
	if !item.Sentinel() {
		t.Error("queued item is not the sentinel")
	}
}
