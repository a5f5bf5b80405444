// Package ftx implements an FTX-style order codec: JSON bodies signed with
// hex HMAC-SHA256 over timestamp+method+path+body, sent via FTX-KEY /
// FTX-SIGN / FTX-TS headers. Spot and futures share one API; the market name
// distinguishes them.
package ftx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"pairtrader/pkg/exchanges/common"
)

// Config holds FTX credentials and endpoints.
type Config struct {
	Credentials common.Credentials
	BaseURL     string // override for tests
	Now         func() int64
}

// Venue is a stateless FTX codec for one market type.
type Venue struct {
	cfg     Config
	market  common.MarketType
	baseURL string
}

func New(cfg Config, market common.MarketType) *Venue {
	base := cfg.BaseURL
	if base == "" {
		base = "https://ftx.com"
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Venue{cfg: cfg, market: market, baseURL: strings.TrimRight(base, "/")}
}

func (v *Venue) Name() string              { return "ftx" }
func (v *Venue) Market() common.MarketType { return v.market }

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Result  json.RawMessage `json:"result"`
}

func unwrap(body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("ftx: decode envelope: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("ftx: api error: %s", env.Error)
	}
	return env.Result, nil
}

func (v *Venue) CreateOrder(ctx context.Context, spec common.OrderSpec) (*http.Request, error) {
	payload := map[string]any{
		"market":   spec.Symbol,
		"side":     strings.ToLower(string(spec.Side)),
		"type":     strings.ToLower(string(spec.Type)),
		"size":     spec.Qty.InexactFloat64(),
		"clientId": spec.ClientID,
	}
	if spec.Type == common.OrderTypeLimit {
		payload["price"] = spec.Price.InexactFloat64()
	} else {
		payload["price"] = nil
	}
	return v.signed(ctx, http.MethodPost, "/api/orders", payload)
}

func (v *Venue) ParseCreate(body []byte) (common.Ack, error) {
	result, err := unwrap(body)
	if err != nil {
		return common.Ack{}, err
	}
	var resp struct {
		ID       int64  `json:"id"`
		ClientID string `json:"clientId"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return common.Ack{}, fmt.Errorf("ftx: decode order response: %w", err)
	}
	if resp.ID == 0 {
		return common.Ack{}, fmt.Errorf("ftx: order response missing id")
	}
	return common.Ack{
		OrderID:  strconv.FormatInt(resp.ID, 10),
		ClientID: resp.ClientID,
		Status:   common.StatusNew,
	}, nil
}

func (v *Venue) QueryOrder(ctx context.Context, symbol, orderID, clientID string) (*http.Request, error) {
	path := "/api/orders/" + orderID
	if orderID == "" {
		path = "/api/orders/by_client_id/" + clientID
	}
	return v.signed(ctx, http.MethodGet, path, nil)
}

func (v *Venue) ParseQuery(body []byte) (common.OrderUpdate, error) {
	result, err := unwrap(body)
	if err != nil {
		return common.OrderUpdate{}, err
	}
	var resp struct {
		ID           int64    `json:"id"`
		Status       string   `json:"status"`
		FilledSize   float64  `json:"filledSize"`
		AvgFillPrice *float64 `json:"avgFillPrice"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return common.OrderUpdate{}, fmt.Errorf("ftx: decode order query: %w", err)
	}
	if resp.Status == "" {
		return common.OrderUpdate{}, fmt.Errorf("ftx: order query missing status")
	}
	filled := decimal.NewFromFloat(resp.FilledSize)
	update := common.OrderUpdate{ExecutedQty: filled}
	if resp.ID > 0 {
		update.OrderID = strconv.FormatInt(resp.ID, 10)
	}
	if resp.AvgFillPrice != nil {
		update.AvgPrice = decimal.NewFromFloat(*resp.AvgFillPrice)
		update.CumQuote = update.AvgPrice.Mul(filled)
	}
	switch strings.ToLower(resp.Status) {
	case "new":
		update.Status = common.StatusNew
	case "open":
		if filled.IsPositive() {
			update.Status = common.StatusPartial
		} else {
			update.Status = common.StatusNew
		}
	case "closed":
		if filled.IsPositive() {
			update.Status = common.StatusFilled
		} else {
			update.Status = common.StatusCanceled
		}
	default:
		update.Status = common.StatusUnknown
	}
	return update, nil
}

func (v *Venue) QueryFills(ctx context.Context, symbol, orderID, clientID string) (*http.Request, error) {
	return v.signed(ctx, http.MethodGet, "/api/fills?orderId="+orderID, nil)
}

func (v *Venue) ParseFills(body []byte) ([]common.Fill, error) {
	result, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	var resp []struct {
		ID          int64   `json:"id"`
		Price       float64 `json:"price"`
		Size        float64 `json:"size"`
		Fee         float64 `json:"fee"`
		FeeCurrency string  `json:"feeCurrency"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("ftx: decode fills: %w", err)
	}
	fills := make([]common.Fill, 0, len(resp))
	for _, f := range resp {
		fills = append(fills, common.Fill{
			TradeID:         strconv.FormatInt(f.ID, 10),
			Price:           decimal.NewFromFloat(f.Price),
			Qty:             decimal.NewFromFloat(f.Size),
			Commission:      decimal.NewFromFloat(f.Fee),
			CommissionAsset: f.FeeCurrency,
		})
	}
	return fills, nil
}

func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) (*http.Request, error) {
	if v.market != common.MarketFutures {
		return nil, common.ErrLeverageUnsupported
	}
	return v.signed(ctx, http.MethodPost, "/api/account/leverage", map[string]any{
		"leverage": leverage,
	})
}

func (v *Venue) ParseLeverage(body []byte, leverage int) error {
	result, err := unwrap(body)
	if err != nil {
		return err
	}
	// The result is usually null; when the applied leverage is echoed it
	// must match the request.
	var resp struct {
		Leverage *float64 `json:"leverage"`
	}
	if err := json.Unmarshal(result, &resp); err != nil || resp.Leverage == nil {
		return nil
	}
	if int(*resp.Leverage) != leverage {
		return fmt.Errorf("ftx: leverage set to %g, requested %d", *resp.Leverage, leverage)
	}
	return nil
}

// UsageHeader is empty: FTX does not report used weight in headers.
func (v *Venue) UsageHeader() string { return "" }

// Classify maps FTX error responses. "too granular" is the venue's wording
// for over-precise size/price fields.
func (v *Venue) Classify(status int, body []byte) common.ErrorKind {
	if status == http.StatusTooManyRequests {
		return common.ErrKindRateLimited
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		msg := strings.ToLower(env.Error)
		if strings.Contains(msg, "rate limit") || strings.Contains(msg, "do not send more") {
			return common.ErrKindRateLimited
		}
		if strings.Contains(msg, "too granular") || strings.Contains(msg, "precision") {
			return common.ErrKindPrecision
		}
	}
	return common.ErrKindOther
}

func (v *Venue) signed(ctx context.Context, method, path string, payload map[string]any) (*http.Request, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	ts := strconv.FormatInt(v.cfg.Now(), 10)
	prehash := ts + method + path + string(body)

	req, err := http.NewRequestWithContext(ctx, method, v.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("FTX-KEY", v.cfg.Credentials.Key)
	req.Header.Set("FTX-SIGN", signHex(prehash, v.cfg.Credentials.Secret))
	req.Header.Set("FTX-TS", ts)
	return req, nil
}

func signHex(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
