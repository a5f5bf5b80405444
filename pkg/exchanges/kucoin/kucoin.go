// Package kucoin implements the KuCoin spot and futures order codec: JSON
// bodies signed with base64 HMAC-SHA256 over timestamp+method+path+body,
// sent via the KC-API-* header set.
package kucoin

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"pairtrader/pkg/exchanges/common"
)

// Config holds KuCoin credentials and endpoints.
type Config struct {
	Credentials common.Credentials
	BaseURL     string // override for tests
	Now         func() int64
}

// Venue is a stateless KuCoin codec for one market type.
type Venue struct {
	cfg     Config
	market  common.MarketType
	baseURL string
}

func New(cfg Config, market common.MarketType) *Venue {
	base := cfg.BaseURL
	if base == "" {
		if market == common.MarketFutures {
			base = "https://api-futures.kucoin.com"
		} else {
			base = "https://api.kucoin.com"
		}
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Venue{cfg: cfg, market: market, baseURL: strings.TrimRight(base, "/")}
}

func (v *Venue) Name() string              { return "kucoin" }
func (v *Venue) Market() common.MarketType { return v.market }

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func unwrap(body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("kucoin: decode envelope: %w", err)
	}
	if env.Code != "200000" {
		return nil, fmt.Errorf("kucoin: api error %s: %s", env.Code, env.Msg)
	}
	return env.Data, nil
}

func (v *Venue) CreateOrder(ctx context.Context, spec common.OrderSpec) (*http.Request, error) {
	payload := map[string]any{
		"clientOid": spec.ClientID,
		"symbol":    spec.Symbol,
		"side":      strings.ToLower(string(spec.Side)),
		"type":      strings.ToLower(string(spec.Type)),
		"size":      spec.Qty.String(),
	}
	if spec.Type == common.OrderTypeLimit {
		payload["price"] = spec.Price.String()
		tif := spec.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		payload["timeInForce"] = tif
	}
	return v.signed(ctx, http.MethodPost, "/api/v1/orders", payload)
}

func (v *Venue) ParseCreate(body []byte) (common.Ack, error) {
	data, err := unwrap(body)
	if err != nil {
		return common.Ack{}, err
	}
	var resp struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return common.Ack{}, fmt.Errorf("kucoin: decode order response: %w", err)
	}
	if resp.OrderID == "" {
		return common.Ack{}, fmt.Errorf("kucoin: order response missing orderId")
	}
	return common.Ack{OrderID: resp.OrderID, Status: common.StatusNew}, nil
}

func (v *Venue) QueryOrder(ctx context.Context, symbol, orderID, clientID string) (*http.Request, error) {
	path := "/api/v1/orders/" + orderID
	if orderID == "" {
		path = "/api/v1/order/client-order/" + clientID
	}
	return v.signed(ctx, http.MethodGet, path, nil)
}

func (v *Venue) ParseQuery(body []byte) (common.OrderUpdate, error) {
	data, err := unwrap(body)
	if err != nil {
		return common.OrderUpdate{}, err
	}
	var resp struct {
		ID          string `json:"id"`
		IsActive    *bool  `json:"isActive"`
		CancelExist bool   `json:"cancelExist"`
		DealSize    string `json:"dealSize"`
		DealFunds   string `json:"dealFunds"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return common.OrderUpdate{}, fmt.Errorf("kucoin: decode order query: %w", err)
	}
	if resp.IsActive == nil {
		return common.OrderUpdate{}, fmt.Errorf("kucoin: order query missing isActive")
	}
	dealSize := parseDecimal(resp.DealSize)
	update := common.OrderUpdate{
		OrderID:     resp.ID,
		ExecutedQty: dealSize,
		CumQuote:    parseDecimal(resp.DealFunds),
	}
	switch {
	case *resp.IsActive && dealSize.IsZero():
		update.Status = common.StatusNew
	case *resp.IsActive:
		update.Status = common.StatusPartial
	case resp.CancelExist:
		update.Status = common.StatusCanceled
	default:
		update.Status = common.StatusFilled
	}
	return update, nil
}

func (v *Venue) QueryFills(ctx context.Context, symbol, orderID, clientID string) (*http.Request, error) {
	return v.signed(ctx, http.MethodGet, "/api/v1/fills?orderId="+orderID, nil)
}

func (v *Venue) ParseFills(body []byte) ([]common.Fill, error) {
	data, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Items []struct {
			TradeID     string `json:"tradeId"`
			Price       string `json:"price"`
			Size        string `json:"size"`
			Fee         string `json:"fee"`
			FeeCurrency string `json:"feeCurrency"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("kucoin: decode fills: %w", err)
	}
	fills := make([]common.Fill, 0, len(resp.Items))
	for _, it := range resp.Items {
		fills = append(fills, common.Fill{
			TradeID:         it.TradeID,
			Price:           parseDecimal(it.Price),
			Qty:             parseDecimal(it.Size),
			Commission:      parseDecimal(it.Fee),
			CommissionAsset: it.FeeCurrency,
		})
	}
	return fills, nil
}

func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) (*http.Request, error) {
	if v.market != common.MarketFutures {
		return nil, common.ErrLeverageUnsupported
	}
	payload := map[string]any{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}
	return v.signed(ctx, http.MethodPost, "/api/v2/changeCrossUserLeverage", payload)
}

func (v *Venue) ParseLeverage(body []byte, leverage int) error {
	data, err := unwrap(body)
	if err != nil {
		return err
	}
	// The venue may acknowledge with a bare boolean; an object form echoes
	// the applied leverage, which must match the request.
	var resp struct {
		Leverage string `json:"leverage"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.Leverage == "" {
		return nil
	}
	if resp.Leverage != strconv.Itoa(leverage) {
		return fmt.Errorf("kucoin: leverage set to %s, requested %d", resp.Leverage, leverage)
	}
	return nil
}

// UsageHeader is empty: KuCoin reports remaining quota, not used weight,
// so its headers do not feed the usage tracker.
func (v *Venue) UsageHeader() string { return "" }

// Classify maps KuCoin error responses. 429000 is the documented rate-limit
// code; increment/precision wording marks over-precise numeric fields.
func (v *Venue) Classify(status int, body []byte) common.ErrorKind {
	if status == http.StatusTooManyRequests {
		return common.ErrKindRateLimited
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Code == "429000" {
			return common.ErrKindRateLimited
		}
		msg := strings.ToLower(env.Msg)
		if strings.Contains(msg, "increment") || strings.Contains(msg, "precision") || strings.Contains(msg, "decimal") {
			return common.ErrKindPrecision
		}
	}
	return common.ErrKindOther
}

// signed builds the request and attaches the KC-API-* signature headers.
// The passphrase itself is signed per key version 2.
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

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, v.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("KC-API-KEY", v.cfg.Credentials.Key)
	req.Header.Set("KC-API-SIGN", signB64(prehash, v.cfg.Credentials.Secret))
	req.Header.Set("KC-API-TIMESTAMP", ts)
	req.Header.Set("KC-API-PASSPHRASE", signB64(v.cfg.Credentials.Passphrase, v.cfg.Credentials.Secret))
	req.Header.Set("KC-API-KEY-VERSION", "2")
	return req, nil
}

func signB64(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
