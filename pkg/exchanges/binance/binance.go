// Package binance implements the Binance spot and USDT-margined futures
// order codec: HMAC-SHA256 signed query strings, X-MBX-APIKEY header.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"pairtrader/pkg/exchanges/common"
)

// Config holds Binance credentials and endpoints.
type Config struct {
	Credentials common.Credentials
	BaseURL     string // override for tests; empty selects production/testnet
	Testnet     bool
	RecvWindow  int64        // ms, default 5000
	Now         func() int64 // ms clock, default local time
}

// Venue is a stateless Binance codec for one market type.
type Venue struct {
	cfg     Config
	market  common.MarketType
	baseURL string
}

// New builds a codec for the given market.
func New(cfg Config, market common.MarketType) *Venue {
	base := cfg.BaseURL
	if base == "" {
		switch {
		case market == common.MarketFutures && cfg.Testnet:
			base = "https://testnet.binancefuture.com"
		case market == common.MarketFutures:
			base = "https://fapi.binance.com"
		case cfg.Testnet:
			base = "https://testnet.binance.vision"
		default:
			base = "https://api.binance.com"
		}
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Venue{cfg: cfg, market: market, baseURL: strings.TrimRight(base, "/")}
}

func (v *Venue) Name() string              { return "binance" }
func (v *Venue) Market() common.MarketType { return v.market }

func (v *Venue) path(p string) string {
	if v.market == common.MarketFutures {
		return "/fapi/v1" + p
	}
	return "/api/v3" + p
}

func (v *Venue) CreateOrder(ctx context.Context, spec common.OrderSpec) (*http.Request, error) {
	params := url.Values{}
	params.Set("symbol", spec.Symbol)
	params.Set("side", string(spec.Side))
	params.Set("type", string(spec.Type))
	params.Set("quantity", spec.Qty.String())
	if spec.Type == common.OrderTypeLimit {
		params.Set("price", spec.Price.String())
		tif := spec.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
	}
	if spec.ClientID != "" {
		params.Set("newClientOrderId", spec.ClientID)
	}
	return v.signed(ctx, http.MethodPost, v.path("/order"), params)
}

func (v *Venue) ParseCreate(body []byte) (common.Ack, error) {
	var resp struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Ack{}, fmt.Errorf("binance: decode order response: %w", err)
	}
	if resp.OrderID == 0 {
		return common.Ack{}, fmt.Errorf("binance: order response missing orderId")
	}
	return common.Ack{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		ClientID: resp.ClientOrderID,
		Status:   mapStatus(resp.Status),
	}, nil
}

func (v *Venue) QueryOrder(ctx context.Context, symbol, orderID, clientID string) (*http.Request, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if orderID != "" {
		params.Set("orderId", orderID)
	} else {
		params.Set("origClientOrderId", clientID)
	}
	return v.signed(ctx, http.MethodGet, v.path("/order"), params)
}

func (v *Venue) ParseQuery(body []byte) (common.OrderUpdate, error) {
	var resp struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		CumQuote    string `json:"cummulativeQuoteQty"`
		CumQuoteFut string `json:"cumQuote"` // futures field name
		AvgPrice    string `json:"avgPrice"` // futures only
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderUpdate{}, fmt.Errorf("binance: decode order query: %w", err)
	}
	if resp.Status == "" {
		return common.OrderUpdate{}, fmt.Errorf("binance: order query missing status")
	}
	cum := resp.CumQuote
	if cum == "" {
		cum = resp.CumQuoteFut
	}
	update := common.OrderUpdate{
		Status:      mapStatus(resp.Status),
		ExecutedQty: parseDecimal(resp.ExecutedQty),
		CumQuote:    parseDecimal(cum),
		AvgPrice:    parseDecimal(resp.AvgPrice),
	}
	if resp.OrderID > 0 {
		update.OrderID = strconv.FormatInt(resp.OrderID, 10)
	}
	return update, nil
}

func (v *Venue) QueryFills(ctx context.Context, symbol, orderID, clientID string) (*http.Request, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if orderID != "" {
		params.Set("orderId", orderID)
	}
	p := "/myTrades"
	if v.market == common.MarketFutures {
		p = "/userTrades"
	}
	return v.signed(ctx, http.MethodGet, v.path(p), params)
}

func (v *Venue) ParseFills(body []byte) ([]common.Fill, error) {
	var resp []struct {
		ID              int64  `json:"id"`
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode trades: %w", err)
	}
	fills := make([]common.Fill, 0, len(resp))
	for _, t := range resp {
		fills = append(fills, common.Fill{
			TradeID:         strconv.FormatInt(t.ID, 10),
			Price:           parseDecimal(t.Price),
			Qty:             parseDecimal(t.Qty),
			Commission:      parseDecimal(t.Commission),
			CommissionAsset: t.CommissionAsset,
		})
	}
	return fills, nil
}

func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) (*http.Request, error) {
	if v.market != common.MarketFutures {
		return nil, common.ErrLeverageUnsupported
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return v.signed(ctx, http.MethodPost, "/fapi/v1/leverage", params)
}

func (v *Venue) ParseLeverage(body []byte, leverage int) error {
	var resp struct {
		Leverage int `json:"leverage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("binance: decode leverage response: %w", err)
	}
	if resp.Leverage == 0 {
		return fmt.Errorf("binance: leverage response missing leverage")
	}
	if resp.Leverage != leverage {
		return fmt.Errorf("binance: leverage set to %d, requested %d", resp.Leverage, leverage)
	}
	return nil
}

func (v *Venue) UsageHeader() string { return "X-MBX-USED-WEIGHT-1M" }

// Classify maps Binance error responses. 429/418 and -1003 are rate limits;
// -1111 is the precision rejection.
func (v *Venue) Classify(status int, body []byte) common.ErrorKind {
	if status == http.StatusTooManyRequests || status == 418 {
		return common.ErrKindRateLimited
	}
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil {
		switch apiErr.Code {
		case -1003: // TOO_MANY_REQUESTS
			return common.ErrKindRateLimited
		case -1111: // Precision is over the maximum defined for this asset
			return common.ErrKindPrecision
		}
		if strings.Contains(strings.ToLower(apiErr.Msg), "too many decimals") {
			return common.ErrKindPrecision
		}
	}
	return common.ErrKindOther
}

// signed appends timestamp/recvWindow, signs the query and builds the request.
func (v *Venue) signed(ctx context.Context, method, path string, params url.Values) (*http.Request, error) {
	params.Set("timestamp", strconv.FormatInt(v.cfg.Now(), 10))
	params.Set("recvWindow", strconv.FormatInt(v.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), v.cfg.Credentials.Secret))

	encoded := params.Encode()
	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, v.baseURL+path+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, v.baseURL+path, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", v.cfg.Credentials.Key)
	return req, nil
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
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
