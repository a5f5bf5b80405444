package common

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order types the engine submits.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// MarketType distinguishes spot vs futures venues.
type MarketType string

const (
	MarketSpot    MarketType = "SPOT"
	MarketFutures MarketType = "FUTURES"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Terminal reports whether the status ends the monitoring loop.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// ErrorKind classifies an exchange business error by how the connector must
// react to it.
type ErrorKind int

const (
	// ErrKindNone: the response is not an error.
	ErrKindNone ErrorKind = iota
	// ErrKindRateLimited: the request may have been accepted anyway; switch
	// to monitoring instead of failing.
	ErrKindRateLimited
	// ErrKindPrecision: a numeric field carried too many decimals; retry as
	// a coarser limit order.
	ErrKindPrecision
	// ErrKindOther: terminal; surface the response body verbatim.
	ErrKindOther
)

// Credentials identifies one API key set for a venue+market.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// OrderSpec is the sizing-resolved order a connector asks a venue to encode.
type OrderSpec struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal // limit orders only
	TimeInForce string          // limit orders only, good-till-canceled
	ClientID    string
}

// Ack is the exchange acknowledgment of order creation.
type Ack struct {
	OrderID  string
	ClientID string
	Status   OrderStatus
}

// Fill is one execution record reported by a venue. TradeID is the
// deduplication key across re-polls.
type Fill struct {
	TradeID         string
	Price           decimal.Decimal
	Qty             decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
}

// OrderUpdate is a monitoring snapshot of a working order.
type OrderUpdate struct {
	OrderID     string // echoed order id, resolves client-id-only polls
	Status      OrderStatus
	ExecutedQty decimal.Decimal
	CumQuote    decimal.Decimal // cumulative quote value when the venue reports it
	AvgPrice    decimal.Decimal // direct average when the venue reports it
}

// Venue encodes, signs and decodes the wire traffic of one exchange+market.
// Implementations are stateless apart from credentials and clock; the order
// state machine lives in the connector that drives them.
type Venue interface {
	Name() string
	Market() MarketType

	// CreateOrder returns a signed order-creation request.
	CreateOrder(ctx context.Context, spec OrderSpec) (*http.Request, error)
	ParseCreate(body []byte) (Ack, error)

	// QueryOrder returns a signed order-status request. orderID may be empty
	// when the ack was never seen (rate-limited submission); the venue then
	// queries by client order id.
	QueryOrder(ctx context.Context, symbol, orderID, clientID string) (*http.Request, error)
	ParseQuery(body []byte) (OrderUpdate, error)

	// QueryFills returns a signed request for the order's fill records.
	QueryFills(ctx context.Context, symbol, orderID, clientID string) (*http.Request, error)
	ParseFills(body []byte) ([]Fill, error)

	// SetLeverage returns a signed leverage-set request, or
	// ErrLeverageUnsupported on spot markets. ParseLeverage rejects
	// acknowledgments whose echoed leverage differs from the requested
	// value; a venue may clamp the request and still answer 2xx.
	SetLeverage(ctx context.Context, symbol string, leverage int) (*http.Request, error)
	ParseLeverage(body []byte, leverage int) error

	// Classify maps a non-2xx response to an ErrorKind.
	Classify(status int, body []byte) ErrorKind

	// UsageHeader names the response header carrying the venue's used
	// request weight, empty when the venue reports none.
	UsageHeader() string
}
