package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pairtrader/internal/orchestrator"
	"pairtrader/internal/trade"
	"pairtrader/pkg/exchanges/common"
)

// getStatus reports the orchestrator snapshot.
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Orch.Status())
}

// getHistory returns recorded legs, newest last. A limit query caps the
// tail of the record.
func (s *Server) getHistory(c *gin.Context) {
	entries := s.Hist.All()
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "trades": entries})
}

type tradeRequest struct {
	Venue          string `json:"venue"`
	Market         string `json:"market"`
	Symbol         string `json:"symbol"`
	Base           string `json:"base"`
	Quote          string `json:"quote"`
	Side           string `json:"side"`
	Size           string `json:"size"`
	QuoteAmount    string `json:"quote_amount"`
	Price          string `json:"price"`
	Leverage       int    `json:"leverage"`
	PricePrecision int32  `json:"price_precision"`
	QtyPrecision   int32  `json:"qty_precision"`
	MinNotional    string `json:"min_notional"`
}

// postTrade enqueues one manually specified leg. It answers as soon as the
// item is queued; execution is asynchronous.
func (s *Server) postTrade(c *gin.Context) {
	var req tradeRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	cfg, price, err := req.toConfig()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	creds, ok := s.Creds[cfg.Venue]
	if !ok || creds.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no credentials configured for venue " + cfg.Venue})
		return
	}

	id := uuid.NewString()
	s.Queue.Enqueue(orchestrator.Item{Legs: []trade.Request{{
		Venue:         cfg.Venue,
		Market:        cfg.Market,
		Creds:         creds,
		Config:        cfg,
		Price:         price,
		CorrelationID: id,
		CreatedAt:     time.Now(),
	}}})

	c.JSON(http.StatusAccepted, gin.H{"correlation_id": id})
}

// postStop enqueues the trading-stopped sentinel, which resets session
// state once the worker reaches it.
func (s *Server) postStop(c *gin.Context) {
	s.Queue.Enqueue(orchestrator.Item{Legs: []trade.Request{{}}})
	c.JSON(http.StatusAccepted, gin.H{"status": "stop queued"})
}

func (r tradeRequest) toConfig() (*trade.Config, decimal.Decimal, error) {
	side := common.Side(strings.ToUpper(r.Side))
	if side != common.SideBuy && side != common.SideSell {
		return nil, decimal.Zero, errInvalid("side", r.Side)
	}
	market := common.MarketType(strings.ToUpper(r.Market))
	if market != common.MarketSpot && market != common.MarketFutures {
		return nil, decimal.Zero, errInvalid("market", r.Market)
	}
	if r.Symbol == "" {
		return nil, decimal.Zero, errInvalid("symbol", r.Symbol)
	}

	price, err := decimal.NewFromString(r.Price)
	if err != nil || !price.IsPositive() {
		return nil, decimal.Zero, errInvalid("price", r.Price)
	}
	size, err := parseOptional(r.Size)
	if err != nil {
		return nil, decimal.Zero, errInvalid("size", r.Size)
	}
	quoteAmount, err := parseOptional(r.QuoteAmount)
	if err != nil {
		return nil, decimal.Zero, errInvalid("quote_amount", r.QuoteAmount)
	}
	minNotional, err := parseOptional(r.MinNotional)
	if err != nil {
		return nil, decimal.Zero, errInvalid("min_notional", r.MinNotional)
	}

	lev := r.Leverage
	if lev < 1 {
		lev = 1
	}
	return &trade.Config{
		Venue:               r.Venue,
		Market:              market,
		Symbol:              r.Symbol,
		Base:                r.Base,
		Quote:               r.Quote,
		Side:                side,
		Type:                common.OrderTypeMarket,
		Size:                size,
		QuoteAmount:         quoteAmount,
		OriginalQuoteAmount: quoteAmount,
		Leverage:            lev,
		PricePrecision:      r.PricePrecision,
		QtyPrecision:        r.QtyPrecision,
		MinNotional:         minNotional,
	}, price, nil
}

func parseOptional(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}

type fieldError struct {
	field, value string
}

func (e fieldError) Error() string {
	return "invalid " + e.field + ": " + strconv.Quote(e.value)
}

func errInvalid(field, value string) error {
	return fieldError{field: field, value: value}
}
