package feed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"pairtrader/pkg/exchanges/common"
)

// Binance streams bookTicker updates from the Binance public websocket.
type Binance struct {
	market common.MarketType
	base   string
	dialer *websocket.Dialer
}

// NewBinance builds a feed for the given market; testnet toggles the host.
func NewBinance(market common.MarketType, testnet bool) *Binance {
	host := "stream.binance.com:9443"
	if market == common.MarketFutures {
		host = "fstream.binance.com"
		if testnet {
			host = "stream.binancefuture.com"
		}
	} else if testnet {
		host = "testnet.binance.vision"
	}
	return &Binance{
		market: market,
		base:   (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer: websocket.DefaultDialer,
	}
}

func (b *Binance) Venue() string             { return "binance" }
func (b *Binance) Market() common.MarketType { return b.market }

// Subscribe listens to the bookTicker stream for symbol.
func (b *Binance) Subscribe(ctx context.Context, symbol string) (<-chan Tick, func(), error) {
	return subscribe(ctx, "binance", symbol, b.stream)
}

func (b *Binance) stream(ctx context.Context, symbol string, out chan<- Tick) error {
	// Binance requires lowercase symbols for websocket streams.
	u := fmt.Sprintf("%s/%s@bookTicker", b.base, strings.ToLower(symbol))
	conn, _, err := b.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial binance ws: %w", err)
	}
	w := newWSWriter(conn)
	defer w.close()

	go func() {
		<-ctx.Done()
		w.close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if readClosed(err) {
				return nil
			}
			return err
		}
		tick, err := b.parse(msg, symbol)
		if err != nil {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Binance) parse(msg []byte, symbol string) (Tick, error) {
	var raw struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		Ask    string `json:"a"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Tick{}, err
	}
	bid, _ := decimal.NewFromString(raw.Bid)
	ask, _ := decimal.NewFromString(raw.Ask)
	return Tick{
		Venue:  "binance",
		Market: b.market,
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		Time:   time.Now(),
	}, nil
}
