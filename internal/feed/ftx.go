package feed

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"pairtrader/pkg/exchanges/common"
)

// FTX streams ticker updates from the FTX public websocket. Spot and
// futures share one endpoint; the market name selects the instrument.
type FTX struct {
	market common.MarketType
	wsURL  string
	dialer *websocket.Dialer
}

// NewFTX builds a feed for the given market.
func NewFTX(market common.MarketType) *FTX {
	return &FTX{
		market: market,
		wsURL:  "wss://ftx.com/ws/",
		dialer: websocket.DefaultDialer,
	}
}

func (f *FTX) Venue() string             { return "ftx" }
func (f *FTX) Market() common.MarketType { return f.market }

// Subscribe listens to the ticker channel for symbol.
func (f *FTX) Subscribe(ctx context.Context, symbol string) (<-chan Tick, func(), error) {
	return subscribe(ctx, "ftx", symbol, f.stream)
}

func (f *FTX) stream(ctx context.Context, symbol string, out chan<- Tick) error {
	conn, _, err := f.dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial ftx ws: %w", err)
	}
	w := newWSWriter(conn)
	defer w.close()

	go func() {
		<-ctx.Done()
		w.close()
	}()

	sub := map[string]any{"op": "subscribe", "channel": "ticker", "market": symbol}
	if err := w.WriteJSON(sub); err != nil {
		return fmt.Errorf("ftx subscribe: %w", err)
	}

	// FTX requires a ping at least every 15 seconds.
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.WriteJSON(map[string]any{"op": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if readClosed(err) {
				return nil
			}
			return err
		}
		tick, ok := f.parse(msg, symbol)
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return nil
		}
	}
}

func (f *FTX) parse(msg []byte, symbol string) (Tick, bool) {
	var raw struct {
		Channel string `json:"channel"`
		Type    string `json:"type"`
		Data    struct {
			Bid  *float64 `json:"bid"`
			Ask  *float64 `json:"ask"`
			Last *float64 `json:"last"`
			Time float64  `json:"time"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Tick{}, false
	}
	if raw.Channel != "ticker" || raw.Type != "update" {
		return Tick{}, false
	}
	tick := Tick{
		Venue:  "ftx",
		Market: f.market,
		Symbol: symbol,
		Time:   time.Unix(0, int64(raw.Data.Time*float64(time.Second))),
	}
	if raw.Data.Bid != nil {
		tick.Bid = decimal.NewFromFloat(*raw.Data.Bid)
	}
	if raw.Data.Ask != nil {
		tick.Ask = decimal.NewFromFloat(*raw.Data.Ask)
	}
	if raw.Data.Last != nil {
		tick.Last = decimal.NewFromFloat(*raw.Data.Last)
	}
	return tick, true
}
