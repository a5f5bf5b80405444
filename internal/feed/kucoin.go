package feed

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"pairtrader/pkg/exchanges/common"
)

// KuCoin streams ticker updates through KuCoin's token-brokered websocket.
// Every connection first requests a bullet-public token over REST, then
// dials the endpoint the broker assigns.
type KuCoin struct {
	market  common.MarketType
	restURL string
	client  *http.Client
	dialer  *websocket.Dialer
}

// NewKuCoin builds a feed for the given market.
func NewKuCoin(market common.MarketType) *KuCoin {
	restURL := "https://api.kucoin.com"
	if market == common.MarketFutures {
		restURL = "https://api-futures.kucoin.com"
	}
	return &KuCoin{
		market:  market,
		restURL: restURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		dialer:  websocket.DefaultDialer,
	}
}

func (k *KuCoin) Venue() string             { return "kucoin" }
func (k *KuCoin) Market() common.MarketType { return k.market }

// Subscribe listens to the market ticker topic for symbol.
func (k *KuCoin) Subscribe(ctx context.Context, symbol string) (<-chan Tick, func(), error) {
	return subscribe(ctx, "kucoin", symbol, k.stream)
}

type bulletResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"`
		} `json:"instanceServers"`
	} `json:"data"`
}

// bullet requests a public websocket token and endpoint.
func (k *KuCoin) bullet(ctx context.Context) (endpoint, token string, ping time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.restURL+"/api/v1/bullet-public", bytes.NewReader(nil))
	if err != nil {
		return "", "", 0, err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("kucoin bullet: %w", err)
	}
	defer resp.Body.Close()

	var body bulletResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", 0, fmt.Errorf("kucoin bullet decode: %w", err)
	}
	if body.Code != "200000" || len(body.Data.InstanceServers) == 0 {
		return "", "", 0, fmt.Errorf("kucoin bullet rejected: code %s", body.Code)
	}
	srv := body.Data.InstanceServers[0]
	ping = time.Duration(srv.PingInterval) * time.Millisecond
	if ping <= 0 {
		ping = 18 * time.Second
	}
	return srv.Endpoint, body.Data.Token, ping, nil
}

func (k *KuCoin) stream(ctx context.Context, symbol string, out chan<- Tick) error {
	endpoint, token, ping, err := k.bullet(ctx)
	if err != nil {
		return err
	}

	connectID := uuid.NewString()
	conn, _, err := k.dialer.DialContext(ctx, fmt.Sprintf("%s?token=%s&connectId=%s", endpoint, token, connectID), nil)
	if err != nil {
		return fmt.Errorf("dial kucoin ws: %w", err)
	}
	w := newWSWriter(conn)
	defer w.close()

	go func() {
		<-ctx.Done()
		w.close()
	}()

	sub := map[string]any{
		"id":       uuid.NewString(),
		"type":     "subscribe",
		"topic":    "/market/ticker:" + symbol,
		"response": true,
	}
	if err := w.WriteJSON(sub); err != nil {
		return fmt.Errorf("kucoin subscribe: %w", err)
	}

	// The broker drops the connection if pings stop arriving.
	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				msg := map[string]any{"id": uuid.NewString(), "type": "ping"}
				if err := w.WriteJSON(msg); err != nil {
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
		tick, ok := k.parse(msg, symbol)
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

func (k *KuCoin) parse(msg []byte, symbol string) (Tick, bool) {
	var raw struct {
		Type string `json:"type"`
		Data struct {
			Price   string `json:"price"`
			BestBid string `json:"bestBid"`
			BestAsk string `json:"bestAsk"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil || raw.Type != "message" {
		return Tick{}, false
	}
	bid, _ := decimal.NewFromString(raw.Data.BestBid)
	ask, _ := decimal.NewFromString(raw.Data.BestAsk)
	last, _ := decimal.NewFromString(raw.Data.Price)
	return Tick{
		Venue:  "kucoin",
		Market: k.market,
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		Last:   last,
		Time:   time.Now(),
	}, true
}
