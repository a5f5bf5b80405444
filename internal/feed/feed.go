// Package feed streams best bid/ask prices from the public websocket
// endpoints of the supported venues. Each subscription owns one connection
// and reconnects with exponential backoff until its context is canceled.
package feed

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"pairtrader/pkg/exchanges/common"
)

// Tick is one best-price observation from a venue.
type Tick struct {
	Venue  string
	Market common.MarketType
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	Time   time.Time
}

// Mid returns the bid/ask midpoint, falling back to the last trade price
// when one side of the book is missing.
func (t Tick) Mid() decimal.Decimal {
	if t.Bid.IsPositive() && t.Ask.IsPositive() {
		return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
	}
	return t.Last
}

// Source is a venue price stream.
type Source interface {
	Venue() string
	Market() common.MarketType
	Subscribe(ctx context.Context, symbol string) (<-chan Tick, func(), error)
}

// streamFn holds one websocket session open and pushes ticks until the
// connection drops or the context is canceled.
type streamFn func(ctx context.Context, symbol string, out chan<- Tick) error

// subscribe runs fn in a reconnect loop. The returned stop function cancels
// the loop and closes the channel.
func subscribe(ctx context.Context, venue, symbol string, fn streamFn) (<-chan Tick, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Tick, 100)

	var once sync.Once
	stop := func() {
		once.Do(cancel)
	}

	go func() {
		defer close(out)
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxInterval = 30 * time.Second
		for {
			if ctx.Err() != nil {
				return
			}
			err := fn(ctx, symbol, out)
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			log.Printf("%s feed: stream %s dropped (%v), reconnecting in %s", venue, symbol, err, wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()

	return out, stop, nil
}

// readClosed reports whether a read error is an orderly shutdown rather
// than a fault worth logging.
func readClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		strings.Contains(err.Error(), "use of closed network connection")
}

// wsWriter serializes writes to one connection. gorilla/websocket permits
// only one concurrent writer, and keep-alive pings race the close frame at
// shutdown without this.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSWriter(conn *websocket.Conn) *wsWriter {
	return &wsWriter{conn: conn}
}

func (w *wsWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// close sends a close frame and tears the connection down. Errors are
// ignored; the peer may already be gone.
func (w *wsWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = w.conn.Close()
}
