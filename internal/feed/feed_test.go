package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// drainingServer upgrades and discards everything the client sends.
func drainingServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWriterSerializesPingsAndClose(t *testing.T) {
	srv := drainingServer(t)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	// Hammer the writer from several goroutines while the close frame goes
	// out; unserialized writes would panic inside gorilla/websocket.
	w := newWSWriter(conn)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := w.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					return
				}
			}
		}()
	}
	w.close()
	wg.Wait()

	if err := w.WriteJSON(map[string]string{"op": "ping"}); err == nil {
		t.Error("write after close succeeded, want error")
	}
}
