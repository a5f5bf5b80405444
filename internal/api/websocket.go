package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pairtrader/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket pushes completed and failed legs to the connected client.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	completed, unsubCompleted := s.Bus.Subscribe(events.EventTradeCompleted, 100)
	defer unsubCompleted()
	failed, unsubFailed := s.Bus.Subscribe(events.EventTradeFailed, 100)
	defer unsubFailed()

	for {
		var msg any
		select {
		case msg = <-completed:
		case msg = <-failed:
		case <-c.Request.Context().Done():
			return
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
