// Package api exposes the operator HTTP surface: engine status, execution
// history, manual trade submission and a websocket push of completed legs.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pairtrader/internal/events"
	"pairtrader/internal/history"
	"pairtrader/internal/orchestrator"
	"pairtrader/pkg/exchanges/common"
)

// Server wires HTTP endpoints around the engine.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Hist      *history.Log
	Orch      *orchestrator.Orchestrator
	Queue     *orchestrator.Queue
	Creds     map[string]common.Credentials
	JWTSecret string
	AdminKey  string
}

// NewServer builds the router with the full middleware stack.
func NewServer(bus *events.Bus, hist *history.Log, orch *orchestrator.Orchestrator, queue *orchestrator.Queue, creds map[string]common.Credentials, jwtSecret, adminKey string) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		Hist:      hist,
		Orch:      orch,
		Queue:     queue,
		Creds:     creds,
		JWTSecret: jwtSecret,
		AdminKey:  adminKey,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/history", s.getHistory)
			protected.POST("/trades", s.postTrade)
			protected.POST("/stop", s.postStop)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
