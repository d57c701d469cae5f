// Package api exposes the trading system over HTTP: JSON endpoints for
// holdings, orders and liquidation plus a websocket tick stream.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jicewarwick/OpenUTS/internal/events"
	"github.com/jicewarwick/OpenUTS/internal/system"
)

// Server wires HTTP endpoints around the system orchestrator.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Sys       *system.System
	JWTSecret string
	Meta      SystemMeta

	log      zerolog.Logger
	user     string
	password string
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	DryRun  bool
	Version string
}

// Credentials is the operator login accepted by the token endpoint.
type Credentials struct {
	User     string
	Password string
}

func NewServer(bus *events.Bus, sys *system.System, creds Credentials, meta SystemMeta, jwtSecret string, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(RateLimit())
	r.Use(Timeout(30 * time.Second))
	r.Use(CORS())

	s := &Server{
		Router:    r,
		Bus:       bus,
		Sys:       sys,
		JWTSecret: jwtSecret,
		Meta:      meta,
		log:       log.With().Str("component", "api").Logger(),
		user:      creds.User,
		password:  creds.Password,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/accounts", s.getAccounts)
			protected.GET("/capital", s.getCapital)
			protected.GET("/holdings", s.getHoldings)
			protected.GET("/orders", s.getOrders)
			protected.GET("/trades", s.getTrades)
			protected.GET("/instruments", s.getInstruments)
			protected.GET("/market/:instrument", s.getMarketSnapshot)
			protected.GET("/snapshot", s.getSnapshot)

			protected.POST("/subscribe", s.subscribe)
			protected.POST("/orders", s.placeOrder)
			protected.POST("/orders/cancel", s.cancelOrder)
			protected.POST("/orders/cancel-all", s.cancelAllOrders)
			protected.POST("/liquidate", s.liquidate)
			protected.POST("/snapshot/dump", s.dumpSnapshot)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
