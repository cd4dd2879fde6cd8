package api

import (
	"context"
	"net/http"
	"time"

	"btc-grid-core/internal/events"
	"btc-grid-core/internal/monitor"
	"btc-grid-core/internal/notify"
	"btc-grid-core/internal/persistence"
	"btc-grid-core/internal/trailing"
	"btc-grid-core/pkg/db"
	"btc-grid-core/pkg/exchanges/common"

	"github.com/gin-gonic/gin"
)

// TestSender delivers the test push.
type TestSender interface {
	SendTest(ctx context.Context) error
}

// AuditStats reports the audit writer's batching counters.
type AuditStats interface {
	GetMetrics() persistence.BatchWriterMetrics
}

// Deps are the collaborators the handlers call into. Gateways, Prices and
// Registry are required; the rest may be nil and the matching endpoints
// answer 503.
type Deps struct {
	Gateways common.Resolver
	Prices   common.PriceSource
	Registry *trailing.Registry
	Bus      *events.Bus
	DB       *db.Database
	Tokens   *notify.TokenStore
	Notifier TestSender
	Metrics  *monitor.SystemMetrics
	Audit    AuditStats
}

// Options carries the auth and request settings.
type Options struct {
	Symbol            string
	JWTSecret         string
	JWTExpiry         time.Duration
	AppSecret         string
	HistoryTradeLimit int
	RateLimitRPS      float64
	RateLimitBurst    int
	RequestTimeout    time.Duration
	Meta              SystemMeta
}

// Server wires HTTP endpoints around the gateways, the trailing registry
// and the event bus.
type Server struct {
	Router *gin.Engine
	Deps
	opts Options
}

// SystemMeta describes runtime status exposed to the app.
type SystemMeta struct {
	DryRun     bool   `json:"dry_run"`
	Production bool   `json:"production_configured"`
	Version    string `json:"version"`
}

func NewServer(deps Deps, opts Options) *Server {
	if opts.Symbol == "" {
		opts.Symbol = "BTCUSDT"
	}
	if opts.JWTExpiry <= 0 {
		opts.JWTExpiry = 15 * time.Minute
	}
	if opts.HistoryTradeLimit <= 0 {
		opts.HistoryTradeLimit = 100
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := gin.New()

	limiter := newIPLimiter(opts.RateLimitRPS, opts.RateLimitBurst)

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())               // Panic recovery (first)
	r.Use(RequestIDMiddleware())        // Request ID tracking
	r.Use(RequestLogger(deps.Metrics))  // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(limiter)) // Rate limiting
	r.Use(CORSMiddleware())             // CORS (last before routes)

	s := &Server{
		Router: r,
		Deps:   deps,
		opts:   opts,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(monitor.PrometheusHandler()))
	s.Router.GET("/ws", s.websocket)

	timeout := TimeoutMiddleware(s.opts.RequestTimeout)

	api := s.Router.Group("/api")
	api.Use(timeout)
	{
		api.GET("/metrics", s.getMetrics)
		api.GET("/price/current", s.getCurrentPrice)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/login", s.login)
			auth.POST("/refresh", s.refresh)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.opts.JWTSecret))
		{
			protected.GET("/account/balance", s.getBalance)
			protected.GET("/account/orders", s.getOrders)
			protected.GET("/account/open-orders", s.getOpenOrders)
			protected.DELETE("/account/orders/:order_id", s.cancelOrder)

			protected.POST("/orders/limit", s.createLimitOrder)
			protected.POST("/orders/market", s.createMarketOrder)

			protected.POST("/grid/create", s.createGridPair)
			protected.POST("/grid/modify", s.modifyOrder)

			protected.GET("/history/trades", s.getTradeHistory)
			protected.GET("/history/profit", s.getProfitSummary)
			protected.GET("/history/fills", s.getFills)

			protected.GET("/trailing/orders", s.getTrailingOrders)
			protected.DELETE("/trailing/orders/:id", s.deleteTrailingOrder)
			protected.GET("/trailing/history", s.getTrailingHistory)

			protected.POST("/notifications/register", s.registerDevice)
			protected.POST("/notifications/unregister", s.unregisterDevice)
			protected.POST("/notifications/test", s.sendTestNotification)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"system":          s.opts.Meta,
		"trailing_orders": s.Registry.Len(),
		"symbol":          s.opts.Symbol,
	})
}
