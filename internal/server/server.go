package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	appconfig "cryptorouter/config"
	"cryptorouter/internal/book"
	"cryptorouter/internal/channel"
	"cryptorouter/internal/publisher"
	"cryptorouter/internal/routing"
	"cryptorouter/logger"
)

// StatsProvider exposes processing counters for the stats endpoint.
type StatsProvider interface {
	Stats() map[string]int64
}

// Server hosts the Gin-powered routing and book API.
type Server struct {
	cfg        appconfig.ServerConfig
	log        *logger.Log
	book       *book.Book
	channels   *channel.Channels
	publisher  *publisher.Publisher
	stats      StatsProvider
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer constructs the API server when the server feature is enabled.
// When disabled the returned server is nil.
func NewServer(cfg appconfig.ServerConfig, b *book.Book, channels *channel.Channels, pub *publisher.Publisher, stats StatsProvider, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	return &Server{
		cfg:       cfg,
		log:       log,
		book:      b,
		channels:  channels,
		publisher: pub,
		stats:     stats,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// RouteRequest is the body of POST /route. Quantity accepts a JSON number or
// a numeric string so callers never round through binary floats.
type RouteRequest struct {
	Pair     string      `json:"pair"`
	Side     string      `json:"side"`
	Quantity json.Number `json:"quantity"`
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "app": appName})
	})

	router.POST("/route", s.handleRoute)
	router.GET("/book/:pair", s.handleBook)
	router.GET("/pairs", s.handlePairs)
	router.GET("/ws/book/:pair", s.handleBookStream)
	router.GET("/api/stats", s.handleStats)

	return router, nil
}

func (s *Server) handleRoute(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	if req.Pair == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pair is required"})
		return
	}
	side, err := routing.ParseOrderSide(req.Side)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity.String())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be a number"})
		return
	}
	if quantity.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": routing.ErrInvalidQuantity.Error()})
		return
	}

	view, ok := s.book.Snapshot(req.Pair)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pair: " + req.Pair})
		return
	}

	plan, err := routing.ComputePlan(view, side, quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logger.IncrementPlanComputed()
	s.log.WithComponent("server").WithFields(logger.Fields{
		"pair":      plan.Pair,
		"side":      plan.Side,
		"requested": plan.Requested.String(),
		"filled":    plan.Filled.String(),
		"fills":     len(plan.Fills),
	}).Info("routing plan computed")

	c.JSON(http.StatusOK, plan)
}

func (s *Server) handleBook(c *gin.Context) {
	pair := c.Param("pair")
	view, ok := s.book.Snapshot(pair)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pair: " + pair})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handlePairs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pairs": s.book.Pairs()})
}

// handleBookStream upgrades to a websocket and relays published frames for
// one pair until the client disconnects.
func (s *Server) handleBookStream(c *gin.Context) {
	if s.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "publisher disabled"})
		return
	}
	pair := c.Param("pair")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithComponent("server").WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	id, frames := s.publisher.Subscribe(16)
	defer s.publisher.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if frame.Pair != pair {
				continue
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleStats(c *gin.Context) {
	payload := gin.H{}
	if s.stats != nil {
		payload["processor"] = s.stats.Stats()
	}
	if s.channels != nil {
		payload["channels"] = s.channels.GetStats()
	}
	payload["pairs"] = s.book.Pairs()
	c.JSON(http.StatusOK, payload)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
