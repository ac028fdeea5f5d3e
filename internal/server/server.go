// Package server exposes the bot's status over HTTP and a websocket stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"meme-surge-bot/internal/portfolio"
	"meme-surge-bot/internal/state"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 1000
	liveTradeLimit    = 20
)

// AssetValue is one position marked at the latest price.
type AssetValue struct {
	Asset    string  `json:"asset"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Value    float64 `json:"value"`
}

type PortfolioView struct {
	Value        float64      `json:"value"`
	Cash         float64      `json:"cash"`
	InitialValue float64      `json:"initial_value"`
	Assets       []AssetValue `json:"assets"`
}

// Source is the read-only view the server renders. Implementations return
// copies.
type Source interface {
	Status() state.StatusSnapshot
	Portfolio() PortfolioView
	RecentTrades(ctx context.Context, limit int) ([]portfolio.TradeLogEntry, error)
}

type Config struct {
	Addr           string
	Source         Source
	MetricsPath    string
	MetricsHandler http.Handler
}

type Server struct {
	addr   string
	router *gin.Engine
	hub    *Hub
	log    *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Server, error) {
	if cfg.Source == nil {
		return nil, errors.New("status server requires a source")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	hub := NewHub(log)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.MetricsHandler != nil && cfg.MetricsPath != "" {
		router.GET(cfg.MetricsPath, gin.WrapH(cfg.MetricsHandler))
	}
	router.GET("/ws", func(c *gin.Context) {
		hub.ServeHTTP(c.Writer, c.Request, cfg.Source.Status())
	})
	api := &apiRoutes{source: cfg.Source}
	api.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router, hub: hub, log: log}, nil
}

// NewMetrics serves only the health and metrics routes. It is used when the
// status API is disabled.
func NewMetrics(addr, path string, handler http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET(path, gin.WrapH(handler))
	return &Server{addr: addr, router: router, hub: NewHub(log), log: log}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Publish pushes a snapshot to every connected stream client.
func (s *Server) Publish(snapshot state.StatusSnapshot) {
	if s == nil {
		return
	}
	s.hub.Broadcast(snapshot)
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("status server listening", zap.String("addr", s.addr))

	select {
	case <-ctx.Done():
		s.hub.CloseAll()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type apiRoutes struct {
	source Source
}

func (r *apiRoutes) Register(group *gin.RouterGroup) {
	group.GET("/bot-status", r.handleStatus)
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/live-trades", r.handleLiveTrades)
	group.GET("/trades", r.handleTrades)
}

func (r *apiRoutes) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.source.Status())
}

func (r *apiRoutes) handlePortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, r.source.Portfolio())
}

func (r *apiRoutes) handleLiveTrades(c *gin.Context) {
	trades, err := r.source.RecentTrades(c.Request.Context(), liveTradeLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, newestFirst(trades))
}

func (r *apiRoutes) handleTrades(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultTradeLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > maxTradeLimit {
		limit = maxTradeLimit
	}
	trades, err := r.source.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": newestFirst(trades), "count": len(trades)})
}

func newestFirst(trades []portfolio.TradeLogEntry) []portfolio.TradeLogEntry {
	out := make([]portfolio.TradeLogEntry, len(trades))
	for i, trade := range trades {
		out[len(trades)-1-i] = trade
	}
	return out
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("dur", time.Since(start)),
		)
	}
}
