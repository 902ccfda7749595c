package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"options-core/internal/balance"
	"options-core/internal/feed"
	"options-core/internal/market"
	"options-core/internal/store"
	"options-core/internal/trade"
	"options-core/pkg/pusher"
)

// Server exposes the read-mostly HTTP surface: health, stream status, the
// operation ledger, balance, candles and Prometheus metrics.
type Server struct {
	router  *gin.Engine
	client  *pusher.Client
	feed    *feed.Feed
	engine  *trade.Engine
	tracker *balance.Tracker
	agg     *market.Aggregator
	ops     *store.OperationStore
	userID  string
}

func NewServer(client *pusher.Client, f *feed.Feed, engine *trade.Engine, tracker *balance.Tracker, agg *market.Aggregator, ops *store.OperationStore, userID string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:  router,
		client:  client,
		feed:    f,
		engine:  engine,
		tracker: tracker,
		agg:     agg,
		ops:     ops,
		userID:  userID,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/balance", s.handleBalance)
		api.GET("/candles", s.handleCandles)
		api.GET("/operations", s.handleOperations)
		api.GET("/operations/:id/group", s.handleGroup)
		api.GET("/result", s.handleLastResult)
		api.POST("/martingale", s.handleMartingale)
		api.POST("/watch", s.handleWatch)
	}
}

// Handler returns the underlying http.Handler for serving or testing.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"otc_connected":     s.client.Connected(pusher.ChannelOTC),
		"regular_connected": s.client.Connected(pusher.ChannelRegular),
		"watching":          s.feed.Watching(),
		"martingale":        s.engine.MartingaleEnabled(),
	})
}

func (s *Server) handleBalance(c *gin.Context) {
	snap, ok := s.tracker.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"available":  true,
		"amount":     snap.Amount.StringFixed(2),
		"updated_at": snap.UpdatedAt.Unix(),
	})
}

func (s *Server) handleCandles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"symbol":  s.agg.Selected(),
		"candles": s.agg.Series(),
	})
}

func (s *Server) handleOperations(c *gin.Context) {
	if c.Query("source") == "db" && s.ops != nil {
		ops, err := s.ops.ListByUser(c.Request.Context(), s.userID, 200)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"operations": ops})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": s.engine.Operations()})
}

func (s *Server) handleGroup(c *gin.Context) {
	group := s.engine.Group(c.Param("id"))
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": group})
}

func (s *Server) handleLastResult(c *gin.Context) {
	res, ok := s.engine.LastResult()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": true, "result": res})
}

func (s *Server) handleMartingale(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled (bool) is required"})
		return
	}
	s.engine.SetMartingale(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"martingale": *req.Enabled})
}

func (s *Server) handleWatch(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := s.feed.Watch(ctx, req.Symbol); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"watching": req.Symbol})
}

// Run serves the API until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
