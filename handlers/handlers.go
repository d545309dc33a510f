package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/config"
	"github.com/odddkidout/hyperliquid-tracker/copytrade"
	"github.com/odddkidout/hyperliquid-tracker/middleware"
	"github.com/odddkidout/hyperliquid-tracker/models"
	"github.com/odddkidout/hyperliquid-tracker/service"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests.
type Handler struct {
	cfg       *config.Config
	service   *service.Service
	manager   *copytrade.Manager
	portfolio *copytrade.Portfolio
}

// NewHandler creates a new handler.
func NewHandler(cfg *config.Config, svc *service.Service, manager *copytrade.Manager, portfolio *copytrade.Portfolio) *Handler {
	return &Handler{
		cfg:       cfg,
		service:   svc,
		manager:   manager,
		portfolio: portfolio,
	}
}

// Register wires all routes onto the router.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/stats", h.GetStats)
	api.GET("/leaderboard", h.GetLeaderboard)
	api.GET("/recommendations", h.GetRecommendations)

	trader := api.Group("/trader/:address", middleware.ValidateAddress())
	trader.GET("/details", h.GetTraderDetails)
	trader.GET("/trades", h.GetTraderTrades)
	trader.GET("/orders", h.GetTraderOrders)
	trader.GET("/funding", h.GetTraderFunding)

	ct := api.Group("/copy-trade", middleware.FollowerID(h.cfg.CopyTrade.DefaultFollowerID))
	ct.POST("/start", h.StartCopyTrade)
	ct.POST("/stop", h.StopCopyTrade)
	ct.POST("/pause", h.PauseCopyTrade)
	ct.POST("/resume", h.ResumeCopyTrade)
	ct.GET("/list", h.ListCopyTrades)
	ct.GET("/performance", h.GetPerformance)
	ct.GET("/history", h.GetCopyTradeHistory)
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// GetStats returns the tracked-universe rollup.
func (h *Handler) GetStats(c *gin.Context) {
	respond(c, h.service.GlobalStats(c.Request.Context()))
}

// GetLeaderboard returns the ranked account list for one window and metric.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	tf := models.Timeframe(c.DefaultQuery("timeframe", string(models.TimeframeDay)))
	metric := models.Metric(c.DefaultQuery("metric", string(models.MetricPNL)))
	limit := parseIntQuery(c, "limit", 0)

	entries, err := h.service.Leaderboard(c.Request.Context(), tf, metric, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{
		"timeframe": tf,
		"metric":    metric,
		"entries":   entries,
		"count":     len(entries),
	})
}

// GetRecommendations returns scored copy-trade candidates.
func (h *Handler) GetRecommendations(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 10)
	respond(c, h.service.Recommendations(c.Request.Context(), limit))
}

// GetTraderDetails returns the joined per-trader view.
func (h *Handler) GetTraderDetails(c *gin.Context) {
	details, err := h.service.TraderDetails(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, details)
}

// GetTraderTrades returns the trader's fills within a trailing window.
func (h *Handler) GetTraderTrades(c *gin.Context) {
	hours := parseIntQuery(c, "hours", 24)
	fills, err := h.service.TraderTrades(c.Request.Context(), c.Param("address"), hours)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"trades": fills, "count": len(fills), "hours": hours})
}

// GetTraderOrders returns the trader's resting orders.
func (h *Handler) GetTraderOrders(c *gin.Context) {
	orders, err := h.service.TraderOrders(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"orders": orders, "count": len(orders)})
}

// GetTraderFunding returns the trader's deposit and withdrawal history.
func (h *Handler) GetTraderFunding(c *gin.Context) {
	funding, err := h.service.TraderFunding(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, funding)
}

// StartCopyTradeRequest is the payload for starting a relationship.
type StartCopyTradeRequest struct {
	TraderAddress  string  `json:"trader_address"`
	TraderName     string  `json:"trader_name"`
	AllocationType string  `json:"allocation_type"`
	Allocation     float64 `json:"allocation"`
	Percentage     float64 `json:"percentage"`
	MaxPosition    float64 `json:"max_position"`
	StopLoss       float64 `json:"stop_loss"`
}

// StartCopyTrade creates a new active copy-trade config.
func (h *Handler) StartCopyTrade(c *gin.Context) {
	var req StartCopyTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	cfg, err := h.manager.Start(c.Request.Context(), middleware.Follower(c), copytrade.StartRequest{
		TraderAddress:  req.TraderAddress,
		TraderName:     req.TraderName,
		AllocationType: models.AllocationType(req.AllocationType),
		Allocation:     req.Allocation,
		Percentage:     req.Percentage,
		MaxPosition:    req.MaxPosition,
		StopLoss:       req.StopLoss,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"config_id": cfg.ID, "state": cfg.State})
}

// StopCopyTrade stops the follower's relationship with a trader.
func (h *Handler) StopCopyTrade(c *gin.Context) {
	var req struct {
		TraderAddress string `json:"trader_address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TraderAddress == "" {
		respondError(c, &models.ValidationError{Field: "trader_address", Reason: "required"})
		return
	}

	configID, err := h.manager.StopByTrader(c.Request.Context(), middleware.Follower(c), req.TraderAddress)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"config_id": configID, "state": models.CopyStateStopped})
}

// PauseCopyTrade pauses a config by id.
func (h *Handler) PauseCopyTrade(c *gin.Context) {
	h.transition(c, h.manager.Pause, models.CopyStatePaused)
}

// ResumeCopyTrade resumes a paused config by id.
func (h *Handler) ResumeCopyTrade(c *gin.Context) {
	h.transition(c, h.manager.Resume, models.CopyStateActive)
}

func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, id string) error, to models.CopyState) {
	var req struct {
		ConfigID string `json:"config_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ConfigID == "" {
		respondError(c, &models.ValidationError{Field: "config_id", Reason: "required"})
		return
	}
	if err := op(c.Request.Context(), req.ConfigID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"config_id": req.ConfigID, "state": to})
}

// ConfigView is a config joined with its live trader stats and performance.
type ConfigView struct {
	models.CopyTradeConfig
	TraderStats *models.Account                 `json:"trader_stats,omitempty"`
	Performance *models.RelationshipPerformance `json:"performance,omitempty"`
}

// ListCopyTrades lists the follower's configs with embedded trader stats.
func (h *Handler) ListCopyTrades(c *gin.Context) {
	activeOnly := c.Query("active_only") == "true" || c.Query("active_only") == "1"

	follower := middleware.Follower(c)
	configs, err := h.manager.Configs(c.Request.Context(), follower, activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}

	perf, err := h.portfolio.Performance(c.Request.Context(), follower)
	if err != nil {
		respondError(c, err)
		return
	}
	byConfig := make(map[string]models.RelationshipPerformance, len(perf.Relationships))
	for _, rp := range perf.Relationships {
		byConfig[rp.ConfigID] = rp
	}

	views := make([]ConfigView, 0, len(configs))
	for _, cfg := range configs {
		view := ConfigView{CopyTradeConfig: cfg}
		if acct, ok := h.service.TrackedAccount(cfg.TraderAddress); ok {
			view.TraderStats = &acct
		}
		if rp, ok := byConfig[cfg.ID]; ok {
			view.Performance = &rp
		}
		views = append(views, view)
	}
	respond(c, gin.H{"configs": views, "count": len(views)})
}

// GetPerformance returns the follower's aggregated portfolio.
func (h *Handler) GetPerformance(c *gin.Context) {
	perf, err := h.portfolio.Performance(c.Request.Context(), middleware.Follower(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, perf)
}

// GetCopyTradeHistory returns the follower's replication records, newest first.
func (h *Handler) GetCopyTradeHistory(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 100)
	trades, err := h.portfolio.History(c.Request.Context(), middleware.Follower(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"trades": trades, "count": len(trades)})
}

func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
}

func statusFor(err error) int {
	var (
		validation *models.ValidationError
		malformed  *models.MalformedEventError
		notFound   *models.NotFoundError
		duplicate  *models.DuplicateRelationshipError
		invalid    *models.InvalidStateTransitionError
		upstream   *models.UpstreamError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &malformed):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &duplicate), errors.As(err, &invalid):
		return http.StatusConflict
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	if raw := c.Query(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v
		}
	}
	return fallback
}
