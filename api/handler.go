package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"trade-engine/internal/config"
	"trade-engine/internal/engine"
	"trade-engine/internal/infrastructure"
	"trade-engine/internal/model"
	"trade-engine/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// EngineController is the slice of the worker manager the API needs: live
// status and manual close. Implemented by app.Workers.
type EngineController interface {
	Symbols() []string
	Status(symbol string) (state string, pos *model.Position, ok bool)
	CloseManual(ctx context.Context, symbol string) error
}

type Handler struct {
	db      *pgxpool.Pool
	cfg     *config.Config
	engines EngineController
	logger  *zap.Logger
}

func NewHandler(db *pgxpool.Pool, cfg *config.Config, engines EngineController, logger *zap.Logger) *Handler {
	return &Handler{
		db:      db,
		cfg:     cfg,
		engines: engines,
		logger:  logger,
	}
}

// Auth Handlers

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	var userID int64
	err = h.db.QueryRow(c.Request.Context(),
		"INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id",
		req.Email, string(hash)).Scan(&userID)

	if err != nil {
		h.logger.Error("failed to register user", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "user created", "id": userID})
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var userID int64
	var hash string
	err := h.db.QueryRow(c.Request.Context(),
		"SELECT id, password_hash FROM users WHERE email = $1", req.Email).Scan(&userID, &hash)

	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	token, err := GenerateToken(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Data Handlers

func (h *Handler) GetHistoryKLines(c *gin.Context) {
	symbol := normalizeSymbol(c.Param("symbol"))
	period := c.DefaultQuery("period", h.cfg.Engine.BasePeriod)

	rows, err := h.db.Query(c.Request.Context(),
		"SELECT open_time, symbol, period, open, high, low, close, volume FROM klines WHERE symbol = $1 AND period = $2 ORDER BY open_time DESC LIMIT 500",
		symbol, period)
	if err != nil {
		h.logger.Error("failed to query klines", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer rows.Close()

	candles := make([]model.Candle, 0)
	for rows.Next() {
		var k model.Candle
		if err := rows.Scan(&k.OpenTime, &k.Symbol, &k.Period, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume); err != nil {
			h.logger.Error("failed to scan kline", zap.Error(err))
			continue
		}
		k.Closed = true
		candles = append(candles, k)
	}

	c.JSON(http.StatusOK, candles)
}

// Engine Handlers

func (h *Handler) GetEngineStatus(c *gin.Context) {
	type status struct {
		Symbol   string          `json:"symbol"`
		State    string          `json:"state"`
		Position *model.Position `json:"position,omitempty"`
	}

	out := make([]status, 0)
	for _, sym := range h.engines.Symbols() {
		state, pos, ok := h.engines.Status(sym)
		if !ok {
			continue
		}
		out = append(out, status{Symbol: sym, State: state, Position: pos})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ClosePosition(c *gin.Context) {
	symbol := normalizeSymbol(c.Param("symbol"))

	if err := h.engines.CloseManual(c.Request.Context(), symbol); err != nil {
		h.logger.Warn("manual close failed", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "position closed"})
}

func (h *Handler) RunBacktest(c *gin.Context) {
	var req struct {
		Symbol         string          `json:"symbol" binding:"required"`
		InitialBalance decimal.Decimal `json:"initial_balance"`
		StartTime      time.Time       `json:"start_time" binding:"required"`
		EndTime        time.Time       `json:"end_time" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	symbol := normalizeSymbol(req.Symbol)
	if req.InitialBalance.IsZero() {
		req.InitialBalance = decimal.NewFromFloat(h.cfg.AccountEquity)
	}

	repo := storage.NewPgCandleRepository(h.db)
	candles, err := repo.LoadRange(c.Request.Context(), symbol, h.cfg.Engine.BasePeriod, req.StartTime, req.EndTime)
	if err != nil {
		h.logger.Error("failed to fetch history for backtest", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch data"})
		return
	}
	if len(candles) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no candles in range"})
		return
	}

	tester, err := engine.NewBacktester(
		engine.FromSettings(symbol, h.cfg.Engine, req.InitialBalance),
		req.InitialBalance, h.logger)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := tester.Run(c.Request.Context(), candles)
	if err != nil {
		h.logger.Error("backtest run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backtest failed"})
		return
	}

	infrastructure.BacktestRuns.Inc()
	c.JSON(http.StatusOK, report)
}

func normalizeSymbol(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}
