// Package handler exposes the attendance service over HTTP with gin.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xiello/qrchek/internal/attendance"
	"github.com/xiello/qrchek/internal/auth"
	"github.com/xiello/qrchek/internal/autocheckout"
)

// Tokens configures JWT issuing and verification.
type Tokens struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Checker is an optional dependency checked by the health endpoint.
type Checker interface {
	Healthy(ctx context.Context) bool
}

// Handler serves the /api routes.
type Handler struct {
	svc     *attendance.Service
	sweeper *autocheckout.Sweeper
	tokens  Tokens
	log     *zap.SugaredLogger
	redis   Checker
	started time.Time
}

// New creates a Handler. redis may be nil when no Redis backend is in use.
func New(svc *attendance.Service, sweeper *autocheckout.Sweeper, tokens Tokens, redis Checker, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		svc:     svc,
		sweeper: sweeper,
		tokens:  tokens,
		log:     log,
		redis:   redis,
		started: time.Now(),
	}
}

// Routes mounts every endpoint under /api. authLimit, when non-nil, guards
// the credential endpoints.
func (h *Handler) Routes(r gin.IRouter, authLimit gin.HandlerFunc) {
	api := r.Group("/api")

	health := api.Group("/health")
	health.GET("", h.Health)
	health.GET("/ping", h.Ping)
	health.GET("/ready", h.Ready)
	health.GET("/live", h.Live)

	authGroup := api.Group("/auth")
	if authLimit != nil {
		authGroup.Use(authLimit)
	}
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)
	authGroup.POST("/refresh", h.Refresh)

	requireAuth := auth.EmployeeAuth(h.tokens.SigningKey, h.tokens.Issuer)

	att := api.Group("/attendance", requireAuth)
	att.POST("", h.SubmitScan)
	att.GET("/me", h.History)
	att.GET("/stats", h.MyStats)
	att.GET("/pending-departure", h.PendingDeparture)
	att.POST("/confirm-departure/:id", h.ConfirmDeparture)
	att.PUT("/:id", h.UpdateRecord)
	att.DELETE("/:id", h.DeleteRecord)

	admin := api.Group("/admin", requireAuth, auth.RequireAdmin(h.svc.IsAdmin))
	admin.GET("/employees", h.ListEmployees)
	admin.PUT("/employees/:id", h.UpdateEmployee)
	admin.POST("/employees/:id/verify", h.VerifyEmployee)
	admin.POST("/employees/:id/reset-password", h.ResetPassword)
	admin.GET("/stats", h.Overview)
	admin.GET("/aggregate", h.Aggregate)
	admin.GET("/export", h.Export)
	admin.GET("/missing-departures", h.MissingDepartures)
	admin.GET("/pending-confirmations", h.PendingConfirmations)
	admin.POST("/auto-checkout", h.AutoCheckout)
	admin.DELETE("/attendance/:id", h.AdminDeleteRecord)
}

// writeError maps service errors to HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var cerr *attendance.CooldownError
	switch {
	case errors.As(err, &cerr):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":            "Please wait before scanning again",
			"cooldown":         true,
			"remainingSeconds": cerr.Seconds(),
		})
	case errors.Is(err, attendance.ErrInvalidQR):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid QR code", "invalidQR": true})
	case errors.Is(err, attendance.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, attendance.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, attendance.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrNotVerified):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "needsVerification": true})
	case errors.Is(err, attendance.ErrConflict), errors.Is(err, autocheckout.ErrSweepRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrStoreUnavailable):
		h.log.Errorw("store unavailable", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		h.log.Errorw("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// employeeID returns the authenticated employee. EmployeeAuth guarantees claims.
func employeeID(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.EmployeeID()
}
