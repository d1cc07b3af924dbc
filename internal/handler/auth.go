package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xiello/qrchek/internal/attendance"
	"github.com/xiello/qrchek/internal/auth"
	"github.com/xiello/qrchek/internal/model"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register creates an account awaiting admin verification.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name, email and password are required")
		return
	}
	emp, err := h.svc.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"message":  "Registration successful. Your account awaits admin verification.",
		"employee": emp,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) issue(c *gin.Context, emp *model.Employee) {
	pair, err := auth.Issue(auth.Identity{
		EmployeeID: emp.ID,
		Name:       emp.Name,
		Email:      emp.Email,
		Admin:      emp.IsAdmin,
	}, h.tokens.Issuer, h.tokens.SigningKey, h.tokens.AccessTTL, h.tokens.RefreshTTL)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// surfaced at session start so the client can gate on it
	pending, err := h.svc.PendingDeparture(c.Request.Context(), emp.ID)
	if err != nil {
		h.log.Warnw("pending departure lookup failed", "employee_id", emp.ID, "error", err)
		pending = nil
	}

	c.JSON(http.StatusOK, gin.H{
		"token":            pair.AccessToken,
		"refreshToken":     pair.RefreshToken,
		"expiresAt":        pair.AccessExp.Unix(),
		"employee":         emp,
		"pendingDeparture": pending,
	})
}

// Login exchanges credentials for tokens.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}
	emp, err := h.svc.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, attendance.ErrInvalidCredentials) || errors.Is(err, attendance.ErrNotVerified) {
			h.log.Infow("login refused", "email", req.Email, "reason", err)
		}
		h.writeError(c, err)
		return
	}
	h.issue(c, emp)
}

// Refresh exchanges a refresh token for a new token pair.
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "refreshToken is required")
		return
	}
	claims, err := auth.ParseUse(req.RefreshToken, h.tokens.SigningKey, h.tokens.Issuer, auth.UseRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	emp, err := h.svc.Employee(c.Request.Context(), claims.EmployeeID())
	if errors.Is(err, attendance.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !emp.Verified && !emp.IsAdmin {
		h.writeError(c, attendance.ErrNotVerified)
		return
	}
	h.issue(c, emp)
}
