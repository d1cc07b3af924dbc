package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health reports database latency, row counts and redis reachability.
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	status, code := "healthy", http.StatusOK

	db := gin.H{"connected": true}
	counts, latency, err := h.svc.Health(ctx)
	if err != nil {
		h.log.Warnw("health: store check failed", "error", err)
		status, code = "unhealthy", http.StatusServiceUnavailable
		db = gin.H{"connected": false, "error": err.Error()}
	} else {
		db["latencyMs"] = latency.Milliseconds()
		db["employeeCount"] = counts.Employees
		db["attendanceCount"] = counts.Records
		db["lastAttendance"] = counts.LastRecord
	}

	body := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"database":  db,
	}
	if h.redis != nil {
		ok := h.redis.Healthy(ctx)
		body["redis"] = gin.H{"connected": ok}
		if !ok && code == http.StatusOK {
			body["status"] = "degraded"
		}
	}
	if h.sweeper != nil {
		body["autoCheckout"] = gin.H{"cutoff": h.sweeper.Cutoff().String()}
	}
	c.JSON(code, body)
}

// Ping answers load balancer liveness checks.
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// Ready fails until the store answers.
func (h *Handler) Ready(c *gin.Context) {
	if _, _, err := h.svc.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Live reports that the process is up.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
