package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiello/qrchek/internal/model"
	"github.com/xiello/qrchek/internal/payroll"
)

// SubmitScan records the next arrival or departure for the caller.
func (h *Handler) SubmitScan(c *gin.Context) {
	var req struct {
		QRCode string `json:"qrCode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "qrCode is required")
		return
	}
	res, err := h.svc.SubmitScan(c.Request.Context(), employeeID(c), req.QRCode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":         true,
		"record":          res.Record,
		"cooldownSeconds": res.CooldownSeconds,
	})
}

// History lists the caller's records, newest first.
func (h *Handler) History(c *gin.Context) {
	records, err := h.svc.History(c.Request.Context(), employeeID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// UpdateRecord changes the type of one of the caller's records.
func (h *Handler) UpdateRecord(c *gin.Context) {
	var req struct {
		Type string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "type is required")
		return
	}
	typ, err := model.ParseType(req.Type)
	if err != nil {
		badRequest(c, "type must be arrival or departure")
		return
	}
	rec, err := h.svc.UpdateType(c.Request.Context(), employeeID(c), c.Param("id"), typ)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "record": rec})
}

// DeleteRecord removes one of the caller's records.
func (h *Handler) DeleteRecord(c *gin.Context) {
	if err := h.svc.DeleteRecord(c.Request.Context(), employeeID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PendingDeparture returns the caller's unconfirmed automatic departure or null.
func (h *Handler) PendingDeparture(c *gin.Context) {
	rec, err := h.svc.PendingDeparture(c.Request.Context(), employeeID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pendingDeparture": rec})
}

// ConfirmDeparture acknowledges an automatic departure.
func (h *Handler) ConfirmDeparture(c *gin.Context) {
	rec, err := h.svc.ConfirmDeparture(c.Request.Context(), employeeID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "record": rec})
}

// MyStats returns the caller's hours and payment over ?from&to.
func (h *Handler) MyStats(c *gin.Context) {
	from, to, err := h.window(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	stats, err := h.svc.EmployeeStats(c.Request.Context(), employeeID(c), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "from": from, "to": nullTime(to)})
}

// window reads ?from&to. Dates are local calendar days with an inclusive to;
// RFC 3339 instants are taken as is. from defaults to the month window start
// and to stays open.
func (h *Handler) window(c *gin.Context) (time.Time, time.Time, error) {
	loc := h.svc.Location()
	from := payroll.Periods(h.svc.Now(), loc)[payroll.Month].From
	var to time.Time

	if v := c.Query("from"); v != "" {
		t, err := parseBound(v, loc, false)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := parseBound(v, loc, true)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
		}
		to = t
	}
	if !to.IsZero() && !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must be after from")
	}
	return from.UTC(), to.UTC(), nil
}

func parseBound(v string, loc *time.Location, end bool) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", v, loc); err == nil {
		if end {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
