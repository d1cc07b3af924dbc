package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiello/qrchek/internal/model"
	"github.com/xiello/qrchek/internal/payroll"
	"github.com/xiello/qrchek/internal/report"
)

// ---------- Employees ----------

// ListEmployees returns every employee with today/week/month totals.
func (h *Handler) ListEmployees(c *gin.Context) {
	list, err := h.svc.EmployeeSummaries(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"employees": list})
}

type employeeUpdate struct {
	HourlyRate    *float64 `json:"hourlyRate"`
	IsAdmin       *bool    `json:"isAdmin"`
	EmailVerified *bool    `json:"emailVerified"`
}

// UpdateEmployee applies an admin edit to rate, admin flag or verification.
func (h *Handler) UpdateEmployee(c *gin.Context) {
	var req employeeUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "hourlyRate must be a number")
		return
	}
	emp, err := h.svc.UpdateEmployee(c.Request.Context(), c.Param("id"), model.EmployeeUpdate{
		HourlyRate: req.HourlyRate,
		IsAdmin:    req.IsAdmin,
		Verified:   req.EmailVerified,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.log.Infow("admin updated employee", "admin_id", employeeID(c), "employee_id", emp.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "employee": emp})
}

// VerifyEmployee approves a pending account.
func (h *Handler) VerifyEmployee(c *gin.Context) {
	emp, err := h.svc.VerifyEmployee(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "employee": emp})
}

// ResetPassword sets a new password for an employee.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req struct {
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "newPassword is required")
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), c.Param("id"), req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	h.log.Infow("admin reset password", "admin_id", employeeID(c), "employee_id", c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password reset successfully"})
}

// ---------- Stats ----------

// Overview returns the dashboard summary.
func (h *Handler) Overview(c *gin.Context) {
	ov, err := h.svc.Overview(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

// Aggregate returns per-employee hours and payment over ?from&to.
func (h *Handler) Aggregate(c *gin.Context) {
	from, to, err := h.window(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	agg, err := h.svc.AggregateStats(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": nullTime(to), "employees": agg.Employees, "total": agg.Total})
}

// ---------- Export ----------

// Export streams a CSV or XLSX report. type=summary yields one row per
// employee; otherwise one row per shift for ?period (default all).
func (h *Handler) Export(c *gin.Context) {
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	var (
		table report.Table
		name  string
	)
	if c.Query("type") == "summary" {
		list, err := h.svc.EmployeeSummaries(ctx)
		if err != nil {
			h.writeError(c, err)
			return
		}
		table, name = report.Summary(list), "employee-summary"
	} else {
		period := payroll.All
		if v := c.Query("period"); v != "" {
			if period, err = payroll.ParsePeriod(v); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		records, err := h.svc.RecordsForExport(ctx, period, c.Query("employeeId"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		employees, err := h.svc.Store().ListEmployees(ctx)
		if err != nil {
			h.writeError(c, err)
			return
		}
		rates := make(map[string]float64, len(employees))
		for _, e := range employees {
			rates[e.ID] = e.Rate()
		}
		table, name = report.Detailed(records, rates, h.svc.Location()), "attendance-"+string(period)
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, format, table); err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, name, format))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// ---------- Auto-checkout ----------

type missingDeparture struct {
	model.OpenArrival
	Status string `json:"status"`
}

// MissingDepartures lists employees who are clocked in right now.
func (h *Handler) MissingDepartures(c *gin.Context) {
	open, err := h.svc.MissingDepartures(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]missingDeparture, 0, len(open))
	for _, o := range open {
		out = append(out, missingDeparture{OpenArrival: o, Status: "missing"})
	}
	c.JSON(http.StatusOK, gin.H{"missingDepartures": out, "count": len(out)})
}

type pendingConfirmation struct {
	ID            string    `json:"id"`
	EmployeeID    string    `json:"employeeId"`
	EmployeeName  string    `json:"employeeName"`
	Email         string    `json:"email"`
	HourlyRate    float64   `json:"hourlyRate"`
	DepartureTime time.Time `json:"departureTime"`
	Status        string    `json:"status"`
}

// PendingConfirmations lists automatic departures nobody has confirmed yet.
func (h *Handler) PendingConfirmations(c *gin.Context) {
	ctx := c.Request.Context()
	records, err := h.svc.PendingConfirmations(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	employees, err := h.svc.Store().ListEmployees(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	byID := make(map[string]model.Employee, len(employees))
	for _, e := range employees {
		byID[e.ID] = e
	}

	out := make([]pendingConfirmation, 0, len(records))
	for _, r := range records {
		emp := byID[r.EmployeeID]
		out = append(out, pendingConfirmation{
			ID:            r.ID,
			EmployeeID:    r.EmployeeID,
			EmployeeName:  r.EmployeeName,
			Email:         emp.Email,
			HourlyRate:    emp.Rate(),
			DepartureTime: r.Timestamp,
			Status:        "pending_confirmation",
		})
	}
	c.JSON(http.StatusOK, gin.H{"pendingConfirmations": out, "count": len(out)})
}

// AutoCheckout runs the sweep on demand.
func (h *Handler) AutoCheckout(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auto-checkout not configured"})
		return
	}
	res, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.log.Infow("manual auto-checkout", "admin_id", employeeID(c), "processed", res.Processed)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   fmt.Sprintf("Auto-checkout completed. Processed %d employees.", res.Processed),
		"processed": res.Processed,
		"employees": res.Employees,
		"cutoff":    res.Cutoff,
	})
}

// AdminDeleteRecord removes any attendance record.
func (h *Handler) AdminDeleteRecord(c *gin.Context) {
	if err := h.svc.AdminDeleteRecord(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	h.log.Infow("admin deleted record", "admin_id", employeeID(c), "record_id", c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
