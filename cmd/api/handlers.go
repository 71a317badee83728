package main

import (
	"encoding/base64"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"attendance/internal/attendance"
	"attendance/internal/auth"
	"attendance/internal/civil"
	"attendance/internal/config"
	"attendance/internal/metrics"
	"attendance/internal/qr"
	"attendance/internal/queue"
)

func registerRoutes(r *gin.Engine, cfg config.App, repo *attendance.Repository, svc *attendance.Service, stats *attendance.Aggregator, cal *civil.Calendar, q queue.Queue) {
	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := repo.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
			writeError(c, err)
			return
		}

		tokens, err := auth.Issue(req.DeviceID, auth.RoleDevice, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = repo.SaveRefreshToken(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer))

	// QR channel: payload is whatever the code decoded to, either a
	// structured claim or a bare identifier.
	authGroup.POST("/attendance/qr", func(c *gin.Context) {
		var req struct {
			Payload   string `json:"payload" binding:"required"`
			CourseID  string `json:"course_id"`
			MeetingID string `json:"meeting_id"`
			Location  string `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claim, err := qr.ParseText(req.Payload)
		if err != nil {
			countSubmit("qr_code", err)
			writeError(c, err)
			return
		}

		rec, err := svc.Submit(c.Request.Context(), claim, attendance.Scope{CourseID: req.CourseID, MeetingID: req.MeetingID}, attendance.SubmitOptions{
			ScannedBy: subjectOf(c),
			Location:  req.Location,
		})
		countSubmit("qr_code", err)
		if err != nil {
			writeError(c, err)
			return
		}
		publishRecorded(c, q, rec)
		c.JSON(http.StatusCreated, rec)
	})

	// Manual channel: staff types a phone number or internal id; an explicit
	// status permits late marks and retroactive absences.
	authGroup.POST("/attendance/manual", func(c *gin.Context) {
		var req struct {
			UserID    string `json:"user_id"`
			Phone     string `json:"phone"`
			FullName  string `json:"full_name"`
			CourseID  string `json:"course_id"`
			MeetingID string `json:"meeting_id"`
			Status    string `json:"status"`
			Notes     string `json:"notes"`
			Location  string `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claim := attendance.Claim{
			UserID:   req.UserID,
			Phone:    req.Phone,
			FullName: req.FullName,
			Method:   attendance.MethodManual,
		}
		rec, err := svc.Submit(c.Request.Context(), claim, attendance.Scope{CourseID: req.CourseID, MeetingID: req.MeetingID}, attendance.SubmitOptions{
			ScannedBy: subjectOf(c),
			Status:    attendance.Status(req.Status),
			Notes:     req.Notes,
			Location:  req.Location,
		})
		countSubmit("manual", err)
		if err != nil {
			writeError(c, err)
			return
		}
		publishRecorded(c, q, rec)
		c.JSON(http.StatusCreated, rec)
	})

	// Decode is a separate step: callers re-submit the decoded claim through
	// a claim channel, so a bad photo never half-records anything.
	authGroup.POST("/attendance/decode", func(c *gin.Context) {
		data, err := imageBytes(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		text, err := qr.DecodeImage(data)
		if err != nil {
			countDecode(err)
			writeError(c, err)
			return
		}
		claim, err := qr.ParseText(text)
		countDecode(err)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"raw_text": text, "claim": claim})
	})

	authGroup.GET("/attendance/records", func(c *gin.Context) {
		f := attendance.RecordFilter{
			UserID:    c.Query("user_id"),
			CourseID:  c.Query("course_id"),
			MeetingID: c.Query("meeting_id"),
			Day:       c.Query("day"),
			Limit:     intQuery(c, "limit", 50),
			Offset:    intQuery(c, "offset", 0),
		}
		records, err := svc.ListRecords(c.Request.Context(), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	authGroup.GET("/attendance/users/:id/stats", func(c *gin.Context) {
		from, to, err := rangeQuery(c, cal)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := stats.UserStats(c.Request.Context(), c.Param("id"), from, to, intQuery(c, "expected_days", 0))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	authGroup.GET("/attendance/dashboard", func(c *gin.Context) {
		from, to, err := rangeQuery(c, cal)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := stats.Dashboard(c.Request.Context(), from, to)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	staff := authGroup.Group("", auth.RequireRole(auth.RoleStaff))

	staff.PATCH("/attendance/records/:id", func(c *gin.Context) {
		var req struct {
			Status *string `json:"status"`
			Notes  *string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var status *attendance.Status
		if req.Status != nil {
			s := attendance.Status(*req.Status)
			status = &s
		}
		rec, err := svc.UpdateRecord(c.Request.Context(), c.Param("id"), status, req.Notes)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	staff.POST("/attendance/records/:id/invalidate", func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := svc.InvalidateRecord(c.Request.Context(), c.Param("id"), req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})
}

// writeError maps rejections onto stable statuses; anything else is a 500.
func writeError(c *gin.Context, err error) {
	if rej, ok := attendance.AsRejection(err); ok {
		c.JSON(rejectStatus(rej.Reason), gin.H{"error": string(rej.Reason), "message": rej.Message})
		return
	}
	log.Printf("internal error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func rejectStatus(reason attendance.Reason) int {
	switch reason {
	case attendance.ReasonIncomplete:
		return http.StatusBadRequest
	case attendance.ReasonNotFound, attendance.ReasonScopeNotFound:
		return http.StatusNotFound
	case attendance.ReasonDuplicateForDay:
		return http.StatusConflict
	case attendance.ReasonExpired:
		return http.StatusGone
	default: // identity_mismatch, no_code_found, undecodable
		return http.StatusUnprocessableEntity
	}
}

func publishRecorded(c *gin.Context, q queue.Queue, rec attendance.Record) {
	msg := queue.Message{Type: queue.EventRecorded, RecordID: rec.ID, UserID: rec.UserID, Day: rec.Day}
	if err := q.Publish(c.Request.Context(), msg); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

func countSubmit(channel string, err error) {
	metrics.Submissions.WithLabelValues(channel, outcomeOf(err)).Inc()
}

func countDecode(err error) {
	outcome := "decoded"
	if err != nil {
		outcome = outcomeOf(err)
	}
	metrics.Decodes.WithLabelValues(outcome).Inc()
}

func outcomeOf(err error) string {
	if err == nil {
		return "recorded"
	}
	if rej, ok := attendance.AsRejection(err); ok {
		return string(rej.Reason)
	}
	return "error"
}

func subjectOf(c *gin.Context) string {
	claims, ok := auth.FromContext(c)
	if !ok {
		return ""
	}
	return claims.Subject
}

// imageBytes accepts a multipart "file" field or a JSON base64 data URL.
func imageBytes(c *gin.Context) ([]byte, error) {
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	var body struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, err
	}
	raw := body.Data
	if idx := strings.Index(raw, ";base64,"); idx >= 0 {
		raw = raw[idx+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(raw)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// rangeQuery parses optional from/to day parameters in the civil timezone.
func rangeQuery(c *gin.Context, cal *civil.Calendar) (time.Time, time.Time, error) {
	var from, to time.Time
	if v := c.Query("from"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, cal.Location())
		if err != nil {
			return from, to, err
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, cal.Location())
		if err != nil {
			return from, to, err
		}
		to = t
	}
	return from, to, nil
}
