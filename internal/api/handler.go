// Package api exposes the HTTP surface over the digest engine and the
// certification store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ptca/certtrack/internal/db"
	"github.com/ptca/certtrack/internal/digest"
	"github.com/ptca/certtrack/internal/mailer"
	"github.com/ptca/certtrack/internal/metrics"
)

// CertificationRepository defines the store operations the handlers use.
type CertificationRepository interface {
	CreateCertification(ctx context.Context, rec *db.CertificationRecord) error
	ListExpiring(ctx context.Context, todayInclusive, cutoffInclusive time.Time) ([]*db.CertificationRecord, error)
	ListCertifications(ctx context.Context, limit, offset int) ([]*db.CertificationRecord, error)
	Seed(ctx context.Context, today time.Time) (bool, error)
}

// DigestRunner triggers one digest run for a window.
type DigestRunner interface {
	Run(ctx context.Context, windowDays int) (*digest.Result, error)
}

// CertificationRequest is the body for creating a record.
type CertificationRequest struct {
	FullName      string  `json:"full_name"`
	Certification string  `json:"certification"`
	ExpiresOn     string  `json:"expires_on"` // yyyy-MM-dd
	Notes         *string `json:"notes,omitempty"`
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for the API handlers.
type Handler struct {
	logger     *zap.Logger
	repo       CertificationRepository
	runner     DigestRunner
	notifier   mailer.Notifier
	windowDays int
}

// NewHandler creates the API handler. windowDays is the default digest
// window used when a request does not specify one.
func NewHandler(logger *zap.Logger, repo CertificationRepository, runner DigestRunner, notifier mailer.Notifier, windowDays int) *Handler {
	return &Handler{
		logger:     logger,
		repo:       repo,
		runner:     runner,
		notifier:   notifier,
		windowDays: windowDays,
	}
}

// RunDigest handles POST /v1/digest/run?days=N.
// Duplicate periods come back as a normal 200 with already_sent set.
func (h *Handler) RunDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days, err := h.parseDays(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid days", err.Error())
		return
	}

	start := time.Now()
	result, err := h.runner.Run(ctx, days)
	if err != nil {
		h.recordRunError(err, time.Since(start))

		var dErr *digest.DeliveryError
		switch {
		case errors.Is(err, digest.ErrNegativeWindow):
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid window", err.Error())
		case errors.Is(err, digest.ErrRunInProgress):
			h.writeError(w, http.StatusConflict, "run_in_progress",
				"Digest run already in progress",
				"Another run for this period is being processed")
		case errors.As(err, &dErr):
			h.logger.Error("digest delivery failed",
				zap.Error(err),
				zap.Int("status", dErr.Status),
				zap.Int("days", days),
			)
			h.writeError(w, http.StatusBadGateway, "delivery_error", "Digest delivery failed", err.Error())
		default:
			h.logger.Error("digest run failed", zap.Error(err), zap.Int("days", days))
			h.writeError(w, http.StatusInternalServerError, "digest_error", "Digest run failed", "")
		}
		return
	}

	outcome := metrics.OutcomeSent
	if result.AlreadySent {
		outcome = metrics.OutcomeDuplicate
	} else {
		metrics.SetExpiringRecords(result.ExpiringCount)
	}
	metrics.RecordDigestRun(outcome, time.Since(start))

	h.logger.Info("digest run completed",
		zap.Bool("already_sent", result.AlreadySent),
		zap.String("period_key", result.PeriodKey),
		zap.Int("expiring_count", result.ExpiringCount),
		zap.Int("status", result.Status),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

func (h *Handler) recordRunError(err error, duration time.Duration) {
	outcome := metrics.OutcomeError
	if errors.Is(err, digest.ErrRunInProgress) {
		outcome = metrics.OutcomeInProgress
	}
	metrics.RecordDigestRun(outcome, duration)
}

// ListExpiring handles GET /v1/certifications/expiring?days=N.
func (h *Handler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days, err := h.parseDays(r)
	if err != nil || days < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid days", "days must be an integer >= 0")
		return
	}

	today := digest.MidnightUTC(time.Now())
	cutoff := today.AddDate(0, 0, days)

	records, err := h.repo.ListExpiring(ctx, today, cutoff)
	if err != nil {
		h.logger.Error("failed to list expiring certifications", zap.Error(err), zap.Int("days", days))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list expiring certifications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"days":  days,
		"count": len(records),
		"items": records,
	})
}

// CreateCertification handles POST /v1/certifications.
func (h *Handler) CreateCertification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CertificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if strings.TrimSpace(req.FullName) == "" || strings.TrimSpace(req.Certification) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"full_name and certification are required")
		return
	}

	expiresOn, err := time.ParseInLocation("2006-01-02", req.ExpiresOn, time.UTC)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid expires_on",
			"expires_on must be a date formatted yyyy-MM-dd")
		return
	}

	rec := &db.CertificationRecord{
		FullName:      req.FullName,
		Certification: req.Certification,
		ExpiresOn:     expiresOn,
		Notes:         req.Notes,
	}

	if err := h.repo.CreateCertification(ctx, rec); err != nil {
		h.logger.Error("failed to create certification", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create certification", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(rec)
}

// ListCertifications handles GET /v1/certifications?limit=20&offset=0.
func (h *Handler) ListCertifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	records, err := h.repo.ListCertifications(ctx, limit, offset)
	if err != nil {
		h.logger.Error("failed to list certifications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list certifications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   records,
		"limit":  limit,
		"offset": offset,
		"count":  len(records),
	})
}

// SeedCertifications handles POST /v1/certifications/seed. One-shot: a
// store with any records is left untouched.
func (h *Handler) SeedCertifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seeded, err := h.repo.Seed(ctx, digest.MidnightUTC(time.Now()))
	if err != nil {
		h.logger.Error("failed to seed certifications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to seed certifications", "")
		return
	}

	message := "Seeded."
	if !seeded {
		message = "Already seeded."
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// TestEmail handles POST /v1/email/test, sending a probe message through
// the configured transport.
func (h *Handler) TestEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body := fmt.Sprintf("If you received this, the email transport is wired up. UTC: %s",
		time.Now().UTC().Format(time.RFC3339))

	status, err := h.notifier.Send(ctx, "Cert Tracker email test", body)
	if err != nil {
		h.logger.Error("test email failed", zap.Error(err), zap.Int("status", status))
		h.writeError(w, http.StatusBadGateway, "delivery_error", "Test email failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"status": status})
}

func (h *Handler) parseDays(r *http.Request) (int, error) {
	daysStr := r.URL.Query().Get("days")
	if daysStr == "" {
		return h.windowDays, nil
	}

	days, err := strconv.Atoi(daysStr)
	if err != nil {
		return 0, fmt.Errorf("days must be an integer: %w", err)
	}
	return days, nil
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
