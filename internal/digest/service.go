package digest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ptca/certtrack/internal/db"
)

// ErrNegativeWindow is returned when a run is requested with a negative
// window. It is a configuration error and is raised before any I/O.
var ErrNegativeWindow = errors.New("window days must be >= 0")

// ErrRunInProgress is returned when another run for the same period
// currently holds the advisory run lock.
var ErrRunInProgress = errors.New("digest run already in progress for this period")

// DeliveryError reports a failed send. The notification log row is not
// written when delivery fails, so a later run in the same period can
// still succeed.
type DeliveryError struct {
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("digest delivery failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("digest delivery failed (status %d)", e.Status)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Store is the persistence capability the digest engine needs.
type Store interface {
	ListExpiring(ctx context.Context, todayInclusive, cutoffInclusive time.Time) ([]*db.CertificationRecord, error)
	NotificationExists(ctx context.Context, notificationType, periodKey string) (bool, error)
	AppendNotification(ctx context.Context, notificationType, periodKey string, sentAtUtc time.Time) error
}

// Notifier sends a subject/body message and reports a transport status.
type Notifier interface {
	Send(ctx context.Context, subject, body string) (int, error)
}

// RunLock is an optional advisory lock held while a period's digest is
// being generated and sent. It narrows the window of the check-then-act
// race between the dedup check and the log write; the notification log
// row remains the authoritative dedup record.
type RunLock interface {
	TryLock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Result is the outcome of one digest run. It is not persisted.
type Result struct {
	AlreadySent   bool   `json:"already_sent"`
	WindowDays    int    `json:"window_days"`
	PeriodKey     string `json:"period_key"`
	ExpiringCount int    `json:"expiring_count"`
	Status        int    `json:"status"`
}

// Service orchestrates a digest run: dedup check, expiry selection,
// bucketing, rendering, send, log write. Each run is strictly
// sequential; concurrent runs share nothing but the store.
type Service struct {
	store    Store
	notifier Notifier
	lock     RunLock // nil when redis is not configured
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the digest orchestrator. lock may be nil.
func NewService(store Store, notifier Notifier, lock RunLock, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		lock:     lock,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one digest for the given window.
//
// Exactly one of four outcomes is produced: a configuration error
// (negative window, before any I/O), a store failure (wrapped and
// propagated, nothing partial), a *DeliveryError (status >= 400, log
// row not written), or a Result. A duplicate period is not an error:
// it yields a success-shaped Result with AlreadySent set and no send.
func (s *Service) Run(ctx context.Context, windowDays int) (*Result, error) {
	if windowDays < 0 {
		return nil, fmt.Errorf("%w, got %d", ErrNegativeWindow, windowDays)
	}

	now := s.now().UTC()
	today := MidnightUTC(now)
	periodKey := PeriodKey(now)
	notifType := NotificationType(windowDays)

	logger := s.logger.With(
		zap.String("run_id", uuid.New().String()),
		zap.String("notification_type", notifType),
		zap.String("period_key", periodKey),
	)

	alreadySent, err := s.store.NotificationExists(ctx, notifType, periodKey)
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if alreadySent {
		logger.Info("digest already sent for period, skipping")
		return &Result{
			AlreadySent: true,
			WindowDays:  windowDays,
			PeriodKey:   periodKey,
			Status:      http.StatusOK,
		}, nil
	}

	lockKey := notifType + ":" + periodKey
	locked := false
	if s.lock != nil {
		acquired, err := s.lock.TryLock(ctx, lockKey)
		if err != nil {
			// Best-effort: a lost lock degrades to the plain
			// check-then-act behavior, it never blocks the run.
			logger.Warn("run lock unavailable, continuing without it", zap.Error(err))
		} else if !acquired {
			logger.Info("another run holds the period lock")
			return nil, ErrRunInProgress
		} else {
			locked = true
		}
	}

	cutoff := today.AddDate(0, 0, windowDays)
	records, err := s.store.ListExpiring(ctx, today, cutoff)
	if err != nil {
		s.release(ctx, locked, lockKey, logger)
		return nil, fmt.Errorf("select expiring certifications: %w", err)
	}

	buckets := Bucketize(records, today, windowDays)
	body := RenderReport(buckets, windowDays, len(records), now)
	subject := Subject(windowDays, periodKey)

	logger.Info("digest generated",
		zap.Int("window_days", windowDays),
		zap.Int("expiring_count", len(records)),
	)

	status, err := s.notifier.Send(ctx, subject, body)
	if err != nil || status >= http.StatusBadRequest {
		s.release(ctx, locked, lockKey, logger)
		return nil, &DeliveryError{Status: status, Err: err}
	}

	// A cancellation or store failure here leaves a sent digest with no
	// log row. That partial effect is surfaced, not corrected: the next
	// run for the period will send again.
	if err := s.store.AppendNotification(ctx, notifType, periodKey, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("append notification log: %w", err)
	}

	logger.Info("digest sent",
		zap.Int("expiring_count", len(records)),
		zap.Int("status", status),
	)

	return &Result{
		AlreadySent:   false,
		WindowDays:    windowDays,
		PeriodKey:     periodKey,
		ExpiringCount: len(records),
		Status:        status,
	}, nil
}

// release frees the run lock after a failed run so a retry within the
// same period is not blocked. After a successful run the lock is left
// to expire; the log row already guards the period.
func (s *Service) release(ctx context.Context, locked bool, key string, logger *zap.Logger) {
	if !locked {
		return
	}
	if err := s.lock.Unlock(ctx, key); err != nil {
		logger.Warn("failed to release run lock", zap.Error(err))
	}
}
