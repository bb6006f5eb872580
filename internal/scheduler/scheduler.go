// Package scheduler provides the optional in-process cron trigger for
// digest runs. The digest engine itself stays request-triggered; the
// scheduler is just another caller, and the weekly period key keeps a
// misconfigured schedule from double-sending.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ptca/certtrack/internal/digest"
)

// Runner triggers one digest run for a window.
type Runner interface {
	Run(ctx context.Context, windowDays int) (*digest.Result, error)
}

// Scheduler fires digest runs on a cron spec.
type Scheduler struct {
	engine     *cron.Cron
	runner     Runner
	logger     *zap.Logger
	spec       string
	windowDays int
}

// New creates a scheduler that runs the digest with the given window on
// the given cron spec.
func New(runner Runner, spec string, windowDays int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:     cron.New(cron.WithLocation(time.UTC)),
		runner:     runner,
		logger:     logger,
		spec:       spec,
		windowDays: windowDays,
	}
}

// Start registers the job and starts the cron engine.
func (s *Scheduler) Start() error {
	_, err := s.engine.AddFunc(s.spec, s.runOnce)
	if err != nil {
		return err
	}

	s.engine.Start()
	s.logger.Info("digest scheduler started",
		zap.String("spec", s.spec),
		zap.Int("window_days", s.windowDays),
	)

	return nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := s.runner.Run(ctx, s.windowDays)
	if err != nil {
		if errors.Is(err, digest.ErrRunInProgress) {
			s.logger.Info("scheduled digest skipped, another run in progress")
			return
		}
		s.logger.Error("scheduled digest run failed", zap.Error(err))
		return
	}

	if result.AlreadySent {
		s.logger.Info("scheduled digest skipped, already sent this period",
			zap.String("period_key", result.PeriodKey),
		)
		return
	}

	s.logger.Info("scheduled digest sent",
		zap.String("period_key", result.PeriodKey),
		zap.Int("expiring_count", result.ExpiringCount),
	)
}

// Stop stops the cron engine and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.engine.Stop()
	<-ctx.Done()
	s.logger.Info("digest scheduler stopped")
}
