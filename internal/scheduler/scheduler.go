package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"warranty-reminder/internal/services"
)

// Runner performs one reminder pass
type Runner interface {
	Run(ctx context.Context, scope services.Scope) (*services.RunSummary, error)
}

// Scheduler triggers reminder runs on a cron schedule
type Scheduler struct {
	cron       *cron.Cron
	runner     Runner
	runTimeout time.Duration
	logger     *slog.Logger

	// ctx is cancelled by Stop so an in-flight run returns promptly
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler. A tick that fires while the previous
// run is still going is skipped.
func NewScheduler(runner Runner, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		runner:     runner,
		runTimeout: runTimeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start registers the reminder job and starts the scheduler
func (s *Scheduler) Start(checkInterval string) error {
	_, err := s.cron.AddFunc(checkInterval, func() {
		s.logger.Info("starting scheduled reminder run")
		s.RunOnce()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started", slog.String("interval", checkInterval))
	return nil
}

// RunOnce performs a full run bounded by the run timeout
func (s *Scheduler) RunOnce() *services.RunSummary {
	ctx := s.ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	summary, err := s.runner.Run(ctx, services.Scope{})
	if err != nil {
		s.logger.Error("scheduled reminder run failed", slog.Any("error", err))
		return summary
	}
	s.logger.Info("scheduled reminder run completed",
		slog.String("run_id", summary.RunID),
		slog.Int("sent", summary.Sent),
		slog.Int("failed", summary.Failed),
	)
	return summary
}

// Stop cancels an in-flight run and waits for it to return
func (s *Scheduler) Stop() {
	s.cancel()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
