// Package jobs runs periodic background work on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultMissedSweepSchedule runs the missed-appointment sweep every five
// minutes.
const DefaultMissedSweepSchedule = "*/5 * * * *"

// MissedSweeper marks overdue appointments as missed.
type MissedSweeper interface {
	MarkMissedAppointments(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	timeout time.Duration
}

// NewScheduler builds a scheduler whose jobs never overlap with themselves
// and whose panics are logged instead of crashing the process.
func NewScheduler(logger zerolog.Logger, timeout time.Duration) *Scheduler {
	logger = logger.With().Str("component", "jobs").Logger()
	cl := cronLogger{logger: logger}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: timeout,
	}
}

// AddMissedSweep registers the sweep under spec, a standard five-field cron
// expression.
func (s *Scheduler) AddMissedSweep(spec string, sweeper MissedSweeper) error {
	if spec == "" {
		spec = DefaultMissedSweepSchedule
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		RunMissedSweep(ctx, sweeper, s.logger)
	})
	if err != nil {
		return fmt.Errorf("schedule missed sweep %q: %w", spec, err)
	}
	s.logger.Info().Str("schedule", spec).Msg("missed-appointment sweep scheduled")
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("jobs still running at shutdown")
	}
}

// RunMissedSweep runs one sweep and logs its outcome. Partial failures are
// logged with the count that did succeed.
func RunMissedSweep(ctx context.Context, sweeper MissedSweeper, logger zerolog.Logger) int {
	start := time.Now()
	n, err := sweeper.MarkMissedAppointments(ctx)
	evt := logger.Info()
	if err != nil {
		evt = logger.Error().Err(err)
	}
	evt.Int("marked", n).Dur("took", time.Since(start)).Msg("missed-appointment sweep finished")
	return n
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
