// Package schedule re-runs a job on a UTC cron expression.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// ParseUTC parses a five-field cron expression. Timezone prefixes are
// rejected; schedules always run in UTC.
func ParseUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// Job is one scheduled execution.
type Job func(ctx context.Context) error

// Config configures a Scheduler.
type Config struct {
	Expr string
	Job  Job

	// RunImmediately executes the job once before waiting for the first tick.
	RunImmediately bool

	Now    func() time.Time
	Logger *slog.Logger
}

// Scheduler runs a Job at every activation of a cron expression.
type Scheduler struct {
	schedule       cron.Schedule
	job            Job
	runImmediately bool
	now            func() time.Time
	after          func(time.Duration) <-chan time.Time
	logger         *slog.Logger
}

// New validates cfg and creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Job == nil {
		return nil, errors.New("schedule job is nil")
	}
	schedule, err := ParseUTC(cfg.Expr)
	if err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		schedule:       schedule,
		job:            cfg.Job,
		runImmediately: cfg.RunImmediately,
		now:            cfg.Now,
		after:          time.After,
		logger:         cfg.Logger,
	}, nil
}

// Run blocks until ctx is cancelled, executing the job at every activation.
// Job errors are logged and do not stop the loop. Run returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	if s.runImmediately {
		s.runOnce(ctx)
	}

	for {
		now := s.now().UTC()
		next := s.schedule.Next(now)
		s.logger.Debug("next scheduled run", "at", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(next.Sub(now)):
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := s.now()
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
		return
	}
	s.logger.Debug("scheduled run finished", "elapsed", s.now().Sub(start))
}
