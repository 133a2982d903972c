package store

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

// Janitor enforces aggregate retention by pruning old days once a day.
type Janitor struct {
	scheduler     *gocron.Scheduler
	pruner        Pruner
	retentionDays int
	clock         clockwork.Clock
	logger        *zap.Logger
}

// NewJanitor creates a Janitor keeping the last retentionDays days
// (today included).
func NewJanitor(p Pruner, retentionDays int, clock clockwork.Clock, logger *zap.Logger) *Janitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		scheduler:     gocron.NewScheduler(time.Local),
		pruner:        p,
		retentionDays: retentionDays,
		clock:         clock,
		logger:        logger.Named("janitor"),
	}
}

// Start schedules the daily prune shortly after midnight.
func (j *Janitor) Start() error {
	_, err := j.scheduler.Every(1).Day().At("00:05").Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("prune failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	j.scheduler.StartAsync()
	j.logger.Info("janitor started", zap.Int("retention_days", j.retentionDays))
	return nil
}

// RunOnce prunes everything older than the retention window.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.Cutoff()
	n, err := j.pruner.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	j.logger.Info("pruned aggregates", zap.String("before_day", cutoff), zap.Int64("removed", n))
	return n, nil
}

// Cutoff is the oldest day that is kept.
func (j *Janitor) Cutoff() string {
	return weather.DayOf(j.clock.Now().AddDate(0, 0, -(j.retentionDays - 1)))
}

// Stop stops the scheduler and cancels any future runs.
func (j *Janitor) Stop() {
	if j.scheduler != nil {
		j.scheduler.Stop()
	}
}
