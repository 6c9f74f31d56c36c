// Package scheduler runs the daily retention job that prunes old game
// records from the statistics store.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/config"
)

// Pruner deletes records that ended before cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    config.StorageConfig
	pruner Pruner
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg config.StorageConfig, pruner Pruner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		pruner: pruner,
	}
}

// Start runs the retention loop until ctx is cancelled. A retention of
// zero days disables pruning.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.RetentionDays <= 0 {
		log.Info().Msg("retention pruning disabled")
		return
	}
	log.Info().Int("retention_days", s.cfg.RetentionDays).Msg("scheduler started")

	for {
		nextRun := nextRunAt(s.cfg.PruneTime, time.Now())
		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", time.Until(nextRun)).
			Msg("retention pruning scheduled")

		timer := time.NewTimer(time.Until(nextRun))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.RunOnce(ctx, time.Now())
		}
	}
}

// RunOnce prunes everything older than the retention window ending at now.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) {
	cutoff := now.Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)

	n, err := s.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("retention pruning failed")
		return
	}
	log.Info().
		Int64("deleted_games", n).
		Time("cutoff", cutoff).
		Msg("retention pruning completed")
}

// nextRunAt returns the next occurrence of the HH:MM clock time after now.
// Malformed values fall back to 04:00.
func nextRunAt(clock string, now time.Time) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(clock, ":")
	if len(parts) == 2 {
		var h, m int
		_, errH := fmt.Sscanf(parts[0], "%d", &h)
		_, errM := fmt.Sscanf(parts[1], "%d", &m)
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
