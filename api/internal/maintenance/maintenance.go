// Package maintenance runs the periodic housekeeping jobs: sweeping scratch
// workspaces left behind by a crash and purging old journal rows.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rmbg-bot/api/internal/scratch"
)

// StaleAfter is how old a workspace must be before the sweep removes it.
// No single request runs anywhere near this long.
const StaleAfter = time.Hour

// Purger deletes journal rows older than the given age.
type Purger interface {
	PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Config struct {
	Schedule   string // cron spec, e.g. "@every 1h"
	ScratchDir string
	Journal    Purger // optional
	Retention  time.Duration
}

type Scheduler struct {
	cron *cron.Cron
}

// New registers the jobs; nothing runs until Start.
func New(cfg Config) (*Scheduler, error) {
	logger := cronLogger{log.Logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(cfg.Schedule, SweepScratch(cfg.ScratchDir, StaleAfter)); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Journal != nil && cfg.Retention > 0 {
		if _, err := c.AddFunc(cfg.Schedule, PurgeJournal(cfg.Journal, cfg.Retention)); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
		}
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// SweepScratch returns a job removing workspaces under root older than age.
func SweepScratch(root string, age time.Duration) func() {
	return func() {
		n, err := scratch.Sweep(root, age, time.Now())
		if err != nil {
			log.Warn().Err(err).Str("dir", root).Msg("scratch sweep failed")
			return
		}
		if n > 0 {
			log.Info().Int("removed", n).Msg("scratch sweep")
		}
	}
}

// PurgeJournal returns a job deleting journal rows older than retention.
func PurgeJournal(p Purger, retention time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := p.PurgeOlderThan(ctx, retention)
		if err != nil {
			log.Warn().Err(err).Msg("journal purge failed")
			return
		}
		log.Info().Int64("deleted", n).Dur("retention", retention).Msg("journal purge")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug().Fields(kv).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error().Err(err).Fields(kv).Msg("cron: " + msg)
}
