// Package worker runs the reset token sweeper, which clears expired
// hash/expiry pairs so dead reset secrets do not linger in the users table.
// Consumption checks expiry on its own; the sweeper is housekeeping.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type ResetStore interface {
	PurgeExpiredResets(ctx context.Context, now time.Time) (int64, error)
}

type Metrics interface {
	SweepDone(purged int64, err error)
}

type Config struct {
	Interval     time.Duration
	SweepTimeout time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

type Sweeper struct {
	cfg     Config
	store   ResetStore
	metrics Metrics
	log     *slog.Logger
	now     func() time.Time

	shuttingDown atomic.Bool
	lastSuccess  atomic.Int64 // unix nanos
}

func NewSweeper(cfg Config, store ResetStore, metrics Metrics, log *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{cfg: cfg, store: store, metrics: metrics, log: log, now: time.Now}
}

func (s *Sweeper) ShuttingDown() bool { return s.shuttingDown.Load() }

// LastSuccess is the time of the last sweep that reached the store, or the
// zero time before the first one.
func (s *Sweeper) LastSuccess() time.Time {
	n := s.lastSuccess.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// SweepOnce clears every reset pair that expired at or before now.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
	defer cancel()

	now := s.now().UTC()
	n, err := s.store.PurgeExpiredResets(sweepCtx, now)
	if err == nil {
		s.lastSuccess.Store(now.UnixNano())
	}
	if s.metrics != nil {
		s.metrics.SweepDone(n, err)
	}
	return n, err
}

// Run sweeps every Interval until ctx is cancelled. After a failed sweep it
// waits with exponential backoff instead of the regular interval.
func (s *Sweeper) Run(ctx context.Context) error {
	failures := 0

	for {
		n, err := s.SweepOnce(ctx)

		wait := s.cfg.Interval
		if err != nil {
			if ctx.Err() != nil {
				return s.stop()
			}
			wait = ExponentialBackoff(failures, s.cfg.BackoffBase, s.cfg.BackoffCap)
			failures++
			s.log.WarnContext(ctx, "reset sweep failed", "err", err, "attempt", failures, "retry_in", wait.String())
		} else {
			failures = 0
			if n > 0 {
				s.log.InfoContext(ctx, "reset sweep", "purged", n)
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.stop()
		case <-timer.C:
		}
	}
}

func (s *Sweeper) stop() error {
	s.shuttingDown.Store(true)
	s.log.Info("sweeper received shutdown signal")
	return nil
}
