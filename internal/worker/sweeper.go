// Package worker runs the background purge of expired verification codes.
// Expiry is already enforced at read time; the sweep only keeps storage
// small for backends without native TTL indexes.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Purger interface {
	PurgeExpiredCodes(ctx context.Context) (int64, error)
}

// Observer receives one call per sweep.
type Observer interface {
	ObserveSweep(purged int64, d time.Duration, err error)
}

type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

type Sweeper struct {
	cfg    Config
	purger Purger
	obs    Observer
	log    *slog.Logger

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, purger Purger, obs Observer, log *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{cfg: cfg, purger: purger, obs: obs, log: log}
}

// SweepOnce runs a single purge.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	n, err := s.purger.PurgeExpiredCodes(ctx)
	if s.obs != nil {
		s.obs.ObserveSweep(n, time.Since(start), err)
	}
	return n, err
}

// Run sweeps every Interval until ctx is done. After a failure the next
// attempt waits for an exponential backoff instead.
func (s *Sweeper) Run(ctx context.Context) error {
	s.setReady(true)
	defer s.setReady(false)

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper received shutdown signal")
			return nil

		case <-timer.C:
			n, err := s.SweepOnce(ctx)

			next := s.cfg.Interval
			if err != nil {
				next = ExponentialBackoff(failures, s.cfg.BackoffBase, s.cfg.BackoffMax)
				failures++
				s.log.Error("sweep failed", "err", err, "attempt", failures, "retry_in", next.String())
			} else {
				failures = 0
				if n > 0 {
					s.log.Info("expired codes purged", "count", n)
				}
			}

			timer.Reset(next)
		}
	}
}

func (s *Sweeper) setReady(v bool) {
	s.readyMu.Lock()
	s.ready = v
	s.readyMu.Unlock()
}

func (s *Sweeper) Ready() bool {
	s.readyMu.RLock()
	defer s.readyMu.RUnlock()
	return s.ready
}
