// Package maintenance runs the CA server's background housekeeping: the
// expired-session sweep and a dedicated worker that serializes the CPU-bound
// Argon2 password hash/verify calls submitted to it.
package maintenance

import (
	"context"
	"time"

	"github.com/nioca/ca/internal/logger"
	"github.com/nioca/ca/internal/metrics"
	"github.com/nioca/ca/internal/store"
)

// defaultGrace is subtracted from "now" before sweeping, so a session that
// expired a moment ago but is mid-request isn't yanked out from under it.
const defaultGrace = 30 * time.Second

// SessionSweeper periodically deletes sessions whose expiry has passed.
type SessionSweeper struct {
	sessions store.SessionStore
	interval time.Duration
	grace    time.Duration
	log      logger.Logger
}

// NewSessionSweeper builds a sweeper that runs once per interval.
func NewSessionSweeper(sessions store.SessionStore, interval time.Duration, log logger.Logger) *SessionSweeper {
	return &SessionSweeper{sessions: sessions, interval: interval, grace: defaultGrace, log: log}
}

// Run blocks, sweeping expired sessions once per interval, until ctx is
// cancelled. Intended to be started in its own goroutine.
func (s *SessionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *SessionSweeper) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.grace)
	n, err := s.sessions.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		s.log.Warn("session sweep failed", logger.Error(err))
		return
	}
	if n > 0 {
		metrics.SessionsSwept.Add(float64(n))
		metrics.SessionsActive.Sub(float64(n))
		s.log.Info("swept expired sessions", logger.Int("count", int(n)))
	}
}
