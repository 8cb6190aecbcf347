package security

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

// DefaultCleanupInterval is how often expired state is purged.
const DefaultCleanupInterval = time.Hour

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Sessions   int
	CSRFTokens int
	Revoked    int
	RateLimits int
}

// Sweeper periodically purges expired sessions, CSRF tokens, blacklist
// entries and elapsed rate-limit windows.
type Sweeper struct {
	sessions *SessionManager
	csrf     *CSRFStore
	tokens   *TokenManager
	limiters []*Limiter
	log      logrus.FieldLogger
	interval time.Duration
	cron     *cron.Cron
}

func NewSweeper(sessions *SessionManager, csrf *CSRFStore, tokens *TokenManager, interval time.Duration, log logrus.FieldLogger, limiters ...*Limiter) *Sweeper {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Sweeper{
		sessions: sessions,
		csrf:     csrf,
		tokens:   tokens,
		limiters: limiters,
		log:      log,
		interval: interval,
	}
}

// Sweep runs one purge pass. Every step runs even if an earlier one fails;
// the first error is returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var firstErr error
	keep := func(err error, what string) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sweep %s: %w", what, err)
		}
	}
	var err error
	res.Sessions, err = s.sessions.Cleanup(ctx)
	keep(err, "sessions")
	res.CSRFTokens, err = s.csrf.Cleanup(ctx)
	keep(err, "csrf tokens")
	res.Revoked, err = s.tokens.PurgeRevoked(ctx)
	keep(err, "revoked tokens")
	for _, l := range s.limiters {
		n, err := l.Cleanup(ctx)
		res.RateLimits += n
		keep(err, l.Name()+" rate limits")
	}
	return res, firstErr
}

// Start schedules Sweep every interval until Stop is called.
func (s *Sweeper) Start() error {
	c := cron.New()
	if err := c.AddFunc("@every "+s.interval.String(), s.run); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("interval", s.interval.String()).Info("security cleanup scheduled")
	return nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := s.Sweep(ctx)
	l := s.log.WithFields(logrus.Fields{
		"sessions":   res.Sessions,
		"csrfTokens": res.CSRFTokens,
		"revoked":    res.Revoked,
		"rateLimits": res.RateLimits,
	})
	if err != nil {
		l.WithError(err).Error("security cleanup failed")
		return
	}
	l.Debug("security cleanup done")
}

// Stop cancels the schedule. A sweep already running is not interrupted.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
