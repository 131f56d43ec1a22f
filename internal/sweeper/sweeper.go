// Package sweeper enforces retention on the two storage tiers.
//
// Ephemeral sessions and their cart lines go after a short TTL; they
// are reconstructible from the event log and non-critical. Event-log
// rows go after a much longer analytics window. Orders and order lines
// are retained indefinitely and never touched here.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/karupatti/tiffin/internal/store"
)

const (
	// DefaultInterval is how often the sweep runs.
	DefaultInterval = time.Hour

	// DefaultSessionTTL is how long an idle session survives.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultEventRetention is the analytics window for event rows.
	DefaultEventRetention = 30 * 24 * time.Hour
)

// Sweeper periodically deletes expired ephemeral state and old events.
type Sweeper struct {
	store          *store.Store
	interval       time.Duration
	sessionTTL     time.Duration
	eventRetention time.Duration
	now            func() time.Time
	log            *slog.Logger
}

// Option allows configuration of sweeper parameters.
type Option func(*Sweeper)

// WithInterval sets the sweep cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		s.interval = d
	}
}

// WithSessionTTL sets how long an idle session survives.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Sweeper) {
		s.sessionTTL = d
	}
}

// WithEventRetention sets the analytics window for event rows.
func WithEventRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		s.eventRetention = d
	}
}

// WithClock overrides the time source. Tests use a fixed clock.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Sweeper) {
		s.log = log
	}
}

// New creates a Sweeper over the given store.
func New(st *store.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:          st,
		interval:       DefaultInterval,
		sessionTTL:     DefaultSessionTTL,
		eventRetention: DefaultEventRetention,
		now:            time.Now,
		log:            slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Report summarizes one sweep pass.
type Report struct {
	SessionsDeleted int64
	EventsDeleted   int64
}

// Once runs a single sweep pass: expired sessions first (cart lines go
// with them via cascade), then event rows past the analytics window.
// Sessions with an in-flight checkout are spared by the storage layer.
func (s *Sweeper) Once(ctx context.Context) (Report, error) {
	now := s.now()

	sessions, err := s.store.SweepSessions(ctx, now.Add(-s.sessionTTL))
	if err != nil {
		return Report{}, err
	}

	events, err := s.store.SweepEvents(ctx, now.Add(-s.eventRetention))
	if err != nil {
		return Report{SessionsDeleted: sessions}, err
	}

	rep := Report{SessionsDeleted: sessions, EventsDeleted: events}
	if rep.SessionsDeleted > 0 || rep.EventsDeleted > 0 {
		s.log.Info("sweep complete",
			slog.Int64("sessions_deleted", rep.SessionsDeleted),
			slog.Int64("events_deleted", rep.EventsDeleted))
	}

	return rep, nil
}

// Run sweeps on the configured interval until the context is canceled.
// Sweep errors are logged and the loop continues; a transient storage
// failure must not stop retention permanently.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Once(ctx); err != nil {
				s.log.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
