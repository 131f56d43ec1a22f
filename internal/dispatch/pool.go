// Package dispatch bounds concurrent calls to the scarce upstream
// language-model resource across a fixed pool of credential slots.
//
// Admission is a counting semaphore sized at slots x headroom: callers
// block cooperatively when all permits are taken, giving backpressure
// instead of rejection, up to a queue-wait timeout after which they
// receive an Overloaded error. Credential rotation is round-robin,
// skipping any slot whose rolling usage has crossed the high-water
// mark until its cooldown elapses and usage resets.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karupatti/tiffin/internal/engine"
)

const (
	// DefaultHeadroom multiplies the slot count into the admission limit.
	DefaultHeadroom = 2

	// DefaultSlotLimit is the per-slot usage budget within one window.
	DefaultSlotLimit = 100

	// DefaultHighWater is the usage fraction past which a slot rests.
	DefaultHighWater = 0.80

	// DefaultCooldown is how long a hot slot rests before usage resets.
	DefaultCooldown = 60 * time.Second

	// DefaultQueueWait bounds how long a caller waits for admission.
	DefaultQueueWait = 5 * time.Second

	// pollInterval paces the wait loop when every slot is hot.
	pollInterval = 5 * time.Millisecond
)

// Credential is one upstream API credential.
type Credential struct {
	// ID names the slot in logs and stats.
	ID string

	// APIKey is the secret handed to the upstream client.
	APIKey string
}

// slot tracks rolling usage for one credential.
type slot struct {
	cred  Credential
	usage int
	hot   bool
	hotAt time.Time
}

// Lease is a held admission permit bound to one credential.
// Callers must Release exactly once when the upstream call finishes.
type Lease struct {
	// Credential is the slot selected for this call.
	Credential Credential

	pool *Pool
	once sync.Once
}

// Release returns the permit to the pool. Safe to call more than once;
// only the first call has an effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		<-l.pool.sem
	})
}

// Pool is the credential dispatch pool.
//
// Thread-safety: Acquire and Release are safe from any goroutine.
// Slot state is guarded by mu; the admission semaphore is a channel.
type Pool struct {
	mu    sync.Mutex
	slots []*slot
	next  int // round-robin cursor

	sem chan struct{}

	slotLimit int
	highWater float64
	cooldown  time.Duration
	queueWait time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// Option allows configuration of pool parameters.
type Option func(*Pool)

// WithHeadroom sets the admission multiplier over the slot count.
func WithHeadroom(n int) Option {
	return func(p *Pool) {
		p.sem = make(chan struct{}, len(p.slots)*n)
	}
}

// WithSlotLimit sets the per-slot usage budget within one window.
func WithSlotLimit(n int) Option {
	return func(p *Pool) {
		p.slotLimit = n
	}
}

// WithHighWater sets the usage fraction past which a slot rests.
func WithHighWater(f float64) Option {
	return func(p *Pool) {
		p.highWater = f
	}
}

// WithCooldown sets how long a hot slot rests before usage resets.
func WithCooldown(d time.Duration) Option {
	return func(p *Pool) {
		p.cooldown = d
	}
}

// WithQueueWait bounds how long Acquire waits before Overloaded.
func WithQueueWait(d time.Duration) Option {
	return func(p *Pool) {
		p.queueWait = d
	}
}

// WithClock overrides the time source for slot eligibility.
// Tests use a fixed clock to drive cooldown expiry deterministically.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Pool) {
		p.log = log
	}
}

// NewPool creates a dispatch pool over the given credentials.
func NewPool(creds []Credential, opts ...Option) (*Pool, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("dispatch: at least one credential required")
	}

	p := &Pool{
		slots:     make([]*slot, len(creds)),
		slotLimit: DefaultSlotLimit,
		highWater: DefaultHighWater,
		cooldown:  DefaultCooldown,
		queueWait: DefaultQueueWait,
		now:       time.Now,
		log:       slog.Default(),
	}
	for i, c := range creds {
		p.slots[i] = &slot{cred: c}
	}
	p.sem = make(chan struct{}, len(creds)*DefaultHeadroom)

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Acquire blocks until an admission permit and an eligible credential
// slot are both available, up to the queue-wait timeout.
//
// Returns an Overloaded error when the wait times out, either because
// every permit is held or because every slot is over the high-water
// mark with its cooldown still running.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	deadline := time.Now().Add(p.queueWait)

	select {
	case p.sem <- struct{}{}:
	case <-time.After(p.queueWait):
		return nil, engine.NewOverloadedError(fmt.Errorf("dispatch: no permit within %s", p.queueWait))
	case <-ctx.Done():
		return nil, fmt.Errorf("dispatch: %w", ctx.Err())
	}

	for {
		if s, ok := p.pickSlot(); ok {
			return &Lease{Credential: s.cred, pool: p}, nil
		}

		if time.Now().After(deadline) {
			<-p.sem
			return nil, engine.NewOverloadedError(fmt.Errorf("dispatch: all slots over high-water mark"))
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			<-p.sem
			return nil, fmt.Errorf("dispatch: %w", ctx.Err())
		}
	}
}

// pickSlot selects the next eligible slot in round-robin order and
// charges one use against it. Returns ok=false when every slot is hot.
func (p *Pool) pickSlot() (*slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.slots)

	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		s := p.slots[idx]

		if s.hot {
			if now.Sub(s.hotAt) < p.cooldown {
				continue
			}
			// Cooldown elapsed: usage resets, slot is eligible again.
			s.hot = false
			s.usage = 0
		}

		s.usage++
		if float64(s.usage) >= p.highWater*float64(p.slotLimit) {
			s.hot = true
			s.hotAt = now
			p.log.Debug("slot over high-water mark",
				slog.String("slot", s.cred.ID),
				slog.Int("usage", s.usage))
		}

		p.next = (idx + 1) % n
		return s, true
	}

	return nil, false
}

// SlotStats is a point-in-time view of one slot, for logging and tests.
type SlotStats struct {
	ID    string
	Usage int
	Hot   bool
}

// Stats returns a snapshot of every slot's usage.
func (p *Pool) Stats() []SlotStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]SlotStats, len(p.slots))
	for i, s := range p.slots {
		stats[i] = SlotStats{ID: s.cred.ID, Usage: s.usage, Hot: s.hot}
	}
	return stats
}
