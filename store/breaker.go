package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnavailable is returned without calling the wrapped store while the
// breaker is open.
var ErrUnavailable = errors.New("store unavailable")

// BreakerState is the state of a BreakerStore.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// BreakerConfig configures a BreakerStore.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker. Defaults to 5.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before letting one trial request
	// through. Defaults to 30 seconds.
	Cooldown time.Duration
}

// BreakerStore fails fast with ErrUnavailable after repeated storage
// failures. ErrNotFound, ErrConflict and context cancellation are answers,
// not failures, and never trip it.
type BreakerStore struct {
	next ObjectStore
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
	onChange func(from, to BreakerState)
}

// NewBreakerStore wraps next.
func NewBreakerStore(next ObjectStore, cfg BreakerConfig) *BreakerStore {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &BreakerStore{next: next, cfg: cfg, now: time.Now}
}

// OnStateChange registers fn to run on every transition. fn runs with the
// breaker locked and must not call back into it.
func (b *BreakerStore) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// State reports the current state. An open breaker whose cooldown has
// elapsed reports half-open.
func (b *BreakerStore) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *BreakerStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}
	body, err := b.next.Get(ctx, bucket, key)
	b.record(err)
	return body, err
}

func (b *BreakerStore) GetTags(ctx context.Context, bucket, key string) (map[string]string, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}
	tags, err := b.next.GetTags(ctx, bucket, key)
	b.record(err)
	return tags, err
}

func (b *BreakerStore) Put(ctx context.Context, bucket, key string, body []byte, tags map[string]string, opts PutOptions) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := b.next.Put(ctx, bucket, key, body, tags, opts)
	b.record(err)
	return err
}

func (b *BreakerStore) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrUnavailable
		}
		b.transition(BreakerHalfOpen)
		b.probing = true
		return nil
	default:
		if b.probing {
			return ErrUnavailable
		}
		b.probing = true
		return nil
	}
}

func (b *BreakerStore) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrConflict) &&
		!errors.Is(err, context.Canceled)

	switch b.state {
	case BreakerClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.probing = false
		if failed {
			b.openedAt = b.now()
			b.transition(BreakerOpen)
			return
		}
		b.transition(BreakerClosed)
	}
}

// transition requires b.mu.
func (b *BreakerStore) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
