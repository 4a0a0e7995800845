package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while a key is cooling down.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breakers trips a key (a marketplace host, a model endpoint) after a run of
// consecutive failures and rejects calls for that key until Cooldown passes.
// One probe is let through after the cooldown; its outcome closes or reopens
// the circuit.
type Breakers struct {
	Threshold int
	Cooldown  time.Duration

	mu    sync.Mutex
	state map[string]*breakerState
	now   func() time.Time
}

type breakerState struct {
	failures int
	openedAt time.Time
	open     bool
}

// NewBreakers creates a per-key breaker registry.
func NewBreakers(threshold int, cooldown time.Duration) *Breakers {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breakers{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     make(map[string]*breakerState),
		now:       time.Now,
	}
}

// Allow returns ErrCircuitOpen when key is open and still cooling down.
func (b *Breakers) Allow(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state[key]
	if st == nil || !st.open {
		return nil
	}
	if b.now().Sub(st.openedAt) >= b.Cooldown {
		return nil
	}
	return eris.Wrapf(ErrCircuitOpen, "key %s", key)
}

// Record updates key with the outcome of a call.
func (b *Breakers) Record(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state[key]
	if st == nil {
		st = &breakerState{}
		b.state[key] = st
	}
	if err == nil {
		st.failures = 0
		st.open = false
		return
	}
	st.failures++
	if st.open || st.failures >= b.Threshold {
		if !st.open {
			zap.L().Warn("circuit opened", zap.String("key", key), zap.Int("failures", st.failures))
		}
		st.open = true
		st.openedAt = b.now()
	}
}

// IsOpen reports whether key is currently rejecting calls.
func (b *Breakers) IsOpen(key string) bool {
	return b.Allow(key) != nil
}
