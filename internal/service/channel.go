package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitpanel/notification-service/internal/model"
)

// Adapter delivers one rendered message to one recipient over a single
// channel. Adapters are not assumed idempotent; the dispatcher never calls
// Send twice for the same (recipient, channel, campaign).
type Adapter interface {
	Send(ctx context.Context, recipientID, title, body string) error
}

// AdapterRegistry maps channels to their adapters. Dispatch logic is
// polymorphic over the registry; adapters swap without touching it.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[model.Channel]Adapter
}

func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[model.Channel]Adapter)}
}

func (r *AdapterRegistry) Register(ch model.Channel, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[ch] = a
}

func (r *AdapterRegistry) Get(ch model.Channel) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ch]
	return a, ok
}

// ErrNoAdapter is reported as the attempt's error kind when a campaign
// names a channel with no registered adapter.
var ErrNoAdapter = errors.New("no adapter registered for channel")

// SimAdapter simulates a channel provider for local runs and seed data.
// It succeeds with the configured probability after an optional latency.
type SimAdapter struct {
	Channel     model.Channel
	FailureRate float64 // 0..1
	Latency     time.Duration
	Log         zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimAdapter(ch model.Channel, failureRate float64, latency time.Duration, log zerolog.Logger) *SimAdapter {
	return &SimAdapter{
		Channel:     ch,
		FailureRate: failureRate,
		Latency:     latency,
		Log:         log,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (a *SimAdapter) Send(ctx context.Context, recipientID, title, body string) error {
	if a.Latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.Latency):
		}
	}
	a.mu.Lock()
	roll := a.rng.Float64()
	a.mu.Unlock()
	if roll < a.FailureRate {
		return fmt.Errorf("simulated %s delivery failure", a.Channel)
	}
	a.Log.Debug().Str("channel", string(a.Channel)).Str("recipient", recipientID).
		Str("title", title).Msg("simulated send")
	return nil
}
