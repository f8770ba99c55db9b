package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitpanel/notification-service/internal/config"
	"github.com/bitpanel/notification-service/internal/memorystore"
	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/repository"
	"github.com/bitpanel/notification-service/internal/service"
)

// recordingAdapter counts sends and optionally fails or blocks them.
type recordingAdapter struct {
	mu      sync.Mutex
	sends   []sentMessage
	failFor map[string]bool // recipient -> fail

	startedOnce sync.Once
	started     chan struct{} // closed on first send, if non-nil
	release     chan struct{} // blocks sends until closed, if non-nil
}

type sentMessage struct {
	recipient, title, body string
}

func (a *recordingAdapter) Send(ctx context.Context, recipientID, title, body string) error {
	if a.started != nil {
		a.startedOnce.Do(func() { close(a.started) })
	}
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, sentMessage{recipientID, title, body})
	if a.failFor[recipientID] {
		return errors.New("provider rejected message")
	}
	return nil
}

func (a *recordingAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sends)
}

func (a *recordingAdapter) messages() []sentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sentMessage(nil), a.sends...)
}

// attemptLog collects delivery attempt records for assertions.
type attemptLog struct {
	mu       sync.Mutex
	attempts []model.DeliveryAttempt
}

func (l *attemptLog) Record(a model.DeliveryAttempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
}

func (l *attemptLog) all() []model.DeliveryAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.DeliveryAttempt(nil), l.attempts...)
}

func dispatchConfig(batchSize int, interval time.Duration) config.DispatchConfig {
	return config.DispatchConfig{
		BatchSize:       batchSize,
		Workers:         1,
		DefaultInterval: interval,
	}
}

// seedDispatching stores a campaign and walks it to dispatching, the state
// Enqueue expects.
func seedDispatching(t *testing.T, store *memorystore.CampaignStore, c *model.Campaign) {
	t.Helper()
	c.Status = model.StatusDraft
	if err := store.Create(c); err != nil {
		t.Fatal(err)
	}
	for _, to := range []model.Status{model.StatusPending, model.StatusDispatching} {
		applied, err := store.TransitionStatus(c.ID, c.Status, to, model.ReasonNone)
		if err != nil || !applied {
			t.Fatalf("transition to %s: applied=%v err=%v", to, applied, err)
		}
		c.Status = to
	}
}

func waitForTerminal(t *testing.T, store *memorystore.CampaignStore, id string) *model.Campaign {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, err := store.GetByID(id)
		if err != nil {
			t.Fatal(err)
		}
		if c.Status.Terminal() {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("campaign %s did not reach a terminal status", id)
	return nil
}

func TestDispatchBatchesWithInterval(t *testing.T) {
	store := memorystore.NewCampaignStore()
	push := &recordingAdapter{}
	email := &recordingAdapter{}
	adapters := service.NewAdapterRegistry()
	adapters.Register(model.ChannelPush, push)
	adapters.Register(model.ChannelEmail, email)
	resolver := &service.AudienceResolver{Log: zerolog.Nop()}

	interval := 120 * time.Millisecond
	d := service.NewDispatcher(dispatchConfig(2, interval), store, resolver, adapters, nil, zerolog.Nop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop(ctx)

	c := &model.Campaign{
		ID:       "c1",
		Title:    "Hello",
		Body:     "World",
		Priority: model.PriorityMedium,
		Channels: []model.Channel{model.ChannelPush, model.ChannelEmail},
		Target:   model.TargetSpec{RecipientList: "u1,u2,u3"},
	}
	seedDispatching(t, store, c)

	begun := time.Now()
	d.Enqueue(c.ID, c.Priority)
	got := waitForTerminal(t, store, c.ID)
	elapsed := time.Since(begun)

	if got.Status != model.StatusSent {
		t.Fatalf("status = %s (reason %s), want sent", got.Status, got.Reason)
	}
	if got.Stats.ResolvedAudienceSize != 3 {
		t.Errorf("resolved audience = %d, want 3", got.Stats.ResolvedAudienceSize)
	}
	if got.Stats.Attempted != 3 || got.Stats.Succeeded != 3 || got.Stats.Failed != 0 {
		t.Errorf("stats = %+v", got.Stats)
	}
	channelAttempts := 0
	for ch, cs := range got.Stats.PerChannel {
		if cs.Attempted != 3 {
			t.Errorf("channel %s attempted = %d, want 3", ch, cs.Attempted)
		}
		channelAttempts += cs.Attempted
	}
	if channelAttempts != 6 {
		t.Errorf("total channel attempts = %d, want 6", channelAttempts)
	}
	if push.count() != 3 || email.count() != 3 {
		t.Errorf("adapter sends: push=%d email=%d, want 3 each", push.count(), email.count())
	}
	// Two batches of size 2 pace at least one full interval apart.
	if elapsed < interval {
		t.Errorf("dispatch took %v, want >= %v", elapsed, interval)
	}
	if got.DispatchStartedAt == nil || got.CompletedAt == nil {
		t.Error("lifecycle timestamps not set")
	}
}

func TestDispatchPartialFailureStillCompletes(t *testing.T) {
	store := memorystore.NewCampaignStore()
	email := &recordingAdapter{failFor: map[string]bool{"u2": true}}
	adapters := service.NewAdapterRegistry()
	adapters.Register(model.ChannelEmail, email)
	resolver := &service.AudienceResolver{Log: zerolog.Nop()}

	d := service.NewDispatcher(dispatchConfig(10, time.Millisecond), store, resolver, adapters, nil, zerolog.Nop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop(ctx)

	c := &model.Campaign{
		ID:       "c2",
		Title:    "t",
		Body:     "b",
		Channels: []model.Channel{model.ChannelEmail},
		Target:   model.TargetSpec{RecipientList: "u1,u2,u3"},
	}
	seedDispatching(t, store, c)
	d.Enqueue(c.ID, model.PriorityMedium)

	got := waitForTerminal(t, store, c.ID)
	if got.Status != model.StatusSent {
		t.Fatalf("status = %s, want sent despite recipient failures", got.Status)
	}
	if got.Stats.Attempted != 3 || got.Stats.Succeeded != 2 || got.Stats.Failed != 1 {
		t.Errorf("stats = %+v", got.Stats)
	}
	if got.Stats.Succeeded+got.Stats.Failed != got.Stats.Attempted {
		t.Errorf("counter invariant broken: %+v", got.Stats)
	}
	if got.Stats.Attempted > got.Stats.ResolvedAudienceSize {
		t.Errorf("attempted %d exceeds resolved audience %d", got.Stats.Attempted, got.Stats.ResolvedAudienceSize)
	}
}

func TestDispatchEmptyAudienceFails(t *testing.T) {
	store := memorystore.NewCampaignStore()
	adapters := service.NewAdapterRegistry()
	adapters.Register(model.ChannelPush, &recordingAdapter{})
	resolver := &service.AudienceResolver{Log: zerolog.Nop()}

	d := service.NewDispatcher(dispatchConfig(10, time.Millisecond), store, resolver, adapters, nil, zerolog.Nop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop(ctx)

	c := &model.Campaign{
		ID:       "c3",
		Title:    "t",
		Body:     "b",
		Channels: []model.Channel{model.ChannelPush},
		Target:   model.TargetSpec{RecipientList: " \n , "},
	}
	seedDispatching(t, store, c)
	d.Enqueue(c.ID, model.PriorityMedium)

	got := waitForTerminal(t, store, c.ID)
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Reason != model.ReasonEmptyAudience {
		t.Errorf("reason = %s, want %s", got.Reason, model.ReasonEmptyAudience)
	}
	if got.Stats.Attempted != 0 {
		t.Errorf("attempted = %d, want 0", got.Stats.Attempted)
	}
}

type brokenDirectory struct{}

func (brokenDirectory) QueryRecipients(ctx context.Context, segment model.Segment, token string) ([]string, string, error) {
	return nil, "", errors.New("directory down")
}

func TestDispatchResolutionFailureFails(t *testing.T) {
	store := memorystore.NewCampaignStore()
	adapters := service.NewAdapterRegistry()
	adapters.Register(model.ChannelPush, &recordingAdapter{})
	resolver := &service.AudienceResolver{Directory: brokenDirectory{}, Log: zerolog.Nop()}

	d := service.NewDispatcher(dispatchConfig(10, time.Millisecond), store, resolver, adapters, nil, zerolog.Nop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop(ctx)

	c := &model.Campaign{
		ID:       "c4",
		Title:    "t",
		Body:     "b",
		Channels: []model.Channel{model.ChannelPush},
		Target:   model.TargetSpec{Segment: model.SegmentActive},
	}
	seedDispatching(t, store, c)
	d.Enqueue(c.ID, model.PriorityMedium)

	got := waitForTerminal(t, store, c.ID)
	if got.Status != model.StatusFailed || got.Reason != model.ReasonAudienceResolution {
		t.Errorf("status = %s reason = %s", got.Status, got.Reason)
	}
}

// failingBatchStore errors every stats write.
type failingBatchStore struct {
	repository.CampaignRepository
}

func (s *failingBatchStore) ApplyBatch(id string, delta model.BatchDelta) error {
	return errors.New("disk full")
}

func TestDispatchStorageWriteFailureFails(t *testing.T) {
	mem := memorystore.NewCampaignStore()
	store := &failingBatchStore{CampaignRepository: mem}
	adapters := service.NewAdapterRegistry()
	adapters.Register(model.ChannelPush, &recordingAdapter{})
	resolver := &service.AudienceResolver{Log: zerolog.Nop()}

	d := service.NewDispatcher(dispatchConfig(10, time.Millisecond), store, resolver, adapters, nil, zerolog.Nop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop(ctx)

	c := &model.Campaign{
		ID:       "c5",
		Title:    "t",
		Body:     "b",
		Channels: []model.Channel{model.ChannelPush},
		Target:   model.TargetSpec{RecipientList: "u1"},
	}
	seedDispatching(t, mem, c)
	d.Enqueue(c.ID, model.PriorityMedium)

	got := waitForTerminal(t, mem, c.ID)
	if got.Status != model.StatusFailed || got.Reason != model.ReasonStorageWriteFailure {
		t.Errorf("status = %s reason = %s", got.Status, got.Reason)
	}
}

func TestCancelTakesEffectAtBatchBoundary(t *testing.T) {
	store := memorystore.NewCampaignStore()
	push := &recordingAdapter{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	adapters := service.NewAdapterRegistry()
	adapters.Register(model.ChannelPush, push)
	resolver := &service.AudienceResolver{Log: zerolog.Nop()}

	d := service.NewDispatcher(dispatchConfig(2, time.Millisecond), store, resolver, adapters, nil, zerolog.Nop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop(ctx)

	c := &model.Campaign{
		ID:       "c6",
		Title:    "t",
		Body:     "b",
		Channels: []model.Channel{model.ChannelPush},
		Target:   model.TargetSpec{RecipientList: "u1,u2,u3,u4"},
	}
	seedDispatching(t, store, c)
	d.Enqueue(c.ID, model.PriorityMedium)

	// Cancel while the first batch is in flight, then let it finish.
	<-push.started
	d.Cancel(c.ID)
	close(push.release)

	got := waitForTerminal(t, store, c.ID)
	if got.Status != model.StatusFailed || got.Reason != model.ReasonCancelled {
		t.Fatalf("status = %s reason = %s", got.Status, got.Reason)
	}
	// The in-flight batch completes and keeps its counters; later batches
	// never start.
	if got.Stats.Attempted != 2 {
		t.Errorf("attempted = %d, want 2 (first batch only)", got.Stats.Attempted)
	}
	if push.count() != 2 {
		t.Errorf("adapter sends = %d, want 2", push.count())
	}
}

func TestDispatchPersonalizedRendersPerRecipient(t *testing.T) {
	store := memorystore.NewCampaignStore()
	push := &recordingAdapter{}
	adapters := service.NewAdapterRegistry()
	adapters.Register(model.ChannelPush, push)
	resolver := &service.AudienceResolver{Log: zerolog.Nop()}

	d := service.NewDispatcher(dispatchConfig(10, time.Millisecond), store, resolver, adapters, nil, zerolog.Nop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop(ctx)

	c := &model.Campaign{
		ID:           "c7",
		Title:        "Hi {username}",
		Body:         "You have {amount} USDT",
		Bindings:     map[string]string{"amount": "10"},
		Personalized: true,
		Channels:     []model.Channel{model.ChannelPush},
		Target:       model.TargetSpec{RecipientList: "alice,bob"},
	}
	seedDispatching(t, store, c)
	d.Enqueue(c.ID, model.PriorityMedium)

	got := waitForTerminal(t, store, c.ID)
	if got.Status != model.StatusSent {
		t.Fatalf("status = %s", got.Status)
	}
	byRecipient := map[string]sentMessage{}
	for _, m := range push.messages() {
		byRecipient[m.recipient] = m
	}
	if m := byRecipient["alice"]; m.title != "Hi alice" || m.body != "You have 10 USDT" {
		t.Errorf("alice got %+v", m)
	}
	if m := byRecipient["bob"]; m.title != "Hi bob" {
		t.Errorf("bob got %+v", m)
	}
}

func TestDispatchAttemptsEachPairOnce(t *testing.T) {
	store := memorystore.NewCampaignStore()
	adapters := service.NewAdapterRegistry()
	adapters.Register(model.ChannelPush, &recordingAdapter{})
	adapters.Register(model.ChannelSMS, &recordingAdapter{})
	resolver := &service.AudienceResolver{Log: zerolog.Nop()}
	recorder := &attemptLog{}

	d := service.NewDispatcher(dispatchConfig(2, time.Millisecond), store, resolver, adapters, recorder, zerolog.Nop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop(ctx)

	c := &model.Campaign{
		ID:       "c8",
		Title:    "t",
		Body:     "b",
		Channels: []model.Channel{model.ChannelPush, model.ChannelSMS},
		Target:   model.TargetSpec{RecipientList: "u1,u2,u3,u1,u2"},
	}
	seedDispatching(t, store, c)
	d.Enqueue(c.ID, model.PriorityMedium)
	waitForTerminal(t, store, c.ID)

	seen := map[string]int{}
	for _, a := range recorder.all() {
		if a.Outcome == model.OutcomeSkippedDuplicate {
			continue
		}
		seen[a.RecipientID+"|"+string(a.Channel)]++
	}
	if len(seen) != 6 {
		t.Errorf("distinct (recipient, channel) attempts = %d, want 6", len(seen))
	}
	for pair, n := range seen {
		if n != 1 {
			t.Errorf("pair %s attempted %d times", pair, n)
		}
	}
}

func TestDispatchSkipsCampaignNotDispatching(t *testing.T) {
	store := memorystore.NewCampaignStore()
	push := &recordingAdapter{}
	adapters := service.NewAdapterRegistry()
	adapters.Register(model.ChannelPush, push)
	resolver := &service.AudienceResolver{Log: zerolog.Nop()}

	d := service.NewDispatcher(dispatchConfig(10, time.Millisecond), store, resolver, adapters, nil, zerolog.Nop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop(ctx)

	c := &model.Campaign{
		ID:       "c9",
		Title:    "t",
		Body:     "b",
		Status:   model.StatusDraft,
		Channels: []model.Channel{model.ChannelPush},
		Target:   model.TargetSpec{RecipientList: "u1"},
	}
	if err := store.Create(c); err != nil {
		t.Fatal(err)
	}
	d.Enqueue(c.ID, model.PriorityMedium)

	time.Sleep(50 * time.Millisecond)
	got, err := store.GetByID(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusDraft {
		t.Errorf("status = %s, want draft untouched", got.Status)
	}
	if push.count() != 0 {
		t.Errorf("adapter called %d times for a draft campaign", push.count())
	}
}
