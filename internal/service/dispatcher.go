package service

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/config"
	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/repository"
)

// AttemptRecorder optionally persists individual delivery attempts for
// deployments that need a per-recipient audit trail. The default deployment
// aggregates attempts into campaign stats only.
type AttemptRecorder interface {
	Record(a model.DeliveryAttempt)
}

// Dispatcher walks resolved audiences in rate-limited batches, invokes
// channel adapters, aggregates outcomes into campaign counters and drives
// campaigns to their terminal status.
//
// Campaigns dispatch concurrently across a bounded worker pool; batches
// within one campaign are strictly sequential. When workers are busy,
// higher-priority campaigns are picked up first.
type Dispatcher struct {
	campaigns repository.CampaignRepository
	resolver  *AudienceResolver
	adapters  *AdapterRegistry
	recorder  AttemptRecorder
	cfg       config.DispatchConfig
	log       zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   eligibleQueue
	seq     uint64
	stopped bool

	cancelMu  sync.Mutex
	cancelled map[string]struct{}

	wg sync.WaitGroup
}

func NewDispatcher(cfg config.DispatchConfig, campaigns repository.CampaignRepository, resolver *AudienceResolver, adapters *AdapterRegistry, recorder AttemptRecorder, log zerolog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	d := &Dispatcher{
		campaigns: campaigns,
		resolver:  resolver,
		adapters:  adapters,
		recorder:  recorder,
		cfg:       cfg,
		log:       log,
		cancelled: map[string]struct{}{},
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start spawns the worker pool. Workers run until Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(d.cfg.Workers)
	for i := 0; i < d.cfg.Workers; i++ {
		idx := i
		go func() {
			defer d.wg.Done()
			d.worker(ctx, idx)
		}()
	}
	d.log.Info().Int("workers", d.cfg.Workers).Int("batch_size", d.cfg.BatchSize).
		Msg("dispatcher started")
}

// Stop wakes all idle workers and waits for in-flight campaigns to reach a
// batch boundary or terminal state, up to the context deadline.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.log.Info().Msg("dispatcher stopped")
	case <-ctx.Done():
		d.log.Warn().Msg("dispatcher stop timed out; workers draining in background")
	}
}

// Enqueue queues a campaign already transitioned to dispatching. Priority
// orders pickup when worker capacity is constrained; it never preempts an
// in-flight batch.
func (d *Dispatcher) Enqueue(campaignID string, priority model.Priority) {
	d.mu.Lock()
	d.seq++
	heap.Push(&d.queue, queuedCampaign{id: campaignID, weight: priority.Weight(), seq: d.seq})
	depth := d.queue.Len()
	d.mu.Unlock()
	d.cond.Signal()
	d.log.Debug().Str("campaign_id", campaignID).Str("priority", string(priority)).
		Int("queue_depth", depth).Msg("campaign queued for dispatch")
}

// Cancel flags a dispatching campaign. The flag takes effect at the next
// batch boundary: the in-flight batch always completes and its stats are
// kept.
func (d *Dispatcher) Cancel(campaignID string) {
	d.cancelMu.Lock()
	d.cancelled[campaignID] = struct{}{}
	d.cancelMu.Unlock()
	d.log.Info().Str("campaign_id", campaignID).Msg("campaign cancellation requested")
}

func (d *Dispatcher) isCancelled(campaignID string) bool {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	_, ok := d.cancelled[campaignID]
	return ok
}

func (d *Dispatcher) clearCancel(campaignID string) {
	d.cancelMu.Lock()
	delete(d.cancelled, campaignID)
	d.cancelMu.Unlock()
}

func (d *Dispatcher) worker(ctx context.Context, idx int) {
	for {
		d.mu.Lock()
		for d.queue.Len() == 0 && !d.stopped {
			d.cond.Wait()
		}
		if d.stopped {
			d.mu.Unlock()
			return
		}
		item := heap.Pop(&d.queue).(queuedCampaign)
		d.mu.Unlock()

		d.dispatchCampaign(ctx, item.id)
	}
}

// dispatchCampaign runs the full batch sequence for one campaign. Recipient
// delivery failures only move counters; the campaign itself fails only on
// audience resolution, storage writes, or cancellation.
func (d *Dispatcher) dispatchCampaign(ctx context.Context, id string) {
	log := d.log.With().Str("campaign_id", id).Logger()

	c, err := d.campaigns.GetByID(id)
	if err != nil {
		log.Error().Err(err).Msg("dispatch skipped: campaign load failed")
		return
	}
	if c.Status != model.StatusDispatching {
		d.clearCancel(id)
		log.Warn().Str("status", string(c.Status)).Msg("dispatch skipped: campaign not dispatching")
		return
	}
	if d.isCancelled(id) {
		d.fail(c, model.ReasonCancelled, nil)
		return
	}

	started := time.Now()
	audience, err := d.resolver.Resolve(ctx, c.Target)
	if err != nil {
		reason := model.ReasonAudienceResolution
		if errors.Is(err, apperrors.ErrEmptyAudience) {
			reason = model.ReasonEmptyAudience
		}
		d.fail(c, reason, err)
		return
	}
	if err := d.campaigns.SetResolvedAudience(id, len(audience)); err != nil {
		d.fail(c, model.ReasonStorageWriteFailure, err)
		return
	}

	interval := c.Interval
	if interval <= 0 {
		interval = d.cfg.DefaultInterval
	}
	// One token up front, then one per interval: B batches take at least
	// (B-1) * interval of wall time.
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	batchSize := d.cfg.BatchSize
	attempted := make(map[string]struct{}, len(audience)*len(c.Channels))
	batches := 0

	for start := 0; start < len(audience); start += batchSize {
		if d.isCancelled(id) {
			d.fail(c, model.ReasonCancelled, nil)
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			// Process shutdown mid-dispatch; leave the campaign dispatching
			// with the last committed stats.
			log.Warn().Err(err).Int("batches_done", batches).Msg("dispatch interrupted")
			return
		}

		end := start + batchSize
		if end > len(audience) {
			end = len(audience)
		}
		delta := d.sendBatch(ctx, c, audience[start:end], attempted)
		if err := d.campaigns.ApplyBatch(id, delta); err != nil {
			d.fail(c, model.ReasonStorageWriteFailure, apperrors.NewStorageWrite("apply batch", err))
			return
		}
		batches++
	}

	applied, err := d.campaigns.TransitionStatus(id, model.StatusDispatching, model.StatusSent, model.ReasonNone)
	if err != nil {
		log.Error().Err(err).Msg("final transition failed")
		return
	}
	d.clearCancel(id)
	if !applied {
		log.Warn().Msg("campaign left dispatching before completion transition")
		return
	}
	log.Info().Int("recipients", len(audience)).Int("batches", batches).
		Dur("took", time.Since(started)).Msg("campaign dispatched")
}

// sendBatch fans one batch out across the campaign's channels and returns
// the counter delta. Each (recipient, channel) pair is attempted at most
// once per campaign; repeats are recorded as skipped duplicates.
func (d *Dispatcher) sendBatch(ctx context.Context, c *model.Campaign, batch []string, attempted map[string]struct{}) model.BatchDelta {
	delta := model.BatchDelta{PerChannel: map[model.Channel]model.ChannelStats{}}

	for _, recipient := range batch {
		title, body, renderErr := d.renderFor(c, recipient)

		recipientAttempted := false
		recipientFailed := false
		for _, ch := range c.Channels {
			key := recipient + "|" + string(ch)
			if _, dup := attempted[key]; dup {
				d.record(model.DeliveryAttempt{
					CampaignID: c.ID, RecipientID: recipient, Channel: ch,
					Outcome: model.OutcomeSkippedDuplicate, AttemptedAt: time.Now(),
				})
				continue
			}
			attempted[key] = struct{}{}
			recipientAttempted = true

			sendErr := renderErr
			if sendErr == nil {
				sendErr = d.send(ctx, ch, recipient, title, body)
			}

			cs := delta.PerChannel[ch]
			cs.Attempted++
			attempt := model.DeliveryAttempt{
				CampaignID: c.ID, RecipientID: recipient, Channel: ch,
				Outcome: model.OutcomeSuccess, AttemptedAt: time.Now(),
			}
			if sendErr != nil {
				cs.Failed++
				recipientFailed = true
				attempt.Outcome = model.OutcomeFailure
				attempt.ErrorKind = sendErr.Error()
			} else {
				cs.Succeeded++
			}
			delta.PerChannel[ch] = cs
			d.record(attempt)
		}

		if recipientAttempted {
			delta.Attempted++
			if recipientFailed {
				delta.Failed++
			} else {
				delta.Succeeded++
			}
		}
	}
	return delta
}

// renderFor returns the message for one recipient. Static campaigns carry
// their final text; personalized campaigns render their patterns with the
// recipient identifier bound on top of the campaign bindings.
func (d *Dispatcher) renderFor(c *model.Campaign, recipient string) (string, string, error) {
	if !c.Personalized {
		return c.Title, c.Body, nil
	}
	bindings := make(map[string]string, len(c.Bindings)+1)
	for k, v := range c.Bindings {
		bindings[k] = v
	}
	bindings[RecipientBinding] = recipient

	title, err := RenderPattern(c.Title, bindings)
	if err != nil {
		return "", "", err
	}
	body, err := RenderPattern(c.Body, bindings)
	if err != nil {
		return "", "", err
	}
	return title, body, nil
}

func (d *Dispatcher) send(ctx context.Context, ch model.Channel, recipient, title, body string) error {
	adapter, ok := d.adapters.Get(ch)
	if !ok {
		return ErrNoAdapter
	}
	sendCtx := ctx
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}
	return adapter.Send(sendCtx, recipient, title, body)
}

func (d *Dispatcher) record(a model.DeliveryAttempt) {
	if d.recorder != nil {
		d.recorder.Record(a)
	}
}

func (d *Dispatcher) fail(c *model.Campaign, reason model.Reason, cause error) {
	d.clearCancel(c.ID)
	applied, err := d.campaigns.TransitionStatus(c.ID, model.StatusDispatching, model.StatusFailed, reason)
	if err != nil {
		d.log.Error().Str("campaign_id", c.ID).Err(err).Msg("failure transition errored")
		return
	}
	if !applied {
		d.log.Warn().Str("campaign_id", c.ID).Str("reason", string(reason)).
			Msg("failure transition skipped: campaign no longer dispatching")
		return
	}
	evt := d.log.Warn().Str("campaign_id", c.ID).Str("reason", string(reason))
	if cause != nil {
		evt = evt.Err(cause)
	}
	evt.Msg("campaign failed")
}

// queuedCampaign orders eligible campaigns by priority weight, FIFO within
// the same priority.
type queuedCampaign struct {
	id     string
	weight int
	seq    uint64
}

type eligibleQueue []queuedCampaign

func (q eligibleQueue) Len() int { return len(q) }
func (q eligibleQueue) Less(i, j int) bool {
	if q[i].weight != q[j].weight {
		return q[i].weight > q[j].weight
	}
	return q[i].seq < q[j].seq
}
func (q eligibleQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eligibleQueue) Push(x interface{}) { *q = append(*q, x.(queuedCampaign)) }
func (q *eligibleQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
