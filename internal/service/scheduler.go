package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/repository"
)

// DispatchTarget receives fired campaigns. The in-process dispatcher
// satisfies it directly; a queue publisher satisfies it for split
// deployments.
type DispatchTarget interface {
	Enqueue(campaignID string, priority model.Priority)
}

// Scheduler decides when a campaign's batch dispatch begins: immediately on
// submission, or at the campaign's fire time. Fire-once is guaranteed by the
// store's compare-and-swap transition, so re-armed timers and the periodic
// re-scan can race without double-dispatching.
type Scheduler struct {
	campaigns repository.CampaignRepository
	target    DispatchTarget
	grace     time.Duration
	rescan    time.Duration
	log       zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	cron   *cron.Cron
}

func NewScheduler(campaigns repository.CampaignRepository, target DispatchTarget, grace, rescan time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		campaigns: campaigns,
		target:    target,
		grace:     grace,
		rescan:    rescan,
		timers:    map[string]*time.Timer{},
		log:       log,
	}
}

// Start arms the periodic re-scan and recovers pending campaigns persisted
// before the last shutdown.
func (s *Scheduler) Start() error {
	if err := s.Recover(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.rescan)
	if _, err := s.cron.AddFunc(spec, func() {
		if err := s.Recover(); err != nil {
			s.log.Error().Err(err).Msg("scheduled re-scan failed")
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Dur("rescan_every", s.rescan).Msg("scheduler started")
	return nil
}

// Stop halts the re-scan and disarms all timers. Pending campaigns stay in
// the store and are re-armed by the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.log.Info().Msg("scheduler stopped")
}

// Submit moves a draft campaign to pending and schedules its dispatch.
func (s *Scheduler) Submit(c *model.Campaign) error {
	applied, err := s.campaigns.TransitionStatus(c.ID, model.StatusDraft, model.StatusPending, model.ReasonNone)
	if err != nil {
		return err
	}
	if !applied {
		cur, err := s.campaigns.GetByID(c.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("campaign %s cannot be submitted in status %s", c.ID, cur.Status)
	}
	s.schedule(c)
	return nil
}

// schedule fires an immediate campaign right away and arms a timer for a
// scheduled one. A fire time already past the grace window is a
// ScheduleMissed failure, never a silent late fire.
func (s *Scheduler) schedule(c *model.Campaign) {
	if c.Schedule.Mode == model.ScheduleImmediate || c.Schedule.FireAt == nil {
		s.fire(c.ID, c.Priority)
		return
	}

	delay := time.Until(*c.Schedule.FireAt)
	if delay <= -s.grace {
		s.miss(c.ID)
		return
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if old, ok := s.timers[c.ID]; ok {
		old.Stop()
	}
	id, priority := c.ID, c.Priority
	s.timers[c.ID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.fire(id, priority)
	})
	s.mu.Unlock()
	s.log.Info().Str("campaign_id", c.ID).Time("fire_at", *c.Schedule.FireAt).Msg("campaign timer armed")
}

// fire transitions pending -> dispatching and hands the campaign to the
// dispatcher. The CAS makes a duplicate fire a no-op.
func (s *Scheduler) fire(id string, priority model.Priority) {
	applied, err := s.campaigns.TransitionStatus(id, model.StatusPending, model.StatusDispatching, model.ReasonNone)
	if err != nil {
		s.log.Error().Str("campaign_id", id).Err(err).Msg("fire transition failed")
		return
	}
	if !applied {
		s.log.Debug().Str("campaign_id", id).Msg("fire skipped: campaign no longer pending")
		return
	}
	s.target.Enqueue(id, priority)
}

func (s *Scheduler) miss(id string) {
	applied, err := s.campaigns.TransitionStatus(id, model.StatusPending, model.StatusFailed, model.ReasonScheduleMissed)
	if err != nil {
		s.log.Error().Str("campaign_id", id).Err(err).Msg("schedule-missed transition failed")
		return
	}
	if applied {
		s.log.Warn().Str("campaign_id", id).Msg("campaign fire time missed beyond grace window")
	}
}

// Recover re-scans pending campaigns. Immediate ones that crashed between
// the pending swap and their fire go straight out; for scheduled ones,
// overdue within grace fires now, past grace fails as ScheduleMissed, and
// upcoming get their timers (re-)armed. Safe to call repeatedly.
func (s *Scheduler) Recover() error {
	pending, err := s.campaigns.ListPending()
	if err != nil {
		return err
	}
	for _, c := range pending {
		if c.Schedule.FireAt == nil {
			s.fire(c.ID, c.Priority)
			continue
		}
		overdue := time.Since(*c.Schedule.FireAt)
		switch {
		case overdue > s.grace:
			s.miss(c.ID)
		case overdue >= 0:
			s.fire(c.ID, c.Priority)
		default:
			s.schedule(c)
		}
	}
	return nil
}

// Disarm stops a campaign's timer, if armed. Used when an operator cancels
// a pending campaign.
func (s *Scheduler) Disarm(id string) {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}
