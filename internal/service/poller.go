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

// Overview is the aggregate view the poller refreshes on its cadence.
type Overview struct {
	ByStatus    map[model.Status]int `json:"by_status"`
	RefreshedAt time.Time            `json:"refreshed_at"`
}

// StatusPoller is the read-only statistics path. It never mutates campaign
// state; it reads the latest committed counters, so observers see consistent
// stats even while batches are in flight.
type StatusPoller struct {
	campaigns repository.CampaignRepository
	every     time.Duration
	log       zerolog.Logger

	mu       sync.RWMutex
	overview Overview
	cron     *cron.Cron
}

func NewStatusPoller(campaigns repository.CampaignRepository, every time.Duration, log zerolog.Logger) *StatusPoller {
	return &StatusPoller{
		campaigns: campaigns,
		every:     every,
		log:       log,
		overview:  Overview{ByStatus: map[model.Status]int{}},
	}
}

// Start begins the periodic refresh.
func (p *StatusPoller) Start() error {
	p.refresh()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}
	p.cron = cron.New()
	if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.every), p.refresh); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

func (p *StatusPoller) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Snapshot returns a campaign's current state, including the latest
// committed stats.
func (p *StatusPoller) Snapshot(campaignID string) (*model.Campaign, error) {
	return p.campaigns.GetByID(campaignID)
}

// Overview returns the cached aggregate refreshed on the poll cadence.
func (p *StatusPoller) Overview() Overview {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := Overview{ByStatus: make(map[model.Status]int, len(p.overview.ByStatus)), RefreshedAt: p.overview.RefreshedAt}
	for k, v := range p.overview.ByStatus {
		out.ByStatus[k] = v
	}
	return out
}

func (p *StatusPoller) refresh() {
	counts, err := p.campaigns.CountByStatus()
	if err != nil {
		p.log.Error().Err(err).Msg("overview refresh failed")
		return
	}
	p.mu.Lock()
	p.overview = Overview{ByStatus: counts, RefreshedAt: time.Now()}
	p.mu.Unlock()
}
