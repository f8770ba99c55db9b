// Package memorystore provides in-memory implementations of the repository
// interfaces. They back local development runs without Postgres and the
// service test suites.
package memorystore

import (
	"sort"
	"sync"
	"time"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/repository"
)

// CampaignStore is a mutex-guarded CampaignRepository.
type CampaignStore struct {
	mu        sync.RWMutex
	campaigns map[string]*model.Campaign
}

func NewCampaignStore() *CampaignStore {
	return &CampaignStore{campaigns: make(map[string]*model.Campaign)}
}

func (s *CampaignStore) Create(c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	cp := cloneCampaign(c)
	s.campaigns[c.ID] = cp
	return nil
}

func (s *CampaignStore) GetByID(id string) (*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, apperrors.NewCampaignNotFound(id)
	}
	return cloneCampaign(c), nil
}

func (s *CampaignStore) List(offset, limit int, status, priority, ctype string) ([]*model.Campaign, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []*model.Campaign{}
	for _, c := range s.campaigns {
		if c.Archived {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		if priority != "" && string(c.Priority) != priority {
			continue
		}
		if ctype != "" && c.Type != ctype {
			continue
		}
		matched = append(matched, cloneCampaign(c))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *CampaignStore) TransitionStatus(id string, from, to model.Status, reason model.Reason) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, &apperrors.ErrIllegalTransition{CampaignID: id, From: string(from), To: string(to)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, apperrors.NewCampaignNotFound(id)
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.Reason = reason
	now := time.Now()
	if to == model.StatusDispatching {
		c.DispatchStartedAt = &now
	}
	if to.Terminal() {
		c.CompletedAt = &now
	}
	return true, nil
}

func (s *CampaignStore) SetResolvedAudience(id string, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return apperrors.NewCampaignNotFound(id)
	}
	c.Stats.ResolvedAudienceSize = size
	return nil
}

func (s *CampaignStore) ApplyBatch(id string, delta model.BatchDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return apperrors.NewCampaignNotFound(id)
	}
	c.Stats.Apply(delta)
	return nil
}

func (s *CampaignStore) ListPending() ([]*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Campaign{}
	for _, c := range s.campaigns {
		if c.Status == model.StatusPending {
			out = append(out, cloneCampaign(c))
		}
	}
	return out, nil
}

func (s *CampaignStore) Archive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return apperrors.NewCampaignNotFound(id)
	}
	c.Archived = true
	return nil
}

func (s *CampaignStore) CountByStatus() (map[model.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[model.Status]int{}
	for _, c := range s.campaigns {
		if !c.Archived {
			counts[c.Status]++
		}
	}
	return counts, nil
}

func cloneCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.Channels = append([]model.Channel(nil), c.Channels...)
	if c.Bindings != nil {
		cp.Bindings = make(map[string]string, len(c.Bindings))
		for k, v := range c.Bindings {
			cp.Bindings[k] = v
		}
	}
	if c.Stats.PerChannel != nil {
		cp.Stats.PerChannel = make(map[model.Channel]model.ChannelStats, len(c.Stats.PerChannel))
		for k, v := range c.Stats.PerChannel {
			cp.Stats.PerChannel[k] = v
		}
	}
	return &cp
}

var _ repository.CampaignRepository = (*CampaignStore)(nil)
