package memorystore

import (
	"sort"
	"sync"
	"time"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/repository"
)

// TemplateStore is a mutex-guarded TemplateRepository.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*model.Template
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[string]*model.Template)}
}

func (s *TemplateStore) Create(t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *TemplateStore) GetByID(id string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, apperrors.NewTemplateNotFound(id)
	}
	cp := *t
	return &cp, nil
}

func (s *TemplateStore) List() ([]*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Template, 0, len(s.templates))
	for _, t := range s.templates {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *TemplateStore) IncrementUsage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return apperrors.NewTemplateNotFound(id)
	}
	t.UsageCount++
	return nil
}

func (s *TemplateStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return apperrors.NewTemplateNotFound(id)
	}
	if t.UsageCount > 0 {
		return apperrors.NewTemplateInUse(id)
	}
	delete(s.templates, id)
	return nil
}

var _ repository.TemplateRepository = (*TemplateStore)(nil)
