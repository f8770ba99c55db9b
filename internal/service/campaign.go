package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/repository"
)

// CampaignSpec is the operator input for creating a campaign. The message
// is either literal (Title/Body) or produced from a template plus bindings.
type CampaignSpec struct {
	Title      string
	Body       string
	TemplateID string
	Bindings   map[string]string
	Type       string
	Priority   model.Priority
	Channels   []model.Channel
	Target     model.TargetSpec
	Schedule   model.Schedule
	Interval   time.Duration
}

// CampaignService exposes the campaign operations to callers (HTTP
// handlers, CLIs, tests). All mutable state lives behind the repositories.
type CampaignService struct {
	Campaigns  repository.CampaignRepository
	Templates  *TemplateService
	Scheduler  *Scheduler
	Dispatcher *Dispatcher
	Poller     *StatusPoller

	GraceWindow     time.Duration
	DefaultInterval time.Duration
	Log             zerolog.Logger
}

// CreateCampaign validates the spec and persists the campaign in draft.
// Structural problems reject synchronously with InvalidSpec; template
// rendering problems (unknown template, missing binding) reject here too,
// before the campaign can ever reach pending.
func (s *CampaignService) CreateCampaign(spec CampaignSpec) (*model.Campaign, error) {
	channels, err := validateChannels(spec.Channels)
	if err != nil {
		return nil, err
	}
	priority := spec.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewInvalidSpec("priority", "unknown priority: "+string(priority))
	}
	if err := validateTarget(spec.Target); err != nil {
		return nil, err
	}
	if err := s.validateSchedule(spec.Schedule); err != nil {
		return nil, err
	}

	interval := spec.Interval
	if interval <= 0 {
		interval = s.DefaultInterval
	}

	c := &model.Campaign{
		ID:       uuid.NewString(),
		Title:    spec.Title,
		Body:     spec.Body,
		Type:     spec.Type,
		Priority: priority,
		Channels: channels,
		Target:   spec.Target,
		Schedule: spec.Schedule,
		Status:   model.StatusDraft,
		Interval: interval,
	}
	if c.Type == "" {
		c.Type = string(model.TemplateCustom)
	}

	if spec.TemplateID != "" {
		if err := s.applyTemplate(c, spec); err != nil {
			return nil, err
		}
	} else if strings.TrimSpace(spec.Title) == "" && strings.TrimSpace(spec.Body) == "" {
		return nil, apperrors.NewInvalidSpec("title", "literal campaigns need a title or body")
	}

	if err := s.Campaigns.Create(c); err != nil {
		return nil, err
	}
	s.Log.Info().Str("campaign_id", c.ID).Str("priority", string(c.Priority)).
		Str("schedule", string(c.Schedule.Mode)).Msg("campaign created")
	return c, nil
}

// applyTemplate resolves the campaign's message from its template. Static
// templates render once, here, and the campaign carries the final text.
// Personalized templates are validated here (with the recipient placeholder
// bound) and keep their patterns for per-recipient rendering during
// dispatch. Usage counts once per campaign in both modes.
func (s *CampaignService) applyTemplate(c *model.Campaign, spec CampaignSpec) error {
	t, err := s.Templates.GetTemplate(spec.TemplateID)
	if err != nil {
		return err
	}
	c.TemplateID = t.ID
	c.Bindings = spec.Bindings

	if !t.Personalized {
		title, body, err := s.Templates.Render(t.ID, spec.Bindings)
		if err != nil {
			return err
		}
		c.Title, c.Body = title, body
		return nil
	}

	probe := make(map[string]string, len(spec.Bindings)+1)
	for k, v := range spec.Bindings {
		probe[k] = v
	}
	probe[RecipientBinding] = "probe"
	if _, err := RenderPattern(t.TitlePattern, probe); err != nil {
		return err
	}
	if _, err := RenderPattern(t.BodyPattern, probe); err != nil {
		return err
	}
	if err := s.Templates.Templates.IncrementUsage(t.ID); err != nil {
		return err
	}
	c.Personalized = true
	c.Title, c.Body = t.TitlePattern, t.BodyPattern
	return nil
}

// SubmitCampaign moves a draft campaign to pending and hands it to the
// scheduler.
func (s *CampaignService) SubmitCampaign(id string) error {
	c, err := s.Campaigns.GetByID(id)
	if err != nil {
		return err
	}
	return s.Scheduler.Submit(c)
}

// CancelCampaign cancels a pending or dispatching campaign. For a
// dispatching campaign the cancellation lands at the next batch boundary;
// stats from completed batches are preserved.
func (s *CampaignService) CancelCampaign(id string) error {
	c, err := s.Campaigns.GetByID(id)
	if err != nil {
		return err
	}
	switch c.Status {
	case model.StatusPending:
		s.Scheduler.Disarm(id)
		applied, err := s.Campaigns.TransitionStatus(id, model.StatusPending, model.StatusFailed, model.ReasonCancelled)
		if err != nil {
			return err
		}
		if applied {
			s.Log.Info().Str("campaign_id", id).Msg("pending campaign cancelled")
			return nil
		}
		// Fired between the read and the swap; re-read and flag the
		// dispatcher only if the campaign is actually still running, so a
		// campaign that raced all the way to terminal never leaves a stale
		// cancel flag behind.
		cur, err := s.Campaigns.GetByID(id)
		if err != nil {
			return err
		}
		if cur.Status != model.StatusDispatching {
			return fmt.Errorf("campaign %s cannot be cancelled in status %s", id, cur.Status)
		}
		s.Dispatcher.Cancel(id)
		return nil
	case model.StatusDispatching:
		s.Dispatcher.Cancel(id)
		return nil
	default:
		return fmt.Errorf("campaign %s cannot be cancelled in status %s", id, c.Status)
	}
}

// GetCampaignStatus returns the campaign snapshot through the poller's
// read-only path.
func (s *CampaignService) GetCampaignStatus(id string) (*model.Campaign, error) {
	return s.Poller.Snapshot(id)
}

// ListCampaigns fetches campaigns with pagination and optional filters.
func (s *CampaignService) ListCampaigns(page, pageSize int, status, priority, ctype string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.Campaigns.List(offset, pageSize, status, priority, ctype)
	if err != nil {
		return nil, nil, err
	}
	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

// ArchiveCampaign hides a campaign from listings. Campaigns are never
// deleted.
func (s *CampaignService) ArchiveCampaign(id string) error {
	return s.Campaigns.Archive(id)
}

// RenderPreview renders a template against bindings without counting usage,
// optionally personalizing for a sample recipient.
func (s *CampaignService) RenderPreview(templateID string, bindings map[string]string, sampleRecipient string) (title, body string, err error) {
	t, err := s.Templates.GetTemplate(templateID)
	if err != nil {
		return "", "", err
	}
	merged := make(map[string]string, len(bindings)+1)
	for k, v := range bindings {
		merged[k] = v
	}
	if t.Personalized && sampleRecipient != "" {
		merged[RecipientBinding] = sampleRecipient
	}
	title, err = RenderPattern(t.TitlePattern, merged)
	if err != nil {
		return "", "", err
	}
	body, err = RenderPattern(t.BodyPattern, merged)
	if err != nil {
		return "", "", err
	}
	return title, body, nil
}

func (s *CampaignService) validateSchedule(sch model.Schedule) error {
	switch sch.Mode {
	case model.ScheduleImmediate:
		return nil
	case model.ScheduleAt:
		if sch.FireAt == nil {
			return apperrors.NewInvalidSpec("schedule.fire_at", "scheduled campaigns need a fire time")
		}
		if time.Since(*sch.FireAt) > s.GraceWindow {
			return apperrors.NewInvalidSpec("schedule.fire_at", "fire time is in the past beyond the grace window")
		}
		return nil
	default:
		return apperrors.NewInvalidSpec("schedule.mode", "unknown schedule mode: "+string(sch.Mode))
	}
}

func validateChannels(channels []model.Channel) ([]model.Channel, error) {
	if len(channels) == 0 {
		return nil, apperrors.NewInvalidSpec("channels", "at least one channel is required")
	}
	out := make([]model.Channel, 0, len(channels))
	seen := map[model.Channel]struct{}{}
	for _, ch := range channels {
		if !ch.Valid() {
			return nil, apperrors.NewInvalidSpec("channels", "unknown channel: "+string(ch))
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out, nil
}

func validateTarget(t model.TargetSpec) error {
	set := 0
	if t.Segment != "" {
		switch t.Segment {
		case model.SegmentAll, model.SegmentActive, model.SegmentInactive, model.SegmentVIP:
		default:
			return apperrors.NewInvalidSpec("target.segment", "unknown segment: "+string(t.Segment))
		}
		set++
	}
	if t.RecipientList != "" {
		set++
	}
	if t.UploadRef != "" {
		set++
	}
	if set != 1 {
		return apperrors.NewInvalidSpec("target", "exactly one of segment, recipient_list or upload_ref must be set")
	}
	return nil
}
