package model

import "time"

// Segment names a directory-backed audience group.
type Segment string

const (
	SegmentAll      Segment = "all"
	SegmentActive   Segment = "active"
	SegmentInactive Segment = "inactive"
	SegmentVIP      Segment = "vip"
)

// TargetSpec describes which recipients a campaign should reach.
// Exactly one of Segment, RecipientList or UploadRef is set.
type TargetSpec struct {
	Segment       Segment `json:"segment,omitempty"`
	RecipientList string  `json:"recipient_list,omitempty"` // newline- or comma-delimited IDs
	UploadRef     string  `json:"upload_ref,omitempty"`     // reference to an uploaded list
}

type ScheduleMode string

const (
	ScheduleImmediate ScheduleMode = "immediate"
	ScheduleAt        ScheduleMode = "scheduled"
)

// Schedule decides when batch dispatch begins.
type Schedule struct {
	Mode   ScheduleMode `json:"mode"`
	FireAt *time.Time   `json:"fire_at,omitempty"`
}

// ChannelStats is the per-channel delivery breakdown.
type ChannelStats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Stats are the campaign-level delivery counters. Invariant at every
// observation point: Succeeded+Failed == Attempted <= ResolvedAudienceSize.
type Stats struct {
	ResolvedAudienceSize int                      `json:"resolved_audience_size"`
	Attempted            int                      `json:"attempted"`
	Succeeded            int                      `json:"succeeded"`
	Failed               int                      `json:"failed"`
	PerChannel           map[Channel]ChannelStats `json:"per_channel,omitempty"`
}

// Campaign is a single notification send operation: one audience, one
// message, one or more channels, and a lifecycle status.
type Campaign struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id,omitempty"`
	Bindings   map[string]string `json:"bindings,omitempty"`
	// Personalized campaigns keep patterns in Title/Body and render once per
	// recipient during dispatch; static campaigns carry the final text.
	Personalized bool `json:"personalized,omitempty"`
	Type       string            `json:"type"`
	Priority   Priority          `json:"priority"`
	Channels   []Channel         `json:"channels"`
	Target     TargetSpec        `json:"target"`
	Schedule   Schedule          `json:"schedule"`
	Status     Status            `json:"status"`
	Reason     Reason            `json:"reason,omitempty"`
	Stats      Stats             `json:"stats"`
	Interval   time.Duration     `json:"interval"` // sleep between batches
	Archived   bool              `json:"archived"`

	CreatedAt         time.Time  `json:"created_at"`
	DispatchStartedAt *time.Time `json:"dispatch_started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// BatchDelta is the counter increment applied atomically after each batch.
type BatchDelta struct {
	Attempted  int
	Succeeded  int
	Failed     int
	PerChannel map[Channel]ChannelStats
}

// Apply folds a delta into the stats in place.
func (s *Stats) Apply(d BatchDelta) {
	s.Attempted += d.Attempted
	s.Succeeded += d.Succeeded
	s.Failed += d.Failed
	if len(d.PerChannel) == 0 {
		return
	}
	if s.PerChannel == nil {
		s.PerChannel = make(map[Channel]ChannelStats, len(d.PerChannel))
	}
	for ch, cs := range d.PerChannel {
		cur := s.PerChannel[ch]
		cur.Attempted += cs.Attempted
		cur.Succeeded += cs.Succeeded
		cur.Failed += cs.Failed
		s.PerChannel[ch] = cur
	}
}
