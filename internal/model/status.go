package model

// Status is the campaign lifecycle state.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusPending     Status = "pending"
	StatusDispatching Status = "dispatching"
	StatusSent        Status = "sent"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal one-directional move.
// Legal chains: draft -> pending -> dispatching -> {sent, failed}, plus
// pending -> failed (schedule missed, cancelled before fire).
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusPending
	case StatusPending:
		return to == StatusDispatching || to == StatusFailed
	case StatusDispatching:
		return to == StatusSent || to == StatusFailed
	default:
		return false
	}
}

// Reason explains why a campaign ended in StatusFailed.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonEmptyAudience       Reason = "EmptyAudience"
	ReasonAudienceResolution  Reason = "AudienceResolutionError"
	ReasonScheduleMissed      Reason = "ScheduleMissed"
	ReasonCancelled           Reason = "Cancelled"
	ReasonStorageWriteFailure Reason = "StorageWriteFailure"
)

// Priority affects ordering across concurrently eligible campaigns.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight maps a priority to its ordering rank; higher dispatches first.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
