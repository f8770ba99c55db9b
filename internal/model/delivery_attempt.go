package model

import "time"

// Outcome of a single (recipient, channel) send within a campaign.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeFailure          Outcome = "failure"
	OutcomeSkippedDuplicate Outcome = "skipped-duplicate"
)

// DeliveryAttempt records one send outcome. Attempts are aggregated into
// Campaign.Stats rather than persisted individually; deployments needing a
// per-recipient audit trail can sink them through an AttemptRecorder.
type DeliveryAttempt struct {
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id"`
	Channel     Channel   `json:"channel"`
	Outcome     Outcome   `json:"outcome"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}
