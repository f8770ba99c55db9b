// Package apperrors defines the typed errors the notification core reports.
// Recipient-level delivery failures are absorbed into campaign stats and
// never surface here; these types cover synchronous rejections and
// campaign-fatal conditions.
package apperrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is returned when a campaign ID is unknown.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.CampaignID)
}

func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrTemplateNotFound is returned when a template ID is unknown.
type ErrTemplateNotFound struct {
	TemplateID string
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("template %s not found", e.TemplateID)
}

func NewTemplateNotFound(id string) error {
	return &ErrTemplateNotFound{TemplateID: id}
}

// ErrMissingBinding is returned when a pattern placeholder has no value in
// the supplied bindings. Rendering fails fast rather than substituting a
// blank.
type ErrMissingBinding struct {
	Key string
}

func (e *ErrMissingBinding) Error() string {
	return fmt.Sprintf("missing binding for placeholder {%s}", e.Key)
}

func NewMissingBinding(key string) error {
	return &ErrMissingBinding{Key: key}
}

// ErrInvalidSpec rejects malformed campaign or template input before it is
// persisted.
type ErrInvalidSpec struct {
	Field  string
	Detail string
}

func (e *ErrInvalidSpec) Error() string {
	return fmt.Sprintf("invalid spec: %s: %s", e.Field, e.Detail)
}

func NewInvalidSpec(field, detail string) error {
	return &ErrInvalidSpec{Field: field, Detail: detail}
}

// ErrEmptyAudience means target resolution yielded zero recipients.
// Terminal and non-retryable.
var ErrEmptyAudience = errors.New("audience resolved to zero recipients")

// ErrAudienceResolution wraps a directory/query failure. Retryable up to the
// configured attempt budget.
type ErrAudienceResolution struct {
	Err error
}

func (e *ErrAudienceResolution) Error() string {
	return fmt.Sprintf("audience resolution failed: %v", e.Err)
}

func (e *ErrAudienceResolution) Unwrap() error { return e.Err }

func NewAudienceResolution(err error) error {
	return &ErrAudienceResolution{Err: err}
}

// ErrStorageWrite wraps a campaign store write failure. Campaign-fatal: the
// dispatch loop stops advancing instead of losing stats consistency.
type ErrStorageWrite struct {
	Op  string
	Err error
}

func (e *ErrStorageWrite) Error() string {
	return fmt.Sprintf("storage write failed during %s: %v", e.Op, e.Err)
}

func (e *ErrStorageWrite) Unwrap() error { return e.Err }

func NewStorageWrite(op string, err error) error {
	return &ErrStorageWrite{Op: op, Err: err}
}

// ErrTemplateInUse rejects deletion of a template that has rendered at
// least one campaign. Kept for audit fidelity.
type ErrTemplateInUse struct {
	TemplateID string
}

func (e *ErrTemplateInUse) Error() string {
	return fmt.Sprintf("template %s has been used and cannot be deleted", e.TemplateID)
}

func NewTemplateInUse(id string) error {
	return &ErrTemplateInUse{TemplateID: id}
}

// ErrIllegalTransition is returned when a status move violates the
// one-directional state machine, including any regression from a terminal
// state.
type ErrIllegalTransition struct {
	CampaignID string
	From, To   string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("campaign %s: illegal transition %s -> %s", e.CampaignID, e.From, e.To)
}
