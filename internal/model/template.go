package model

import "time"

// TemplateType categorizes reusable message templates.
type TemplateType string

const (
	TemplateWelcome   TemplateType = "welcome"
	TemplatePromotion TemplateType = "promotion"
	TemplateReminder  TemplateType = "reminder"
	TemplateAlert     TemplateType = "alert"
	TemplateCustom    TemplateType = "custom"
)

// Valid reports whether t is one of the known template types.
func (t TemplateType) Valid() bool {
	switch t {
	case TemplateWelcome, TemplatePromotion, TemplateReminder, TemplateAlert, TemplateCustom:
		return true
	}
	return false
}

// Template is a reusable parametrized title/body pattern. Placeholders use
// the {name} syntax and are substituted literally, case-sensitive.
//
// A static template is rendered once per campaign with the campaign's
// bindings. A personalized template is rendered once per recipient, with
// {username} bound to the recipient identifier on top of the campaign
// bindings. UsageCount increments once per campaign either way.
type Template struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         TemplateType `json:"type"`
	TitlePattern string       `json:"title_pattern"`
	BodyPattern  string       `json:"body_pattern"`
	Personalized bool         `json:"personalized"`
	UsageCount   int          `json:"usage_count"`
	CreatedAt    time.Time    `json:"created_at"`
}
