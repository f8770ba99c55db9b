package service

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/repository"
)

// RecipientBinding is the placeholder a personalized template binds to the
// recipient identifier during the batch loop.
const RecipientBinding = "username"

// TemplateService manages reusable message templates and resolves a
// template plus variable bindings into a rendered title and body.
type TemplateService struct {
	Templates repository.TemplateRepository
	Log       zerolog.Logger
}

// CreateTemplate validates and persists a new template.
func (s *TemplateService) CreateTemplate(name string, ttype model.TemplateType, titlePattern, bodyPattern string, personalized bool) (*model.Template, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewInvalidSpec("name", "must not be empty")
	}
	if !ttype.Valid() {
		return nil, apperrors.NewInvalidSpec("type", "unknown template type: "+string(ttype))
	}
	if strings.TrimSpace(titlePattern) == "" && strings.TrimSpace(bodyPattern) == "" {
		return nil, apperrors.NewInvalidSpec("pattern", "title and body patterns are both empty")
	}

	t := &model.Template{
		ID:           uuid.NewString(),
		Name:         name,
		Type:         ttype,
		TitlePattern: titlePattern,
		BodyPattern:  bodyPattern,
		Personalized: personalized,
	}
	if err := s.Templates.Create(t); err != nil {
		return nil, err
	}
	s.Log.Info().Str("template_id", t.ID).Str("name", t.Name).Msg("template created")
	return t, nil
}

func (s *TemplateService) ListTemplates() ([]*model.Template, error) {
	return s.Templates.List()
}

func (s *TemplateService) GetTemplate(id string) (*model.Template, error) {
	return s.Templates.GetByID(id)
}

// DeleteTemplate removes a template. Templates with a non-zero usage count
// are kept for audit fidelity and the delete is rejected.
func (s *TemplateService) DeleteTemplate(id string) error {
	return s.Templates.Delete(id)
}

// Render resolves the template's patterns against bindings and increments
// the usage count. Every placeholder must have a binding; a missing key
// fails the render rather than sending a message with a blank hole.
func (s *TemplateService) Render(templateID string, bindings map[string]string) (title, body string, err error) {
	t, err := s.Templates.GetByID(templateID)
	if err != nil {
		return "", "", err
	}
	title, err = RenderPattern(t.TitlePattern, bindings)
	if err != nil {
		return "", "", err
	}
	body, err = RenderPattern(t.BodyPattern, bindings)
	if err != nil {
		return "", "", err
	}
	if err := s.Templates.IncrementUsage(templateID); err != nil {
		return "", "", err
	}
	return title, body, nil
}

// RenderPattern substitutes {name} placeholders in a single pass.
// Substitution is literal and case-sensitive, and substituted values are
// never re-scanned, so a binding value containing "{other}" stays as-is.
func RenderPattern(pattern string, bindings map[string]string) (string, error) {
	var b strings.Builder
	rest := pattern
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		close := strings.IndexByte(rest[open:], '}')
		if close < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		close += open

		key := rest[open+1 : close]
		if key == "" || !validPlaceholderName(key) {
			// Not a placeholder; emit the brace literally and keep scanning.
			b.WriteString(rest[:open+1])
			rest = rest[open+1:]
			continue
		}
		val, ok := bindings[key]
		if !ok {
			return "", apperrors.NewMissingBinding(key)
		}
		b.WriteString(rest[:open])
		b.WriteString(val)
		rest = rest[close+1:]
	}
}

func validPlaceholderName(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}
