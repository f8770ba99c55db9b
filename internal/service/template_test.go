package service_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/memorystore"
	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/service"
)

func newTemplateService() *service.TemplateService {
	return &service.TemplateService{
		Templates: memorystore.NewTemplateStore(),
		Log:       zerolog.Nop(),
	}
}

func TestRenderSubstitutesBindings(t *testing.T) {
	svc := newTemplateService()
	tpl, err := svc.CreateTemplate("greeting", model.TemplateWelcome,
		"Hi {username}", "You have {amount} USDT", false)
	if err != nil {
		t.Fatal(err)
	}

	title, body, err := svc.Render(tpl.ID, map[string]string{"username": "alice", "amount": "10"})
	if err != nil {
		t.Fatal(err)
	}
	if title != "Hi alice" {
		t.Errorf("title = %q, want %q", title, "Hi alice")
	}
	if body != "You have 10 USDT" {
		t.Errorf("body = %q, want %q", body, "You have 10 USDT")
	}
}

func TestRenderMissingBinding(t *testing.T) {
	svc := newTemplateService()
	tpl, err := svc.CreateTemplate("greeting", model.TemplateWelcome,
		"Hi {username}", "You have {amount} USDT", false)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = svc.Render(tpl.ID, map[string]string{"username": "alice"})
	var missing *apperrors.ErrMissingBinding
	if !errors.As(err, &missing) {
		t.Fatalf("expected ErrMissingBinding, got %v", err)
	}
	if missing.Key != "amount" {
		t.Errorf("missing key = %q, want %q", missing.Key, "amount")
	}

	// A failed render must not count as usage.
	got, err := svc.GetTemplate(tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageCount != 0 {
		t.Errorf("usage count = %d, want 0", got.UsageCount)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	svc := newTemplateService()
	_, _, err := svc.Render("nope", nil)
	var notFound *apperrors.ErrTemplateNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestRenderIsNotRecursive(t *testing.T) {
	out, err := service.RenderPattern("{a} and {b}", map[string]string{
		"a": "value-with-{b}",
		"b": "plain",
	})
	if err != nil {
		t.Fatal(err)
	}
	// The substituted value must not be re-scanned.
	if out != "value-with-{b} and plain" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderLeavesNonPlaceholderBraces(t *testing.T) {
	out, err := service.RenderPattern("set {x} to {not valid} ok", map[string]string{"x": "1"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "set 1 to {not valid} ok" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderIsCaseSensitive(t *testing.T) {
	_, err := service.RenderPattern("Hi {Username}", map[string]string{"username": "alice"})
	var missing *apperrors.ErrMissingBinding
	if !errors.As(err, &missing) {
		t.Fatalf("expected ErrMissingBinding for case mismatch, got %v", err)
	}
}

func TestUsageCountIncrementsPerRender(t *testing.T) {
	svc := newTemplateService()
	tpl, err := svc.CreateTemplate("promo", model.TemplatePromotion, "Deal", "Big deal", false)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Render(tpl.ID, nil); err != nil {
			t.Fatal(err)
		}
	}
	got, err := svc.GetTemplate(tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageCount != 3 {
		t.Errorf("usage count = %d, want 3", got.UsageCount)
	}
}

func TestDeleteTemplatePolicy(t *testing.T) {
	svc := newTemplateService()
	tpl, err := svc.CreateTemplate("promo", model.TemplatePromotion, "Deal", "Big deal", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Render(tpl.ID, nil); err != nil {
		t.Fatal(err)
	}

	err = svc.DeleteTemplate(tpl.ID)
	var inUse *apperrors.ErrTemplateInUse
	if !errors.As(err, &inUse) {
		t.Fatalf("expected ErrTemplateInUse, got %v", err)
	}

	fresh, err := svc.CreateTemplate("unused", model.TemplateCustom, "t", "b", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteTemplate(fresh.ID); err != nil {
		t.Fatalf("unused template should delete: %v", err)
	}
}

func TestCreateTemplateValidation(t *testing.T) {
	svc := newTemplateService()

	cases := []struct {
		name         string
		tname        string
		ttype        model.TemplateType
		title, body  string
	}{
		{"empty name", "", model.TemplateWelcome, "t", "b"},
		{"bad type", "x", model.TemplateType("nope"), "t", "b"},
		{"empty patterns", "x", model.TemplateWelcome, " ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateTemplate(tc.tname, tc.ttype, tc.title, tc.body, false)
			var invalid *apperrors.ErrInvalidSpec
			if !errors.As(err, &invalid) {
				t.Fatalf("expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}
