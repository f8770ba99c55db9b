package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/model"
)

// Directory is the external user directory. It returns recipient
// identifiers for a named segment one page at a time; an empty next token
// marks the last page.
type Directory interface {
	QueryRecipients(ctx context.Context, segment model.Segment, pageToken string) (ids []string, next string, err error)
}

// UploadStore fetches the raw contents of a previously uploaded recipient
// list by reference.
type UploadStore interface {
	Fetch(ctx context.Context, ref string) (string, error)
}

var errNoDirectory = errors.New("no user directory configured")

// AudienceResolver expands a target spec into a concrete, deduplicated,
// ordered list of recipient identifiers.
type AudienceResolver struct {
	Directory Directory
	Uploads   UploadStore
	Retries   int           // directory query attempts beyond the first
	Backoff   time.Duration // sleep between directory retries
	Log       zerolog.Logger
}

// Resolve expands the target. It fails with ErrEmptyAudience when zero
// recipients result (terminal, non-retryable) and with ErrAudienceResolution
// when the directory keeps failing past the retry budget.
func (r *AudienceResolver) Resolve(ctx context.Context, target model.TargetSpec) ([]string, error) {
	var (
		ids []string
		err error
	)
	switch {
	case target.RecipientList != "":
		ids = ParseRecipientList(target.RecipientList)
	case target.UploadRef != "":
		if r.Uploads == nil {
			return nil, apperrors.NewInvalidSpec("target.upload_ref", "no upload store configured")
		}
		raw, ferr := r.Uploads.Fetch(ctx, target.UploadRef)
		if ferr != nil {
			return nil, apperrors.NewAudienceResolution(ferr)
		}
		ids = ParseRecipientList(raw)
	case target.Segment != "":
		if r.Directory == nil {
			return nil, apperrors.NewAudienceResolution(errNoDirectory)
		}
		ids, err = r.resolveSegment(ctx, target.Segment)
		if err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.NewInvalidSpec("target", "no segment, recipient list or upload reference")
	}

	if len(ids) == 0 {
		return nil, apperrors.ErrEmptyAudience
	}
	return ids, nil
}

// resolveSegment pages through the directory, merging pages in order and
// deduplicating across page boundaries. Query failures are retried with a
// flat backoff up to the configured budget.
func (r *AudienceResolver) resolveSegment(ctx context.Context, segment model.Segment) ([]string, error) {
	var (
		out   []string
		seen  = map[string]struct{}{}
		token string
	)
	for {
		page, next, err := r.queryWithRetry(ctx, segment, token)
		if err != nil {
			return nil, err
		}
		for _, id := range page {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		if next == "" {
			return out, nil
		}
		token = next
	}
}

func (r *AudienceResolver) queryWithRetry(ctx context.Context, segment model.Segment, token string) ([]string, string, error) {
	var last error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			r.Log.Warn().Str("segment", string(segment)).Int("attempt", attempt).Err(last).
				Msg("directory query retry")
			select {
			case <-ctx.Done():
				return nil, "", apperrors.NewAudienceResolution(ctx.Err())
			case <-time.After(r.Backoff):
			}
		}
		ids, next, err := r.Directory.QueryRecipients(ctx, segment, token)
		if err == nil {
			return ids, next, nil
		}
		last = err
	}
	return nil, "", apperrors.NewAudienceResolution(last)
}

// ParseRecipientList splits a newline- or comma-delimited identifier list,
// trimming whitespace, dropping blanks, and deduplicating while preserving
// first-seen order.
func ParseRecipientList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		id := strings.TrimSpace(f)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
