package memorystore

import (
	"context"
	"strconv"
	"sync"

	"github.com/bitpanel/notification-service/internal/model"
)

// StaticDirectory is an in-memory user directory for local runs. Segment
// membership is seeded up front; queries are served in fixed-size pages to
// mirror a paged production directory.
type StaticDirectory struct {
	mu       sync.RWMutex
	segments map[model.Segment][]string
	PageSize int
}

func NewStaticDirectory(pageSize int) *StaticDirectory {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &StaticDirectory{
		segments: make(map[model.Segment][]string),
		PageSize: pageSize,
	}
}

// NewDemoDirectory returns a StaticDirectory pre-seeded with the same demo
// recipients the seeder inserts into Postgres, so segment targeting works in
// DB-less runs.
func NewDemoDirectory(pageSize int) *StaticDirectory {
	d := NewStaticDirectory(pageSize)
	active := []string{"alice", "bob", "carol", "erin", "grace", "heidi"}
	inactive := []string{"dave", "frank"}
	d.SetSegment(model.SegmentActive, active)
	d.SetSegment(model.SegmentInactive, inactive)
	d.SetSegment(model.SegmentVIP, []string{"alice", "erin"})
	d.SetSegment(model.SegmentAll, append(append([]string{}, active...), inactive...))
	return d
}

// SetSegment replaces the membership of a segment.
func (d *StaticDirectory) SetSegment(segment model.Segment, ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.segments[segment] = append([]string(nil), ids...)
}

func (d *StaticDirectory) QueryRecipients(ctx context.Context, segment model.Segment, pageToken string) ([]string, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.segments[segment]
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", err
		}
		offset = n
	}
	if offset >= len(members) {
		return nil, "", nil
	}
	end := offset + d.PageSize
	next := ""
	if end < len(members) {
		next = strconv.Itoa(end)
	} else {
		end = len(members)
	}
	return append([]string(nil), members[offset:end]...), next, nil
}
