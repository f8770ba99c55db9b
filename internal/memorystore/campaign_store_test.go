package memorystore_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/memorystore"
	"github.com/bitpanel/notification-service/internal/model"
)

func seed(t *testing.T, s *memorystore.CampaignStore, id string, status model.Status) {
	t.Helper()
	if err := s.Create(&model.Campaign{ID: id, Title: "t", Status: status}); err != nil {
		t.Fatal(err)
	}
}

func TestTransitionStatusCAS(t *testing.T) {
	s := memorystore.NewCampaignStore()
	seed(t, s, "c1", model.StatusDraft)

	applied, err := s.TransitionStatus("c1", model.StatusDraft, model.StatusPending, model.ReasonNone)
	if err != nil || !applied {
		t.Fatalf("applied=%v err=%v", applied, err)
	}
	// Stale expectation: swap must not apply.
	applied, err = s.TransitionStatus("c1", model.StatusDraft, model.StatusPending, model.ReasonNone)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("stale CAS applied")
	}
}

func TestTransitionStatusRejectsIllegalMove(t *testing.T) {
	s := memorystore.NewCampaignStore()
	seed(t, s, "c1", model.StatusDraft)

	_, err := s.TransitionStatus("c1", model.StatusDraft, model.StatusSent, model.ReasonNone)
	var illegal *apperrors.ErrIllegalTransition
	if !errors.As(err, &illegal) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestTransitionStatusStampsTimestamps(t *testing.T) {
	s := memorystore.NewCampaignStore()
	seed(t, s, "c1", model.StatusPending)

	if _, err := s.TransitionStatus("c1", model.StatusPending, model.StatusDispatching, model.ReasonNone); err != nil {
		t.Fatal(err)
	}
	c, _ := s.GetByID("c1")
	if c.DispatchStartedAt == nil {
		t.Error("dispatch_started_at not stamped")
	}
	if c.CompletedAt != nil {
		t.Error("completed_at stamped early")
	}

	if _, err := s.TransitionStatus("c1", model.StatusDispatching, model.StatusSent, model.ReasonNone); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetByID("c1")
	if c.CompletedAt == nil {
		t.Error("completed_at not stamped on terminal")
	}
}

func TestTransitionStatusConcurrentFireOnce(t *testing.T) {
	s := memorystore.NewCampaignStore()
	seed(t, s, "c1", model.StatusPending)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := s.TransitionStatus("c1", model.StatusPending, model.StatusDispatching, model.ReasonNone)
			if err != nil {
				t.Error(err)
				return
			}
			if applied {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("CAS won %d times, want exactly 1", wins)
	}
}

func TestApplyBatchAccumulates(t *testing.T) {
	s := memorystore.NewCampaignStore()
	seed(t, s, "c1", model.StatusDispatching)

	for i := 0; i < 3; i++ {
		err := s.ApplyBatch("c1", model.BatchDelta{
			Attempted: 2, Succeeded: 2,
			PerChannel: map[model.Channel]model.ChannelStats{
				model.ChannelPush: {Attempted: 2, Succeeded: 2},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	c, _ := s.GetByID("c1")
	if c.Stats.Attempted != 6 || c.Stats.Succeeded != 6 {
		t.Errorf("stats = %+v", c.Stats)
	}
	if c.Stats.PerChannel[model.ChannelPush].Attempted != 6 {
		t.Errorf("per-channel stats = %+v", c.Stats.PerChannel)
	}
}

func TestGetByIDReturnsCopy(t *testing.T) {
	s := memorystore.NewCampaignStore()
	if err := s.Create(&model.Campaign{
		ID: "c1", Title: "t", Status: model.StatusDraft,
		Bindings: map[string]string{"k": "v"},
		Channels: []model.Channel{model.ChannelPush},
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetByID("c1")
	got.Title = "mutated"
	got.Bindings["k"] = "mutated"
	got.Channels[0] = model.ChannelSMS

	again, _ := s.GetByID("c1")
	if again.Title != "t" || again.Bindings["k"] != "v" || again.Channels[0] != model.ChannelPush {
		t.Error("store state mutated through a returned snapshot")
	}
}

func TestListPending(t *testing.T) {
	s := memorystore.NewCampaignStore()
	fireAt := time.Now().Add(time.Hour)
	if err := s.Create(&model.Campaign{
		ID: "sched", Status: model.StatusPending,
		Schedule: model.Schedule{Mode: model.ScheduleAt, FireAt: &fireAt},
	}); err != nil {
		t.Fatal(err)
	}
	seed(t, s, "imm", model.StatusPending)
	seed(t, s, "draft", model.StatusDraft)
	seed(t, s, "done", model.StatusSent)

	got, err := s.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	// Both flavors of pending are recoverable; other statuses are not.
	ids := map[string]bool{}
	for _, c := range got {
		ids[c.ID] = true
	}
	if len(got) != 2 || !ids["sched"] || !ids["imm"] {
		t.Errorf("pending = %v", got)
	}
}

func TestArchiveAndCounts(t *testing.T) {
	s := memorystore.NewCampaignStore()
	seed(t, s, "a", model.StatusDraft)
	seed(t, s, "b", model.StatusDraft)
	if err := s.Archive("a"); err != nil {
		t.Fatal(err)
	}

	list, total, err := s.List(0, 10, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != "b" {
		t.Errorf("list = %v total = %d", list, total)
	}

	counts, err := s.CountByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if counts[model.StatusDraft] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
