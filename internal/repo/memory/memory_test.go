package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/repo"
)

var t0 = time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

func TestMemoryStore_ChannelState(t *testing.T) {
	ctx := context.Background()
	s := New()

	got, err := s.GetChannelState(ctx, "api")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %+v %v", got, err)
	}

	st := domain.NewChannelState("api", t0)
	st.Status = domain.StatusOffline
	st.Push(domain.Sample{Timestamp: t0})
	if err := s.SetChannelState(ctx, st); err != nil {
		t.Fatalf("SetChannelState: %v", err)
	}
	got, err = s.GetChannelState(ctx, "api")
	if err != nil || got == nil {
		t.Fatalf("GetChannelState: %+v %v", got, err)
	}
	if got.Status != domain.StatusOffline {
		t.Fatalf("unexpected status %s", got.Status)
	}
	if len(got.Samples) != 0 {
		t.Fatalf("samples must not be stored with state, got %d", len(got.Samples))
	}

	all, _ := s.ListChannelStates(ctx)
	if len(all) != 1 {
		t.Fatalf("expected 1 state, got %d", len(all))
	}
	if err := s.DeleteChannelState(ctx, "api"); err != nil {
		t.Fatalf("DeleteChannelState: %v", err)
	}
	all, _ = s.ListChannelStates(ctx)
	if len(all) != 0 {
		t.Fatalf("expected no states after delete, got %d", len(all))
	}
}

func TestMemoryStore_OutagesNewestLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, id := range []string{"a", "b", "c"} {
		o := domain.Outage{ID: id, ChannelID: "api", StartTime: t0.Add(time.Duration(i) * time.Minute)}
		if err := s.RecordOutage(ctx, o); err != nil {
			t.Fatalf("RecordOutage: %v", err)
		}
	}
	_ = s.RecordOutage(ctx, domain.Outage{ID: "z", ChannelID: "web", StartTime: t0})

	got, _ := s.GetOutages(ctx, "api", 2)
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected outages %+v", got)
	}
	all, _ := s.GetOutages(ctx, "", 0)
	if len(all) != 4 {
		t.Fatalf("expected 4 outages, got %d", len(all))
	}

	closed := got[1]
	closed.Close(t0.Add(time.Hour))
	if err := s.UpdateOutage(ctx, closed); err != nil {
		t.Fatalf("UpdateOutage: %v", err)
	}
	if err := s.UpdateOutage(ctx, domain.Outage{ID: "missing"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SamplesRange(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 5; i++ {
		_ = s.AppendSample(ctx, "api", domain.Sample{Timestamp: t0.Add(time.Duration(i) * time.Minute), Success: true})
	}
	got, err := s.GetSamples(ctx, "api", t0.Add(time.Minute), t0.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("GetSamples: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	all, _ := s.GetSamples(ctx, "api", time.Time{}, time.Time{})
	if len(all) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(all))
	}
}

func TestMemoryStore_WatchSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	ws := domain.NewWatchSession("w1", t0, domain.WatchForever)
	if err := s.StartWatchSession(ctx, *ws); err != nil {
		t.Fatalf("StartWatchSession: %v", err)
	}
	cur, _ := s.GetCurrentWatchSession(ctx)
	if cur == nil || cur.ID != "w1" {
		t.Fatalf("expected current session w1, got %+v", cur)
	}
	ws.End(t0.Add(time.Minute))
	_ = s.EndWatchSession(ctx, *ws)
	cur, _ = s.GetCurrentWatchSession(ctx)
	if cur != nil {
		t.Fatalf("expected no current session, got %+v", cur)
	}
}

func TestMemoryStore_Alerts(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec, err := s.GetAlert(ctx, "api")
	if err != nil || rec != nil {
		t.Fatalf("expected nil, got %+v err=%v", rec, err)
	}
	_ = s.SetAlert(ctx, "api", domain.StatusOffline, time.Time{})
	rec, _ = s.GetAlert(ctx, "api")
	if rec == nil || rec.LastSentAt != nil || rec.LastStatus != domain.StatusOffline {
		t.Fatalf("unexpected: %+v", rec)
	}
	_ = s.SetAlert(ctx, "api", domain.StatusOnline, t0)
	rec, _ = s.GetAlert(ctx, "api")
	if rec == nil || rec.LastSentAt == nil || !rec.LastSentAt.Equal(t0) {
		t.Fatalf("unexpected2: %+v", rec)
	}
}
