package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
	"github.com/hamed0406/healthwatch/internal/repo/memory"
)

type memNotifier struct {
	n      int
	titles []string
	err    error
}

func (m *memNotifier) Send(ctx context.Context, title, text string) error {
	m.n++
	m.titles = append(m.titles, title)
	return m.err
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func opened(id domain.ChannelID) events.Event {
	o := domain.Outage{ID: "o-" + string(id), ChannelID: id, StartTime: base, FirstFailureTime: base, Reason: "timeout"}
	return events.Event{Kind: events.OutageOpened, ChannelID: id, Outage: &o}
}

func closed(id domain.ChannelID, at time.Time) events.Event {
	e := opened(id)
	e.Kind = events.OutageClosed
	e.Outage.Close(at)
	return e
}

func TestAlerter_SendsOnDown_RespectsCooldown(t *testing.T) {
	nt := &memNotifier{}
	al := NewAlerter(memory.New(), nt, AlerterConfig{AlertOnRecovery: true, Cooldown: time.Minute}, nil)
	clock := base
	al.now = func() time.Time { return clock }
	ctx := context.Background()

	al.Handle(ctx, opened("A"))
	if nt.n != 1 {
		t.Fatalf("want 1 alert, got %d", nt.n)
	}

	// flip to UP -> recovery alert bypasses cooldown
	clock = clock.Add(10 * time.Second)
	al.Handle(ctx, closed("A", clock))
	if nt.n != 2 {
		t.Fatalf("want recovery alert, got %d", nt.n)
	}

	// DOWN again within cooldown -> suppressed
	clock = clock.Add(10 * time.Second)
	al.Handle(ctx, opened("A"))
	if nt.n != 2 {
		t.Fatalf("want cooldown to suppress, got %d", nt.n)
	}

	// UP, then DOWN after cooldown -> alerts again
	clock = clock.Add(10 * time.Second)
	al.Handle(ctx, closed("A", clock))
	clock = clock.Add(2 * time.Minute)
	al.Handle(ctx, opened("A"))
	if nt.n != 4 {
		t.Fatalf("want 4 alerts, got %d (%v)", nt.n, nt.titles)
	}
}

func TestAlerter_NoRecoveryIfDisabled(t *testing.T) {
	nt := &memNotifier{}
	al := NewAlerter(memory.New(), nt, AlerterConfig{AlertOnRecovery: false}, nil)
	ctx := context.Background()

	al.Handle(ctx, opened("B"))
	al.Handle(ctx, closed("B", base.Add(time.Minute)))
	if nt.n != 1 {
		t.Fatalf("want only the down alert, got %d", nt.n)
	}
}

func TestAlerter_SkipsMirrored(t *testing.T) {
	nt := &memNotifier{}
	al := NewAlerter(memory.New(), nt, AlerterConfig{}, nil)
	e := opened("C")
	e.Mirrored = true
	al.Handle(context.Background(), e)
	if nt.n != 0 {
		t.Fatalf("mirrored event alerted")
	}
}

func TestAlerter_SendFailureStillRecords(t *testing.T) {
	store := memory.New()
	nt := &memNotifier{err: errors.New("boom")}
	al := NewAlerter(store, nt, AlerterConfig{Cooldown: time.Hour}, nil)
	ctx := context.Background()

	al.Handle(ctx, opened("D"))
	rec, _ := store.GetAlert(ctx, "D")
	if rec == nil || rec.LastStatus != domain.StatusOffline {
		t.Fatalf("alert state not recorded: %+v", rec)
	}
}

func TestMulti_CombinesErrors(t *testing.T) {
	a := &memNotifier{err: errors.New("a")}
	b := &memNotifier{err: errors.New("b")}
	err := Multi{a, nil, b}.Send(context.Background(), "t", "x")
	if err == nil || a.n != 1 || b.n != 1 {
		t.Fatalf("err=%v a=%d b=%d", err, a.n, b.n)
	}
}
