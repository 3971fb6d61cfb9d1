package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/healthwatch/internal/domain"
)

func TestBus_DeliversInOrderAndFilters(t *testing.T) {
	b := NewBus(nil)
	all := b.Subscribe("all")
	onlyState := b.Subscribe("state", StateChanged)

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: SampleReceived, ChannelID: domain.ChannelID(fmt.Sprint(i))})
	}
	b.Publish(Event{Kind: StateChanged, ChannelID: "x"})

	for i := 0; i < 5; i++ {
		e := <-all.C
		assert.Equal(t, domain.ChannelID(fmt.Sprint(i)), e.ChannelID)
		assert.False(t, e.At.IsZero())
	}
	assert.Equal(t, StateChanged, (<-all.C).Kind)

	e := <-onlyState.C
	assert.Equal(t, domain.ChannelID("x"), e.ChannelID)
	select {
	case extra := <-onlyState.C:
		t.Fatalf("unexpected event %v", extra.Kind)
	default:
	}
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(nil)
	slow := b.Subscribe("slow")
	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultBuffer+50; i++ {
			b.Publish(Event{Kind: SampleReceived})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, slow.C, DefaultBuffer)
}

func TestBus_CloseEndsConsume(t *testing.T) {
	b := NewBus(nil)
	s := b.Subscribe("c")
	got := make(chan int, 1)
	go func() {
		n := 0
		Consume(context.Background(), s, func(context.Context, Event) { n++ })
		got <- n
	}()
	b.Publish(Event{Kind: WatchStarted})
	b.Publish(Event{Kind: WatchStopped})
	time.Sleep(20 * time.Millisecond)
	b.Close()
	select {
	case n := <-got:
		require.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return after close")
	}
	b.Publish(Event{Kind: WatchStarted})
	s.Close()
}

func TestBus_DurableKeepsLifecycleWhenFull(t *testing.T) {
	b := NewBus(nil)
	sub := b.SubscribeDurable("recorder")
	plain := b.Subscribe("plain")

	for i := 0; i < DefaultBuffer; i++ {
		b.Publish(Event{Kind: SampleReceived})
	}
	b.Publish(Event{Kind: OutageOpened, ChannelID: "db"})
	b.Publish(Event{Kind: SampleReceived, ChannelID: "db"})
	b.Publish(Event{Kind: OutageClosed, ChannelID: "db"})

	// the plain subscriber lost everything past its buffer
	assert.Len(t, plain.C, DefaultBuffer)

	next := func() Event {
		select {
		case e := <-sub.C:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("no event delivered")
			return Event{}
		}
	}
	for i := 0; i < DefaultBuffer; i++ {
		require.Equal(t, SampleReceived, next().Kind)
	}
	assert.Equal(t, OutageOpened, next().Kind)
	assert.Equal(t, OutageClosed, next().Kind)

	// once caught up, samples flow again
	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return len(sub.pending) == 0
	}, time.Second, 5*time.Millisecond)
	b.Publish(Event{Kind: SampleReceived, ChannelID: "api"})
	assert.Equal(t, domain.ChannelID("api"), next().ChannelID)
}

func TestBus_CloseWithPendingDoesNotHang(t *testing.T) {
	b := NewBus(nil)
	sub := b.SubscribeDurable("recorder", WatchStarted)
	for i := 0; i < DefaultBuffer+10; i++ {
		b.Publish(Event{Kind: WatchStarted})
	}
	done := make(chan struct{})
	go func() {
		sub.Close()
		b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked on pending events")
	}
	n := 0
	for range sub.C {
		n++
	}
	assert.Equal(t, DefaultBuffer, n)
}
