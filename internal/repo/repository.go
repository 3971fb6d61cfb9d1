package repo

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

// Ports (interfaces). Every backend implements all of them.

// StateStore persists channel state without the sample ring; samples live in
// SampleStore.
type StateStore interface {
	// GetChannelState returns nil, nil if there's no record yet.
	GetChannelState(ctx context.Context, id domain.ChannelID) (*domain.ChannelState, error)
	SetChannelState(ctx context.Context, st domain.ChannelState) error
	ListChannelStates(ctx context.Context) ([]domain.ChannelState, error)
	DeleteChannelState(ctx context.Context, id domain.ChannelID) error
}

type OutageStore interface {
	// GetOutages returns up to limit newest outages, oldest first. An empty
	// id matches every channel; limit <= 0 means no limit.
	GetOutages(ctx context.Context, id domain.ChannelID, limit int) ([]domain.Outage, error)
	RecordOutage(ctx context.Context, o domain.Outage) error
	UpdateOutage(ctx context.Context, o domain.Outage) error
}

type WatchStore interface {
	// GetCurrentWatchSession returns nil, nil when no session is active.
	GetCurrentWatchSession(ctx context.Context) (*domain.WatchSession, error)
	StartWatchSession(ctx context.Context, ws domain.WatchSession) error
	EndWatchSession(ctx context.Context, ws domain.WatchSession) error
}

type SampleStore interface {
	AppendSample(ctx context.Context, id domain.ChannelID, s domain.Sample) error
	// GetSamples returns samples with start <= timestamp <= end in time order.
	// A zero bound is open.
	GetSamples(ctx context.Context, id domain.ChannelID, start, end time.Time) ([]domain.Sample, error)
}

type Store interface {
	StateStore
	OutageStore
	WatchStore
	SampleStore
	AlertStore
	Close() error
}

var ErrNotFound = errors.New("not found")

// InRange reports start <= t <= end, treating zero bounds as open.
func InRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

// NewestOutages sorts by start time and keeps the newest limit entries.
func NewestOutages(out []domain.Outage, limit int) []domain.Outage {
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
