package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
)

type fakeWriter struct {
	points []*write.Point
	err    error
}

func (f *fakeWriter) WritePoint(ctx context.Context, p ...*write.Point) error {
	f.points = append(f.points, p...)
	return f.err
}

func TestHandle_WritesSamplePoint(t *testing.T) {
	w := &fakeWriter{}
	s := New(w, nil)
	at := time.Date(2025, 2, 2, 2, 2, 2, 0, time.UTC)
	lat := 42.0
	smp := domain.Sample{Timestamp: at, Success: true, LatencyMS: &lat}

	s.Handle(context.Background(), events.Event{Kind: events.SampleReceived, ChannelID: "api", Sample: &smp})
	require.Len(t, w.points, 1)
	p := w.points[0]
	assert.Equal(t, "channel_sample", p.Name())
	assert.Equal(t, at, p.Time())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "api", p.TagList()[0].Value)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, true, fields["success"])
	assert.Equal(t, 42.0, fields["latency_ms"])
}

func TestHandle_SkipsMirroredAndUnrelated(t *testing.T) {
	w := &fakeWriter{}
	s := New(w, nil)
	smp := domain.Sample{Timestamp: time.Now()}

	s.Handle(context.Background(), events.Event{Kind: events.SampleReceived, Sample: &smp, Mirrored: true})
	s.Handle(context.Background(), events.Event{Kind: events.OutageOpened})
	assert.Empty(t, w.points)
}

func TestHandle_WriteErrorIsSwallowed(t *testing.T) {
	w := &fakeWriter{err: errors.New("influx down")}
	s := New(w, nil)
	s.Handle(context.Background(), events.Event{Kind: events.StateChanged, ChannelID: "api", From: domain.StatusOnline, To: domain.StatusOffline, At: time.Now()})
	assert.Len(t, w.points, 1)
}
