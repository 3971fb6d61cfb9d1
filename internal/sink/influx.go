// Package sink exports probe samples to InfluxDB.
package sink

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/events"
)

// Writer is the blocking write API; api.WriteAPIBlocking satisfies it.
type Writer interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Influx struct {
	client influxdb2.Client
	writer Writer
	log    *zap.Logger
}

func NewInflux(url, token, org, bucket string, log *zap.Logger) *Influx {
	client := influxdb2.NewClient(url, token)
	s := New(client.WriteAPIBlocking(org, bucket), log)
	s.client = client
	return s
}

func New(w Writer, log *zap.Logger) *Influx {
	if log == nil {
		log = zap.NewNop()
	}
	return &Influx{writer: w, log: log}
}

func (s *Influx) Subscribe(bus *events.Bus) *events.Subscription {
	return bus.Subscribe("influx", events.SampleReceived, events.StateChanged)
}

// Handle writes one point per local sample or state change. Mirrored events
// were already exported by the leader.
func (s *Influx) Handle(ctx context.Context, e events.Event) {
	if e.Mirrored {
		return
	}
	p := point(e)
	if p == nil {
		return
	}
	if err := s.writer.WritePoint(ctx, p); err != nil {
		s.log.Warn("influx_write_failed", zap.String("channel_id", string(e.ChannelID)), zap.Error(err))
	}
}

func point(e events.Event) *write.Point {
	switch e.Kind {
	case events.SampleReceived:
		if e.Sample == nil {
			return nil
		}
		p := influxdb2.NewPointWithMeasurement("channel_sample").
			AddTag("channel", string(e.ChannelID)).
			AddField("success", e.Sample.Success).
			SetTime(e.Sample.Timestamp)
		if lat, ok := e.Sample.Latency(); ok {
			p.AddField("latency_ms", lat)
		}
		if e.Sample.Error != "" {
			p.AddField("error", e.Sample.Error)
		}
		return p
	case events.StateChanged:
		return influxdb2.NewPointWithMeasurement("channel_state").
			AddTag("channel", string(e.ChannelID)).
			AddField("from", string(e.From)).
			AddField("to", string(e.To)).
			SetTime(e.At)
	}
	return nil
}

func (s *Influx) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
