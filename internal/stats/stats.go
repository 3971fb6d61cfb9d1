// Package stats computes availability, latency and outage statistics over
// sample and outage windows. Everything here is pure: no I/O, no clocks.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

const (
	ReasonNoData     = "No data"
	ReasonNoFailures = "No failures"
	ReasonUnknown    = "Unknown error"
)

// Window bounds a computation; a zero Start or End leaves that side open.
type Window struct {
	Start time.Time
	End   time.Time
}

func LastWindow(now time.Time, d time.Duration) Window {
	return Window{Start: now.Add(-d), End: now}
}

func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

func FilterSamples(samples []domain.Sample, w Window) []domain.Sample {
	out := make([]domain.Sample, 0, len(samples))
	for _, s := range samples {
		if w.Contains(s.Timestamp) {
			out = append(out, s)
		}
	}
	return out
}

// FilterOutages keeps outages overlapping the window.
func FilterOutages(outages []domain.Outage, w Window) []domain.Outage {
	out := make([]domain.Outage, 0, len(outages))
	for _, o := range outages {
		if !w.End.IsZero() && o.StartTime.After(w.End) {
			continue
		}
		if !w.Start.IsZero() && o.EndTime != nil && o.EndTime.Before(w.Start) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Availability is successful/total*100, or 0 with no samples.
func Availability(samples []domain.Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	ok := 0
	for _, s := range samples {
		if s.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(samples)) * 100
}

// SuccessLatencies returns the sorted latencies of successful samples.
func SuccessLatencies(samples []domain.Sample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !s.Success {
			continue
		}
		if v, ok := s.Latency(); ok {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// Percentile indexes sorted at floor(n*p), clamped to the last element.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(float64(n) * p))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// MTTR is the mean duration of closed outages.
func MTTR(outages []domain.Outage) time.Duration {
	var total time.Duration
	n := 0
	for _, o := range outages {
		if o.Open() {
			continue
		}
		total += o.Duration
		n++
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// LongestOutage measures open outages up to now.
func LongestOutage(outages []domain.Outage, now time.Time) time.Duration {
	var longest time.Duration
	for _, o := range outages {
		if d := o.Elapsed(now); d > longest {
			longest = d
		}
	}
	return longest
}

func TotalDowntime(outages []domain.Outage, now time.Time) time.Duration {
	var total time.Duration
	for _, o := range outages {
		total += o.Elapsed(now)
	}
	return total
}

// TopFailureReason is the most frequent non-empty error among failed samples.
// Ties resolve to the reason seen first.
func TopFailureReason(samples []domain.Sample) string {
	if len(samples) == 0 {
		return ReasonNoData
	}
	counts := make(map[string]int)
	var order []string
	failed := 0
	for _, s := range samples {
		if s.Success {
			continue
		}
		failed++
		if s.Error == "" {
			continue
		}
		if counts[s.Error] == 0 {
			order = append(order, s.Error)
		}
		counts[s.Error]++
	}
	if failed == 0 {
		return ReasonNoFailures
	}
	best, bestN := ReasonUnknown, 0
	for _, r := range order {
		if counts[r] > bestN {
			best, bestN = r, counts[r]
		}
	}
	return best
}

// Flaps counts success/failure alternations in timestamp order.
func Flaps(samples []domain.Sample) int {
	flaps := 0
	for i := 1; i < len(samples); i++ {
		if samples[i].Success != samples[i-1].Success {
			flaps++
		}
	}
	return flaps
}

type ChannelStats struct {
	ChannelID         domain.ChannelID `json:"channelId"`
	Status            domain.Status    `json:"status"`
	TotalSamples      int              `json:"totalSamples"`
	SuccessfulSamples int              `json:"successfulSamples"`
	FailedSamples     int              `json:"failedSamples"`
	Availability      float64          `json:"availability"`
	P50LatencyMS      float64          `json:"p50LatencyMs"`
	P95LatencyMS      float64          `json:"p95LatencyMs"`
	AvgLatencyMS      float64          `json:"avgLatencyMs"`
	MinLatencyMS      float64          `json:"minLatencyMs"`
	MaxLatencyMS      float64          `json:"maxLatencyMs"`
	OutageCount       int              `json:"outageCount"`
	MTTR              time.Duration    `json:"mttr"`
	LongestOutage     time.Duration    `json:"longestOutage"`
	TotalDowntime     time.Duration    `json:"totalDowntime"`
	MTTRMS            int64            `json:"mttrMs"`
	LongestOutageMS   int64            `json:"longestOutageMs"`
	TotalDowntimeMS   int64            `json:"totalDowntimeMs"`
	TopFailureReason  string           `json:"topFailureReason"`
	Flaps             int              `json:"flaps"`
	LastSampleAt      *time.Time       `json:"lastSampleAt,omitempty"`
}

type Input struct {
	ChannelID domain.ChannelID
	Status    domain.Status
	Samples   []domain.Sample
	Outages   []domain.Outage
	Now       time.Time
}

func ForChannel(in Input) ChannelStats {
	samples := append([]domain.Sample(nil), in.Samples...)
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	cs := ChannelStats{
		ChannelID:        in.ChannelID,
		Status:           in.Status,
		TotalSamples:     len(samples),
		Availability:     Availability(samples),
		OutageCount:      len(in.Outages),
		MTTR:             MTTR(in.Outages),
		LongestOutage:    LongestOutage(in.Outages, in.Now),
		TotalDowntime:    TotalDowntime(in.Outages, in.Now),
		TopFailureReason: TopFailureReason(samples),
		Flaps:            Flaps(samples),
	}
	cs.MTTRMS = cs.MTTR.Milliseconds()
	cs.LongestOutageMS = cs.LongestOutage.Milliseconds()
	cs.TotalDowntimeMS = cs.TotalDowntime.Milliseconds()
	if cs.Status == "" {
		cs.Status = domain.StatusUnknown
	}
	for _, s := range samples {
		if s.Success {
			cs.SuccessfulSamples++
		} else {
			cs.FailedSamples++
		}
	}
	if n := len(samples); n > 0 {
		last := samples[n-1].Timestamp
		cs.LastSampleAt = &last
	}

	lat := SuccessLatencies(samples)
	if len(lat) > 0 {
		cs.P50LatencyMS = Percentile(lat, 0.50)
		cs.P95LatencyMS = Percentile(lat, 0.95)
		cs.MinLatencyMS = lat[0]
		cs.MaxLatencyMS = lat[len(lat)-1]
		var sum float64
		for _, v := range lat {
			sum += v
		}
		cs.AvgLatencyMS = sum / float64(len(lat))
	}
	return cs
}
