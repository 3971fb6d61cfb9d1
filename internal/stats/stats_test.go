package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/healthwatch/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(i int, ok bool, ms float64, errMsg string) domain.Sample {
	s := domain.Sample{Timestamp: t0.Add(time.Duration(i) * time.Second), Success: ok, Error: errMsg}
	if ms >= 0 {
		v := ms
		s.LatencyMS = &v
	}
	return s
}

func TestPercentile_P95OfTenValuesIsLargest(t *testing.T) {
	var samples []domain.Sample
	for i := 10; i >= 1; i-- {
		samples = append(samples, sample(i, true, float64(i*10), ""))
	}
	lat := SuccessLatencies(samples)
	require.Len(t, lat, 10)
	assert.Equal(t, 100.0, Percentile(lat, 0.95))
	assert.Equal(t, 60.0, Percentile(lat, 0.50))
	assert.Equal(t, 0.0, Percentile(nil, 0.95))
}

func TestAvailability_SevenOfTen(t *testing.T) {
	var samples []domain.Sample
	for i := 0; i < 10; i++ {
		samples = append(samples, sample(i, i < 7, 5, ""))
	}
	assert.InDelta(t, 70.0, Availability(samples), 1e-9)
	assert.Equal(t, 0.0, Availability(nil))
}

func TestSuccessLatencies_IgnoresFailuresAndMissing(t *testing.T) {
	samples := []domain.Sample{
		sample(0, true, 30, ""),
		sample(1, false, 9000, "timeout"),
		sample(2, true, -1, ""),
		sample(3, true, 10, ""),
	}
	assert.Equal(t, []float64{10, 30}, SuccessLatencies(samples))
}

func TestTopFailureReason(t *testing.T) {
	assert.Equal(t, ReasonNoData, TopFailureReason(nil))
	assert.Equal(t, ReasonNoFailures, TopFailureReason([]domain.Sample{sample(0, true, 1, "")}))
	assert.Equal(t, ReasonUnknown, TopFailureReason([]domain.Sample{sample(0, false, -1, "")}))

	samples := []domain.Sample{
		sample(0, false, -1, "refused"),
		sample(1, false, -1, "timeout"),
		sample(2, false, -1, "timeout"),
		sample(3, true, 1, "ignored"),
		sample(4, false, -1, ""),
	}
	assert.Equal(t, "timeout", TopFailureReason(samples))
}

func closedOutage(start time.Time, d time.Duration) domain.Outage {
	o := domain.Outage{ID: start.String(), StartTime: start, FirstFailureTime: start.Add(-time.Minute)}
	o.Close(start.Add(d))
	return o
}

func TestMTTRAndLongest(t *testing.T) {
	outages := []domain.Outage{
		closedOutage(t0, 2*time.Minute),
		closedOutage(t0.Add(time.Hour), 4*time.Minute),
		{ID: "open", StartTime: t0.Add(2 * time.Hour)},
	}
	assert.Equal(t, 3*time.Minute, MTTR(outages))
	now := t0.Add(2*time.Hour + 10*time.Minute)
	assert.Equal(t, 10*time.Minute, LongestOutage(outages, now))
	assert.Equal(t, 16*time.Minute, TotalDowntime(outages, now))
	assert.Equal(t, time.Duration(0), MTTR(nil))
}

func TestForChannel_MillisecondDurations(t *testing.T) {
	outages := []domain.Outage{
		closedOutage(t0, 2*time.Minute),
		closedOutage(t0.Add(time.Hour), 4*time.Minute),
	}
	cs := ForChannel(Input{ChannelID: "api", Outages: outages, Now: t0.Add(2 * time.Hour)})
	assert.Equal(t, int64(180_000), cs.MTTRMS)
	assert.Equal(t, int64(240_000), cs.LongestOutageMS)
	assert.Equal(t, int64(360_000), cs.TotalDowntimeMS)

	g := Global([]ChannelStats{cs})
	assert.Equal(t, int64(180_000), g.MTTRMS)
}

func TestFilterOutages_Overlap(t *testing.T) {
	outages := []domain.Outage{
		closedOutage(t0, time.Minute),
		closedOutage(t0.Add(time.Hour), time.Minute),
		{ID: "open", StartTime: t0.Add(-24 * time.Hour)},
	}
	got := FilterOutages(outages, Window{Start: t0.Add(30 * time.Minute), End: t0.Add(2 * time.Hour)})
	require.Len(t, got, 2)
	assert.Equal(t, outages[1].ID, got[0].ID)
	assert.Equal(t, "open", got[1].ID)
}

func TestForChannel(t *testing.T) {
	samples := []domain.Sample{
		sample(2, false, -1, "boom"),
		sample(0, true, 20, ""),
		sample(1, true, 40, ""),
		sample(3, true, 60, ""),
	}
	cs := ForChannel(Input{ChannelID: "api", Status: domain.StatusOnline, Samples: samples, Now: t0})
	assert.Equal(t, 4, cs.TotalSamples)
	assert.Equal(t, 3, cs.SuccessfulSamples)
	assert.Equal(t, 1, cs.FailedSamples)
	assert.InDelta(t, 75.0, cs.Availability, 1e-9)
	assert.Equal(t, 20.0, cs.MinLatencyMS)
	assert.Equal(t, 60.0, cs.MaxLatencyMS)
	assert.InDelta(t, 40.0, cs.AvgLatencyMS, 1e-9)
	assert.Equal(t, "boom", cs.TopFailureReason)
	assert.Equal(t, 2, cs.Flaps)
	require.NotNil(t, cs.LastSampleAt)
	assert.Equal(t, t0.Add(3*time.Second), *cs.LastSampleAt)
}

func TestGlobal_BestWorstAndCounts(t *testing.T) {
	per := []ChannelStats{
		{ChannelID: "a", Status: domain.StatusOnline, TotalSamples: 10, SuccessfulSamples: 10, Availability: 100},
		{ChannelID: "b", Status: domain.StatusOffline, TotalSamples: 10, SuccessfulSamples: 5, Availability: 50, OutageCount: 1},
		{ChannelID: "c", Status: domain.StatusUnknown},
	}
	g := Global(per)
	assert.Equal(t, 3, g.Channels)
	assert.Equal(t, 1, g.Online)
	assert.Equal(t, 1, g.Offline)
	assert.Equal(t, 1, g.Unknown)
	assert.Equal(t, domain.ChannelID("a"), g.BestChannel)
	assert.Equal(t, domain.ChannelID("b"), g.WorstChannel)
	assert.InDelta(t, 75.0, g.Availability, 1e-9)
	assert.Equal(t, 1, g.TotalOutages)
}

func TestSLOBreaches_WorstFirst(t *testing.T) {
	per := []ChannelStats{
		{ChannelID: "a", TotalSamples: 5, Availability: 99.5},
		{ChannelID: "b", TotalSamples: 5, Availability: 80},
		{ChannelID: "c", TotalSamples: 5, Availability: 95},
		{ChannelID: "empty"},
	}
	br := SLOBreaches(per, 99.9)
	require.Len(t, br, 3)
	assert.Equal(t, domain.ChannelID("b"), br[0].ChannelID)

	worst, ok := WorstBreach(per, 90)
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID("b"), worst.ChannelID)
	assert.InDelta(t, 10.0, worst.Shortfall, 1e-9)

	_, ok = WorstBreach(per, 50)
	assert.False(t, ok)
}

func TestRecommend_AllMatchingRulesHighFirst(t *testing.T) {
	per := []ChannelStats{
		{ChannelID: "ok", TotalSamples: 100, Availability: 100, P95LatencyMS: 50},
		{ChannelID: "bad", TotalSamples: 100, Availability: 90, P95LatencyMS: 1200, TopFailureReason: "timeout"},
	}
	recs := Recommend(per, DefaultRules())
	require.Len(t, recs, 2)
	assert.Equal(t, "low_availability", recs[0].Rule)
	assert.Equal(t, PriorityHigh, recs[0].Priority)
	assert.Equal(t, "high_latency", recs[1].Rule)
	assert.Equal(t, PriorityMedium, recs[1].Priority)
	for _, r := range recs {
		assert.Equal(t, domain.ChannelID("bad"), r.ChannelID)
	}
}

func TestRecommend_StableWithinPriority(t *testing.T) {
	rules := []Rule{
		{Name: "low1", Priority: PriorityLow, Applies: func(ChannelStats) bool { return true }, Message: func(ChannelStats) string { return "" }},
		{Name: "high", Priority: PriorityHigh, Applies: func(ChannelStats) bool { return true }, Message: func(ChannelStats) string { return "" }},
		{Name: "low2", Priority: PriorityLow, Applies: func(ChannelStats) bool { return true }, Message: func(ChannelStats) string { return "" }},
	}
	recs := Recommend([]ChannelStats{{ChannelID: "x"}}, rules)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"high", "low1", "low2"}, []string{recs[0].Rule, recs[1].Rule, recs[2].Rule})
}
