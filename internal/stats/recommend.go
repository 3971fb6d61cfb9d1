package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Rule is one recommendation check. Rules are evaluated in order and every
// matching rule produces a Recommendation.
type Rule struct {
	Name     string
	Priority Priority
	Applies  func(ChannelStats) bool
	Message  func(ChannelStats) string
}

type Recommendation struct {
	ChannelID domain.ChannelID `json:"channelId"`
	Rule      string           `json:"rule"`
	Priority  Priority         `json:"priority"`
	Message   string           `json:"message"`
}

// Thresholds used by DefaultRules.
const (
	LowAvailabilityPct  = 95.0
	HighP95LatencyMS    = 1000.0
	FrequentOutages     = 3
	SlowRecovery        = 10 * time.Minute
	FlappingMinFlaps    = 5
	FlappingSampleRatio = 0.2
)

func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "low_availability",
			Priority: PriorityHigh,
			Applies: func(cs ChannelStats) bool {
				return cs.TotalSamples > 0 && cs.Availability < LowAvailabilityPct
			},
			Message: func(cs ChannelStats) string {
				return fmt.Sprintf("availability %.1f%% is below %.0f%%; top failure: %s",
					cs.Availability, LowAvailabilityPct, cs.TopFailureReason)
			},
		},
		{
			Name:     "high_latency",
			Priority: PriorityMedium,
			Applies:  func(cs ChannelStats) bool { return cs.P95LatencyMS > HighP95LatencyMS },
			Message: func(cs ChannelStats) string {
				return fmt.Sprintf("p95 latency %.0fms exceeds %.0fms", cs.P95LatencyMS, HighP95LatencyMS)
			},
		},
		{
			Name:     "frequent_outages",
			Priority: PriorityMedium,
			Applies:  func(cs ChannelStats) bool { return cs.OutageCount >= FrequentOutages },
			Message: func(cs ChannelStats) string {
				return fmt.Sprintf("%d outages in window; consider raising the failure threshold or fixing the target", cs.OutageCount)
			},
		},
		{
			Name:     "slow_recovery",
			Priority: PriorityLow,
			Applies:  func(cs ChannelStats) bool { return cs.MTTR > SlowRecovery },
			Message: func(cs ChannelStats) string {
				return fmt.Sprintf("mean time to recovery is %s", cs.MTTR.Round(time.Second))
			},
		},
		{
			Name:     "flapping",
			Priority: PriorityLow,
			Applies: func(cs ChannelStats) bool {
				return cs.Flaps >= FlappingMinFlaps &&
					float64(cs.Flaps) >= FlappingSampleRatio*float64(cs.TotalSamples)
			},
			Message: func(cs ChannelStats) string {
				return fmt.Sprintf("status flipped %d times across %d samples", cs.Flaps, cs.TotalSamples)
			},
		},
	}
}

// Recommend evaluates every rule against every channel, then orders the result
// high to medium to low, keeping evaluation order within a priority.
func Recommend(per []ChannelStats, rules []Rule) []Recommendation {
	var out []Recommendation
	for _, cs := range per {
		for _, r := range rules {
			if !r.Applies(cs) {
				continue
			}
			out = append(out, Recommendation{
				ChannelID: cs.ChannelID,
				Rule:      r.Name,
				Priority:  r.Priority,
				Message:   r.Message(cs),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
