package stats

import (
	"sort"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

type GlobalStats struct {
	Channels          int              `json:"channels"`
	Online            int              `json:"online"`
	Offline           int              `json:"offline"`
	Unknown           int              `json:"unknown"`
	TotalSamples      int              `json:"totalSamples"`
	Availability      float64          `json:"availability"`
	TotalOutages      int              `json:"totalOutages"`
	MTTR              time.Duration    `json:"mttr"`
	MTTRMS            int64            `json:"mttrMs"`
	BestChannel       domain.ChannelID `json:"bestChannel,omitempty"`
	BestAvailability  float64          `json:"bestAvailability"`
	WorstChannel      domain.ChannelID `json:"worstChannel,omitempty"`
	WorstAvailability float64          `json:"worstAvailability"`
}

// Global aggregates per-channel results. Availability is weighted by sample
// count; channels without samples are counted but never ranked best or worst.
func Global(per []ChannelStats) GlobalStats {
	g := GlobalStats{Channels: len(per)}
	ok := 0
	var mttrSum time.Duration
	mttrN := 0
	ranked := false
	for _, cs := range per {
		switch cs.Status {
		case domain.StatusOnline:
			g.Online++
		case domain.StatusOffline:
			g.Offline++
		default:
			g.Unknown++
		}
		g.TotalSamples += cs.TotalSamples
		ok += cs.SuccessfulSamples
		g.TotalOutages += cs.OutageCount
		if cs.MTTR > 0 {
			mttrSum += cs.MTTR
			mttrN++
		}
		if cs.TotalSamples == 0 {
			continue
		}
		if !ranked || cs.Availability > g.BestAvailability {
			g.BestChannel, g.BestAvailability = cs.ChannelID, cs.Availability
		}
		if !ranked || cs.Availability < g.WorstAvailability {
			g.WorstChannel, g.WorstAvailability = cs.ChannelID, cs.Availability
		}
		ranked = true
	}
	if g.TotalSamples > 0 {
		g.Availability = float64(ok) / float64(g.TotalSamples) * 100
	}
	if mttrN > 0 {
		g.MTTR = mttrSum / time.Duration(mttrN)
		g.MTTRMS = g.MTTR.Milliseconds()
	}
	return g
}

type Breach struct {
	ChannelID    domain.ChannelID `json:"channelId"`
	Availability float64          `json:"availability"`
	Target       float64          `json:"target"`
	Shortfall    float64          `json:"shortfall"`
}

// SLOBreaches lists channels with data whose availability is below target,
// worst first.
func SLOBreaches(per []ChannelStats, target float64) []Breach {
	var out []Breach
	for _, cs := range per {
		if cs.TotalSamples == 0 || cs.Availability >= target {
			continue
		}
		out = append(out, Breach{
			ChannelID:    cs.ChannelID,
			Availability: cs.Availability,
			Target:       target,
			Shortfall:    target - cs.Availability,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Shortfall > out[j].Shortfall })
	return out
}

func WorstBreach(per []ChannelStats, target float64) (Breach, bool) {
	b := SLOBreaches(per, target)
	if len(b) == 0 {
		return Breach{}, false
	}
	return b[0], true
}
