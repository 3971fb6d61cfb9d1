package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WatchDuration is a watch window length; WatchForever means unbounded.
type WatchDuration time.Duration

const WatchForever WatchDuration = 0

func ParseWatchDuration(s string) (WatchDuration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "forever" {
		return WatchForever, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("watch duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("watch duration %q must be positive", s)
	}
	return WatchDuration(d), nil
}

func (d WatchDuration) Forever() bool { return d == WatchForever }

func (d WatchDuration) String() string {
	if d.Forever() {
		return "forever"
	}
	return time.Duration(d).String()
}

func (d WatchDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *WatchDuration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseWatchDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// WatchSession is a high-frequency monitoring window. While paused, elapsed
// time does not advance and no samples are recorded; existing ones are kept.
type WatchSession struct {
	ID          string                 `json:"id"`
	StartTime   time.Time              `json:"startTime"`
	EndTime     *time.Time             `json:"endTime,omitempty"`
	Duration    WatchDuration          `json:"duration"`
	Samples     map[ChannelID][]Sample `json:"samples,omitempty"`
	Active      bool                   `json:"isActive"`
	Paused      bool                   `json:"paused"`
	PausedAt    *time.Time             `json:"pausedAt,omitempty"`
	PausedTotal time.Duration          `json:"pausedTotal"`
}

func NewWatchSession(id string, start time.Time, d WatchDuration) *WatchSession {
	return &WatchSession{
		ID:        id,
		StartTime: start.UTC(),
		Duration:  d,
		Samples:   make(map[ChannelID][]Sample),
		Active:    true,
	}
}

// Recording reports whether new samples should be appended.
func (w *WatchSession) Recording() bool {
	return w != nil && w.Active && !w.Paused
}

func (w *WatchSession) Record(id ChannelID, s Sample) {
	if !w.Recording() {
		return
	}
	if w.Samples == nil {
		w.Samples = make(map[ChannelID][]Sample)
	}
	w.Samples[id] = appendBounded(w.Samples[id], s, MaxRecentSamples)
}

func (w *WatchSession) Elapsed(now time.Time) time.Duration {
	end := now
	if w.EndTime != nil {
		end = *w.EndTime
	}
	paused := w.PausedTotal
	if w.Paused && w.PausedAt != nil {
		paused += end.Sub(*w.PausedAt)
	}
	el := end.Sub(w.StartTime) - paused
	if el < 0 {
		return 0
	}
	return el
}

// Remaining returns the time left; ok is false for forever sessions.
func (w *WatchSession) Remaining(now time.Time) (left time.Duration, ok bool) {
	if w.Duration.Forever() {
		return 0, false
	}
	left = time.Duration(w.Duration) - w.Elapsed(now)
	if left < 0 {
		left = 0
	}
	return left, true
}

func (w *WatchSession) Pause(now time.Time) bool {
	if !w.Active || w.Paused {
		return false
	}
	at := now.UTC()
	w.Paused = true
	w.PausedAt = &at
	return true
}

func (w *WatchSession) Resume(now time.Time) bool {
	if !w.Active || !w.Paused {
		return false
	}
	if w.PausedAt != nil {
		w.PausedTotal += now.Sub(*w.PausedAt)
	}
	w.Paused = false
	w.PausedAt = nil
	return true
}

func (w *WatchSession) End(now time.Time) {
	if !w.Active {
		return
	}
	if w.Paused {
		w.Resume(now)
	}
	at := now.UTC()
	w.EndTime = &at
	w.Active = false
}

func (w *WatchSession) Clone() *WatchSession {
	if w == nil {
		return nil
	}
	out := *w
	if w.EndTime != nil {
		t := *w.EndTime
		out.EndTime = &t
	}
	if w.PausedAt != nil {
		t := *w.PausedAt
		out.PausedAt = &t
	}
	out.Samples = make(map[ChannelID][]Sample, len(w.Samples))
	for k, v := range w.Samples {
		out.Samples[k] = append([]Sample(nil), v...)
	}
	return &out
}

// Summary is a copy without the sample buffers, used for shared state and events.
func (w *WatchSession) Summary() *WatchSession {
	if w == nil {
		return nil
	}
	out := w.Clone()
	out.Samples = nil
	return out
}
