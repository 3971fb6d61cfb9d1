package domain

import (
	"encoding/json"
	"time"
)

// MaxOutages caps the in-memory outage log.
const MaxOutages = 500

// Outage is one confirmed downtime interval. StartTime is when the failure
// streak crossed the threshold; FirstFailureTime is the actual onset.
type Outage struct {
	ID                             string        `json:"id"`
	ChannelID                      ChannelID     `json:"channelId"`
	StartTime                      time.Time     `json:"startTime"`
	EndTime                        *time.Time    `json:"endTime,omitempty"`
	Duration                       time.Duration `json:"duration"`
	FirstFailureTime               time.Time     `json:"firstFailureTime"`
	ConfirmedAt                    time.Time     `json:"confirmedAt"`
	ActualDuration                 time.Duration `json:"actualDuration"`
	FailureCountBeforeConfirmation int           `json:"failureCountBeforeConfirmation"`
	Reason                         string        `json:"reason"`
	RecoveryTime                   *time.Time    `json:"recoveryTime,omitempty"`
}

func (o Outage) Open() bool { return o.EndTime == nil }

// MarshalJSON adds durationMs and actualDurationMs next to the nanosecond
// durations.
func (o Outage) MarshalJSON() ([]byte, error) {
	type plain Outage
	return json.Marshal(struct {
		plain
		DurationMS       int64 `json:"durationMs"`
		ActualDurationMS int64 `json:"actualDurationMs"`
	}{plain(o), o.Duration.Milliseconds(), o.ActualDuration.Milliseconds()})
}

// Close ends the outage at `at`, never before StartTime.
func (o *Outage) Close(at time.Time) {
	at = at.UTC()
	if at.Before(o.StartTime) {
		at = o.StartTime
	}
	end := at
	o.EndTime = &end
	o.Duration = at.Sub(o.StartTime)
	if !o.FirstFailureTime.IsZero() {
		o.ActualDuration = at.Sub(o.FirstFailureTime)
	}
	rec := at
	o.RecoveryTime = &rec
}

// Elapsed is the outage length so far; open outages are measured against now.
func (o Outage) Elapsed(now time.Time) time.Duration {
	if o.EndTime != nil {
		return o.Duration
	}
	return now.Sub(o.StartTime)
}

func (o Outage) Clone() Outage {
	out := o
	if o.EndTime != nil {
		t := *o.EndTime
		out.EndTime = &t
	}
	if o.RecoveryTime != nil {
		t := *o.RecoveryTime
		out.RecoveryTime = &t
	}
	return out
}
