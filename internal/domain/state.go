package domain

import "time"

// MaxRecentSamples bounds the per-channel sample ring.
const MaxRecentSamples = 1000

// ChannelState is the live health record of one channel.
// ConsecutiveFailures > 0 if and only if FirstFailure is set.
type ChannelState struct {
	ChannelID           ChannelID  `json:"channelId"`
	Status              Status     `json:"status"`
	LastSample          *Sample    `json:"lastSample,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastStateChange     time.Time  `json:"lastStateChangeTimestamp"`
	BackoffMultiplier   float64    `json:"backoffMultiplier"`
	FirstFailure        *time.Time `json:"firstFailureTimestamp,omitempty"`
	Samples             []Sample   `json:"samples,omitempty"`
}

func NewChannelState(id ChannelID, now time.Time) ChannelState {
	return ChannelState{
		ChannelID:         id,
		Status:            StatusUnknown,
		LastStateChange:   now.UTC(),
		BackoffMultiplier: 1,
	}
}

// Push appends s to the ring, dropping the oldest entries past MaxRecentSamples.
func (st *ChannelState) Push(s Sample) {
	st.Samples = appendBounded(st.Samples, s, MaxRecentSamples)
	last := s
	st.LastSample = &last
}

// Clone deep-copies the state so callers can hold it outside a lock.
func (st ChannelState) Clone() ChannelState {
	out := st
	if st.LastSample != nil {
		s := *st.LastSample
		out.LastSample = &s
	}
	if st.FirstFailure != nil {
		t := *st.FirstFailure
		out.FirstFailure = &t
	}
	if st.Samples != nil {
		out.Samples = append([]Sample(nil), st.Samples...)
	}
	return out
}

// Reduced drops all but the newest keep samples from the ring.
func (st ChannelState) Reduced(keep int) ChannelState {
	out := st.Clone()
	if len(out.Samples) > keep {
		out.Samples = out.Samples[len(out.Samples)-keep:]
	}
	return out
}

func appendBounded(buf []Sample, s Sample, max int) []Sample {
	buf = append(buf, s)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
