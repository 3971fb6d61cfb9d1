package coordination

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle coalesces publish requests to at most one per interval. A request
// made too early is not dropped: it becomes a trailing publish at Due.
type Throttle struct {
	lim *rate.Limiter
	due time.Time
}

func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = time.Second
	}
	return &Throttle{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

// Request reports whether to publish now. When it returns false a trailing
// publish is pending.
func (t *Throttle) Request(now time.Time) bool {
	if !t.due.IsZero() {
		return false
	}
	r := t.lim.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		t.due = now.Add(d)
		return false
	}
	return true
}

// Due returns the pending trailing publish time.
func (t *Throttle) Due() (time.Time, bool) {
	return t.due, !t.due.IsZero()
}

// Fire reports whether the trailing publish is due at now and clears it.
func (t *Throttle) Fire(now time.Time) bool {
	if t.due.IsZero() || now.Before(t.due) {
		return false
	}
	t.due = time.Time{}
	return true
}
