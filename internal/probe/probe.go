package probe

import (
	"context"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

// Result is the unified outcome of one probe.
//
// StatusCode is the HTTP status when available and 0 otherwise. Probe
// failures are reported here, never as Go errors.
type Result struct {
	Success    bool
	LatencyMS  float64
	Error      string
	StatusCode int
	Details    map[string]any
}

// Prober runs one probe against a channel. Implementations must honour
// ctx cancellation; the caller sets the deadline.
type Prober interface {
	Probe(ctx context.Context, ch domain.Channel) Result
}

type ProberFunc func(ctx context.Context, ch domain.Channel) Result

func (f ProberFunc) Probe(ctx context.Context, ch domain.Channel) Result { return f(ctx, ch) }

// Sample converts the result into a validated sample taken at `at`.
func (r Result) Sample(at time.Time) (domain.Sample, error) {
	lat := r.LatencyMS
	if lat < 0 {
		lat = 0
	}
	details := r.Details
	if r.StatusCode != 0 {
		details = make(map[string]any, len(r.Details)+1)
		for k, v := range r.Details {
			details[k] = v
		}
		details["statusCode"] = r.StatusCode
	}
	return domain.NewSample(at, r.Success, &lat, r.Error, details)
}

func sinceMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
