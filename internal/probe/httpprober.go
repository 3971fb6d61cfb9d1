package probe

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

type HTTPProber struct {
	Client *http.Client
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		Client: &http.Client{Timeout: timeout},
	}
}

// Probe sends HEAD and falls back to GET when the server rejects HEAD.
// Any 2xx/3xx is up unless the channel lists expected statuses.
func (h *HTTPProber) Probe(ctx context.Context, ch domain.Channel) Result {
	start := time.Now()
	resp, err := h.do(ctx, http.MethodHead, ch.URL)
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		resp, err = h.do(ctx, http.MethodGet, ch.URL)
	}
	latency := sinceMS(start)
	if err != nil {
		return Result{Success: false, Error: err.Error(), LatencyMS: latency}
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 400
	if len(ch.ExpectStatus) > 0 {
		success = slices.Contains(ch.ExpectStatus, resp.StatusCode)
	}
	res := Result{
		Success:    success,
		StatusCode: resp.StatusCode,
		LatencyMS:  latency,
		Details:    map[string]any{"status": resp.Status},
	}
	if !success {
		res.Error = fmt.Sprintf("unexpected status %s", resp.Status)
	}
	return res
}

func (h *HTTPProber) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "healthwatch/1")
	return h.Client.Do(req)
}
