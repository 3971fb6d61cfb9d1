package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

func httpChannel(url string) domain.Channel {
	return domain.Channel{ID: "h", Type: domain.ChannelHTTP, URL: url}
}

func TestHTTPProber_StatusOK(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer s.Close()

	p := NewHTTPProber(2 * time.Second)
	out := p.Probe(context.Background(), httpChannel(s.URL))
	if !out.Success {
		t.Fatalf("want success, got %+v", out)
	}
	if out.StatusCode != 200 {
		t.Fatalf("want status 200, got %d", out.StatusCode)
	}
	if out.Error != "" {
		t.Fatalf("want no error, got %q", out.Error)
	}
	if out.LatencyMS < 0 {
		t.Fatalf("latency should be >= 0, got %f", out.LatencyMS)
	}
}

func TestHTTPProber_Status500(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", 500)
	}))
	defer s.Close()

	p := NewHTTPProber(2 * time.Second)
	out := p.Probe(context.Background(), httpChannel(s.URL))
	if out.Success {
		t.Fatalf("want failure, got %+v", out)
	}
	if out.StatusCode != 500 {
		t.Fatalf("want status 500, got %d", out.StatusCode)
	}
	if !strings.Contains(out.Error, "500") {
		t.Fatalf("want error to mention 500, got %q", out.Error)
	}
}

func TestHTTPProber_HeadNotAllowedFallsBackToGet(t *testing.T) {
	var methods []string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer s.Close()

	out := NewHTTPProber(2*time.Second).Probe(context.Background(), httpChannel(s.URL))
	if !out.Success || out.StatusCode != http.StatusNoContent {
		t.Fatalf("want 204 success, got %+v", out)
	}
	if len(methods) != 2 || methods[1] != http.MethodGet {
		t.Fatalf("want HEAD then GET, got %v", methods)
	}
}

func TestHTTPProber_ExpectStatus(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer s.Close()

	ch := httpChannel(s.URL)
	ch.ExpectStatus = []int{401}
	if out := NewHTTPProber(2*time.Second).Probe(context.Background(), ch); !out.Success {
		t.Fatalf("401 is expected, got %+v", out)
	}
}

func TestHTTPProber_TimeoutSetsStatusZero(t *testing.T) {
	// Server sleeps longer than client timeout
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer s.Close()

	p := NewHTTPProber(50 * time.Millisecond)
	out := p.Probe(context.Background(), httpChannel(s.URL))
	if out.Success {
		t.Fatalf("want failure due to timeout, got %+v", out)
	}
	if out.StatusCode != 0 {
		t.Fatalf("want status 0 on transport error, got %d", out.StatusCode)
	}
	if out.Error == "" {
		t.Fatalf("want non-empty error message")
	}
}

func TestResult_SampleCarriesStatusCode(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := Result{Success: true, LatencyMS: 12, StatusCode: 204}.Sample(at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Details["statusCode"] != 204 {
		t.Fatalf("want statusCode detail, got %v", s.Details)
	}
	if v, ok := s.Latency(); !ok || v != 12 {
		t.Fatalf("want latency 12, got %v %v", v, ok)
	}
}
