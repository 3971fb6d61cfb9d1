package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

var ErrInvalidSample = errors.New("invalid sample")

// Sample is the outcome of one probe execution. Build it with NewSample or
// ParseSample; both validate and copy, so a Sample is never mutated afterwards.
type Sample struct {
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	LatencyMS *float64       `json:"latencyMs,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func NewSample(at time.Time, success bool, latencyMS *float64, errMsg string, details map[string]any) (Sample, error) {
	if at.IsZero() {
		return Sample{}, fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}
	s := Sample{Timestamp: at.UTC(), Success: success, Error: errMsg}
	if latencyMS != nil {
		if *latencyMS < 0 {
			return Sample{}, fmt.Errorf("%w: negative latency %v", ErrInvalidSample, *latencyMS)
		}
		v := *latencyMS
		s.LatencyMS = &v
	}
	if len(details) > 0 {
		s.Details = maps.Clone(details)
	}
	return s, nil
}

// Latency returns the latency in milliseconds and whether it was recorded.
func (s Sample) Latency() (float64, bool) {
	if s.LatencyMS == nil {
		return 0, false
	}
	return *s.LatencyMS, true
}

// field aliases accepted from older persisted shapes, canonical name first
var sampleAliases = map[string][]string{
	"timestamp": {"timestamp", "ts", "t", "time"},
	"success":   {"success", "ok", "up"},
	"latencyMs": {"latencyMs", "latency_ms", "latency", "ms"},
	"error":     {"error", "err", "e", "reason"},
	"details":   {"details", "meta"},
}

func pick(raw map[string]json.RawMessage, field string) (json.RawMessage, bool) {
	for _, k := range sampleAliases[field] {
		if v, ok := raw[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

// ParseSample decodes a persisted sample, accepting legacy short field names
// and either RFC 3339 or unix-millisecond timestamps.
func ParseSample(data []byte) (Sample, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}

	var at time.Time
	if v, ok := pick(raw, "timestamp"); ok {
		var ms int64
		if err := json.Unmarshal(v, &ms); err == nil {
			at = time.UnixMilli(ms)
		} else if err := json.Unmarshal(v, &at); err != nil {
			return Sample{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidSample, err)
		}
	}

	var success bool
	if v, ok := pick(raw, "success"); ok {
		if err := json.Unmarshal(v, &success); err != nil {
			return Sample{}, fmt.Errorf("%w: success: %v", ErrInvalidSample, err)
		}
	}

	var latency *float64
	if v, ok := pick(raw, "latencyMs"); ok {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return Sample{}, fmt.Errorf("%w: latency: %v", ErrInvalidSample, err)
		}
		latency = &f
	}

	var errMsg string
	if v, ok := pick(raw, "error"); ok {
		if err := json.Unmarshal(v, &errMsg); err != nil {
			return Sample{}, fmt.Errorf("%w: error: %v", ErrInvalidSample, err)
		}
	}

	var details map[string]any
	if v, ok := pick(raw, "details"); ok {
		if err := json.Unmarshal(v, &details); err != nil {
			return Sample{}, fmt.Errorf("%w: details: %v", ErrInvalidSample, err)
		}
	}

	return NewSample(at, success, latency, errMsg, details)
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSample(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
