package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var ErrSlackDisabled = errors.New("slack disabled")

// Slack posts alerts to an incoming webhook. Rate limits and 5xx answers
// are retried, other failures are returned at once.
type Slack struct {
	Webhook  string
	Client   *http.Client
	Attempts uint
	Backoff  time.Duration
}

func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook:  webhook,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Attempts: 3,
		Backoff:  time.Second,
	}
}

type slackAttachment struct {
	Color    string `json:"color"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Fallback string `json:"fallback"`
	TS       int64  `json:"ts"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

func payload(title, text string, at time.Time) slackPayload {
	color := "good"
	if strings.Contains(title, "DOWN") {
		color = "danger"
	}
	return slackPayload{
		Text: "*" + title + "*",
		Attachments: []slackAttachment{{
			Color:    color,
			Title:    title,
			Text:     text,
			Fallback: title + ": " + text,
			TS:       at.Unix(),
		}},
	}
}

func (s *Slack) Send(ctx context.Context, title, text string) error {
	if s == nil || s.Webhook == "" {
		return ErrSlackDisabled
	}
	body, err := json.Marshal(payload(title, text, time.Now()))
	if err != nil {
		return err
	}
	attempts := s.Attempts
	if attempts == 0 {
		attempts = 1
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.post(ctx, body)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.Backoff)),
		backoff.WithMaxTries(attempts),
	)
	return err
}

func (s *Slack) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("slack request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return backoff.RetryAfter(secs)
		}
		return fmt.Errorf("slack rate limited: %s", resp.Status)
	case resp.StatusCode >= 500:
		return fmt.Errorf("slack non-2xx: %s", resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("slack non-2xx: %s", resp.Status))
	}
}
