package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type client struct {
	base string
	key  string
	http *http.Client
}

func newClient(base, key string) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		key:  key,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Status int
	Msg    string `json:"error"`
	Leader string `json:"leader"`
}

func (e *apiError) Error() string {
	if e.Leader != "" {
		return fmt.Sprintf("%s (HTTP %d, leader is %s)", e.Msg, e.Status, e.Leader)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Msg, e.Status)
}

func (c *client) header() http.Header {
	h := http.Header{}
	if c.key != "" {
		h.Set("X-API-Key", c.key)
	}
	return h
}

// do sends body as JSON and decodes the response into out when non-nil.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header = c.header()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(e); err != nil || e.Msg == "" {
			e.Msg = resp.Status
		}
		return e
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// wsURL maps the API base onto its websocket scheme.
func (c *client) wsURL(path string) string {
	switch {
	case strings.HasPrefix(c.base, "https://"):
		return "wss://" + strings.TrimPrefix(c.base, "https://") + path
	case strings.HasPrefix(c.base, "http://"):
		return "ws://" + strings.TrimPrefix(c.base, "http://") + path
	}
	return c.base + path
}
