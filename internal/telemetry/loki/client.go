// Package loki pushes security events to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"token-lifecycle/backend/internal/telemetry/domain"
)

// JobLabel is the job label on every stream this client writes.
const JobLabel = "token-lifecycle"

const defaultTimeout = 10 * time.Second

// ErrNoBaseURL is returned by NewClient when the Loki URL is empty.
var ErrNoBaseURL = errors.New("loki: base URL is empty")

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// Loki label values: keep them to a safe alphabet.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Client writes to one Loki instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for baseURL (e.g. http://localhost:3100). httpClient may be nil.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

// Labels returns the stream labels for e. Only low-cardinality fields become labels; user and
// device ids stay in the log line.
func Labels(e *domain.Event) map[string]string {
	labels := map[string]string{"job": JobLabel}
	add := func(k, v string) {
		if s := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); s != "" {
			labels[k] = s
		}
	}
	add("event_type", e.EventType)
	add("source", e.Source)
	add("severity", string(e.Severity))
	return labels
}

// Emit pushes e as one JSON log line stamped with its creation time. Client satisfies
// telemetry.EventEmitter.
func (c *Client) Emit(ctx context.Context, e *domain.Event) error {
	if e == nil {
		return nil
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return c.Push(ctx, ts, string(line), Labels(e))
}

// Push sends a single log line. Returns an error if the request fails or Loki returns non-2xx.
func (c *Client) Push(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	body := PushRequest{
		Streams: []Stream{{
			Stream: labels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
