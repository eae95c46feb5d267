// Package status implements the client of the status API, which tracks
// traces of logical ingestion attempts.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Trace describes one logical ingestion attempt.
type Trace struct {
	Domain    string    `json:"domain"`
	DomainID  string    `json:"domain_id"`
	Component string    `json:"component"`
	Operation string    `json:"operation"`
	User      string    `json:"user"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	S3Path    string    `json:"s3_path,omitempty"`
}

// Component is the component name recorded on every trace.
const Component = "data-uploader"

// Client posts traces to the status API.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// NewClient returns a Client of the status API at url.
func NewClient(url string) *Client {
	return &Client{URL: url, HTTPClient: http.DefaultClient}
}

// StartTrace records a new trace and returns its id.
func (c *Client) StartTrace(ctx context.Context, trace Trace) (string, error) {
	trace.Component = Component
	if trace.Domain == "" {
		trace.Domain = "dataset"
	}

	var body, err = c.post(ctx, trace)
	if err != nil {
		return "", fmt.Errorf("creating status trace: %w", err)
	}

	var out struct {
		TraceID string `json:"trace_id"`
	}
	if err = json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("parsing status trace response: %w", err)
	}
	return out.TraceID, nil
}

// Finish marks the trace as FINISHED.
func (c *Client) Finish(ctx context.Context, traceID string) error {
	var _, err = c.post(ctx, map[string]string{
		"trace_id":     traceID,
		"trace_status": "FINISHED",
	})
	if err != nil {
		return fmt.Errorf("finishing status trace %s: %w", traceID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload interface{}) ([]byte, error) {
	var body, _ = json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST", c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status API returned %d", resp.StatusCode)
	}
	return out, nil
}
