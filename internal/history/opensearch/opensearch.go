// Package opensearch indexes worker lifecycle events into an OpenSearch (or
// Elasticsearch) index, one flat document per event.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/botvisor/internal/history"
)

// maxErrBody caps how much of a rejected response ends up in the error.
const maxErrBody = 256

// Sink posts events to baseURL/index/_doc.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

// workerDoc flattens an event so dashboards can filter on worker and event
// without nested mappings.
type workerDoc struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	Worker    string    `json:"worker"`
	PID       int       `json:"pid,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	Removed   []string  `json:"removed,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func newWorkerDoc(e history.Event) workerDoc {
	return workerDoc{
		Timestamp: e.OccurredAt.UTC(),
		Event:     string(e.Type),
		Worker:    e.Record.Name,
		PID:       e.Record.PID,
		Forced:    e.Record.Forced,
		Removed:   e.Record.Removed,
		Error:     e.Record.Error,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(newWorkerDoc(e))
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	u := s.baseURL + "/" + s.index + "/_doc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return fmt.Errorf("opensearch index %s: status %d: %s", s.index, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
