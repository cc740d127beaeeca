package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/procpool/internal/history"
)

// Sink sends events to OpenSearch via HTTP.
// It constructs URL as: baseURL + "/" + index + "/_doc" and POSTs JSON body.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

// document flattens an event into the shape indexed by OpenSearch.
type document struct {
	RunID      string    `json:"run_id"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	Program    string    `json:"program"`
	Args       []string  `json:"args"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Output     string    `json:"output"`
	SpawnErr   string    `json:"spawn_error,omitempty"`
	OutputErr  string    `json:"output_error,omitempty"`
}

func newDocument(e history.Event) document {
	rec := e.Record
	args := rec.Args
	if args == nil {
		args = []string{}
	}
	return document{
		RunID:      e.RunID,
		Event:      string(e.Type),
		OccurredAt: e.OccurredAt,
		Name:       rec.Name,
		Program:    rec.Program,
		Args:       args,
		PID:        rec.PID,
		ExitCode:   rec.ExitCode,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		DurationMS: rec.Duration().Milliseconds(),
		Output:     rec.Output,
		SpawnErr:   rec.SpawnErr,
		OutputErr:  rec.OutputErr,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	b, err := json.Marshal(newDocument(e))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
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
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
