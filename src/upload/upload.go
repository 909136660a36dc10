// Package upload posts passing records to a spreadsheet endpoint. Delivery is
// best-effort: each record is attempted once, failures are only reported.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"panel-capture/src/record"
	"panel-capture/src/worker"
)

// TimestampLayout is the format of the first value column.
const TimestampLayout = "2006-01-02 15:04:05"

// Config controls the endpoint and resource bounds.
type Config struct {
	URL         string
	Timeout     time.Duration
	MaxInFlight int
}

// Payload is the request body.
type Payload struct {
	SheetName string   `json:"sheetName"`
	Headers   []string `json:"headers"`
	Values    []string `json:"values"`
}

// Uploader dispatches payloads on a bounded pool.
type Uploader struct {
	url      string
	client   *http.Client
	pool     *worker.Pool
	onStatus func(string)
}

// New returns an uploader. With an empty URL every Upload is a no-op.
func New(cfg Config, onStatus func(string)) *Uploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if onStatus == nil {
		onStatus = func(msg string) { log.Print(msg) }
	}
	u := &Uploader{
		url:      cfg.URL,
		client:   &http.Client{Timeout: cfg.Timeout},
		onStatus: onStatus,
	}
	if u.url != "" {
		// A burst of one record per split must fit even before any worker picks up.
		u.pool = worker.NewWithQueue("upload", cfg.MaxInFlight, cfg.MaxInFlight)
	}
	return u
}

// Enabled reports whether an endpoint is configured.
func (u *Uploader) Enabled() bool { return u.url != "" }

// BuildPayload formats one record as a header row and a value row.
func BuildPayload(sheet string, fields []record.Field, ts time.Time) Payload {
	p := Payload{
		SheetName: sheet,
		Headers:   make([]string, 0, len(fields)+1),
		Values:    make([]string, 0, len(fields)+1),
	}
	p.Headers = append(p.Headers, "Timestamp")
	p.Values = append(p.Values, ts.Format(TimestampLayout))
	for _, f := range fields {
		p.Headers = append(p.Headers, f.Name)
		p.Values = append(p.Values, f.Display())
	}
	return p
}

// Upload queues one record and returns immediately. It reports whether the record
// was dispatched; false means no endpoint or a full queue.
func (u *Uploader) Upload(sheet string, fields []record.Field, ts time.Time) bool {
	if !u.Enabled() {
		return false
	}
	payload := BuildPayload(sheet, fields, ts)
	ok := u.pool.Submit(context.Background(), func(ctx context.Context) error {
		return u.Send(ctx, payload)
	}, func(err error) {
		if err != nil {
			u.onStatus(fmt.Sprintf("Upload failed for %s: %v", sheet, err))
			return
		}
		u.onStatus(fmt.Sprintf("Uploaded %s", sheet))
	})
	if !ok {
		u.onStatus(fmt.Sprintf("Upload dropped for %s: too many uploads in flight", sheet))
	}
	return ok
}

// Send posts payload synchronously.
func (u *Uploader) Send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Close waits for queued uploads to finish.
func (u *Uploader) Close() {
	if u.pool != nil {
		u.pool.Close()
	}
}
