package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"panel-capture/src/clipboard"
	"panel-capture/src/extract"
	"panel-capture/src/logutil"
	"panel-capture/src/record"
	"panel-capture/src/singleinstance"
	"panel-capture/src/upload"
	"panel-capture/src/validate"
)

var ErrNoGrabber = errors.New("Grab is required")

type GrabFunc func() (image.Image, error)

type ExtractFunc func(ctx context.Context, img image.Image) []extract.Record

type UploadFunc func(sheet string, fields []record.Field, ts time.Time) bool

type Archiver interface {
	Save(img image.Image, at time.Time) (string, error)
}

type ResultTarget interface {
	OnSuccess(res Result) error
	OnFailure(err error) error
}

// Runner executes capture cycles one at a time.
type Runner struct {
	Grab    GrabFunc
	Extract ExtractFunc
	Upload  UploadFunc
	Archive Archiver

	mu sync.Mutex
}

type Result struct {
	ID       string
	Records  []extract.Record
	Uploaded int
}

// Passing returns the records whose verdict is Pass.
func (r Result) Passing() []extract.Record {
	var out []extract.Record
	for _, rec := range r.Records {
		if rec.Result.Verdict == validate.Pass {
			out = append(out, rec)
		}
	}
	return out
}

// Execute runs one cycle: grab, archive, extract, upload passing records, deliver.
// Concurrent calls wait for the running cycle.
func (r *Runner) Execute(ctx context.Context, target ResultTarget) (Result, error) {
	if r.Grab == nil {
		return Result{}, ErrNoGrabber
	}
	if target == nil {
		target = LogTarget{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Result{ID: uuid.NewString()}
	tag := logutil.ShortID(res.ID)
	start := time.Now()

	img, err := r.Grab()
	if err != nil {
		err = fmt.Errorf("capture failed: %w", err)
		_ = target.OnFailure(err)
		return res, err
	}
	if r.Archive != nil {
		if path, err := r.Archive.Save(img, start); err != nil {
			log.Printf("[%s] archive: %v", tag, err)
		} else if path != "" {
			log.Printf("[%s] archived %s", tag, path)
		}
	}

	if r.Extract != nil {
		res.Records = r.Extract(ctx, img)
	}
	for _, rec := range res.Records {
		log.Printf("[%s] region x=%d w=%d tab=%s fields=%d verdict=%s", tag, rec.Region.X, rec.Region.Width, rec.Tab, len(rec.Fields), rec.Result.Text)
		if rec.Result.Verdict != validate.Pass || r.Upload == nil {
			continue
		}
		if r.Upload(rec.TabName(), rec.Fields, rec.CapturedAt) {
			res.Uploaded++
		}
	}
	log.Printf("[%s] cycle done in %v (%d regions, %d uploads)", tag, time.Since(start).Round(time.Millisecond), len(res.Records), res.Uploaded)

	if err := target.OnSuccess(res); err != nil {
		_ = target.OnFailure(err)
		return res, err
	}
	return res, nil
}

// Report is the JSON shape of one record.
type Report struct {
	Region struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"region"`
	Tab        string        `json:"tab"`
	Fields     []FieldReport `json:"fields"`
	Verdict    string        `json:"verdict"`
	Message    string        `json:"message"`
	CapturedAt time.Time     `json:"capturedAt"`
}

type FieldReport struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Value   string `json:"value"`
}

// Reports converts records to their JSON shape.
func Reports(records []extract.Record) []Report {
	out := make([]Report, 0, len(records))
	for _, rec := range records {
		var rep Report
		rep.Region.X = rec.Region.X
		rep.Region.Y = rec.Region.Y
		rep.Region.Width = rec.Region.Width
		rep.Region.Height = rec.Region.Height
		rep.Tab = rec.Tab
		rep.Fields = make([]FieldReport, 0, len(rec.Fields))
		for _, f := range rec.Fields {
			rep.Fields = append(rep.Fields, FieldReport{Name: f.Name, Outcome: f.Outcome.String(), Value: f.Display()})
		}
		rep.Verdict = rec.Result.Verdict.String()
		rep.Message = rec.Result.Text
		rep.CapturedAt = rec.CapturedAt
		out = append(out, rep)
	}
	return out
}

// EncodeJSON renders records as an indented JSON array.
func EncodeJSON(records []extract.Record) ([]byte, error) {
	return json.MarshalIndent(Reports(records), "", "  ")
}

// Table returns a header and value row per passing record, in upload layout.
func Table(records []extract.Record) [][]string {
	var rows [][]string
	for _, rec := range records {
		if rec.Result.Verdict != validate.Pass {
			continue
		}
		p := upload.BuildPayload(rec.TabName(), rec.Fields, rec.CapturedAt)
		rows = append(rows, p.Headers, p.Values)
	}
	return rows
}

// LogTarget only logs failures; records are already logged by the runner.
type LogTarget struct{}

func (LogTarget) OnSuccess(Result) error { return nil }

func (LogTarget) OnFailure(err error) error {
	log.Printf("Capture cycle failed: %v", err)
	return nil
}

// StatusTarget forwards a one-line summary to a status sink (tray tooltip, etc.).
type StatusTarget struct {
	Notify func(string)
}

func (t StatusTarget) OnSuccess(res Result) error {
	if t.Notify != nil {
		t.Notify(Summary(res))
	}
	return nil
}

func (t StatusTarget) OnFailure(err error) error {
	if t.Notify != nil {
		t.Notify(err.Error())
	}
	return nil
}

// Summary is a short description of a cycle result.
func Summary(res Result) string {
	if len(res.Records) == 1 {
		rec := res.Records[0]
		return fmt.Sprintf("%s: %s", rec.TabName(), rec.Result.Text)
	}
	return fmt.Sprintf("%d regions, %d passed, %d uploaded", len(res.Records), len(res.Passing()), res.Uploaded)
}

type ClipboardTarget struct{}

func (ClipboardTarget) OnSuccess(res Result) error {
	rows := Table(res.Records)
	if len(rows) == 0 {
		return errors.New("no passing records to copy")
	}
	return clipboard.WriteTable(rows)
}

func (ClipboardTarget) OnFailure(err error) error {
	return nil
}

type StdoutTarget struct {
	Writer io.Writer
}

func (t StdoutTarget) OnSuccess(res Result) error {
	w := t.Writer
	if w == nil {
		w = os.Stdout
	}
	data, err := EncodeJSON(res.Records)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func (t StdoutTarget) OnFailure(err error) error {
	return nil
}

type DelegatedTarget struct {
	Conn singleinstance.Conn
}

func (t DelegatedTarget) OnSuccess(res Result) error {
	if t.Conn == nil {
		return errors.New("delegated target missing connection")
	}
	data, err := EncodeJSON(res.Records)
	if err != nil {
		return err
	}
	return t.Conn.RespondSuccess(string(data))
}

func (t DelegatedTarget) OnFailure(err error) error {
	if t.Conn == nil {
		return nil
	}
	if err == nil {
		return t.Conn.RespondError("unknown session error")
	}
	return t.Conn.RespondError(err.Error())
}
