package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"panel-capture/src/extract"
	"panel-capture/src/features"
	"panel-capture/src/preprocess"
	"panel-capture/src/record"
	"panel-capture/src/roi"
	"panel-capture/src/settings"
	"panel-capture/src/singleinstance"
	"panel-capture/src/splitter"
	"panel-capture/src/validate"
)

type recordingTarget struct {
	successes []Result
	failures  []error
}

func (t *recordingTarget) OnSuccess(res Result) error {
	t.successes = append(t.successes, res)
	return nil
}

func (t *recordingTarget) OnFailure(err error) error {
	t.failures = append(t.failures, err)
	return nil
}

func blank() (image.Image, error) { return image.NewRGBA(image.Rect(0, 0, 1000, 300)), nil }

type noFeatures struct{}

func (noFeatures) Compute(image.Image) (features.Descriptors, error) { return nil, nil }

func (noFeatures) ComputeFile(string) (features.Descriptors, error) {
	return nil, errors.New("unexpected template")
}

func (noFeatures) KnnMatch(q, t features.Descriptors, k int) ([]features.Neighbors, error) {
	return nil, nil
}

func TestEndToEndWithEmptyTabLibrary(t *testing.T) {
	root := t.TempDir()
	tabs := filepath.Join(root, "tabs")
	if err := os.MkdirAll(tabs, 0o755); err != nil {
		t.Fatal(err)
	}
	store := features.NewStore(noFeatures{}, tabs, filepath.Join(root, "status"), ".png")
	if err := store.RebuildTabs(); err != nil {
		t.Fatal(err)
	}
	x := &extract.Extractor{
		Templates:  store,
		Matcher:    features.NewMatcher(noFeatures{}, noFeatures{}),
		ROIs:       roi.NewRegistry(filepath.Join(root, "rois")),
		Settings:   settings.NewStore(filepath.Join(root, "ocr_settings.json")),
		Preprocess: preprocess.New(nil, ""),
	}

	var uploads atomic.Int32
	r := &Runner{
		Grab: blank,
		Extract: func(ctx context.Context, img image.Image) []extract.Record {
			return x.Extract(ctx, img, splitter.PatternNone)
		},
		Upload: func(string, []record.Field, time.Time) bool {
			uploads.Add(1)
			return true
		},
	}
	target := &recordingTarget{}
	res, err := r.Execute(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	rec := res.Records[0]
	if rec.Tab != features.NoMatch || len(rec.Fields) != 0 || rec.Result.Verdict != validate.Empty {
		t.Errorf("unexpected record %+v", rec)
	}
	if uploads.Load() != 0 || res.Uploaded != 0 {
		t.Error("no upload expected")
	}
	if len(target.successes) != 1 || res.ID == "" {
		t.Errorf("expected one delivered result with an ID, got %+v", target.successes)
	}
}

func records() []extract.Record {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	return []extract.Record{
		{
			Tab:        "MachineA.png",
			Fields:     []record.Field{record.Valued("Temp_℃", "21.5")},
			Result:     validate.Result{Verdict: validate.Pass, Text: "OK"},
			CapturedAt: ts,
		},
		{
			Tab:        "MachineB.png",
			Fields:     []record.Field{record.Sentinel("Temp_℃", record.NotFound)},
			Result:     validate.Result{Verdict: validate.Incomplete, Text: "Incomplete: Temp_℃ = N/A"},
			CapturedAt: ts,
		},
	}
}

func TestOnlyPassingRecordsAreUploaded(t *testing.T) {
	var sheets []string
	r := &Runner{
		Grab:    blank,
		Extract: func(context.Context, image.Image) []extract.Record { return records() },
		Upload: func(sheet string, _ []record.Field, _ time.Time) bool {
			sheets = append(sheets, sheet)
			return true
		},
	}
	res, err := r.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sheets) != 1 || sheets[0] != "MachineA" || res.Uploaded != 1 {
		t.Errorf("expected one upload to MachineA, got %v", sheets)
	}
	if len(res.Passing()) != 1 {
		t.Errorf("expected one passing record")
	}
}

func TestGrabFailureIsReported(t *testing.T) {
	extracted := false
	r := &Runner{
		Grab: func() (image.Image, error) { return nil, errors.New("no display") },
		Extract: func(context.Context, image.Image) []extract.Record {
			extracted = true
			return nil
		},
	}
	target := &recordingTarget{}
	if _, err := r.Execute(context.Background(), target); err == nil {
		t.Fatal("expected error")
	}
	if extracted || len(target.failures) != 1 || len(target.successes) != 0 {
		t.Errorf("unexpected delivery: extracted=%v %+v", extracted, target)
	}
}

func TestCyclesAreSerialized(t *testing.T) {
	var active, peak atomic.Int32
	r := &Runner{
		Grab: blank,
		Extract: func(context.Context, image.Image) []extract.Record {
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Execute(context.Background(), LogTarget{})
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Errorf("expected serialized cycles, peak concurrency %d", peak.Load())
	}
}

type fakeConn struct {
	ok, failed string
}

func (c *fakeConn) Request() singleinstance.Request {
	return singleinstance.Request{Command: singleinstance.CmdRunOnce}
}

func (c *fakeConn) RespondSuccess(text string) error {
	c.ok = text
	return nil
}

func (c *fakeConn) RespondError(msg string) error {
	c.failed = msg
	return nil
}

func (c *fakeConn) Close() error { return nil }

func TestDelegatedTargetRespondsJSON(t *testing.T) {
	conn := &fakeConn{}
	if err := (DelegatedTarget{Conn: conn}).OnSuccess(Result{Records: records()}); err != nil {
		t.Fatal(err)
	}
	var reps []Report
	if err := json.Unmarshal([]byte(conn.ok), &reps); err != nil {
		t.Fatalf("invalid JSON %q: %v", conn.ok, err)
	}
	if len(reps) != 2 || reps[0].Verdict != "pass" || reps[1].Fields[0].Value != "N/A" {
		t.Errorf("unexpected reports %+v", reps)
	}
	_ = (DelegatedTarget{Conn: conn}).OnFailure(errors.New("capture failed"))
	if conn.failed != "capture failed" {
		t.Errorf("expected error response, got %q", conn.failed)
	}
}

func TestTableAndSummary(t *testing.T) {
	rows := Table(records())
	if len(rows) != 2 || rows[0][0] != "Timestamp" || rows[1][0] != "2024-03-09 14:05:07" || rows[1][1] != "21.5" {
		t.Errorf("unexpected table %v", rows)
	}
	if got := Summary(Result{Records: records()[:1]}); got != "MachineA: OK" {
		t.Errorf("unexpected summary %q", got)
	}
	if got := Summary(Result{Records: records(), Uploaded: 1}); got != "2 regions, 1 passed, 1 uploaded" {
		t.Errorf("unexpected summary %q", got)
	}

	var buf bytes.Buffer
	if err := (StdoutTarget{Writer: &buf}).OnSuccess(Result{Records: records()}); err != nil {
		t.Fatal(err)
	}
	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("stdout target should print JSON, got %q", buf.String())
	}
}
