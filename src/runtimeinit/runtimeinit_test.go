package runtimeinit

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"

	"panel-capture/src/config"
	"panel-capture/src/features"
	"panel-capture/src/roi"
	"panel-capture/src/session"
	"panel-capture/src/splitter"
	"panel-capture/src/validate"
)

type nullEngine struct{}

func (nullEngine) Compute(image.Image) (features.Descriptors, error) { return nil, nil }

func (nullEngine) ComputeFile(string) (features.Descriptors, error) { return nil, nil }

func (nullEngine) KnnMatch(q, t features.Descriptors, k int) ([]features.Neighbors, error) {
	return nil, nil
}

type passOps struct{}

func (passOps) EqualizeCLAHE(img *image.Gray, _ float64) (*image.Gray, error) { return img, nil }

func (passOps) MedianBlur(img *image.Gray, _ int) (*image.Gray, error) { return img, nil }

func (passOps) Erode(img *image.Gray, _ int) (*image.Gray, error) { return img, nil }

func (passOps) Dilate(img *image.Gray, _ int) (*image.Gray, error) { return img, nil }

func (passOps) ThresholdOtsu(img *image.Gray) (*image.Gray, error) { return img, nil }

func (passOps) Invert(img *image.Gray) (*image.Gray, error) { return img, nil }

func (passOps) Open(img *image.Gray, _ int) (*image.Gray, error) { return img, nil }

type silentRecognizer struct{}

func (silentRecognizer) Recognize(image.Image) ([]string, error) { return nil, nil }

type stillFrame struct{}

func (stillFrame) Grab() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 800, 200)), nil
}

type resultSink struct {
	res session.Result
	err error
}

func (s *resultSink) OnSuccess(res session.Result) error {
	s.res = res
	return nil
}

func (s *resultSink) OnFailure(err error) error {
	s.err = err
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"tabs", "status", "rois"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return &config.Config{
		IntervalSec:       10,
		Pattern:           splitter.Pattern50x50,
		TabTemplateDir:    filepath.Join(root, "tabs"),
		StatusTemplateDir: filepath.Join(root, "status"),
		ROIDir:            filepath.Join(root, "rois"),
		SettingsPath:      filepath.Join(root, "ocr_settings.json"),
		TabImageExt:       ".png",
		StatusMarker:      roi.DefaultStatusMarker,
	}
}

func TestBuildRequiresBackends(t *testing.T) {
	if _, err := Build(nil, Deps{}); err == nil {
		t.Error("expected error without config")
	}
	if _, err := Build(testConfig(t), Deps{Engine: nullEngine{}}); err == nil {
		t.Error("expected error without filters and recognizer")
	}
}

func TestBuildLoadsSettingsAgainstROIFields(t *testing.T) {
	cfg := testConfig(t)
	reg := roi.NewRegistry(cfg.ROIDir)
	if err := reg.Save("MachineA.png", []roi.Entry{
		{Name: "Temp_℃", Width: 10, Height: 10},
		{Name: "Pump_STATUS", Width: 10, Height: 10},
	}); err != nil {
		t.Fatal(err)
	}
	doc := `{"ocr": {"scale_factor": 2, "clahe_clip": 2, "median_ksize": 3, "opening_ksize": 2,
  "dilate_ksize": 2, "erode_ksize": 2, "dilate_targets": ["Temp_℃", "Pump_STATUS", "Ghost"]},
  "match": {"tab_threshold": 15, "status_threshold": 4}}`
	if err := os.WriteFile(cfg.SettingsPath, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	rt, err := Build(cfg, Deps{Engine: nullEngine{}, Ops: passOps{}, Recognizer: silentRecognizer{}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()

	got := rt.Settings.Current().OCR.DilateTargets
	if !reflect.DeepEqual(got, []string{"Temp_℃"}) {
		t.Errorf("dilate targets = %v", got)
	}
	if rt.Extractor.StatusMarker != roi.DefaultStatusMarker {
		t.Errorf("status marker = %q", rt.Extractor.StatusMarker)
	}
	if rt.Uploader.Enabled() {
		t.Error("uploader should be disabled without URL")
	}
	if rt.Archive != nil || rt.Runner.Archive != nil {
		t.Error("archive should be off without a snapshot dir")
	}
}

func TestRunnerUsesConfiguredPattern(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Build(cfg, Deps{
		Engine:     nullEngine{},
		Ops:        passOps{},
		Recognizer: silentRecognizer{},
		Grabber:    stillFrame{},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()

	sink := &resultSink{}
	res, err := rt.Runner.Execute(context.Background(), sink)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records for 50/50, got %d", len(res.Records))
	}
	for _, r := range res.Records {
		if r.Tab != features.NoMatch || r.Result.Verdict != validate.Empty {
			t.Errorf("unexpected record %+v", r)
		}
	}
	if res.Records[1].Region.X != 400 {
		t.Errorf("second region x = %d", res.Records[1].Region.X)
	}
	if sink.err != nil || len(sink.res.Records) != 2 {
		t.Errorf("target not notified: %+v %v", sink.res, sink.err)
	}
}

func TestMissingTemplateDirsDoNotFailBuild(t *testing.T) {
	cfg := testConfig(t)
	cfg.TabTemplateDir = filepath.Join(cfg.TabTemplateDir, "missing")
	rt, err := Build(cfg, Deps{Engine: nullEngine{}, Ops: passOps{}, Recognizer: silentRecognizer{}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()
	if _, err := rt.Runner.Execute(context.Background(), nil); !errors.Is(err, session.ErrNoGrabber) {
		t.Errorf("expected ErrNoGrabber, got %v", err)
	}
}

type countedDesc struct{ closed *atomic.Int32 }

func (countedDesc) Rows() int { return 10 }

func (d countedDesc) Close() error {
	d.closed.Add(1)
	return nil
}

type countingEngine struct {
	nullEngine
	closed atomic.Int32
}

func (e *countingEngine) ComputeFile(string) (features.Descriptors, error) {
	return countedDesc{closed: &e.closed}, nil
}

func TestCloseReleasesTemplateLibraries(t *testing.T) {
	cfg := testConfig(t)
	for _, p := range []string{
		filepath.Join(cfg.TabTemplateDir, "MachineA.png"),
		filepath.Join(cfg.StatusTemplateDir, "MachineA", "Running.png"),
	} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	engine := &countingEngine{}
	rt, err := Build(cfg, Deps{Engine: engine, Ops: passOps{}, Recognizer: silentRecognizer{}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if engine.closed.Load() != 0 {
		t.Fatalf("templates closed before shutdown: %d", engine.closed.Load())
	}
	rt.Close()
	if engine.closed.Load() != 2 {
		t.Errorf("expected both template descriptors closed, got %d", engine.closed.Load())
	}
}
