package runtimeinit

import (
	"context"
	"fmt"
	"image"
	"log"

	"panel-capture/src/archive"
	"panel-capture/src/clipboard"
	"panel-capture/src/config"
	"panel-capture/src/extract"
	"panel-capture/src/features"
	"panel-capture/src/ocr"
	"panel-capture/src/preprocess"
	"panel-capture/src/roi"
	"panel-capture/src/screenshot"
	"panel-capture/src/session"
	"panel-capture/src/settings"
	"panel-capture/src/upload"
	"panel-capture/src/vision"
)

// Engine computes descriptors and matches them.
type Engine interface {
	features.Extractor
	features.KnnMatcher
}

type Options struct {
	LoadOptions  config.LoadOptions
	SetupLogging func(bool)
	// Grabber overrides the screen capture source.
	Grabber screenshot.Grabber
	// OnStatus receives upload status lines.
	OnStatus func(string)
	// SkipClipboard leaves the clipboard uninitialized.
	SkipClipboard bool
}

// Deps are the image backends a runtime is built on.
type Deps struct {
	Engine     Engine
	Ops        preprocess.Ops
	Recognizer extract.Recognizer
	Grabber    screenshot.Grabber
	OnStatus   func(string)
}

// Runtime holds the wired components of one process.
type Runtime struct {
	Config    *config.Config
	Settings  *settings.Store
	ROIs      *roi.Registry
	Templates *features.Store
	Extractor *extract.Extractor
	Uploader  *upload.Uploader
	Archive   *archive.Archive
	Runner    *session.Runner

	cleanup []func()
}

// Build wires a runtime from cfg and deps. Settings are loaded against the
// field names of the ROI registry; template libraries are built once. A
// failing template build is logged and leaves the libraries empty.
func Build(cfg *config.Config, deps Deps) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if deps.Engine == nil || deps.Ops == nil || deps.Recognizer == nil {
		return nil, fmt.Errorf("engine, filters and recognizer are required")
	}

	rt := &Runtime{
		Config:   cfg,
		Settings: settings.NewStore(cfg.SettingsPath),
		ROIs:     roi.NewRegistry(cfg.ROIDir),
		Archive:  archive.New(cfg.SnapshotDir, cfg.SnapshotMaxDist),
	}

	vocab := rt.ROIs.FieldNames(cfg.StatusMarker)
	if err := rt.Settings.Load(vocab); err != nil {
		log.Printf("Settings: %v (using defaults)", err)
	}

	rt.Templates = features.NewStore(deps.Engine, cfg.TabTemplateDir, cfg.StatusTemplateDir, cfg.TabImageExt)
	if err := rt.Templates.Rebuild(); err != nil {
		log.Printf("Templates: initial build failed: %v", err)
	}
	rt.cleanup = append(rt.cleanup, rt.Templates.Close)

	rt.Extractor = &extract.Extractor{
		Templates:    rt.Templates,
		Matcher:      features.NewMatcher(deps.Engine, deps.Engine),
		ROIs:         rt.ROIs,
		Settings:     rt.Settings,
		Preprocess:   preprocess.New(deps.Ops, cfg.OCRDebugDir),
		Recognizer:   deps.Recognizer,
		StatusMarker: cfg.StatusMarker,
	}

	rt.Uploader = upload.New(upload.Config{
		URL:         cfg.UploadURL,
		Timeout:     cfg.UploadTimeout,
		MaxInFlight: cfg.UploadMaxInFlight,
	}, deps.OnStatus)
	rt.cleanup = append(rt.cleanup, rt.Uploader.Close)

	pattern := cfg.Pattern
	rt.Runner = &session.Runner{
		Extract: func(ctx context.Context, img image.Image) []extract.Record {
			return rt.Extractor.Extract(ctx, img, pattern)
		},
		Upload: rt.Uploader.Upload,
	}
	if deps.Grabber != nil {
		rt.Runner.Grab = deps.Grabber.Grab
	}
	if rt.Archive != nil {
		rt.Runner.Archive = rt.Archive
	}
	return rt, nil
}

// Close releases the runtime's resources in reverse order.
func (rt *Runtime) Close() {
	for i := len(rt.cleanup) - 1; i >= 0; i-- {
		rt.cleanup[i]()
	}
	rt.cleanup = nil
}

// Bootstrap loads configuration, sets up logging and builds a runtime on the
// OpenCV and Tesseract backends.
func Bootstrap(opts Options) (*Runtime, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if opts.SetupLogging != nil {
		opts.SetupLogging(cfg.EnableFileLogging)
	}

	engine := vision.NewEngine()
	tess, err := ocr.New(cfg.OCRLanguage)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to initialize OCR: %w", err)
	}

	if !opts.SkipClipboard {
		if err := clipboard.Init(); err != nil {
			log.Printf("Clipboard unavailable: %v", err)
		}
	}

	grabber := opts.Grabber
	if grabber == nil {
		grabber = screenshot.Screen{}
	}

	rt, err := Build(cfg, Deps{
		Engine:     engine,
		Ops:        vision.Filters{},
		Recognizer: tess,
		Grabber:    grabber,
		OnStatus:   opts.OnStatus,
	})
	if err != nil {
		_ = tess.Close()
		engine.Close()
		return nil, err
	}
	rt.cleanup = append([]func(){engine.Close, func() { _ = tess.Close() }}, rt.cleanup...)
	log.Printf("Runtime ready: pattern=%s interval=%ds tabs=%s rois=%s", cfg.Pattern, cfg.IntervalSec, cfg.TabTemplateDir, cfg.ROIDir)
	return rt, nil
}
