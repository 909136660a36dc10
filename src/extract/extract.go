// Package extract turns one screen capture into per-region records: which tab each
// split shows and the values read from that tab's fields.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"path/filepath"
	"strings"
	"time"

	"panel-capture/src/features"
	"panel-capture/src/preprocess"
	"panel-capture/src/record"
	"panel-capture/src/roi"
	"panel-capture/src/settings"
	"panel-capture/src/splitter"
	"panel-capture/src/validate"
)

// Recognizer reads text fragments from a preprocessed field image.
type Recognizer interface {
	Recognize(img image.Image) ([]string, error)
}

// Record is the result for one split region.
type Record struct {
	Region     splitter.Region
	Tab        string
	Fields     []record.Field
	Result     validate.Result
	CapturedAt time.Time
}

// TabName returns the tab without its image extension, as used for upload sheets.
func (r Record) TabName() string {
	return strings.TrimSuffix(r.Tab, filepath.Ext(r.Tab))
}

// Extractor wires the matcher, ROI registry, preprocessing and recognizer together.
type Extractor struct {
	Templates    *features.Store
	Matcher      *features.Matcher
	ROIs         *roi.Registry
	Settings     *settings.Store
	Preprocess   *preprocess.Pipeline
	Recognizer   Recognizer
	StatusMarker string
}

// Extract processes every split of img. Splits are handled in order and fields
// sequentially. Cancelling ctx stops before the next split.
func (x *Extractor) Extract(ctx context.Context, img image.Image, pattern splitter.Pattern) []Record {
	snap := x.Templates.Acquire()
	defer snap.Release()
	cfg := x.Settings.Current()
	now := time.Now()

	b := img.Bounds()
	var records []Record
	for _, region := range splitter.Split(b.Dx(), b.Dy(), pattern) {
		if ctx.Err() != nil {
			log.Printf("Extraction cancelled after %d regions", len(records))
			break
		}
		split := features.SubImage(img, region.Rect().Add(b.Min))
		rec := Record{Region: region, Tab: features.NoMatch, CapturedAt: now}
		if !split.Bounds().Empty() {
			rec.Tab = x.Matcher.MatchTab(split, snap.Tabs, cfg.Match.TabThreshold)
		}
		if rec.Tab != features.NoMatch {
			rec.Fields = x.extractFields(split, region, rec.Tab, snap, cfg)
		}
		rec.Result = validate.Check(rec.Fields)
		records = append(records, rec)
	}
	return records
}

func (x *Extractor) extractFields(split image.Image, region splitter.Region, tab string, snap *features.Snapshot, cfg settings.Settings) []record.Field {
	entries, err := x.ROIs.Load(tab)
	if err != nil {
		log.Printf("Failed to load ROIs for %s: %v", tab, err)
		return nil
	}

	var fields []record.Field
	for _, e := range entries {
		if e.Err != nil {
			fields = append(fields, record.Sentinel(e.Name, record.Corrupt))
			continue
		}
		local := image.Rect(e.X-region.X, e.Y-region.Y, e.X-region.X+e.Width, e.Y-region.Y+e.Height)
		if outside(local, region.Width, region.Height) {
			continue
		}
		fields = append(fields, x.extractField(split, e.Name, local, tab, snap, cfg))
	}
	return fields
}

// outside reports whether r lies entirely beyond a w×h area.
func outside(r image.Rectangle, w, h int) bool {
	return r.Min.X >= w || r.Min.Y >= h || r.Max.X <= 0 || r.Max.Y <= 0
}

func (x *Extractor) extractField(split image.Image, name string, local image.Rectangle, tab string, snap *features.Snapshot, cfg settings.Settings) (f record.Field) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Field %s on %s panicked: %v", name, tab, r)
			f = record.Sentinel(name, record.Failed)
		}
	}()

	crop := features.SubImage(split, local.Add(split.Bounds().Min))
	if crop.Bounds().Empty() {
		return record.Sentinel(name, record.NotFound)
	}

	if roi.IsStatus(name, x.StatusMarker) {
		match := x.Matcher.Match(crop, snap.StatusFor(tab), cfg.Match.StatusThreshold)
		return record.Valued(name, strings.TrimSuffix(match, filepath.Ext(match)))
	}

	text, err := x.readText(crop, name, cfg.OCR)
	switch {
	case errors.Is(err, preprocess.ErrEmptyCrop):
		return record.Sentinel(name, record.NotFound)
	case err != nil:
		log.Printf("Field %s on %s failed: %v", name, tab, err)
		return record.Sentinel(name, record.Failed)
	case text == "":
		return record.Sentinel(name, record.NotFound)
	}
	return record.Valued(name, text)
}

func (x *Extractor) readText(crop image.Image, name string, cfg settings.OCR) (string, error) {
	stages, err := x.Preprocess.Prepare(crop, name, cfg)
	if err != nil {
		return "", err
	}
	fragments, err := x.Recognizer.Recognize(stages.Final)
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return strings.TrimSpace(strings.Join(fragments, "")), nil
}
