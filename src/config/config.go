package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"panel-capture/src/splitter"
)

const (
	EnvPathEnvVar        = "PANEL_CAPTURE_ENV"
	DefaultHotkey        = "Ctrl+Alt+S"
	DefaultIntervalSec   = 10
	DefaultUploadTimeout = 10 * time.Second
	DefaultMaxInFlight   = 4
	DefaultSnapshotDist  = 4
)

// LoadOptions carries command-line overrides; empty/zero fields are ignored.
type LoadOptions struct {
	EnvPathOverride  string
	IntervalOverride int
	PatternOverride  string
}

type Config struct {
	EnvPath           string
	IntervalSec       int
	Pattern           splitter.Pattern
	TabTemplateDir    string
	StatusTemplateDir string
	ROIDir            string
	SettingsPath      string
	TabImageExt       string
	StatusMarker      string
	UploadURL         string
	UploadTimeout     time.Duration
	UploadMaxInFlight int
	SnapshotDir       string
	SnapshotMaxDist   int
	OCRLanguage       string
	OCRDebugDir       string
	EnableFileLogging bool
	Hotkey            string
	WatchTemplates    bool
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order:
	// 1) an explicit --env path
	// 2) .env in the application (executable) directory
	// 3) PANEL_CAPTURE_ENV as a path to a config file
	envPath := strings.TrimSpace(opts.EnvPathOverride)
	if envPath == "" {
		envPath = resolveEnvPath()
	}
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && opts.EnvPathOverride != "" {
			return nil, fmt.Errorf("failed to load env file %s: %w", envPath, err)
		}
	}

	interval := getEnvInt("CAPTURE_INTERVAL_SEC", DefaultIntervalSec)
	if opts.IntervalOverride > 0 {
		interval = opts.IntervalOverride
	}

	patternName := os.Getenv("SPLIT_PATTERN")
	if override := strings.TrimSpace(opts.PatternOverride); override != "" {
		patternName = override
	}
	pattern, err := splitter.ParsePattern(patternName)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		EnvPath:           envPath,
		IntervalSec:       interval,
		Pattern:           pattern,
		TabTemplateDir:    getEnvWithDefault("TAB_TEMPLATE_DIR", filepath.Join("templates", "tabs")),
		StatusTemplateDir: getEnvWithDefault("STATUS_TEMPLATE_DIR", filepath.Join("templates", "status")),
		ROIDir:            getEnvWithDefault("ROI_DIR", "rois"),
		SettingsPath:      getEnvWithDefault("SETTINGS_PATH", "ocr_settings.json"),
		TabImageExt:       getEnvWithDefault("TAB_IMAGE_EXT", ".png"),
		StatusMarker:      getEnvWithDefault("STATUS_MARKER", "_STATUS"),
		UploadURL:         strings.TrimSpace(os.Getenv("UPLOAD_URL")),
		UploadTimeout:     time.Duration(getEnvInt("UPLOAD_TIMEOUT_SEC", int(DefaultUploadTimeout/time.Second))) * time.Second,
		UploadMaxInFlight: getEnvInt("UPLOAD_MAX_IN_FLIGHT", DefaultMaxInFlight),
		SnapshotDir:       strings.TrimSpace(os.Getenv("SNAPSHOT_DIR")),
		SnapshotMaxDist:   getEnvNonNegative("SNAPSHOT_MAX_DISTANCE", DefaultSnapshotDist),
		OCRLanguage:       getEnvWithDefault("OCR_LANGUAGE", "eng"),
		OCRDebugDir:       strings.TrimSpace(os.Getenv("OCR_DEBUG_DIR")),
		EnableFileLogging: strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		Hotkey:            getEnvWithDefault("HOTKEY", DefaultHotkey),
		WatchTemplates:    strings.ToLower(getEnvWithDefault("WATCH_TEMPLATES", "true")) != "false",
	}

	return cfg, nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}

	execDir := filepath.Dir(execPath)
	exeEnv := filepath.Join(execDir, ".env")
	if _, err := os.Stat(exeEnv); err == nil {
		return exeEnv
	}

	if alt := os.Getenv(EnvPathEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns a positive integer from key, or defaultValue when unset or invalid.
func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvNonNegative(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			return n
		}
	}
	return defaultValue
}
