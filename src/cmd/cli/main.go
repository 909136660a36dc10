package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"panel-capture/src/config"
	"panel-capture/src/logutil"
	"panel-capture/src/record"
	"panel-capture/src/roi"
	"panel-capture/src/runtimeinit"
	"panel-capture/src/screenshot"
	"panel-capture/src/session"
	"panel-capture/src/settings"
	"panel-capture/src/splitter"
	"panel-capture/src/validate"
)

const (
	maxFileSizeMB = 50
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

type cliOptions struct {
	envPath    string
	pattern    string
	filePath   string
	jsonOutput bool
	verbose    bool
	width      int
	height     int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args), os.Stdout)
}

func runWithArgs(args []string, out io.Writer) error {
	if len(args) == 0 {
		args = []string{"panel-tool"}
	}

	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	cmd.SetOut(out)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "panel-tool",
		Short:         "Offline tools for panel capture: extraction, layouts, ROIs and settings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logutil.Setup(false, opts.verbose)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envPath, "env", "", "Path to .env file (highest precedence)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")

	cmd.AddCommand(
		newExtractCmd(opts),
		newSplitCmd(opts),
		newCheckCmd(),
		newSettingsCmd(opts),
		newROICmd(opts),
	)
	return cmd
}

func (o *cliOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		EnvPathOverride: o.envPath,
		PatternOverride: o.pattern,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newExtractCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run one extraction cycle on an image file instead of the screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.filePath, "file", "", "Path to the captured image")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output records as JSON")
	cmd.Flags().StringVar(&opts.pattern, "pattern", "", "Split pattern (overrides SPLIT_PATTERN)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runExtract(out io.Writer, opts *cliOptions) error {
	st, err := os.Stat(opts.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", opts.filePath, err)
	}
	if st.Size() == 0 {
		return fmt.Errorf("input file is empty")
	}
	if st.Size() > maxFileSize {
		return fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}

	rt, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions: config.LoadOptions{
			EnvPathOverride: opts.envPath,
			PatternOverride: opts.pattern,
		},
		Grabber:       screenshot.File{Path: opts.filePath},
		SkipClipboard: true,
		OnStatus:      func(msg string) { log.Print(msg) },
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	// Offline runs never upload.
	rt.Runner.Upload = nil

	var target session.ResultTarget = textTarget{w: out}
	if opts.jsonOutput {
		target = session.StdoutTarget{Writer: out}
	}
	_, err = rt.Runner.Execute(context.Background(), target)
	return err
}

type textTarget struct {
	w io.Writer
}

func (t textTarget) OnSuccess(res session.Result) error {
	for _, rec := range res.Records {
		fmt.Fprintf(t.w, "[%d..%d] %s: %s\n", rec.Region.X, rec.Region.X+rec.Region.Width, rec.Tab, rec.Result.Text)
		for _, f := range rec.Fields {
			fmt.Fprintf(t.w, "  %-24s %s\n", f.Name, f.Display())
		}
	}
	return nil
}

func (t textTarget) OnFailure(err error) error { return nil }

func newSplitCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Print the regions a pattern produces for a capture size",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := splitter.ParsePattern(opts.pattern)
			if err != nil {
				return err
			}
			printRegions(cmd.OutOrStdout(), splitter.Split(opts.width, opts.height, p))
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.width, "width", 1920, "Capture width")
	cmd.Flags().IntVar(&opts.height, "height", 1080, "Capture height")
	cmd.Flags().StringVar(&opts.pattern, "pattern", "", "Split pattern ("+patternNames()+")")
	return cmd
}

func patternNames() string {
	var names []string
	for _, p := range splitter.Patterns() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}

func printRegions(w io.Writer, regions []splitter.Region) {
	for i, r := range regions {
		fmt.Fprintf(w, "%d x=%d y=%d w=%d h=%d\n", i, r.X, r.Y, r.Width, r.Height)
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check NAME=VALUE...",
		Short: "Validate a set of field values as one record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields []record.Field
			for _, a := range args {
				name, value, ok := strings.Cut(a, "=")
				if !ok {
					return fmt.Errorf("expected NAME=VALUE, got %q", a)
				}
				if value == "" {
					fields = append(fields, record.Sentinel(name, record.NotFound))
				} else {
					fields = append(fields, record.Valued(name, value))
				}
			}
			res := validate.Check(fields)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Verdict, res.Text)
			return nil
		},
	}
}

func newSettingsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or edit OCR and matching settings",
	}

	load := func() (*settings.Store, error) {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, err
		}
		store := settings.NewStore(cfg.SettingsPath)
		if err := store.Load(roi.NewRegistry(cfg.ROIDir).FieldNames(cfg.StatusMarker)); err != nil {
			return nil, err
		}
		return store, nil
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := load()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(store.Current())
		},
	}

	check := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a settings file without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := settings.NewStore(args[0]).Load(nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	target := func(use, short string, apply func(settings.OCR, string) settings.OCR) *cobra.Command {
		return &cobra.Command{
			Use:   use + " FIELD",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := load()
				if err != nil {
					return err
				}
				next := store.Current()
				next.OCR = apply(next.OCR, args[0])
				if err := store.Save(next); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", store.Path())
				return nil
			},
		}
	}

	cmd.AddCommand(show, check,
		target("thicken", "Mark a field for stroke thickening", settings.OCR.WithThicken),
		target("thin", "Mark a field for stroke thinning", settings.OCR.WithThin),
		target("clear", "Remove a field from both target sets", settings.OCR.WithoutTarget),
	)
	return cmd
}

func newROICmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roi",
		Short: "Inspect region-of-interest definitions",
	}

	registry := func() (*roi.Registry, *config.Config, error) {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, nil, err
		}
		return roi.NewRegistry(cfg.ROIDir), cfg, nil
	}

	list := &cobra.Command{
		Use:   "list [TAB]",
		Short: "List tabs with ROI files, or the fields of one tab",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, cfg, err := registry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				tabs, err := reg.Tabs()
				if err != nil {
					return err
				}
				for _, t := range tabs {
					fmt.Fprintln(out, t)
				}
				return nil
			}
			entries, err := reg.Load(args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				kind := "ocr"
				if roi.IsStatus(e.Name, cfg.StatusMarker) {
					kind = "status"
				}
				if e.Err != nil {
					fmt.Fprintf(out, "%s\t%s\t%v\n", e.Name, kind, e.Err)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%d,%d %dx%d\n", e.Name, kind, e.X, e.Y, e.Width, e.Height)
			}
			return nil
		},
	}

	fields := &cobra.Command{
		Use:   "fields",
		Short: "Print the OCR field names across all tabs",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, cfg, err := registry()
			if err != nil {
				return err
			}
			for _, n := range reg.FieldNames(cfg.StatusMarker) {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}

	cmd.AddCommand(list, fields)
	return cmd
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range []string{"file", "json", "verbose", "env", "pattern", "width", "height"} {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}

	return normalized
}
