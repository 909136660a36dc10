package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"panel-capture/src/config"
	"panel-capture/src/eventloop"
	"panel-capture/src/logutil"
	"panel-capture/src/runtimeinit"
	"panel-capture/src/screenshot"
	"panel-capture/src/session"
	"panel-capture/src/singleinstance"
	"panel-capture/src/tray"
	"panel-capture/src/watch"
)

const appTitle = "Panel Capture"

type mainOptions struct {
	runOnce   bool
	clipboard bool
	start     bool
	send      string
	envPath   string
	interval  int
	pattern   string
	verbose   bool
}

// commandClient delivers control commands to a running resident.
type commandClient interface {
	Send(ctx context.Context, cmd singleinstance.Command) (bool, string, error)
}

func main() {
	if err := runWithArgs(normalizeLegacyArgs(os.Args)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"panel-capture"}
	}
	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "panel-capture",
		Short:         "Capture instrument panels, read their values and upload them",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.runOnce, "run-once", false, "Run one capture cycle (delegated to the resident if one is running) and print the result")
	cmd.Flags().BoolVar(&opts.clipboard, "clipboard", false, "With --run-once in standalone mode, copy passing records to the clipboard instead of printing JSON")
	cmd.Flags().BoolVar(&opts.start, "start", false, "Arm scheduled capture as soon as the resident starts")
	cmd.Flags().StringVar(&opts.send, "send", "", "Send a control command (RUNONCE, START, STOP, STATUS, REBUILD) to the resident")
	cmd.Flags().StringVar(&opts.envPath, "env", "", "Path to .env file (highest precedence)")
	cmd.Flags().IntVar(&opts.interval, "interval", 0, "Capture interval in seconds (overrides CAPTURE_INTERVAL_SEC)")
	cmd.Flags().StringVar(&opts.pattern, "pattern", "", "Split pattern (overrides SPLIT_PATTERN)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Also log to stderr")
	cmd.MarkFlagsMutuallyExclusive("run-once", "send", "start")

	return cmd
}

func (o *mainOptions) loadOptions() config.LoadOptions {
	return config.LoadOptions{
		EnvPathOverride:  o.envPath,
		IntervalOverride: o.interval,
		PatternOverride:  o.pattern,
	}
}

func runMain(opts *mainOptions) error {
	// Load .env early so PANEL_CAPTURE_PORT_* apply before any port scan.
	if _, err := config.LoadWithOptions(opts.loadOptions()); err != nil {
		return err
	}

	switch {
	case opts.send != "":
		cmd, err := singleinstance.ParseCommand(opts.send)
		if err != nil {
			return err
		}
		return sendCommand(cmd, singleinstance.NewClient())
	case opts.runOnce:
		var fallbackErr error
		handleRunOnceWithDelegation(opts.envPath, singleinstance.NewClient(), func() {
			fallbackErr = runStandalone(opts)
		})
		return fallbackErr
	}
	return runResident(opts)
}

func sendCommand(cmd singleinstance.Command, client commandClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	delegated, reply, err := client.Send(ctx, cmd)
	if err != nil {
		return err
	}
	if !delegated {
		return fmt.Errorf("no resident is running")
	}
	fmt.Println(reply)
	return nil
}

// handleRunOnceWithDelegation asks a running resident to perform the capture and
// falls back to a standalone cycle when none answers.
func handleRunOnceWithDelegation(envPath string, client commandClient, fallback func()) {
	if envPath != "" {
		log.Printf("Run-once with env file %s", envPath)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	delegated, reply, err := client.Send(ctx, singleinstance.CmdRunOnce)
	if err != nil {
		log.Printf("Delegation error: %v; falling back to standalone", err)
		fallback()
		return
	}
	if !delegated {
		log.Printf("No resident detected, running standalone")
		fallback()
		return
	}
	log.Printf("Delegated to resident")
	if reply != "" {
		fmt.Println(reply)
	}
}

func runStandalone(opts *mainOptions) error {
	rt, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions:   opts.loadOptions(),
		SetupLogging:  func(enable bool) { logutil.Setup(enable, opts.verbose) },
		SkipClipboard: !opts.clipboard,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	var target session.ResultTarget = session.StdoutTarget{Writer: os.Stdout}
	if opts.clipboard {
		target = session.ClipboardTarget{}
	}
	_, err = rt.Runner.Execute(context.Background(), target)
	return err
}

// checkPortFree fails when a resident answers PING or the first control port is
// taken.
func checkPortFree() error {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if port, ok := singleinstance.DetectResidentPort(ctx); ok {
		return fmt.Errorf("one is already running on port %d", port)
	}
	startPort, _ := singleinstance.PortRange()
	lis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", startPort))
	if err != nil {
		return fmt.Errorf("one is already running on port %d", startPort)
	}
	_ = lis.Close()
	log.Printf("Pre-flight: port %d free", startPort)
	return nil
}

func runResident(opts *mainOptions) error {
	// Ensure DPI awareness before querying monitor metrics.
	enableDPIAwareness()

	// systray needs the main OS thread.
	runtime.LockOSThread()

	if err := checkPortFree(); err != nil {
		return err
	}

	rt, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions:  opts.loadOptions(),
		SetupLogging: func(enable bool) { logutil.Setup(enable, opts.verbose) },
		OnStatus:     statusLine,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.Config

	if b, err := screenshot.VirtualBounds(); err == nil {
		log.Printf("Virtual screen: %v", b)
	}
	log.Printf("%s initialized (hotkey %s toggles scheduled capture)", appTitle, cfg.Hotkey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := eventloop.New(eventloop.Options{
		Runner:      rt.Runner,
		Templates:   rt.Templates,
		IntervalSec: cfg.IntervalSec,
		Notify:      statusLine,
		OnState:     tray.SetRunning,
	})
	if err := loop.StartHotkey(cfg.Hotkey); err != nil {
		log.Printf("Hotkey disabled: %v", err)
	}
	if opts.start {
		loop.TrayActions() <- tray.ActionToggle
	}

	if cfg.WatchTemplates {
		w, err := watch.New(cfg.TabTemplateDir, cfg.StatusTemplateDir, watch.DefaultQuiet)
		if err != nil {
			log.Printf("Template watcher disabled: %v", err)
		} else {
			defer w.Close()
			go w.Run(ctx, loop.TemplateChanges())
		}
	}

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()

	loopErr := make(chan error, 1)
	go func() {
		err := loop.Run(ctx)
		loopErr <- err
		tray.Quit()
	}()

	tray.Run(tray.Config{
		Title:   appTitle,
		Tooltip: fmt.Sprintf("%s - %s toggles capture", appTitle, cfg.Hotkey),
		Actions: loop.TrayActions(),
		OnExit:  cancel,
	})

	cancel()
	if err := <-loopErr; err != nil && err != context.Canceled {
		log.Printf("event loop stopped: %v", err)
	}
	return nil
}

func statusLine(msg string) {
	log.Print(msg)
	tray.SetTooltip(appTitle + ": " + msg)
}

// normalizeLegacyArgs maps single-dash long flags to cobra's double-dash form.
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	normalized := make([]string, len(args))
	copy(normalized, args)

	long := []string{"run-once", "clipboard", "start", "send", "env", "interval", "pattern", "verbose"}
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range long {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}
	return normalized
}
