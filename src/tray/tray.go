package tray

import (
	"log"
	"sync"

	"github.com/getlantern/systray"
)

// Action is a menu selection forwarded to the event loop.
type Action int

const (
	ActionRunOnce Action = iota
	ActionToggle
	ActionRebuild
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionRunOnce:
		return "run-once"
	case ActionToggle:
		return "toggle"
	case ActionRebuild:
		return "rebuild"
	case ActionQuit:
		return "quit"
	}
	return "unknown"
}

// Config describes the tray appearance and where menu actions go.
type Config struct {
	Title   string
	Tooltip string
	Actions chan<- Action
	OnExit  func()
}

var (
	mu      sync.Mutex
	ready   bool
	toggle  *systray.MenuItem
	running bool
)

// Run starts the system tray and blocks until Quit is called. It must run on
// the main goroutine.
func Run(cfg Config) {
	systray.Run(func() { onReady(cfg) }, func() {
		if cfg.OnExit != nil {
			cfg.OnExit()
		}
	})
}

func onReady(cfg Config) {
	systray.SetIcon(Icon(false))
	systray.SetTitle(cfg.Title)
	systray.SetTooltip(cfg.Tooltip)

	mRun := systray.AddMenuItem("Capture now", "Run one capture cycle")
	mToggle := systray.AddMenuItem("Start schedule", "Start or stop scheduled capture")
	mRebuild := systray.AddMenuItem("Reload templates", "Rebuild template libraries")
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	mu.Lock()
	ready = true
	toggle = mToggle
	mu.Unlock()

	go func() {
		for {
			var a Action
			select {
			case <-mRun.ClickedCh:
				a = ActionRunOnce
			case <-mToggle.ClickedCh:
				a = ActionToggle
			case <-mRebuild.ClickedCh:
				a = ActionRebuild
			case <-mQuit.ClickedCh:
				a = ActionQuit
			}
			if cfg.Actions == nil {
				if a == ActionQuit {
					systray.Quit()
					return
				}
				continue
			}
			select {
			case cfg.Actions <- a:
			default:
				log.Printf("Tray: action %s dropped, loop busy", a)
			}
		}
	}()
}

// SetTooltip updates the tray tooltip, typically with the countdown.
func SetTooltip(text string) {
	mu.Lock()
	defer mu.Unlock()
	if ready {
		systray.SetTooltip(text)
	}
}

// SetRunning switches the icon and toggle label to reflect the schedule state.
func SetRunning(on bool) {
	mu.Lock()
	defer mu.Unlock()
	if !ready || running == on {
		return
	}
	running = on
	systray.SetIcon(Icon(on))
	if on {
		toggle.SetTitle("Stop schedule")
	} else {
		toggle.SetTitle("Start schedule")
	}
}

// Quit stops the tray loop, making Run return.
func Quit() {
	systray.Quit()
}
