package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"panel-capture/src/hotkey"
	"panel-capture/src/scheduler"
	"panel-capture/src/session"
	"panel-capture/src/singleinstance"
	"panel-capture/src/tray"
	"panel-capture/src/watch"
	"panel-capture/src/worker"
)

// ErrBusy is reported when a manual capture is requested while one is queued.
var ErrBusy = errors.New("Busy, please retry")

// Executor runs one capture cycle.
type Executor interface {
	Execute(ctx context.Context, target session.ResultTarget) (session.Result, error)
}

// Rebuilder reloads template libraries.
type Rebuilder interface {
	Rebuild() error
	RebuildTabs() error
	RebuildStatus() error
}

type Options struct {
	Runner      Executor
	Templates   Rebuilder
	IntervalSec int
	// Server defaults to the TCP control endpoint.
	Server singleinstance.Server
	// Notify receives short status lines, e.g. for the tray tooltip.
	Notify func(string)
	// OnState is called whenever the scheduler is armed or disarmed.
	OnState func(running bool)
}

// Loop is the single-threaded coordinator for control commands, the hotkey,
// tray actions and template change events.
type Loop struct {
	runner    Executor
	templates Rebuilder
	interval  int
	srv       singleinstance.Server
	notify    func(string)
	onState   func(bool)

	sched    *scheduler.Scheduler
	pool     *worker.Pool
	hotkeyCh chan struct{}
	trayCh   chan tray.Action
	watchCh  chan watch.Domain

	wg sync.WaitGroup
}

// New creates a loop around a runner.
func New(opts Options) *Loop {
	l := &Loop{
		runner:    opts.Runner,
		templates: opts.Templates,
		interval:  opts.IntervalSec,
		srv:       opts.Server,
		notify:    opts.Notify,
		onState:   opts.OnState,
		pool:      worker.New("runonce", 1),
		hotkeyCh:  make(chan struct{}, 4),
		trayCh:    make(chan tray.Action, 4),
		watchCh:   make(chan watch.Domain, 4),
	}
	if l.srv == nil {
		l.srv = singleinstance.NewServer()
	}
	if l.notify == nil {
		l.notify = func(string) {}
	}
	if l.onState == nil {
		l.onState = func(bool) {}
	}
	l.sched = scheduler.New(func(ctx context.Context) error {
		_, err := l.runner.Execute(ctx, session.StatusTarget{Notify: l.notify})
		return err
	})
	l.sched.OnCountdown = func(remaining int) {
		l.notify(fmt.Sprintf("Next capture in %ds", remaining))
	}
	return l
}

// TrayActions is the channel tray menu selections are delivered on.
func (l *Loop) TrayActions() chan<- tray.Action { return l.trayCh }

// TemplateChanges is the channel the template watcher reports on.
func (l *Loop) TemplateChanges() chan<- watch.Domain { return l.watchCh }

// Scheduler exposes the capture scheduler.
func (l *Loop) Scheduler() *scheduler.Scheduler { return l.sched }

// StartHotkey registers a global hotkey that toggles scheduled capture.
func (l *Loop) StartHotkey(combo string) error {
	if combo == "" {
		return nil
	}
	return hotkey.Listen(combo, func() {
		select {
		case l.hotkeyCh <- struct{}{}:
		default:
		}
	})
}

// Run starts the control endpoint and processes events until ctx is cancelled
// or the tray asks to quit. The scheduler is stopped before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := l.srv.Start(ctx); err != nil {
		return err
	}
	defer l.srv.Close()
	if p := l.srv.Port(); p > 0 {
		log.Printf("Resident listening on 127.0.0.1:%d", p)
	}
	defer l.pool.Close()
	defer l.wg.Wait()
	defer l.sched.Stop()
	defer cancel()

	reqCh := make(chan singleinstance.Conn, 4)
	go func() {
		defer close(reqCh)
		for {
			conn, err := l.srv.Next(ctx)
			if err != nil {
				return
			}
			select {
			case reqCh <- conn:
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.hotkeyCh:
			log.Printf("Hotkey: toggling scheduler")
			l.toggle(ctx)
		case a := <-l.trayCh:
			if a == tray.ActionQuit {
				log.Printf("Quit requested from tray")
				return nil
			}
			l.handleAction(ctx, a)
		case d := <-l.watchCh:
			l.rebuild(d)
		case conn, ok := <-reqCh:
			if !ok {
				return nil
			}
			l.handleConn(ctx, conn)
		}
	}
}

func (l *Loop) handleAction(ctx context.Context, a tray.Action) {
	switch a {
	case tray.ActionRunOnce:
		if err := l.runOnce(ctx, session.StatusTarget{Notify: l.notify}, nil); err != nil {
			l.notify(err.Error())
		}
	case tray.ActionToggle:
		l.toggle(ctx)
	case tray.ActionRebuild:
		if l.templates == nil {
			return
		}
		if err := l.templates.Rebuild(); err != nil {
			l.notify(fmt.Sprintf("Template rebuild failed: %v", err))
		}
	}
}

func (l *Loop) handleConn(ctx context.Context, conn singleinstance.Conn) {
	cmd := conn.Request().Command
	log.Printf("Control command: %s", cmd)
	switch cmd {
	case singleinstance.CmdRunOnce:
		target := session.DelegatedTarget{Conn: conn}
		err := l.runOnce(ctx, target, func() { _ = conn.Close() })
		if err != nil {
			_ = conn.RespondError(err.Error())
			_ = conn.Close()
		}
	case singleinstance.CmdStart:
		if err := l.start(ctx); err != nil {
			_ = conn.RespondError(err.Error())
		} else {
			_ = conn.RespondSuccess(fmt.Sprintf("Scheduler started (interval %ds)", l.interval))
		}
		_ = conn.Close()
	case singleinstance.CmdStop:
		l.stopAsync(func() {
			_ = conn.RespondSuccess("Scheduler stopped")
			_ = conn.Close()
		})
	case singleinstance.CmdStatus:
		_ = conn.RespondSuccess(l.status())
		_ = conn.Close()
	case singleinstance.CmdRebuild:
		if l.templates == nil {
			_ = conn.RespondError("no template store")
		} else if err := l.templates.Rebuild(); err != nil {
			_ = conn.RespondError(err.Error())
		} else {
			_ = conn.RespondSuccess("Templates rebuilt")
		}
		_ = conn.Close()
	default:
		_ = conn.RespondError(fmt.Sprintf("unknown command %q", cmd))
		_ = conn.Close()
	}
}

// runOnce queues a manual cycle. done, if set, runs after the target is notified.
func (l *Loop) runOnce(ctx context.Context, target session.ResultTarget, done func()) error {
	ok := l.pool.Submit(ctx, func(ctx context.Context) error {
		_, err := l.runner.Execute(ctx, target)
		return err
	}, func(err error) {
		if err != nil {
			log.Printf("Manual capture: %v", err)
		}
		if done != nil {
			done()
		}
	})
	if !ok {
		return ErrBusy
	}
	return nil
}

func (l *Loop) start(ctx context.Context) error {
	if err := l.sched.Start(ctx, l.interval); err != nil {
		return err
	}
	l.onState(true)
	return nil
}

// stopAsync disarms the scheduler without blocking the loop on an in-flight cycle.
func (l *Loop) stopAsync(then func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.sched.Stop()
		l.onState(false)
		l.notify("Scheduler stopped")
		if then != nil {
			then()
		}
	}()
}

func (l *Loop) toggle(ctx context.Context) {
	if l.sched.Running() {
		l.stopAsync(nil)
		return
	}
	if err := l.start(ctx); err != nil {
		l.notify(err.Error())
	}
}

func (l *Loop) rebuild(d watch.Domain) {
	if l.templates == nil {
		return
	}
	var err error
	switch d {
	case watch.Tabs:
		err = l.templates.RebuildTabs()
	case watch.Status:
		err = l.templates.RebuildStatus()
	}
	if err != nil {
		log.Printf("Template change (%s): rebuild failed, keeping previous library: %v", d, err)
	}
}

func (l *Loop) status() string {
	if l.sched.Running() {
		return fmt.Sprintf("running (interval %ds)", l.interval)
	}
	return "idle"
}
