//go:build linux

// Package supervisor drives the top-level event loop: it watches for a
// termination signal and for changes to the script file. A script-file
// change runs the hot-reload cycle (stop every thread, clear breakpoints,
// recompile the script, install its breakpoints, resume every thread)
// described in SPEC_FULL.md §4; a termination signal detaches from every
// thread and ends the loop. Two auxiliary goroutines -- one for
// signals, one for the filesystem watch -- feed a single events channel
// so the main loop never blocks on either source alone.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/EquinoxAlpha/xenon/internal/debugger"
	"github.com/EquinoxAlpha/xenon/internal/script"
)

// eventKind distinguishes what woke the supervisor loop.
type eventKind int

const (
	eventTerminate eventKind = iota
	eventReload
	eventTick
)

type event struct {
	kind eventKind
}

// Supervisor owns the engine, the script bridge, and the reload cycle.
type Supervisor struct {
	log        *logrus.Entry
	engine     *debugger.Engine
	bridge     *script.Bridge
	scriptPath string

	tickInterval time.Duration
}

// New builds a Supervisor for an already-attached engine and the script
// at scriptPath.
func New(engine *debugger.Engine, scriptPath string, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		log:          log,
		engine:       engine,
		bridge:       script.New(engine, log),
		scriptPath:   scriptPath,
		tickInterval: 5 * time.Millisecond,
	}
}

// Run is the main loop: it loads the script once, then services
// termination signals, script-file changes, and periodic sweep ticks
// until a termination signal arrives or ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	events := make(chan event, 8)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.WithError(err).Warn("fsnotify watcher unavailable, hot-reload on file change disabled")
	} else {
		defer watcher.Close()
		if err := watcher.Add(s.scriptPath); err != nil {
			s.log.WithError(err).Warn("failed to watch script path")
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if err := s.reload(runCtx); err != nil {
		return err
	}

	go func() {
		for sig := range sigCh {
			s.log.WithField("signal", sig).Info("termination signal received")
			events <- event{kind: eventTerminate}
			return
		}
	}()

	if watcher != nil {
		go func() {
			for {
				select {
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						events <- event{kind: eventReload}
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					s.log.WithError(err).Warn("fsnotify watch error")
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				events <- event{kind: eventTick}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.engine.Detach()
			return nil
		case ev := <-events:
			switch ev.kind {
			case eventTerminate:
				cancelRun()
				s.engine.Detach()
				return nil
			case eventReload:
				cancelRun()
				runCtx, cancelRun = context.WithCancel(ctx)
				if err := s.reload(runCtx); err != nil {
					s.log.WithError(err).Warn("script reload failed, keeping previous breakpoints cleared")
				}
			case eventTick:
				if err := s.engine.Tick(); err != nil {
					s.log.WithError(err).Warn("tick failed")
				}
			}
		}
	}
}

// reload performs the stop-all -> clear-breakpoints -> recompile ->
// install -> continue-all cycle.
func (s *Supervisor) reload(ctx context.Context) error {
	if err := s.engine.StopAll(); err != nil {
		return err
	}
	if err := s.engine.ClearBreakpoints(); err != nil {
		return err
	}

	content, err := os.ReadFile(s.scriptPath)
	if err != nil {
		s.log.WithError(err).Warn("failed to read script, resuming with no breakpoints installed")
		return s.engine.ContinueAll()
	}

	prog, err := s.bridge.CompileFile(s.scriptPath, content)
	if err != nil {
		s.log.WithError(err).Warn("script compile failed, resuming with no breakpoints installed")
		return s.engine.ContinueAll()
	}

	if err := script.Run(ctx, prog); err != nil && ctx.Err() == nil {
		s.log.WithError(err).Warn("script runtime error")
	}

	return s.engine.ContinueAll()
}
