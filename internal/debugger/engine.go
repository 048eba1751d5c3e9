//go:build linux

// Package debugger owns the live thread set and the hardware/software
// breakpoint registries, and drives the per-tick sweep that discovers
// stops, adopts cloned threads, dispatches breakpoint callbacks, and
// re-injects signals the debugger itself has no opinion about.
package debugger

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/EquinoxAlpha/xenon/internal/hwbp"
	"github.com/EquinoxAlpha/xenon/internal/procfs"
	"github.com/EquinoxAlpha/xenon/internal/ptrace"
	"github.com/EquinoxAlpha/xenon/internal/swbp"
	"github.com/EquinoxAlpha/xenon/internal/thread"
	"github.com/EquinoxAlpha/xenon/internal/xerrors"
	"github.com/EquinoxAlpha/xenon/internal/xregs"
)

// HitHandler is invoked when a breakpoint or watchpoint fires. For a
// hardware hit rip is the instruction pointer's value at the moment of
// the stop; for a software (int3) hit it is the breakpoint's own address,
// one byte before where the trap left the instruction pointer.
type HitHandler func(tid int32, rip uintptr)

// Engine is the per-process debugger core: one goroutine drives Tick in
// a loop, and every exported method is safe to call from that same
// goroutine or from a script callback it invokes (the mutex is
// re-entrant-by-convention: callbacks run with the lock already held, so
// they must only call the NoLock variants or methods documented as
// callback-safe).
type Engine struct {
	mu sync.Mutex

	log *logrus.Entry

	leaderPID int32

	threads map[int32]*thread.Record
	hw      *hwbp.Registry
	sw      *swbp.Registry

	hwHandlers map[int]HitHandler // by slot
	swHandlers map[uintptr]HitHandler
}

// New creates an Engine for the task group led by pid: it enumerates
// /proc/<pid>/task for every task that already exists at attach time
// (spec.md §1, "seizes every task of a multi-threaded target"; see also
// SPEC_FULL.md §6) and seizes each one, carrying every newly-interrupted
// thread through set-options before letting it run again (spec.md §4.2's
// attach -> Running -> set-options -> Running(options set) transition).
func New(pid int32, log *logrus.Entry) (*Engine, error) {
	e := &Engine{
		log:        log,
		leaderPID:  pid,
		threads:    make(map[int32]*thread.Record),
		hw:         hwbp.NewRegistry(),
		sw:         swbp.NewRegistry(),
		hwHandlers: make(map[int]HitHandler),
		swHandlers: make(map[uintptr]HitHandler),
	}

	tids, err := procfs.Tasks(pid)
	if err != nil || len(tids) == 0 {
		log.WithError(err).WithField("pid", pid).Warn("task enumeration failed, seizing leader only")
		tids = []int32{pid}
	}

	for _, tid := range tids {
		if err := e.seizeTask(tid); err != nil {
			if tid == pid {
				return nil, err
			}
			e.log.WithError(err).WithField("tid", tid).Warn("failed to seize existing task, skipping")
			continue
		}
	}
	if len(e.threads) == 0 {
		return nil, xerrors.New(xerrors.KindAttachFailed, fmt.Sprintf("debugger.New(pid=%d)", pid),
			fmt.Errorf("no task of the target could be seized"))
	}

	e.log.WithFields(logrus.Fields{"pid": pid, "tasks": len(e.threads)}).Info("seized initial thread set")
	return e, nil
}

// seizeTask seizes tid, interrupts it to reach the Tracing state required
// by SetOptions, configures the tracer option bitmask, and resumes it.
func (e *Engine) seizeTask(tid int32) error {
	rec, err := thread.New(tid)
	if err != nil {
		return err
	}
	if err := rec.Attach(); err != nil {
		return err
	}
	if err := rec.Interrupt(); err != nil {
		return err
	}
	if err := rec.SetOptions(ptrace.DefaultOptions); err != nil {
		return err
	}
	if err := rec.Continue(0); err != nil {
		return err
	}
	e.threads[tid] = rec
	return nil
}

// SetBreakpoint arms a hardware execute breakpoint of length 1 at addr
// and registers handler to run when it fires.
func (e *Engine) SetBreakpoint(addr uintptr, handler HitHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	bp, err := e.hw.Reserve(addr, hwbp.Execute, 1)
	if err != nil {
		return err
	}
	if err := e.installHWLocked(bp); err != nil {
		e.hw.Release(bp)
		return err
	}
	e.hwHandlers[bp.Slot()] = handler
	return nil
}

// SetWatchpoint arms a hardware write/access watchpoint of the given
// byte length (1, 2, 4, or 8) at addr.
func (e *Engine) SetWatchpoint(addr uintptr, length int, kind hwbp.Kind, handler HitHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	bp, err := e.hw.Reserve(addr, kind, length)
	if err != nil {
		return err
	}
	if err := e.installHWLocked(bp); err != nil {
		e.hw.Release(bp)
		return err
	}
	e.hwHandlers[bp.Slot()] = handler
	return nil
}

func (e *Engine) installHWLocked(bp *hwbp.Breakpoint) error {
	for tid, rec := range e.threads {
		if !rec.IsTracing() {
			continue
		}
		if err := hwbp.Install(tid, bp); err != nil {
			// Disarm the slot everywhere before the caller releases it.
			for other, r := range e.threads {
				if r.IsTracing() {
					_ = hwbp.Disable(other, bp)
				}
			}
			return err
		}
	}
	return nil
}

// SetSoftwareBreakpoint arms an int3 software breakpoint at addr. Unlike
// hardware breakpoints this mechanism has no slot limit.
func (e *Engine) SetSoftwareBreakpoint(addr uintptr, handler HitHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var anyTid int32 = -1
	for tid, rec := range e.threads {
		if rec.IsTracing() {
			anyTid = tid
			break
		}
	}
	if anyTid == -1 {
		return fmt.Errorf("no tracing thread available to install software breakpoint at %#x", addr)
	}
	bp, err := e.sw.Install(anyTid, addr)
	if err != nil {
		return err
	}
	for tid, rec := range e.threads {
		if tid == anyTid || !rec.IsTracing() {
			continue
		}
		if err := e.sw.InstallOn(tid, bp); err != nil {
			return err
		}
	}
	e.swHandlers[addr] = handler
	return nil
}

// Threads returns the tids currently tracked, live or not.
func (e *Engine) Threads() []int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int32, 0, len(e.threads))
	for tid := range e.threads {
		out = append(out, tid)
	}
	return out
}

// Thread returns the record for tid, or nil if untracked.
func (e *Engine) Thread(tid int32) *thread.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threads[tid]
}

// Tick performs one non-blocking sweep over every tracked thread: reap
// any pending status, adopt newly cloned threads, dispatch breakpoint
// hits, and re-inject signals the debugger has no opinion about
// (SPEC_FULL.md Testable Property 1: transparent signal re-injection).
func (e *Engine) Tick() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for tid, rec := range e.threads {
		if !rec.IsRunning() {
			continue
		}
		st, err := rec.WaitNonblocking()
		if err != nil {
			e.log.WithError(err).WithField("tid", tid).Warn("wait_nonblocking failed, dropping thread")
			delete(e.threads, tid)
			continue
		}
		switch st.Kind {
		case ptrace.NoStatus:
			continue
		case ptrace.Exited, ptrace.Signaled:
			e.log.WithField("tid", tid).Debug("thread exited")
			delete(e.threads, tid)
			continue
		case ptrace.Stopped:
			if st.IsCloneEvent() {
				e.adoptCloneLocked(rec)
				if err := rec.Continue(0); err != nil {
					e.log.WithError(err).WithField("tid", tid).Warn("continue after clone-event failed")
				}
				continue
			}
			if err := e.handleStopLocked(rec, st); err != nil {
				e.log.WithError(err).WithField("tid", tid).Warn("handle stop failed")
			}
		}
	}
	return nil
}

// adoptCloneLocked reads the new child tid out of the event message,
// registers it, and installs every live breakpoint onto it before
// letting it run (SPEC_FULL.md §4.2 "Adoption of a new thread").
func (e *Engine) adoptCloneLocked(parent *thread.Record) {
	msg, err := parent.GetEventMessage()
	if err != nil {
		e.log.WithError(err).Warn("get_event_message failed on clone event")
		return
	}
	childTid := int32(msg)
	if _, ok := e.threads[childTid]; ok {
		return
	}
	child, err := thread.New(childTid)
	if err != nil {
		e.log.WithError(err).WithField("tid", childTid).Warn("thread.New failed for adopted clone")
		return
	}
	// The child is already stopped at its first trap by virtue of
	// PTRACE_O_TRACECLONE; a blocking wait observes that stop.
	child.State = thread.Running
	if _, err := child.Wait(); err != nil {
		e.log.WithError(err).WithField("tid", childTid).Warn("wait on adopted clone failed")
		return
	}
	if err := child.SetOptions(ptrace.DefaultOptions); err != nil {
		e.log.WithError(err).WithField("tid", childTid).Warn("set_options failed on adopted clone")
	}
	if err := e.hw.InstallAll(childTid); err != nil {
		e.log.WithError(err).WithField("tid", childTid).Warn("installing hardware breakpoints on adopted clone failed")
	}
	if err := e.sw.InstallAllOn(childTid); err != nil {
		e.log.WithError(err).WithField("tid", childTid).Warn("installing software breakpoints on adopted clone failed")
	}
	e.threads[childTid] = child
	if err := child.Continue(0); err != nil {
		e.log.WithError(err).WithField("tid", childTid).Warn("continue of adopted clone failed")
	}
	e.log.WithFields(logrus.Fields{"parent": parent.PID, "child": childTid}).Info("adopted cloned thread")
}

// handleStopLocked classifies a non-clone stop: a breakpoint trap,
// a debug-register hit, or a signal the debugger must transparently
// re-inject.
func (e *Engine) handleStopLocked(rec *thread.Record, st ptrace.Status) error {
	tid := rec.PID

	if st.StopSignal == swbp.TrapSignal {
		if bp, rip, ok := e.sw.HitAt(tid); ok {
			if handler := e.swHandlers[bp.Address]; handler != nil {
				handler(tid, rip)
			}
			if err := e.sw.StepOverAndReinstall(tid, bp); err != nil {
				return err
			}
			return rec.Continue(0)
		}

		hits, err := hwbp.HitSlots(tid)
		if err == nil && len(hits) > 0 {
			regs, _ := rec.GetRegs()
			for _, slot := range hits {
				if handler, ok := e.hwHandlers[slot]; ok {
					handler(tid, uintptr(regs.Rip))
				}
			}
			if err := hwbp.ClearHits(tid); err != nil {
				e.log.WithError(err).WithField("tid", tid).Warn("clear_hits failed")
			}
			return rec.Continue(0)
		}
	}

	// Not a trap the debugger owns: re-inject the signal untouched so
	// the target's own handlers still observe it.
	return rec.Continue(int(st.StopSignal))
}

// Jump sets tid's instruction pointer to rip. Requires tid to be in the
// Tracing state.
func (e *Engine) Jump(tid int32, rip uintptr) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.threads[tid]
	if !ok {
		return fmt.Errorf("no such thread %d", tid)
	}
	regs, err := rec.GetRegs()
	if err != nil {
		return err
	}
	regs.Rip = uint64(rip)
	return rec.SetRegs(regs)
}

// StopAll interrupts every Running thread so their state can be
// inspected or their breakpoints reconfigured (supervisor hot-reload).
func (e *Engine) StopAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for tid, rec := range e.threads {
		if rec.IsRunning() {
			if err := rec.Interrupt(); err != nil {
				e.log.WithError(err).WithField("tid", tid).Warn("interrupt failed during stop_all")
			}
		}
	}
	return nil
}

// ContinueAll resumes every Tracing thread.
func (e *Engine) ContinueAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for tid, rec := range e.threads {
		if rec.IsTracing() {
			if err := rec.Continue(0); err != nil {
				e.log.WithError(err).WithField("tid", tid).Warn("continue failed during continue_all")
			}
		}
	}
	return nil
}

// ClearBreakpoints disables every hardware and software breakpoint on
// every live thread, drops every handler, and replaces both registries
// with empty ones (all four hardware slots free again), so a reloaded
// script starts from a clean debug-register bank.
func (e *Engine) ClearBreakpoints() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for tid, rec := range e.threads {
		if !rec.IsLive() {
			continue
		}
		if err := e.hw.ClearAll(tid); err != nil {
			e.log.WithError(err).WithField("tid", tid).Warn("clear hardware breakpoints failed")
		}
		if err := e.sw.RemoveAllFrom(tid); err != nil {
			e.log.WithError(err).WithField("tid", tid).Warn("clear software breakpoints failed")
		}
	}
	e.hwHandlers = make(map[int]HitHandler)
	e.swHandlers = make(map[uintptr]HitHandler)
	e.hw = hwbp.NewRegistry()
	e.sw = swbp.NewRegistry()
	return nil
}

// GetFPRegs fetches tid's floating-point register file, backing the
// script bridge's get_xmm builtin.
func (e *Engine) GetFPRegs(tid int32) (xregs.FPRegisters, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.threads[tid]
	if !ok {
		return xregs.FPRegisters{}, fmt.Errorf("no such thread %d", tid)
	}
	return rec.GetFPRegs()
}

// SetFPRegs writes tid's floating-point register file, backing the
// script bridge's set_xmm builtin.
func (e *Engine) SetFPRegs(tid int32, regs xregs.FPRegisters) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.threads[tid]
	if !ok {
		return fmt.Errorf("no such thread %d", tid)
	}
	return rec.SetFPRegs(regs)
}

// Maps reads the target's current address-space map, letting scripts
// resolve an address to the region that backs it.
func (e *Engine) Maps() ([]procfs.MapEntry, error) {
	e.mu.Lock()
	pid := e.leaderPID
	e.mu.Unlock()
	return procfs.Maps(pid)
}

// ResolveAddr returns the map entry containing addr, if any.
func (e *Engine) ResolveAddr(addr uintptr) (procfs.MapEntry, bool, error) {
	entries, err := e.Maps()
	if err != nil {
		return procfs.MapEntry{}, false, err
	}
	entry, ok := procfs.FindEntry(entries, addr)
	return entry, ok, nil
}

// Detach stops tracing every thread, leaving the target process to run
// freely.
func (e *Engine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for tid, rec := range e.threads {
		if err := rec.Detach(); err != nil {
			e.log.WithError(err).WithField("tid", tid).Warn("detach failed")
		}
	}
}
