//go:build linux

// Package thread models one traced task: its identity, its place in the
// ptrace state machine (§4.2), and the typed operations that enforce the
// machine's preconditions instead of trusting callers to check them.
package thread

import (
	"fmt"
	"os"
	"strings"

	"github.com/EquinoxAlpha/xenon/internal/ptrace"
	"github.com/EquinoxAlpha/xenon/internal/xerrors"
	"github.com/EquinoxAlpha/xenon/internal/xregs"
)

// State is a thread record's position in the ptrace state machine.
type State int

const (
	// Detached: not yet seized, or torn down.
	Detached State = iota
	// Running: seized and scheduling normally; not safe to read/write
	// registers or debug registers.
	Running
	// Stopped: declared for completeness. applyWait records every stop
	// observed by wait/wait-nonblocking as Tracing, so no operation in
	// this package moves a record into this state.
	Stopped
	// Tracing: stopped and under the debugger's control; registers and
	// debug registers may be fetched/written.
	Tracing
	// Exited: the task has exited or been killed; removed from the live
	// set on the next sweep.
	Exited
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Tracing:
		return "tracing"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Record is one traced task.
type Record struct {
	PID   int32
	Comm  string
	State State
}

// New constructs a Record for pid in the Detached state, reading its comm
// name from /proc/<pid>/comm.
func New(pid int32) (*Record, error) {
	comm, err := readComm(pid)
	if err != nil {
		return nil, xerrors.New(xerrors.KindAttachFailed, fmt.Sprintf("thread.New(pid=%d)", pid), err)
	}
	return &Record{PID: pid, Comm: comm, State: Detached}, nil
}

func readComm(pid int32) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (r *Record) requireState(want State, op string) error {
	if r.State != want {
		return xerrors.New(xerrors.KindProtocolMisuse,
			fmt.Sprintf("%s(pid=%d)", op, r.PID),
			fmt.Errorf("thread is %s, want %s", r.State, want))
	}
	return nil
}

// Attach seizes the task without stopping it.
func (r *Record) Attach() error {
	if err := ptrace.Seize(r.PID); err != nil {
		return err
	}
	r.State = Running
	return nil
}

// SetOptions configures the tracer bitmask. Requires Tracing.
func (r *Record) SetOptions(options int) error {
	if err := r.requireState(Tracing, "set_options"); err != nil {
		return err
	}
	return ptrace.SetOptions(r.PID, options)
}

// Interrupt requests a seized, Running task to stop, then blocks until the
// stop is observed. On success the record transitions to Tracing.
func (r *Record) Interrupt() error {
	if err := r.requireState(Running, "interrupt"); err != nil {
		return err
	}
	if err := ptrace.Interrupt(r.PID); err != nil {
		return err
	}
	if _, err := ptrace.Wait(r.PID); err != nil {
		return err
	}
	r.State = Tracing
	return nil
}

// Continue resumes a Tracing task, optionally re-delivering signal (0 for
// none). On success the record transitions to Running.
func (r *Record) Continue(signal int) error {
	if err := r.requireState(Tracing, "continue"); err != nil {
		return err
	}
	if err := ptrace.Continue(r.PID, signal); err != nil {
		return err
	}
	r.State = Running
	return nil
}

// SingleStep resumes a Tracing task for exactly one instruction, then
// blocks for the resulting stop. The record ends Tracing again.
func (r *Record) SingleStep() error {
	if err := r.requireState(Tracing, "singlestep"); err != nil {
		return err
	}
	if err := ptrace.SingleStep(r.PID); err != nil {
		return err
	}
	if _, err := ptrace.Wait(r.PID); err != nil {
		return err
	}
	r.State = Tracing
	return nil
}

// Detach stops tracing; the task resumes normal scheduling.
func (r *Record) Detach() error {
	if err := ptrace.Detach(r.PID); err != nil {
		return err
	}
	r.State = Detached
	return nil
}

// Wait performs a blocking reap and applies the resulting transition.
func (r *Record) Wait() (ptrace.Status, error) {
	st, err := ptrace.Wait(r.PID)
	if err != nil {
		return st, err
	}
	r.applyWait(st)
	return st, nil
}

// WaitNonblocking performs a non-blocking reap and applies the resulting
// transition. A NoStatus result leaves the state untouched.
func (r *Record) WaitNonblocking() (ptrace.Status, error) {
	st, err := ptrace.WaitNonblocking(r.PID)
	if err != nil {
		return st, err
	}
	r.applyWait(st)
	return st, nil
}

// applyWait drives the state machine from a decoded wait status. A
// WIFSIGNALED status is terminal: the thread is gone, full stop -- it
// must never be mistaken for a recoverable Stopped state (see
// SPEC_FULL.md / spec.md §9, "Thread-state race after non-blocking wait").
func (r *Record) applyWait(st ptrace.Status) {
	switch st.Kind {
	case ptrace.Stopped:
		r.State = Tracing
	case ptrace.Exited, ptrace.Signaled:
		r.State = Exited
	case ptrace.NoStatus:
		// leave state untouched
	}
}

// GetRegs fetches the general-purpose register snapshot. Requires Tracing.
func (r *Record) GetRegs() (xregs.GPRegisters, error) {
	if err := r.requireState(Tracing, "get_regs"); err != nil {
		return xregs.GPRegisters{}, err
	}
	return ptrace.GetRegs(r.PID)
}

// SetRegs writes the general-purpose register file. Requires Tracing.
func (r *Record) SetRegs(regs xregs.GPRegisters) error {
	if err := r.requireState(Tracing, "set_regs"); err != nil {
		return err
	}
	return ptrace.SetRegs(r.PID, regs)
}

// GetFPRegs fetches the floating-point register file. Requires Tracing.
func (r *Record) GetFPRegs() (xregs.FPRegisters, error) {
	if err := r.requireState(Tracing, "get_fpregs"); err != nil {
		return xregs.FPRegisters{}, err
	}
	return ptrace.GetFPRegs(r.PID)
}

// SetFPRegs writes the floating-point register file. Requires Tracing.
func (r *Record) SetFPRegs(regs xregs.FPRegisters) error {
	if err := r.requireState(Tracing, "set_fpregs"); err != nil {
		return err
	}
	return ptrace.SetFPRegs(r.PID, regs)
}

// PeekUser/PokeUser/GetEventMessage require Tracing. GetEventMessage
// backs clone-event adoption; the hwbp package programs the debug
// register bank through ptrace.PeekUser/PokeUser directly.

func (r *Record) PeekUser(off uintptr) (uint64, error) {
	if err := r.requireState(Tracing, "peek_user"); err != nil {
		return 0, err
	}
	return ptrace.PeekUser(r.PID, off)
}

func (r *Record) PokeUser(off uintptr, word uint64) error {
	if err := r.requireState(Tracing, "poke_user"); err != nil {
		return err
	}
	return ptrace.PokeUser(r.PID, off, word)
}

func (r *Record) GetEventMessage() (uint64, error) {
	if err := r.requireState(Tracing, "get_event_message"); err != nil {
		return 0, err
	}
	return ptrace.GetEventMessage(r.PID)
}

// IsTracing reports whether the record is currently in the Tracing state.
func (r *Record) IsTracing() bool { return r.State == Tracing }

// IsRunning reports whether the record is currently in the Running state.
func (r *Record) IsRunning() bool { return r.State == Running }

// IsLive reports whether the record is still part of the live set (not
// Exited and not Detached).
func (r *Record) IsLive() bool { return r.State != Exited && r.State != Detached }
