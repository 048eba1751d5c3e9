//go:build linux

// Package ptrace is a thin, typed layer over the Linux process-control and
// cross-process memory-I/O syscalls used by the tracer core. Every call
// here fails with a plain *xerrors.Error. Memory I/O failures are
// KindMemoryAccessFailed and wait failures KindKernelCallFailed; every
// process-control call is classified by wrap from the underlying
// syscall.Errno per the policy in SPEC_FULL.md §7: ESRCH/EPERM
// on a seize is an attach failure (fatal), EINVAL is a caller mistake, and
// everything else is a plain kernel-call failure a sweep can drop the
// thread over.
package ptrace

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/EquinoxAlpha/xenon/internal/xerrors"
	"github.com/EquinoxAlpha/xenon/internal/xregs"
)

// DefaultOptions is the tracer option bitmask applied to every attached
// task: report clone events as a distinguished stop (mandatory, so newly
// spawned threads become visible to the engine) and mark syscall-stops
// (reserved, unused by the current event loop but kept distinguishable
// for future syscall-tracing support).
const DefaultOptions = unix.PTRACE_O_TRACECLONE | unix.PTRACE_O_TRACESYSGOOD

// classify maps a failed op's errno to the Kind the caller should act on.
// Only "seize" distinguishes attach failures: every other ptrace op fails
// mid-sweep against a thread that is already under trace, where ESRCH
// just means "the thread is gone", not "attach failed".
func classify(op string, err error) xerrors.Kind {
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.ESRCH, unix.EPERM:
			if op == "seize" {
				return xerrors.KindAttachFailed
			}
		case unix.EINVAL:
			return xerrors.KindInvalidArgument
		}
	}
	return xerrors.KindKernelCallFailed
}

func wrap(op string, pid int32, err error) error {
	if err == nil {
		return nil
	}
	return xerrors.New(classify(op, err), fmt.Sprintf("%s(pid=%d)", op, pid), err)
}

// Seize begins tracing pid without stopping it. Required before Interrupt.
func Seize(pid int32) error {
	return wrap("seize", pid, unix.PtraceSeize(int(pid)))
}

// Interrupt requests that a seized, running task stop. It does not wait
// for the stop to be observed; pair with a blocking Wait.
func Interrupt(pid int32) error {
	return wrap("interrupt", pid, unix.PtraceInterrupt(int(pid)))
}

// Continue resumes a stopped task, optionally re-delivering a signal.
// Pass 0 to resume without injecting anything.
func Continue(pid int32, signal int) error {
	return wrap("cont", pid, unix.PtraceCont(int(pid), signal))
}

// SingleStep resumes a stopped task for exactly one instruction.
func SingleStep(pid int32) error {
	return wrap("singlestep", pid, unix.PtraceSingleStep(int(pid)))
}

// Detach stops tracing pid; it resumes normal scheduling.
func Detach(pid int32) error {
	return wrap("detach", pid, unix.PtraceDetach(int(pid)))
}

// SetOptions configures the tracer bitmask for pid.
func SetOptions(pid int32, options int) error {
	return wrap("setoptions", pid, unix.PtraceSetOptions(int(pid), options))
}

// GetRegs fetches the general-purpose register file of a stopped task.
func GetRegs(pid int32) (xregs.GPRegisters, error) {
	var raw unix.PtraceRegs
	if err := unix.PtraceGetRegs(int(pid), &raw); err != nil {
		return xregs.GPRegisters{}, wrap("getregs", pid, err)
	}
	return xregs.FromKernel(&raw), nil
}

// SetRegs writes the general-purpose register file of a stopped task.
func SetRegs(pid int32, regs xregs.GPRegisters) error {
	raw := regs.ToKernel()
	return wrap("setregs", pid, unix.PtraceSetRegs(int(pid), &raw))
}

// GetFPRegs fetches the floating-point register file. golang.org/x/sys/unix
// does not wrap PTRACE_GETFPREGS, so this issues the raw syscall directly.
func GetFPRegs(pid int32) (xregs.FPRegisters, error) {
	var raw xregs.FPRegisters
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETFPREGS, uintptr(pid),
		0, uintptr(unsafe.Pointer(&raw)), 0, 0)
	if errno != 0 {
		return xregs.FPRegisters{}, wrap("getfpregs", pid, errno)
	}
	return raw, nil
}

// SetFPRegs writes the floating-point register file.
func SetFPRegs(pid int32, regs xregs.FPRegisters) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SETFPREGS, uintptr(pid),
		0, uintptr(unsafe.Pointer(&regs)), 0, 0)
	if errno != 0 {
		return wrap("setfpregs", pid, errno)
	}
	return nil
}

// PeekUser reads one machine word from the kernel's per-thread "user"
// structure at byte offset off. Used exclusively for the debug-register
// bank (u_debugreg[0..7]).
func PeekUser(pid int32, off uintptr) (uint64, error) {
	var val uint64
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_PEEKUSER, uintptr(pid),
		off, uintptr(unsafe.Pointer(&val)), 0, 0)
	if errno != 0 {
		return 0, wrap("peekuser", pid, errno)
	}
	return val, nil
}

// PokeUser writes one machine word into the kernel's per-thread "user"
// structure at byte offset off.
func PokeUser(pid int32, off uintptr, word uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_POKEUSER, uintptr(pid),
		off, uintptr(word), 0, 0)
	if errno != 0 {
		return wrap("pokeuser", pid, errno)
	}
	return nil
}

// GetEventMessage reads the distinguished-event payload for the most
// recent stop (for a clone event: the PID of the new task).
func GetEventMessage(pid int32) (uint64, error) {
	msg, err := unix.PtraceGetEventMsg(int(pid))
	if err != nil {
		return 0, wrap("geteventmsg", pid, err)
	}
	return uint64(msg), nil
}

// PeekText reads one machine word of the target's text/data via
// PTRACE_PEEKTEXT, used by the software-breakpoint implementation to
// save/restore the original instruction byte.
func PeekText(pid int32, addr uintptr) (uint64, error) {
	var val uint64
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_PEEKTEXT, uintptr(pid),
		addr, uintptr(unsafe.Pointer(&val)), 0, 0)
	if errno != 0 {
		return 0, wrap("peektext", pid, errno)
	}
	return val, nil
}

// PokeText writes one machine word of the target's text/data via
// PTRACE_POKETEXT.
func PokeText(pid int32, addr uintptr, word uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_POKETEXT, uintptr(pid),
		addr, uintptr(word), 0, 0)
	if errno != 0 {
		return wrap("poketext", pid, errno)
	}
	return nil
}

// debugRegBase is the byte offset of u_debugreg[0] within Linux's
// struct user on x86-64 (offsetof(struct user, u_debugreg), a fixed ABI
// constant: struct user is 928 bytes total and the eight debug-register
// words are followed only by error_code and fault_address, so
// 928 - 64 - 16 = 848).
const debugRegBase uintptr = 848

// DebugRegOffset returns the byte offset of u_debugreg[n] within the
// kernel's struct user, for use with PeekUser/PokeUser.
func DebugRegOffset(n int) uintptr {
	return debugRegBase + uintptr(n)*8
}
