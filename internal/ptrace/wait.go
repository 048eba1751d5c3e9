//go:build linux

package ptrace

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/EquinoxAlpha/xenon/internal/xerrors"
)

// StopKind distinguishes the shapes a wait() status can take.
type StopKind int

const (
	// NoStatus means wait-nonblocking found nothing pending.
	NoStatus StopKind = iota
	// Stopped means the task hit a trap or signal-delivery stop. Raw
	// carries the full wait() status word so callers can pull the event
	// bits (PTRACE_EVENT_* << 8) and the stop signal out of it.
	Stopped
	// Exited means the task called _exit or returned from main.
	Exited
	// Signaled means the task was killed by an uncaught signal.
	Signaled
)

// Status is the decoded outcome of a wait() call, a small sum type over
// the four shapes a waitpid status word can take.
type Status struct {
	Kind       StopKind
	StopSignal unix.Signal // valid when Kind == Stopped
	Raw        int         // valid when Kind == Stopped: the raw status word
	ExitCode   int         // valid when Kind == Exited
	TermSignal unix.Signal // valid when Kind == Signaled
}

// IsCloneEvent reports whether a Stopped status is the distinguished
// clone-event stop (SIGTRAP delivered with PTRACE_EVENT_CLONE in the
// high bits of the status word).
func (s Status) IsCloneEvent() bool {
	return s.Kind == Stopped && s.StopSignal == unix.SIGTRAP &&
		(s.Raw>>8) == (int(unix.SIGTRAP)|(unix.PTRACE_EVENT_CLONE<<8))
}

func decode(status unix.WaitStatus) Status {
	switch {
	case status.Exited():
		return Status{Kind: Exited, ExitCode: status.ExitStatus()}
	case status.Signaled():
		return Status{Kind: Signaled, TermSignal: status.Signal()}
	case status.Stopped():
		return Status{Kind: Stopped, StopSignal: status.StopSignal(), Raw: int(status)}
	default:
		return Status{Kind: NoStatus}
	}
}

// Wait performs a blocking reap of pid's next status change.
func Wait(pid int32) (Status, error) {
	var ws unix.WaitStatus
	_, err := unix.Wait4(int(pid), &ws, 0, nil)
	if err != nil {
		return Status{}, xerrors.New(xerrors.KindKernelCallFailed, fmt.Sprintf("wait(pid=%d)", pid), err)
	}
	return decode(ws), nil
}

// WaitNonblocking performs a non-blocking reap of pid's next status
// change. When nothing is pending it returns Status{Kind: NoStatus}.
func WaitNonblocking(pid int32) (Status, error) {
	var ws unix.WaitStatus
	got, err := unix.Wait4(int(pid), &ws, unix.WNOHANG, nil)
	if err != nil {
		return Status{}, xerrors.New(xerrors.KindKernelCallFailed, fmt.Sprintf("wait_nonblock(pid=%d)", pid), err)
	}
	if got == 0 {
		return Status{Kind: NoStatus}, nil
	}
	return decode(ws), nil
}
