//go:build linux

package thread

import (
	"testing"

	"github.com/EquinoxAlpha/xenon/internal/ptrace"
	"github.com/EquinoxAlpha/xenon/internal/xerrors"
	"golang.org/x/sys/unix"
)

func TestRequireStateRejectsWrongState(t *testing.T) {
	r := &Record{PID: 1234, State: Running}

	err := r.requireState(Tracing, "get_regs")
	if !xerrors.Is(err, xerrors.KindProtocolMisuse) {
		t.Fatalf("requireState in wrong state = %v, want KindProtocolMisuse", err)
	}

	r.State = Tracing
	if err := r.requireState(Tracing, "get_regs"); err != nil {
		t.Fatalf("requireState in correct state returned %v, want nil", err)
	}
}

func TestApplyWaitStopTransitionsToTracing(t *testing.T) {
	r := &Record{PID: 1, State: Running}
	r.applyWait(ptrace.Status{Kind: ptrace.Stopped, StopSignal: unix.SIGTRAP})
	if r.State != Tracing {
		t.Errorf("State after Stopped = %v, want Tracing", r.State)
	}
}

func TestApplyWaitExitedIsTerminal(t *testing.T) {
	r := &Record{PID: 1, State: Tracing}
	r.applyWait(ptrace.Status{Kind: ptrace.Exited, ExitCode: 0})
	if r.State != Exited {
		t.Errorf("State after Exited = %v, want Exited", r.State)
	}
}

func TestApplyWaitSignaledIsTerminalNotStoppedOrTracing(t *testing.T) {
	// A WIFSIGNALED status means the thread is gone outright; it must
	// never be mistaken for a recoverable Tracing/Stopped state, or the
	// engine would try to GetRegs a thread that no longer exists.
	r := &Record{PID: 1, State: Running}
	r.applyWait(ptrace.Status{Kind: ptrace.Signaled, TermSignal: unix.SIGKILL})
	if r.State != Exited {
		t.Errorf("State after Signaled = %v, want Exited", r.State)
	}
}

func TestApplyWaitNoStatusLeavesStateUntouched(t *testing.T) {
	r := &Record{PID: 1, State: Running}
	r.applyWait(ptrace.Status{Kind: ptrace.NoStatus})
	if r.State != Running {
		t.Errorf("State after NoStatus = %v, want unchanged Running", r.State)
	}
}

func TestIsLiveAndIsTracing(t *testing.T) {
	cases := []struct {
		state      State
		wantLive   bool
		wantRun    bool
		wantTrace  bool
	}{
		{Detached, false, false, false},
		{Running, true, true, false},
		{Tracing, true, false, true},
		{Exited, false, false, false},
	}
	for _, c := range cases {
		r := &Record{State: c.state}
		if r.IsLive() != c.wantLive {
			t.Errorf("State=%v: IsLive() = %v, want %v", c.state, r.IsLive(), c.wantLive)
		}
		if r.IsRunning() != c.wantRun {
			t.Errorf("State=%v: IsRunning() = %v, want %v", c.state, r.IsRunning(), c.wantRun)
		}
		if r.IsTracing() != c.wantTrace {
			t.Errorf("State=%v: IsTracing() = %v, want %v", c.state, r.IsTracing(), c.wantTrace)
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Detached: "detached", Running: "running", Stopped: "stopped",
		Tracing: "tracing", Exited: "exited", State(99): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
