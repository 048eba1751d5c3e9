package xerrors

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("ESRCH")
	err := New(KindKernelCallFailed, "cont(pid=1)", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true")
	}
	if got := errors.Unwrap(err); got != cause {
		t.Fatalf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestIs(t *testing.T) {
	err := New(KindMemoryAccessFailed, "read(pid=1,addr=0x0)", errors.New("short read"))

	if !Is(err, KindMemoryAccessFailed) {
		t.Fatalf("Is(err, KindMemoryAccessFailed) = false, want true")
	}
	if Is(err, KindAttachFailed) {
		t.Fatalf("Is(err, KindAttachFailed) = true, want false")
	}
	if Is(errors.New("plain"), KindAttachFailed) {
		t.Fatalf("Is(plain error, _) = true, want false")
	}
}

func TestKindString(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KindAttachFailed, "attach-failed"},
		{KindProtocolMisuse, "protocol-misuse"},
		{KindKernelCallFailed, "kernel-call-failed"},
		{KindMemoryAccessFailed, "memory-access-failed"},
		{KindInvalidArgument, "invalid-argument"},
		{KindScriptCompileFailed, "script-compile-failed"},
		{KindScriptRuntimeFailed, "script-runtime-failed"},
		{Kind(999), "unknown"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("Kind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(KindInvalidArgument, "hwbp.length", nil)
	want := "hwbp.length: invalid-argument"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
