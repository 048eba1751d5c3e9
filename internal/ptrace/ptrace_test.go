//go:build linux

package ptrace

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/EquinoxAlpha/xenon/internal/xerrors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		op   string
		err  error
		want xerrors.Kind
	}{
		{"seize ESRCH is attach failure", "seize", unix.ESRCH, xerrors.KindAttachFailed},
		{"seize EPERM is attach failure", "seize", unix.EPERM, xerrors.KindAttachFailed},
		{"cont ESRCH is a plain kernel-call failure", "cont", unix.ESRCH, xerrors.KindKernelCallFailed},
		{"any op EINVAL is invalid-argument", "pokeuser", unix.EINVAL, xerrors.KindInvalidArgument},
		{"unrelated errno falls back to kernel-call failure", "getregs", unix.EIO, xerrors.KindKernelCallFailed},
		{"non-errno error falls back to kernel-call failure", "detach", errors.New("boom"), xerrors.KindKernelCallFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classify(c.op, c.err); got != c.want {
				t.Errorf("classify(%q, %v) = %v, want %v", c.op, c.err, got, c.want)
			}
		})
	}
}

func TestWrapClassifiesAttachFailure(t *testing.T) {
	err := wrap("seize", 1234, unix.ESRCH)
	if !xerrors.Is(err, xerrors.KindAttachFailed) {
		t.Fatalf("wrap(seize, ESRCH) = %v, want KindAttachFailed", err)
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if err := wrap("cont", 1, nil); err != nil {
		t.Fatalf("wrap(op, pid, nil) = %v, want nil", err)
	}
}
