package xregs

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestFromKernelRoundTrip(t *testing.T) {
	raw := unix.PtraceRegs{
		Rip: 0x400000, Rsp: 0x7ffc00000000, Rax: 42,
		Cs: 0x33, Ss: 0x2b, Ds: 0, Es: 0, Fs: 0, Gs: 0,
		Eflags: 0x246,
	}

	snapshot := FromKernel(&raw)
	if snapshot.Rip != raw.Rip {
		t.Errorf("Rip = %#x, want %#x", snapshot.Rip, raw.Rip)
	}
	if snapshot.Rax != raw.Rax {
		t.Errorf("Rax = %d, want %d", snapshot.Rax, raw.Rax)
	}

	back := snapshot.ToKernel()
	if back.Rip != raw.Rip || back.Rsp != raw.Rsp || back.Rax != raw.Rax {
		t.Errorf("round trip mismatch: got %+v, started from %+v", back, raw)
	}
}

func TestFromKernelIsACopy(t *testing.T) {
	raw := unix.PtraceRegs{Rax: 1}
	snapshot := FromKernel(&raw)

	raw.Rax = 2
	if snapshot.Rax != 1 {
		t.Errorf("mutating the kernel struct after FromKernel changed the snapshot: Rax = %d, want 1", snapshot.Rax)
	}
}

func TestXMMLane(t *testing.T) {
	var fp FPRegisters
	fp.SetXMMLane(0, 0, 0xdeadbeef)
	fp.SetXMMLane(15, 3, 0x1234)

	if got := fp.XMMLane(0, 0); got != 0xdeadbeef {
		t.Errorf("XMMLane(0,0) = %#x, want %#x", got, 0xdeadbeef)
	}
	if got := fp.XMMLane(15, 3); got != 0x1234 {
		t.Errorf("XMMLane(15,3) = %#x, want %#x", got, 0x1234)
	}
	if got := fp.XMMLane(1, 0); got != 0 {
		t.Errorf("unrelated lane XMMLane(1,0) = %#x, want 0", got)
	}
}
