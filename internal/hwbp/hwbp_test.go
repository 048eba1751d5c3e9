//go:build linux

package hwbp

import (
	"testing"

	"github.com/EquinoxAlpha/xenon/internal/xerrors"
)

func TestReserveFillsAllFourSlots(t *testing.T) {
	reg := NewRegistry()

	var got []*Breakpoint
	for i := 0; i < numSlots; i++ {
		bp, err := reg.Reserve(uintptr(0x1000+i), Execute, 1)
		if err != nil {
			t.Fatalf("Reserve #%d failed: %v", i, err)
		}
		got = append(got, bp)
	}

	seen := map[int]bool{}
	for _, bp := range got {
		if seen[bp.Slot()] {
			t.Fatalf("slot %d handed out twice", bp.Slot())
		}
		seen[bp.Slot()] = true
	}

	if _, err := reg.Reserve(0x9999, Execute, 1); !xerrors.Is(err, xerrors.KindInvalidArgument) {
		t.Fatalf("Reserve past capacity = %v, want KindInvalidArgument", err)
	}
}

func TestReleaseReusesFreedSlotOnly(t *testing.T) {
	reg := NewRegistry()

	first, err := reg.Reserve(0x1000, Execute, 1)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	for i := 0; i < numSlots-1; i++ {
		if _, err := reg.Reserve(uintptr(0x2000+i), Execute, 1); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
	}

	releasedSlot := first.Slot()
	reg.Release(first)

	replacement, err := reg.Reserve(0x3000, Write, 4)
	if err != nil {
		t.Fatalf("Reserve after release: %v", err)
	}
	if replacement.Slot() != releasedSlot {
		t.Errorf("replacement.Slot() = %d, want the just-freed slot %d", replacement.Slot(), releasedSlot)
	}

	// Releasing the same breakpoint twice must not double-free the slot.
	reg.Release(first)
	if len(reg.free) != 0 {
		t.Errorf("double-release freed an already-occupied slot: free list = %v", reg.free)
	}
}

func TestLiveSnapshot(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.Reserve(0x1000, Execute, 1)
	b, _ := reg.Reserve(0x2000, Write, 8)

	live := reg.Live()
	if len(live) != 2 {
		t.Fatalf("Live() returned %d entries, want 2", len(live))
	}

	reg.Release(a)
	if len(reg.Live()) != 1 {
		t.Fatalf("Live() after release returned %d entries, want 1", len(reg.Live()))
	}
	if reg.BreakpointAt(b.Slot()) != b {
		t.Errorf("BreakpointAt(%d) did not return the surviving breakpoint", b.Slot())
	}
}

func TestRwBitsEncoding(t *testing.T) {
	cases := []struct {
		kind Kind
		want uint64
	}{
		{Execute, 0b00},
		{Write, 0b01},
		{Access, 0b11},
	}
	for _, c := range cases {
		got, err := c.kind.rwBits()
		if err != nil {
			t.Fatalf("rwBits(%v): %v", c.kind, err)
		}
		if got != c.want {
			t.Errorf("rwBits(%v) = %02b, want %02b", c.kind, got, c.want)
		}
	}

	if _, err := Kind(99).rwBits(); !xerrors.Is(err, xerrors.KindInvalidArgument) {
		t.Errorf("rwBits(invalid kind) = %v, want KindInvalidArgument", err)
	}
}

func TestLenBitsEncoding(t *testing.T) {
	cases := []struct {
		length int
		want   uint64
	}{
		{1, 0b00},
		{2, 0b01},
		{8, 0b10},
		{4, 0b11},
	}
	for _, c := range cases {
		got, err := lenBits(c.length)
		if err != nil {
			t.Fatalf("lenBits(%d): %v", c.length, err)
		}
		if got != c.want {
			t.Errorf("lenBits(%d) = %02b, want %02b", c.length, got, c.want)
		}
	}

	if _, err := lenBits(3); !xerrors.Is(err, xerrors.KindInvalidArgument) {
		t.Errorf("lenBits(3) = %v, want KindInvalidArgument", err)
	}
}
