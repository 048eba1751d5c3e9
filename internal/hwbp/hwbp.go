//go:build linux

// Package hwbp implements the four-slot x86-64 hardware debug-register
// breakpoint/watchpoint bank: DR0-DR3 hold addresses, DR7 arms and
// configures each slot, and DR6 reports which slot fired.
//
// Slot assignment is a free-list, not the fragile global atomic counter
// modulo four that the original implementation used (that scheme hands
// out the same slot to two live breakpoints the moment one is removed out
// of insertion order, silently clobbering it). Reserve and Release are
// serialized by a mutex; Release does not touch DR7, so callers disable a
// breakpoint on every thread before releasing its slot.
package hwbp

import (
	"fmt"
	"sync"

	"github.com/EquinoxAlpha/xenon/internal/ptrace"
	"github.com/EquinoxAlpha/xenon/internal/xerrors"
)

// Kind is the access type that arms a debug-register slot.
type Kind int

const (
	// Execute arms on instruction fetch. Length must be 1.
	Execute Kind = iota
	// Write arms on data write.
	Write
	// Access arms on data read or write. A user-facing "Read" request
	// aliases to Access: x86-64 has no read-only debug-register mode.
	Access
)

// rwBits returns the DR7 R/W field encoding for kind: Execute=00b,
// Write=01b, Access=11b. 10b is reserved by the architecture and unused.
func (k Kind) rwBits() (uint64, error) {
	switch k {
	case Execute:
		return 0b00, nil
	case Write:
		return 0b01, nil
	case Access:
		return 0b11, nil
	default:
		return 0, xerrors.New(xerrors.KindInvalidArgument, "hwbp.kind", fmt.Errorf("unknown kind %d", k))
	}
}

// lenBits returns the DR7 length field encoding for a byte length of 1,
// 2, 4, or 8.
func lenBits(length int) (uint64, error) {
	switch length {
	case 1:
		return 0b00, nil
	case 2:
		return 0b01, nil
	case 8:
		return 0b10, nil
	case 4:
		return 0b11, nil
	default:
		return 0, xerrors.New(xerrors.KindInvalidArgument, "hwbp.length", fmt.Errorf("length must be 1, 2, 4, or 8, got %d", length))
	}
}

const numSlots = 4

// Breakpoint is one armed hardware debug-register slot.
type Breakpoint struct {
	Address uintptr
	Kind    Kind
	Length  int
	slot    int
}

// Registry tracks the four hardware debug-register slots free to hand
// out and the live breakpoints currently occupying them. It is not
// itself thread-record aware: Install/Disable push DR0-DR7 to one pid at
// a time, and the debugger engine re-applies a registry's contents to
// every newly adopted thread.
type Registry struct {
	mu    sync.Mutex
	free  []int // free-list of available slot indices, LIFO
	slots [numSlots]*Breakpoint
}

// NewRegistry returns a Registry with all four slots free.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := numSlots - 1; i >= 0; i-- {
		r.free = append(r.free, i)
	}
	return r
}

// Reserve allocates a free slot for a new breakpoint at addr without
// touching any thread's debug registers. Returns xerrors.KindInvalidArgument
// if all four slots are occupied.
func (r *Registry) Reserve(addr uintptr, kind Kind, length int) (*Breakpoint, error) {
	if _, err := kind.rwBits(); err != nil {
		return nil, err
	}
	if _, err := lenBits(length); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.free) == 0 {
		return nil, xerrors.New(xerrors.KindInvalidArgument, "hwbp.reserve", fmt.Errorf("all %d hardware slots in use", numSlots))
	}
	slot := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	bp := &Breakpoint{Address: addr, Kind: kind, Length: length, slot: slot}
	r.slots[slot] = bp
	return bp, nil
}

// Release returns bp's slot to the free list. Callers must Disable it on
// every live thread first; Release does not touch kernel state.
func (r *Registry) Release(bp *Breakpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[bp.slot] != bp {
		return
	}
	r.slots[bp.slot] = nil
	r.free = append(r.free, bp.slot)
}

// Live returns a snapshot of the currently reserved breakpoints, for
// re-installing onto a newly adopted thread.
func (r *Registry) Live() []*Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Breakpoint, 0, numSlots)
	for _, bp := range r.slots {
		if bp != nil {
			out = append(out, bp)
		}
	}
	return out
}

// Install writes bp's address into DRn and arms its slot in DR7 on pid.
func Install(pid int32, bp *Breakpoint) error {
	if err := ptrace.PokeUser(pid, ptrace.DebugRegOffset(bp.slot), uint64(bp.Address)); err != nil {
		return err
	}
	dr7, err := ptrace.PeekUser(pid, ptrace.DebugRegOffset(7))
	if err != nil {
		return err
	}
	rw, _ := bp.Kind.rwBits()
	ln, _ := lenBits(bp.Length)
	s := uint(bp.slot)
	dr7 |= 1 << (2 * s) // local-enable bit
	clear := uint64(0b1111) << (16 + 4*s)
	dr7 &^= clear
	dr7 |= (rw | ln<<2) << (16 + 4*s)
	return ptrace.PokeUser(pid, ptrace.DebugRegOffset(7), dr7)
}

// Disable clears bp's enable bit in DR7 on pid, without disturbing the
// other three slots.
func Disable(pid int32, bp *Breakpoint) error {
	dr7, err := ptrace.PeekUser(pid, ptrace.DebugRegOffset(7))
	if err != nil {
		return err
	}
	s := uint(bp.slot)
	dr7 &^= 1 << (2 * s)
	return ptrace.PokeUser(pid, ptrace.DebugRegOffset(7), dr7)
}

// InstallAll installs every live breakpoint in the registry onto pid, in
// slot order. Used when adopting a newly cloned thread (SPEC_FULL.md
// §4.2, "Adoption of a new thread").
func (r *Registry) InstallAll(pid int32) error {
	for _, bp := range r.Live() {
		if err := Install(pid, bp); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll disables every live breakpoint's DR7 bits on pid without
// releasing their slots, for the supervisor's stop-all/clear/reload cycle.
func (r *Registry) ClearAll(pid int32) error {
	for _, bp := range r.Live() {
		if err := Disable(pid, bp); err != nil {
			return err
		}
	}
	return nil
}

// HitSlots reads DR6 on pid and returns the indices of slots whose hit
// bit (bits 0-3) is set. DR6 is left untouched; callers clear it via
// ClearHits once they've consumed the hits.
func HitSlots(pid int32) ([]int, error) {
	dr6, err := ptrace.PeekUser(pid, ptrace.DebugRegOffset(6))
	if err != nil {
		return nil, err
	}
	var hits []int
	for s := 0; s < numSlots; s++ {
		if dr6&(1<<uint(s)) != 0 {
			hits = append(hits, s)
		}
	}
	return hits, nil
}

// ClearHits zeroes the status bits of DR6 on pid after a hit has been
// dispatched to its callback.
func ClearHits(pid int32) error {
	return ptrace.PokeUser(pid, ptrace.DebugRegOffset(6), 0)
}

// Slot returns the debug-register slot bp currently occupies.
func (bp *Breakpoint) Slot() int { return bp.slot }

// BreakpointAt returns the live breakpoint occupying slot, or nil.
func (r *Registry) BreakpointAt(slot int) *Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot < 0 || slot >= numSlots {
		return nil
	}
	return r.slots[slot]
}
