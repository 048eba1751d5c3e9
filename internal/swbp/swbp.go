//go:build linux

// Package swbp implements int3 (0xCC) software breakpoints: an unlimited-
// count complement to the four-slot hardware registry in internal/hwbp.
// Installing one overwrites the target byte with 0xCC and remembers the
// original so a hit can be stepped back over transparently.
//
// Software breakpoints are not named anywhere in the kernel-interface
// breakpoint() builtin the distilled specification inherited; they are
// carried forward from the original implementation's own breakpoint
// mechanism (see DESIGN.md, Open Question OQ-1) under the distinct name
// xenon.SoftwareBreakpoint so neither mechanism shadows the other.
package swbp

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/EquinoxAlpha/xenon/internal/ptrace"
	"github.com/EquinoxAlpha/xenon/internal/xerrors"
)

// TrapSignal is the signal delivered by an int3 trap, shared with the
// engine so it can distinguish a software-breakpoint stop from a
// hardware debug-register stop (both arrive as SIGTRAP).
const TrapSignal = unix.SIGTRAP

const trapOpcode = 0xCC

// Breakpoint is one installed int3 site.
type Breakpoint struct {
	Address  uintptr
	original byte // the instruction byte int3 replaced
}

// Registry tracks every software breakpoint installed on a target,
// keyed by address so re-arming after a hit is a lookup, not a scan.
type Registry struct {
	mu   sync.Mutex
	byAddr map[uintptr]*Breakpoint
}

// NewRegistry returns an empty software-breakpoint registry.
func NewRegistry() *Registry {
	return &Registry{byAddr: make(map[uintptr]*Breakpoint)}
}

// Install writes an int3 at addr on tid and records it in the registry.
func (r *Registry) Install(tid int32, addr uintptr) (*Breakpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAddr[addr]; exists {
		return nil, xerrors.New(xerrors.KindInvalidArgument, "swbp.install",
			fmt.Errorf("breakpoint already installed at %#x", addr))
	}
	word, err := ptrace.PeekText(tid, addr)
	if err != nil {
		return nil, err
	}
	original := byte(word)
	newWord := (word &^ 0xFF) | trapOpcode
	if err := ptrace.PokeText(tid, addr, newWord); err != nil {
		return nil, err
	}
	bp := &Breakpoint{Address: addr, original: original}
	r.byAddr[addr] = bp
	return bp, nil
}

// InstallOn writes an already-registered breakpoint's int3 onto another
// thread (used when adopting a clone or handling a new thread joining a
// process that already has breakpoints armed).
func (r *Registry) InstallOn(tid int32, bp *Breakpoint) error {
	word, err := ptrace.PeekText(tid, bp.Address)
	if err != nil {
		return err
	}
	newWord := (word &^ 0xFF) | trapOpcode
	return ptrace.PokeText(tid, bp.Address, newWord)
}

// InstallAllOn installs every registered breakpoint onto tid.
func (r *Registry) InstallAllOn(tid int32) error {
	r.mu.Lock()
	bps := make([]*Breakpoint, 0, len(r.byAddr))
	for _, bp := range r.byAddr {
		bps = append(bps, bp)
	}
	r.mu.Unlock()
	for _, bp := range bps {
		if err := r.InstallOn(tid, bp); err != nil {
			return err
		}
	}
	return nil
}

// HitAt checks whether tid is stopped exactly one byte past a known
// int3 site (the trap delivers with rip already advanced past the
// 0xCC). Returns the breakpoint and the address it's armed at.
func (r *Registry) HitAt(tid int32) (*Breakpoint, uintptr, bool) {
	regs, err := ptrace.GetRegs(tid)
	if err != nil {
		return nil, 0, false
	}
	siteAddr := uintptr(regs.Rip) - 1
	r.mu.Lock()
	bp, ok := r.byAddr[siteAddr]
	r.mu.Unlock()
	if !ok {
		return nil, 0, false
	}
	return bp, siteAddr, true
}

// StepOverAndReinstall restores the original byte, rewinds rip onto it,
// single-steps past it, then re-arms the int3. This is the standard
// software-breakpoint dance: the trap byte can't stay in place for the
// single step or it would just trap again immediately.
func (r *Registry) StepOverAndReinstall(tid int32, bp *Breakpoint) error {
	regs, err := ptrace.GetRegs(tid)
	if err != nil {
		return err
	}
	regs.Rip = uint64(bp.Address)
	if err := ptrace.SetRegs(tid, regs); err != nil {
		return err
	}
	word, err := ptrace.PeekText(tid, bp.Address)
	if err != nil {
		return err
	}
	restored := (word &^ 0xFF) | uint64(bp.original)
	if err := ptrace.PokeText(tid, bp.Address, restored); err != nil {
		return err
	}
	if err := ptrace.SingleStep(tid); err != nil {
		return err
	}
	if _, err := ptrace.Wait(tid); err != nil {
		return err
	}
	return r.InstallOn(tid, bp)
}

// RemoveAllFrom restores every registered breakpoint's original byte on
// tid without forgetting the registry entries (used by the supervisor's
// clear-before-reload cycle; re-installed afterward from script setup).
func (r *Registry) RemoveAllFrom(tid int32) error {
	r.mu.Lock()
	bps := make([]*Breakpoint, 0, len(r.byAddr))
	for _, bp := range r.byAddr {
		bps = append(bps, bp)
	}
	r.mu.Unlock()
	for _, bp := range bps {
		word, err := ptrace.PeekText(tid, bp.Address)
		if err != nil {
			return err
		}
		restored := (word &^ 0xFF) | uint64(bp.original)
		if err := ptrace.PokeText(tid, bp.Address, restored); err != nil {
			return err
		}
	}
	return nil
}
