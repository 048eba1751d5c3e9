//go:build linux

// Package script is the embedded scripting bridge: it compiles a
// Go-syntax script with scriggo and exposes a fixed surface of builtins
// under the package name "xenon" -- breakpoint/watchpoint registration,
// typed cross-process memory access, register get/set, thread control,
// and a pointer-chain walker and hexdump helper. The script's own
// grammar and the rest of its standard library are scriggo's concern,
// not this package's.
package script

import (
	"context"
	"fmt"
	"io/fs"
	"reflect"
	"sync"

	"github.com/open2b/scriggo"
	"github.com/open2b/scriggo/native"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/EquinoxAlpha/xenon/internal/debugger"
	"github.com/EquinoxAlpha/xenon/internal/hwbp"
	"github.com/EquinoxAlpha/xenon/internal/procfs"
	"github.com/EquinoxAlpha/xenon/internal/ptrace"
	"github.com/EquinoxAlpha/xenon/internal/xerrors"
)

const builtinPackageName = "xenon"

// BreakpointFunc is the script-facing callback shape for every
// breakpoint and watchpoint builtin.
type BreakpointFunc func(tid int32, rip uint64)

// Bridge wires a debugger.Engine to a scriggo program's builtin
// namespace. internal/supervisor builds one Bridge and recompiles every
// reloaded script through it. The *debugger.Engine underneath keeps its
// threads across a reload; its breakpoints and hardware slots are
// cleared before the new script runs.
type Bridge struct {
	mu  sync.Mutex
	eng *debugger.Engine
	log *logrus.Entry
}

// New returns a Bridge over eng.
func New(eng *debugger.Engine, log *logrus.Entry) *Bridge {
	return &Bridge{eng: eng, log: log}
}

// Compile builds a scriggo program from source, with this Bridge's
// builtins available under the "xenon" package name.
func (b *Bridge) Compile(fsys fs.FS) (*scriggo.Program, error) {
	packages := native.Packages{
		builtinPackageName: native.Package{
			Name:         builtinPackageName,
			Declarations: b.declarations(),
		},
	}
	opts := &scriggo.BuildOptions{
		Packages: packages,
	}
	prog, err := scriggo.Build(fsys, opts)
	if err != nil {
		return nil, xerrors.New(xerrors.KindScriptCompileFailed, "script.compile", err)
	}
	return prog, nil
}

// CompileFile builds a scriggo program from a single script file on
// disk, for the common one-file-per-reload case.
func (b *Bridge) CompileFile(path string, content []byte) (*scriggo.Program, error) {
	return b.Compile(scriggo.Files{path: content})
}

// Run executes prog to completion, cancelable via ctx (the supervisor
// cancels this context on the next hot-reload or termination signal).
func Run(ctx context.Context, prog *scriggo.Program) error {
	err := prog.Run(&scriggo.RunOptions{Context: ctx})
	if err != nil {
		return xerrors.New(xerrors.KindScriptRuntimeFailed, "script.run", err)
	}
	return nil
}

func (b *Bridge) declarations() native.Declarations {
	return native.Declarations{
		"Breakpoint":         b.breakpoint,
		"SoftwareBreakpoint": b.softwareBreakpoint,
		"Watchpoint":         b.watchpoint,
		"WatchpointWrite":    b.watchpointWrite,
		"HwBreakpoint":       b.hwBreakpoint,

		"ReadU8":  b.readU8,
		"ReadU16": b.readU16,
		"ReadU32": b.readU32,
		"ReadU64": b.readU64,
		"ReadI8":  b.readI8,
		"ReadI16": b.readI16,
		"ReadI32": b.readI32,
		"ReadI64": b.readI64,
		"WriteU8":  b.writeU8,
		"WriteU16": b.writeU16,
		"WriteU32": b.writeU32,
		"WriteU64": b.writeU64,
		"ReadF32": b.readF32,
		"ReadF64": b.readF64,
		"WriteF32": b.writeF32,
		"WriteF64": b.writeF64,
		"ReadString": b.readString,
		"ReadBytes":  b.readBytes,
		"WriteBytes": b.writeBytes,
		"ReadPtrChain": b.readPtrChain,
		"Hexdump":      Hexdump,

		"GetRegs": b.getRegs,
		"SetRegs": b.setRegs,
		"GetXmm":  b.getXmm,
		"SetXmm":  b.setXmm,
		"Jump":    b.jump,

		"Maps":        b.maps,
		"ResolveAddr": b.resolveAddr,
		"MapEntry":    reflect.TypeOf(procfs.MapEntry{}),

		"BreakpointFunc": reflect.TypeOf((*BreakpointFunc)(nil)).Elem(),

		"Quit": b.quit,
	}
}

func (b *Bridge) breakpoint(addr uint64, fn BreakpointFunc) error {
	return b.eng.SetBreakpoint(uintptr(addr), func(tid int32, rip uintptr) {
		fn(tid, uint64(rip))
	})
}

func (b *Bridge) softwareBreakpoint(addr uint64, fn BreakpointFunc) error {
	return b.eng.SetSoftwareBreakpoint(uintptr(addr), func(tid int32, rip uintptr) {
		fn(tid, uint64(rip))
	})
}

// watchpoint registers an access (read-or-write) watchpoint, matching the
// 3-argument builtin documented in spec.md and original_source's
// register_fn("watchpoint", ...).
func (b *Bridge) watchpoint(addr uint64, length int, fn BreakpointFunc) error {
	return b.eng.SetWatchpoint(uintptr(addr), length, hwbp.Access, func(tid int32, rip uintptr) {
		fn(tid, uint64(rip))
	})
}

// watchpointWrite registers a write-only watchpoint. Kept as a separate
// builtin rather than a 4th bool argument on watchpoint, so the spec'd
// 3-argument signature of Watchpoint never changes (same reasoning as the
// Breakpoint/SoftwareBreakpoint split).
func (b *Bridge) watchpointWrite(addr uint64, length int, fn BreakpointFunc) error {
	return b.eng.SetWatchpoint(uintptr(addr), length, hwbp.Write, func(tid int32, rip uintptr) {
		fn(tid, uint64(rip))
	})
}

func (b *Bridge) hwBreakpoint(addr uint64, fn BreakpointFunc) error {
	return b.eng.SetWatchpoint(uintptr(addr), 1, hwbp.Execute, func(tid int32, rip uintptr) {
		fn(tid, uint64(rip))
	})
}

func (b *Bridge) tidOf(tid int32) (int32, error) {
	if b.eng.Thread(tid) == nil {
		return 0, errors.Errorf("unknown thread %d", tid)
	}
	return tid, nil
}

func (b *Bridge) readU8(tid int32, addr uint64) (uint8, error) {
	v, err := ptrace.Read(tid, uintptr(addr), 1, false)
	return uint8(v), err
}

func (b *Bridge) readU16(tid int32, addr uint64) (uint16, error) {
	v, err := ptrace.Read(tid, uintptr(addr), 2, false)
	return uint16(v), err
}

func (b *Bridge) readU32(tid int32, addr uint64) (uint32, error) {
	v, err := ptrace.Read(tid, uintptr(addr), 4, false)
	return uint32(v), err
}

func (b *Bridge) readU64(tid int32, addr uint64) (uint64, error) {
	v, err := ptrace.Read(tid, uintptr(addr), 8, false)
	return uint64(v), err
}

func (b *Bridge) readI8(tid int32, addr uint64) (int8, error) {
	v, err := ptrace.Read(tid, uintptr(addr), 1, true)
	return int8(v), err
}

func (b *Bridge) readI16(tid int32, addr uint64) (int16, error) {
	v, err := ptrace.Read(tid, uintptr(addr), 2, true)
	return int16(v), err
}

func (b *Bridge) readI32(tid int32, addr uint64) (int32, error) {
	v, err := ptrace.Read(tid, uintptr(addr), 4, true)
	return int32(v), err
}

func (b *Bridge) readI64(tid int32, addr uint64) (int64, error) {
	return ptrace.Read(tid, uintptr(addr), 8, true)
}

func (b *Bridge) writeU8(tid int32, addr uint64, value uint8) error {
	return ptrace.Write(tid, uintptr(addr), 1, uint64(value))
}

func (b *Bridge) writeU16(tid int32, addr uint64, value uint16) error {
	return ptrace.Write(tid, uintptr(addr), 2, uint64(value))
}

func (b *Bridge) writeU32(tid int32, addr uint64, value uint32) error {
	return ptrace.Write(tid, uintptr(addr), 4, uint64(value))
}

func (b *Bridge) writeU64(tid int32, addr uint64, value uint64) error {
	return ptrace.Write(tid, uintptr(addr), 8, value)
}

func (b *Bridge) readF32(tid int32, addr uint64) (float32, error) {
	return ptrace.ReadFloat32(tid, uintptr(addr))
}

func (b *Bridge) readF64(tid int32, addr uint64) (float64, error) {
	return ptrace.ReadFloat64(tid, uintptr(addr))
}

func (b *Bridge) writeF32(tid int32, addr uint64, value float32) error {
	return ptrace.WriteFloat32(tid, uintptr(addr), value)
}

func (b *Bridge) writeF64(tid int32, addr uint64, value float64) error {
	return ptrace.WriteFloat64(tid, uintptr(addr), value)
}

func (b *Bridge) readString(tid int32, addr uint64, maxLen int) (string, error) {
	return ptrace.ReadCString(tid, uintptr(addr), maxLen)
}

func (b *Bridge) readBytes(tid int32, addr uint64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if err := ptrace.ReadBytes(tid, uintptr(addr), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *Bridge) writeBytes(tid int32, addr uint64, data []byte) error {
	return ptrace.WriteBytes(tid, uintptr(addr), data)
}

// readPtrChain follows a chain of pointer dereferences starting at
// base, adding each offset in turn and reading the 8-byte value at the
// result: read_ptr_chain(tid, base, []int64{0x10, 0x8}) reads an 8-byte
// pointer at base+0x10, then returns the 8-byte value at (that
// pointer)+0x8.
func (b *Bridge) readPtrChain(tid int32, base uint64, offsets []int64) (uint64, error) {
	addr := base
	if len(offsets) == 0 {
		return addr, nil
	}
	for _, off := range offsets {
		next := int64(addr) + off
		v, err := ptrace.Read(tid, uintptr(next), 8, false)
		if err != nil {
			return 0, err
		}
		addr = uint64(v)
	}
	return addr, nil
}

func (b *Bridge) getRegs(tid int32) (GPRegistersView, error) {
	regs, err := ptrace.GetRegs(tid)
	if err != nil {
		return GPRegistersView{}, err
	}
	return fromXRegs(regs), nil
}

func (b *Bridge) setRegs(tid int32, view GPRegistersView) error {
	return ptrace.SetRegs(tid, view.toXRegs())
}

// getXmm reads lane (0-3) of XMM register reg (0-15) for tid.
func (b *Bridge) getXmm(tid int32, reg, lane int) (uint32, error) {
	fp, err := b.eng.GetFPRegs(tid)
	if err != nil {
		return 0, err
	}
	return fp.XMMLane(reg, lane), nil
}

// setXmm writes lane (0-3) of XMM register reg (0-15) for tid, leaving
// every other lane and register untouched.
func (b *Bridge) setXmm(tid int32, reg, lane int, value uint32) error {
	fp, err := b.eng.GetFPRegs(tid)
	if err != nil {
		return err
	}
	fp.SetXMMLane(reg, lane, value)
	return b.eng.SetFPRegs(tid, fp)
}

func (b *Bridge) jump(tid int32, rip uint64) error {
	return b.eng.Jump(tid, uintptr(rip))
}

// maps returns the target's current address-space map.
func (b *Bridge) maps() ([]procfs.MapEntry, error) {
	return b.eng.Maps()
}

// resolveAddr returns the map entry that contains addr, if any.
func (b *Bridge) resolveAddr(addr uint64) (procfs.MapEntry, bool, error) {
	return b.eng.ResolveAddr(uintptr(addr))
}

func (b *Bridge) quit() {
	b.eng.Detach()
}

// Hexdump formats data as a traditional 16-bytes-per-line hex/ASCII dump
// starting at baseAddr, for use from script callbacks that want to log
// a memory region.
func Hexdump(baseAddr uint64, data []byte) string {
	var out []byte
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]
		out = append(out, []byte(fmt.Sprintf("%08x  ", baseAddr+uint64(off)))...)
		for i := 0; i < 16; i++ {
			if i < len(line) {
				out = append(out, []byte(fmt.Sprintf("%02x ", line[i]))...)
			} else {
				out = append(out, []byte("   ")...)
			}
			if i == 7 {
				out = append(out, ' ')
			}
		}
		out = append(out, ' ', '|')
		for _, c := range line {
			if c >= 0x20 && c < 0x7f {
				out = append(out, c)
			} else {
				out = append(out, '.')
			}
		}
		out = append(out, '|', '\n')
	}
	return string(out)
}
