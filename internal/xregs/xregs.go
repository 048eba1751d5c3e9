// Package xregs defines value types for the x86-64 register file that
// xenon snapshots out of and writes back into a traced thread. They are
// plain values: fetching a snapshot copies the kernel's register struct,
// and mutating the target always requires an explicit set call.
package xregs

import "golang.org/x/sys/unix"

// GPRegisters is the general-purpose register file plus the segment and
// control fields ptrace exposes via PTRACE_GETREGS/PTRACE_SETREGS.
type GPRegisters struct {
	R15      uint64
	R14      uint64
	R13      uint64
	R12      uint64
	Rbp      uint64
	Rbx      uint64
	R11      uint64
	R10      uint64
	R9       uint64
	R8       uint64
	Rax      uint64
	Rcx      uint64
	Rdx      uint64
	Rsi      uint64
	Rdi      uint64
	OrigRax  uint64
	Rip      uint64
	Cs       uint64
	Eflags   uint64
	Rsp      uint64
	Ss       uint64
	FsBase   uint64
	GsBase   uint64
	Ds       uint64
	Es       uint64
	Fs       uint64
	Gs       uint64
}

// FromKernel converts the raw PTRACE_GETREGS struct into a GPRegisters
// value.
func FromKernel(r *unix.PtraceRegs) GPRegisters {
	return GPRegisters{
		R15: r.R15, R14: r.R14, R13: r.R13, R12: r.R12,
		Rbp: r.Rbp, Rbx: r.Rbx, R11: r.R11, R10: r.R10,
		R9: r.R9, R8: r.R8, Rax: r.Rax, Rcx: r.Rcx,
		Rdx: r.Rdx, Rsi: r.Rsi, Rdi: r.Rdi, OrigRax: r.Orig_rax,
		Rip: r.Rip, Cs: uint64(r.Cs), Eflags: r.Eflags,
		Rsp: r.Rsp, Ss: uint64(r.Ss), FsBase: r.Fs_base, GsBase: r.Gs_base,
		Ds: uint64(r.Ds), Es: uint64(r.Es), Fs: uint64(r.Fs), Gs: uint64(r.Gs),
	}
}

// ToKernel converts a GPRegisters value back into the PTRACE_SETREGS
// struct shape.
func (g GPRegisters) ToKernel() unix.PtraceRegs {
	return unix.PtraceRegs{
		R15: g.R15, R14: g.R14, R13: g.R13, R12: g.R12,
		Rbp: g.Rbp, Rbx: g.Rbx, R11: g.R11, R10: g.R10,
		R9: g.R9, R8: g.R8, Rax: g.Rax, Rcx: g.Rcx,
		Rdx: g.Rdx, Rsi: g.Rsi, Rdi: g.Rdi, Orig_rax: g.OrigRax,
		Rip: g.Rip, Cs: g.Cs, Eflags: g.Eflags,
		Rsp: g.Rsp, Ss: g.Ss, Fs_base: g.FsBase, Gs_base: g.GsBase,
		Ds: g.Ds, Es: g.Es, Fs: g.Fs, Gs: g.Gs,
	}
}

// FPRegisters mirrors the kernel's user_fpregs_struct: control/status
// words, the legacy x87 ST register stack, and XMM0-XMM15. Linux does
// not expose a typed PTRACE_GETFPREGS wrapper in golang.org/x/sys/unix,
// so the debugger reads/writes this struct via raw PTRACE_GETFPREGS /
// PTRACE_SETFPREGS calls (see internal/ptrace).
type FPRegisters struct {
	Cwd      uint16
	Swd      uint16
	Ftw      uint16
	Fop      uint16
	Rip      uint64
	Rdp      uint64
	Mxcsr    uint32
	MxcrMask uint32
	StSpace  [32]uint32 // 8 x 16-byte ST/MM registers
	XmmSpace [64]uint32 // 16 x 16-byte XMM registers
	Padding  [24]uint32
}

// XMMLane returns the 32-bit lane (0-3) of XMM register reg (0-15) as a
// raw bit pattern.
func (f *FPRegisters) XMMLane(reg, lane int) uint32 {
	return f.XmmSpace[reg*4+lane]
}

// SetXMMLane writes the 32-bit lane (0-3) of XMM register reg (0-15).
func (f *FPRegisters) SetXMMLane(reg, lane int, value uint32) {
	f.XmmSpace[reg*4+lane] = value
}
