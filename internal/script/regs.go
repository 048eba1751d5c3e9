//go:build linux

package script

import "github.com/EquinoxAlpha/xenon/internal/xregs"

// GPRegistersView is the script-facing register snapshot: a plain value
// copied out of the kernel on GetRegs and never written back until the
// script explicitly calls SetRegs.
type GPRegistersView struct {
	R15, R14, R13, R12 uint64
	Rbp, Rbx           uint64
	R11, R10, R9, R8   uint64
	Rax, Rcx, Rdx      uint64
	Rsi, Rdi           uint64
	OrigRax            uint64
	Rip                uint64
	Cs                 uint64
	Eflags             uint64
	Rsp                uint64
	Ss                 uint64
	FsBase, GsBase     uint64
	Ds, Es, Fs, Gs     uint64
}

func fromXRegs(g xregs.GPRegisters) GPRegistersView {
	return GPRegistersView{
		R15: g.R15, R14: g.R14, R13: g.R13, R12: g.R12,
		Rbp: g.Rbp, Rbx: g.Rbx, R11: g.R11, R10: g.R10,
		R9: g.R9, R8: g.R8, Rax: g.Rax, Rcx: g.Rcx, Rdx: g.Rdx,
		Rsi: g.Rsi, Rdi: g.Rdi, OrigRax: g.OrigRax, Rip: g.Rip,
		Cs: g.Cs, Eflags: g.Eflags, Rsp: g.Rsp, Ss: g.Ss,
		FsBase: g.FsBase, GsBase: g.GsBase,
		Ds: g.Ds, Es: g.Es, Fs: g.Fs, Gs: g.Gs,
	}
}

func (v GPRegistersView) toXRegs() xregs.GPRegisters {
	return xregs.GPRegisters{
		R15: v.R15, R14: v.R14, R13: v.R13, R12: v.R12,
		Rbp: v.Rbp, Rbx: v.Rbx, R11: v.R11, R10: v.R10,
		R9: v.R9, R8: v.R8, Rax: v.Rax, Rcx: v.Rcx, Rdx: v.Rdx,
		Rsi: v.Rsi, Rdi: v.Rdi, OrigRax: v.OrigRax, Rip: v.Rip,
		Cs: v.Cs, Eflags: v.Eflags, Rsp: v.Rsp, Ss: v.Ss,
		FsBase: v.FsBase, GsBase: v.GsBase,
		Ds: v.Ds, Es: v.Es, Fs: v.Fs, Gs: v.Gs,
	}
}
