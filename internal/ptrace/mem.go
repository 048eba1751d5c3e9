//go:build linux

package ptrace

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/EquinoxAlpha/xenon/internal/xerrors"
)

// ReadBytes reads len(buf) bytes from the target's address space at addr
// using process_vm_readv. A short read is reported as a failure, never a
// silent truncation.
func ReadBytes(pid int32, addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: addr, Len: len(buf)}}
	n, err := unix.ProcessVMReadv(int(pid), local, remote, 0)
	if err != nil {
		return xerrors.New(xerrors.KindMemoryAccessFailed, fmt.Sprintf("read(pid=%d,addr=%#x,len=%d)", pid, addr, len(buf)), err)
	}
	if n != len(buf) {
		return xerrors.New(xerrors.KindMemoryAccessFailed,
			fmt.Sprintf("read(pid=%d,addr=%#x,len=%d)", pid, addr, len(buf)),
			fmt.Errorf("short read: got %d of %d bytes", n, len(buf)))
	}
	return nil
}

// WriteBytes writes buf into the target's address space at addr using
// process_vm_writev.
func WriteBytes(pid int32, addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: addr, Len: len(buf)}}
	n, err := unix.ProcessVMWritev(int(pid), local, remote, 0)
	if err != nil {
		return xerrors.New(xerrors.KindMemoryAccessFailed, fmt.Sprintf("write(pid=%d,addr=%#x,len=%d)", pid, addr, len(buf)), err)
	}
	if n != len(buf) {
		return xerrors.New(xerrors.KindMemoryAccessFailed,
			fmt.Sprintf("write(pid=%d,addr=%#x,len=%d)", pid, addr, len(buf)),
			fmt.Errorf("short write: wrote %d of %d bytes", n, len(buf)))
	}
	return nil
}

// Read fetches a fixed-size value of width bytes at addr, little-endian,
// sign-extending if signed is true. width must be 1, 2, 4, or 8.
func Read(pid int32, addr uintptr, width int, signed bool) (int64, error) {
	buf := make([]byte, width)
	if err := ReadBytes(pid, addr, buf); err != nil {
		return 0, err
	}
	var u uint64
	for i := width - 1; i >= 0; i-- {
		u = u<<8 | uint64(buf[i])
	}
	if !signed {
		return int64(u), nil
	}
	shift := uint(64 - width*8)
	return int64(u<<shift) >> shift, nil
}

// Write stores a fixed-size value of width bytes at addr, little-endian.
// width must be 1, 2, 4, or 8.
func Write(pid int32, addr uintptr, width int, value uint64) error {
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(value)
		value >>= 8
	}
	return WriteBytes(pid, addr, buf)
}

// ReadFloat32 fetches an IEEE-754 single-precision float at addr.
func ReadFloat32(pid int32, addr uintptr) (float32, error) {
	buf := make([]byte, 4)
	if err := ReadBytes(pid, addr, buf); err != nil {
		return 0, err
	}
	var bits uint32
	for i := 3; i >= 0; i-- {
		bits = bits<<8 | uint32(buf[i])
	}
	return *(*float32)(unsafe.Pointer(&bits)), nil
}

// WriteFloat32 stores an IEEE-754 single-precision float at addr.
func WriteFloat32(pid int32, addr uintptr, value float32) error {
	bits := *(*uint32)(unsafe.Pointer(&value))
	return Write(pid, addr, 4, uint64(bits))
}

// ReadFloat64 fetches an IEEE-754 double-precision float at addr.
func ReadFloat64(pid int32, addr uintptr) (float64, error) {
	buf := make([]byte, 8)
	if err := ReadBytes(pid, addr, buf); err != nil {
		return 0, err
	}
	var bits uint64
	for i := 7; i >= 0; i-- {
		bits = bits<<8 | uint64(buf[i])
	}
	return *(*float64)(unsafe.Pointer(&bits)), nil
}

// WriteFloat64 stores an IEEE-754 double-precision float at addr.
func WriteFloat64(pid int32, addr uintptr, value float64) error {
	bits := *(*uint64)(unsafe.Pointer(&value))
	return Write(pid, addr, 8, bits)
}

// ReadCString reads a NUL-terminated string at addr, scanning at most
// maxLen bytes. If no NUL byte is found within maxLen bytes, the scan is
// reported as a failure rather than silently returning a truncated string.
func ReadCString(pid int32, addr uintptr, maxLen int) (string, error) {
	const chunk = 64
	var out []byte
	for len(out) < maxLen {
		n := chunk
		if len(out)+n > maxLen {
			n = maxLen - len(out)
		}
		buf := make([]byte, n)
		if err := ReadBytes(pid, addr+uintptr(len(out)), buf); err != nil {
			return "", err
		}
		if i := indexByte(buf, 0); i >= 0 {
			out = append(out, buf[:i]...)
			return string(out), nil
		}
		out = append(out, buf...)
	}
	return "", xerrors.New(xerrors.KindMemoryAccessFailed,
		fmt.Sprintf("read_string(pid=%d,addr=%#x)", pid, addr),
		fmt.Errorf("no NUL terminator within %d bytes", maxLen))
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
