// Package procfs reads the subset of /proc/<pid> the debugger needs:
// the address-space map and the task list, both plain text formats the
// kernel has kept stable across releases.
package procfs

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/EquinoxAlpha/xenon/internal/xerrors"
)

// MapEntry is one line of /proc/<pid>/maps.
type MapEntry struct {
	Start       uintptr
	End         uintptr
	Readable    bool
	Writable    bool
	Executable  bool
	Private     bool
	Offset      uint64
	Device      string
	Inode       uint64
	Path        string
}

// Maps parses /proc/<pid>/maps into an ordered list of entries.
func Maps(pid int32) ([]MapEntry, error) {
	path := fmt.Sprintf("/proc/%d/maps", pid)
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.KindInvalidArgument, "procfs.maps", err)
	}
	defer f.Close()

	var entries []MapEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entry, ok, err := parseMapLine(scanner.Text())
		if err != nil {
			return nil, xerrors.New(xerrors.KindInvalidArgument, "procfs.maps", err)
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.New(xerrors.KindInvalidArgument, "procfs.maps", err)
	}
	return entries, nil
}

// parseMapLine parses one "/proc/<pid>/maps" line, e.g.:
//
//	55a1b2c3d000-55a1b2c5e000 r-xp 00001000 08:01 123456  /usr/bin/foo
func parseMapLine(line string) (MapEntry, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return MapEntry{}, false, fmt.Errorf("malformed maps line: %q", line)
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return MapEntry{}, false, fmt.Errorf("malformed address range: %q", fields[0])
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return MapEntry{}, false, err
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return MapEntry{}, false, err
	}

	perms := fields[1]
	if len(perms) < 4 {
		return MapEntry{}, false, fmt.Errorf("malformed permissions: %q", perms)
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return MapEntry{}, false, err
	}

	inode, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return MapEntry{}, false, err
	}

	entry := MapEntry{
		Start:      uintptr(start),
		End:        uintptr(end),
		Readable:   perms[0] == 'r',
		Writable:   perms[1] == 'w',
		Executable: perms[2] == 'x',
		Private:    perms[3] == 'p',
		Offset:     offset,
		Device:     fields[3],
		Inode:      inode,
	}
	if len(fields) > 5 {
		entry.Path = strings.Join(fields[5:], " ")
	}
	return entry, true, nil
}

// Tasks lists the thread IDs currently in /proc/<pid>/task.
func Tasks(pid int32) ([]int32, error) {
	dir := fmt.Sprintf("/proc/%d/task", pid)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.New(xerrors.KindInvalidArgument, "procfs.tasks", err)
	}
	tids := make([]int32, 0, len(ents))
	for _, e := range ents {
		tid, err := strconv.ParseInt(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		tids = append(tids, int32(tid))
	}
	return tids, nil
}

// FindEntry returns the MapEntry containing addr, or ok=false if no
// mapping covers it.
func FindEntry(entries []MapEntry, addr uintptr) (MapEntry, bool) {
	for _, e := range entries {
		if addr >= e.Start && addr < e.End {
			return e, true
		}
	}
	return MapEntry{}, false
}
