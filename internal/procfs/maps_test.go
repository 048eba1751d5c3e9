package procfs

import "testing"

func TestParseMapLine(t *testing.T) {
	cases := []struct {
		name string
		line string
		want MapEntry
	}{
		{
			name: "executable mapping with path",
			line: "55a1b2c3d000-55a1b2c5e000 r-xp 00001000 08:01 123456     /usr/bin/foo",
			want: MapEntry{
				Start: 0x55a1b2c3d000, End: 0x55a1b2c5e000,
				Readable: true, Writable: false, Executable: true, Private: true,
				Offset: 0x1000, Device: "08:01", Inode: 123456,
				Path: "/usr/bin/foo",
			},
		},
		{
			name: "anonymous rw mapping",
			line: "7f0000000000-7f0000021000 rw-p 00000000 00:00 0",
			want: MapEntry{
				Start: 0x7f0000000000, End: 0x7f0000021000,
				Readable: true, Writable: true, Executable: false, Private: true,
				Offset: 0, Device: "00:00", Inode: 0,
			},
		},
		{
			name: "shared mapping",
			line: "7f1111111000-7f1111112000 rw-s 00000000 00:05 999 /dev/zero",
			want: MapEntry{
				Start: 0x7f1111111000, End: 0x7f1111112000,
				Readable: true, Writable: true, Executable: false, Private: false,
				Offset: 0, Device: "00:05", Inode: 999, Path: "/dev/zero",
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok, err := parseMapLine(c.line)
			if err != nil {
				t.Fatalf("parseMapLine(%q) returned error: %v", c.line, err)
			}
			if !ok {
				t.Fatalf("parseMapLine(%q) = ok false, want true", c.line)
			}
			if got != c.want {
				t.Errorf("parseMapLine(%q) = %+v, want %+v", c.line, got, c.want)
			}
		})
	}
}

func TestParseMapLineMalformed(t *testing.T) {
	_, _, err := parseMapLine("not a maps line")
	if err == nil {
		t.Fatal("expected an error for a malformed line, got nil")
	}
}

func TestFindEntry(t *testing.T) {
	entries := []MapEntry{
		{Start: 0x1000, End: 0x2000},
		{Start: 0x5000, End: 0x6000},
	}

	if _, ok := FindEntry(entries, 0x1500); !ok {
		t.Error("FindEntry(0x1500) = not found, want found in first entry")
	}
	if _, ok := FindEntry(entries, 0x2000); ok {
		t.Error("FindEntry(0x2000) = found, want not found (end is exclusive)")
	}
	if _, ok := FindEntry(entries, 0x3000); ok {
		t.Error("FindEntry(0x3000) = found, want not found (gap between mappings)")
	}
}
