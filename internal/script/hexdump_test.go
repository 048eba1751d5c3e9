//go:build linux

package script

import (
	"strings"
	"testing"
)

func TestHexdumpFormatsOneFullLine(t *testing.T) {
	data := []byte("ABCDEFGHIJKLMNOP")
	got := Hexdump(0x1000, data)

	if !strings.HasPrefix(got, "00001000  ") {
		t.Errorf("Hexdump output does not start with the base address: %q", got)
	}
	if !strings.Contains(got, "41 42 43 44") {
		t.Errorf("Hexdump output missing hex bytes for 'ABCD': %q", got)
	}
	if !strings.Contains(got, "|ABCDEFGHIJKLMNOP|") {
		t.Errorf("Hexdump output missing ASCII column: %q", got)
	}
}

func TestHexdumpNonPrintableBytesBecomeDots(t *testing.T) {
	data := []byte{0x00, 0x01, 0x41, 0x7f}
	got := Hexdump(0, data)

	if !strings.Contains(got, "|..A.|") {
		t.Errorf("Hexdump ASCII column = %q, want control bytes rendered as '.'", got)
	}
}

func TestHexdumpPartialLinePadsHexColumn(t *testing.T) {
	got := Hexdump(0, []byte{0x41})
	if !strings.Contains(got, "41") {
		t.Errorf("Hexdump missing the single byte's hex value: %q", got)
	}
	if !strings.Contains(got, "|A|") {
		t.Errorf("Hexdump missing ASCII rendering of the single byte: %q", got)
	}
}

func TestHexdumpEmptyInput(t *testing.T) {
	if got := Hexdump(0x1000, nil); got != "" {
		t.Errorf("Hexdump(empty) = %q, want empty string", got)
	}
}
