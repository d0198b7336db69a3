package kfmt

import (
	"bytes"
	"strings"
	"testing"
)

type fmtSpec struct {
	format string
	args   []interface{}
	exp    string
}

func runFmtSpecs(t *testing.T, specs []fmtSpec) {
	t.Helper()

	var buf bytes.Buffer
	for specIndex, spec := range specs {
		buf.Reset()
		Fprintf(&buf, spec.format, spec.args...)

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] Fprintf(%q): expected %q; got %q", specIndex, spec.format, spec.exp, got)
		}
	}
}

func TestFprintfVerbs(t *testing.T) {
	runFmtSpecs(t, []fmtSpec{
		{"plain text", nil, "plain text"},
		{"%d%%", []interface{}{uint8(99)}, "99%"},
		{"%5%", nil, "%"},
		{"%s=%d (%t)", []interface{}{"pages", 3, true}, "pages=3 (true)"},

		// bools ignore the width
		{"%t/%t", []interface{}{true, false}, "true/false"},
		{"[%8t]", []interface{}{true}, "[true]"},

		// strings and byte slices are padded with spaces
		{"[%9s]", []interface{}{"kestrel"}, "[  kestrel]"},
		{"[%3s]", []interface{}{"kestrel"}, "[kestrel]"},
		{"[%5s]", []interface{}{[]byte("ab")}, "[   ab]"},
		{"[%s]", []interface{}{[]byte{}}, "[]"},

		// unsigned values
		{"%d", []interface{}{uint8(255)}, "255"},
		{"%d", []interface{}{uint(0)}, "0"},
		{"%x", []interface{}{^uint64(0)}, "ffffffffffffffff"},
		{"%o", []interface{}{^uint64(0)}, "1777777777777777777777"},
		{"0x%8x", []interface{}{uint32(0x1000)}, "0x00001000"},
		{"0x%16x", []interface{}{uintptr(0xffff800000001000)}, "0xffff800000001000"},
		{"[%2d]", []interface{}{uint16(12345)}, "[12345]"},

		// signed values: base 10 pads before the sign, bases 8 and 16
		// pad with zeroes after it
		{"%d", []interface{}{int64(-1 << 63)}, "-9223372036854775808"},
		{"%x", []interface{}{int8(-128)}, "-80"},
		{"[%6d]", []interface{}{-42}, "[   -42]"},
		{"[%6x]", []interface{}{-42}, "[-0002a]"},
		{"[%6o]", []interface{}{int16(-8)}, "[-00010]"},
		{"[%3d]", []interface{}{int32(-1234)}, "[-1234]"},
	})
}

func TestFprintfWidthIsClamped(t *testing.T) {
	limit := maxBufSize - 1

	runFmtSpecs(t, []fmtSpec{
		{"%31d", []interface{}{uint64(7)}, strings.Repeat(" ", limit-1) + "7"},
		{"%32d", []interface{}{uint64(7)}, strings.Repeat(" ", limit-1) + "7"},
		{"%1000d", []interface{}{uint64(7)}, strings.Repeat(" ", limit-1) + "7"},
		{"%64x", []interface{}{uint8(0xab)}, strings.Repeat("0", limit-2) + "ab"},
		{"%40x", []interface{}{-1}, "-" + strings.Repeat("0", limit-2) + "1"},
		{"%50d", []interface{}{-1}, strings.Repeat(" ", limit-2) + "-1"},
	})
}

func TestFprintfMalformed(t *testing.T) {
	runFmtSpecs(t, []fmtSpec{
		// verbs
		{"trailing %", nil, "trailing %!(NOVERB)"},
		{"trailing width %12", nil, "trailing width %!(NOVERB)"},
		{"a%vb", []interface{}{1}, "a%!(NOVERB)b%!(EXTRA)"},
		{"%", []interface{}{1}, "%!(NOVERB)%!(EXTRA)"},

		// argument count
		{"%s", nil, "(MISSING)"},
		{"%d %d", []interface{}{1}, "1 (MISSING)"},
		{"extra", []interface{}{"x", 2}, "extra%!(EXTRA)%!(EXTRA)"},

		// argument types; a mismatched argument is still consumed
		{"%x", []interface{}{1.5}, "%!(WRONGTYPE)"},
		{"%t", []interface{}{1}, "%!(WRONGTYPE)"},
		{"%s", []interface{}{nil}, "%!(WRONGTYPE)"},
		{"%5s", []interface{}{7}, "%!(WRONGTYPE)"},
		{"%d|%s", []interface{}{"x", "y"}, "%!(WRONGTYPE)|y"},
	})
}

func TestPrintfBeforeSinkAttached(t *testing.T) {
	defer func() {
		SetOutputSink(nil)
		earlyPrintBuffer.Reset()
	}()

	SetOutputSink(nil)
	earlyPrintBuffer.Reset()

	Printf("frame %d ", 1)
	Fprintf(nil, "frame %d ", 2)

	var buf bytes.Buffer
	SetOutputSink(&buf)
	if exp := "frame 1 frame 2 "; buf.String() != exp {
		t.Fatalf("expected buffered output %q to be drained into the sink; got %q", exp, buf.String())
	}

	Printf("frame %d", 3)
	if exp := "frame 1 frame 2 frame 3"; buf.String() != exp {
		t.Fatalf("expected %q; got %q", exp, buf.String())
	}

	// detaching the sink buffers output again until the next one attaches
	SetOutputSink(nil)
	Printf("frame %d", 4)

	var next bytes.Buffer
	SetOutputSink(&next)
	if exp := "frame 4"; next.String() != exp {
		t.Fatalf("expected %q; got %q", exp, next.String())
	}
	if exp := "frame 1 frame 2 frame 3"; buf.String() != exp {
		t.Fatalf("expected detached sink to stay at %q; got %q", exp, buf.String())
	}
}
