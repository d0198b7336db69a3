package machine

import (
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"kestrel/kernel/kfmt"
)

type logLine struct {
	Level   logrus.Level
	Module  string
	Message string
}

func TestLogSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)
	sink := newLogSink(logrus.NewEntry(logger))

	if exp, got := "no panic message", sink.lastPanic(); got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}

	// kfmt writes lines in fragments
	kfmt.Fprintf(sink, "[%5s] [%s] ", "INFO", "boot_mem_alloc")
	kfmt.Fprintf(sink, "system memory map:")
	_, _ = io.WriteString(sink, "\n\n-----------------------------------\n")
	_, _ = io.WriteString(sink, "[DEBUG] [heap] extended by 4096 bytes\n[vmm] unrecoverable error: huge pages are not supported\n")
	_, _ = io.WriteString(sink, "*** kernel panic: system halted ***\n-----\nplain line\n[WARN] no module\npartial")

	exp := []logLine{
		{logrus.InfoLevel, "boot_mem_alloc", "system memory map:"},
		{logrus.DebugLevel, "heap", "extended by 4096 bytes"},
		{logrus.ErrorLevel, "vmm", "unrecoverable error: huge pages are not supported"},
		{logrus.ErrorLevel, "", "*** kernel panic: system halted ***"},
		{logrus.InfoLevel, "", "plain line"},
		{logrus.WarnLevel, "", "no module"},
	}

	var got []logLine
	for _, entry := range hook.AllEntries() {
		module, _ := entry.Data["module"].(string)
		got = append(got, logLine{entry.Level, module, entry.Message})
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("unexpected log entries (-want +got):\n%s", diff)
	}

	if exp, got := "vmm: huge pages are not supported", sink.lastPanic(); got != exp {
		t.Fatalf("expected last panic %q; got %q", exp, got)
	}
}

func TestKfmtLevel(t *testing.T) {
	specs := []struct {
		in  logrus.Level
		exp kfmt.Level
	}{
		{logrus.TraceLevel, kfmt.LevelTrace},
		{logrus.DebugLevel, kfmt.LevelDebug},
		{logrus.InfoLevel, kfmt.LevelInfo},
		{logrus.WarnLevel, kfmt.LevelWarn},
		{logrus.ErrorLevel, kfmt.LevelError},
		{logrus.PanicLevel, kfmt.LevelError},
	}

	for specIndex, spec := range specs {
		if got := kfmtLevel(spec.in); got != spec.exp {
			t.Errorf("[spec %d] expected %s; got %s", specIndex, spec.exp, got)
		}
	}
}
