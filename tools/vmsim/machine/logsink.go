package machine

import (
	"bytes"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"kestrel/kernel/kfmt"
)

var kfmtLevels = map[string]logrus.Level{
	"TRACE": logrus.TraceLevel,
	"DEBUG": logrus.DebugLevel,
	"INFO":  logrus.InfoLevel,
	"WARN":  logrus.WarnLevel,
	"ERROR": logrus.ErrorLevel,
}

const panicMarker = "unrecoverable error: "

// kfmtLevel maps a logrus level to the closest kernel log level.
func kfmtLevel(l logrus.Level) kfmt.Level {
	switch {
	case l >= logrus.TraceLevel:
		return kfmt.LevelTrace
	case l >= logrus.DebugLevel:
		return kfmt.LevelDebug
	case l >= logrus.InfoLevel:
		return kfmt.LevelInfo
	case l >= logrus.WarnLevel:
		return kfmt.LevelWarn
	default:
		return kfmt.LevelError
	}
}

// logSink receives the kernel's console output and re-emits it line by line
// as logrus entries. Lines produced by kfmt.Logf keep their level and module;
// the lines of a kernel panic are logged as errors.
type logSink struct {
	log *logrus.Entry

	mu       sync.Mutex
	buf      bytes.Buffer
	panicMsg string
}

func newLogSink(log *logrus.Entry) *logSink {
	return &logSink{log: log}
}

// Write implements io.Writer. Partial lines are held back until their
// newline arrives.
func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Write(p)
	for {
		i := bytes.IndexByte(s.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := s.buf.Next(i + 1)
		s.emit(string(line[:i]))
	}
	return len(p), nil
}

// lastPanic returns the message of the most recent kernel panic.
func (s *logSink) lastPanic() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.panicMsg == "" {
		return "no panic message"
	}
	return s.panicMsg
}

func (s *logSink) emit(line string) {
	line = strings.TrimSpace(line)
	if strings.Trim(line, "-") == "" {
		return
	}

	entry, level := s.log, logrus.InfoLevel
	if tag, rest, ok := bracketed(line); ok {
		if l, isLevel := kfmtLevels[tag]; isLevel {
			level = l
			if module, msg, ok := bracketed(rest); ok {
				entry = entry.WithField("module", module)
				rest = msg
			}
		} else {
			// "[module] unrecoverable error: ..." from kfmt.Panic
			level = logrus.ErrorLevel
			entry = entry.WithField("module", tag)
			if msg, found := strings.CutPrefix(rest, panicMarker); found {
				s.panicMsg = tag + ": " + msg
			}
		}
		line = rest
	} else if strings.HasPrefix(line, "***") {
		level = logrus.ErrorLevel
	}

	entry.Log(level, line)
}

// bracketed splits "[tag] rest" into its parts.
func bracketed(s string) (tag, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", s, false
	}
	return strings.TrimSpace(s[1:end]), strings.TrimSpace(s[end+1:]), true
}
