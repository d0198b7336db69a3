package kfmt

// Level is the severity of a log line. Lines below the active level are
// dropped.
type Level uint8

// The supported log levels, in increasing order of severity.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

	activeLevel = LevelInfo
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "?????"
}

// SetLevel sets the minimum level of lines emitted by Logf.
func SetLevel(l Level) {
	activeLevel = l
}

// ActiveLevel returns the minimum level of lines emitted by Logf.
func ActiveLevel() Level {
	return activeLevel
}

// Enabled reports whether a line at level l would be emitted.
func Enabled(l Level) bool {
	return l >= activeLevel
}

// Logf emits a single line of the form "[ INFO] [module] message" to the
// active output sink. The level name is right-aligned to five columns and a
// trailing newline is always appended.
func Logf(l Level, module, format string, args ...interface{}) {
	if !Enabled(l) {
		return
	}

	Printf("[%5s] [%s] ", l.String(), module)
	Printf(format, args...)
	Printf("\n")
}
