package ngshow

import "time"

// ModeFlag is a log severity.  Messages below the current mode are dropped.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var mode = InfoMode

// Logger is the sink behind the package-level logging functions.  The default writes
// through the standard log package; LogConfig.SetLogger swaps in a rotating file.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown flushes and closes any file the logger writes to.
	Shutdown()
}

// SetLogMode drops all messages less severe than newMode.  SilentMode drops everything.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

func LogMode() ModeFlag {
	return mode
}

func enabled(m ModeFlag) bool {
	return mode <= m
}

func Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(InfoMode) {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if enabled(WarningMode) {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(ErrorMode) {
		logger.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if enabled(CriticalMode) {
		logger.Criticalf(format, args...)
	}
}

func Shutdown() {
	logger.Shutdown()
}

// TimeLog stamps debug messages with the time since it was created, e.g.
//
//	timedLog := NewTimeLog()
//	... read chunks ...
//	timedLog.Debugf("read %d chunks", n)  // "read 4 chunks: 12.3ms"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{start: time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		logger.Debugf(format+": %s\n", append(args, time.Since(t.start))...)
	}
}
