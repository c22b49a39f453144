package ngshow

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

// stdLogger prefixes each message with its severity.  A non-nil file means output
// also goes through lumberjack's rotation.
type stdLogger struct {
	file *lumberjack.Logger
}

var logger Logger = stdLogger{}

// LogConfig is the [logging] section of the TOML config.  Sizes are in megabytes and
// ages in days.
type LogConfig struct {
	Logfile string
	MaxSize int `toml:"max_log_size"`
	MaxAge  int `toml:"max_log_age"`
}

// SetLogger routes logging to the configured file, or leaves it on stderr when no
// file is configured.
func (c *LogConfig) SetLogger() {
	if c == nil || c.Logfile == "" {
		Debugf("No logfile configured, logging to stderr\n")
		return
	}
	fmt.Printf("Logging to %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(l)
	logger = stdLogger{l}
}

func (l stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (l stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (l stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (l stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

func (l stdLogger) Criticalf(format string, args ...interface{}) {
	log.Printf(" CRITICAL "+format, args...)
}

func (l stdLogger) Shutdown() {
	if l.file != nil {
		log.Printf(" INFO Closing log file %s\n", l.file.Filename)
		l.file.Close()
	}
}
