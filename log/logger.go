// Package log hands out named, leveled loggers for the engine
// subsystems, backed by go-logging. Output defaults to stderr at the
// Notice level so command output stays clean.
package log

import (
	"io"
	"os"

	"github.com/op/go-logging"
)

// Level selects the minimum severity that gets emitted.
type Level int

const (
	Debug Level = iota
	Info
	Notice
	Warning
	Error
)

var levelMap = map[Level]logging.Level{
	Debug:   logging.DEBUG,
	Info:    logging.INFO,
	Notice:  logging.NOTICE,
	Warning: logging.WARNING,
	Error:   logging.ERROR,
}

var format = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{module} %{level:.4s}%{color:reset} %{message}`,
)

var backend logging.LeveledBackend

// Logger is the formatted logging surface handed to the subsystems.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Noticef(format string, v ...interface{})
	Warningf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// New returns the logger for a named subsystem.
func New(name string) Logger {
	return logging.MustGetLogger(name)
}

// SetSink redirects all logger output. The level resets to Notice.
func SetSink(sink io.Writer) {
	formatted := logging.NewBackendFormatter(logging.NewLogBackend(sink, "", 0), format)
	backend = logging.AddModuleLevel(formatted)
	backend.SetLevel(levelMap[Notice], "")
	logging.SetBackend(backend)
}

// SetLevel adjusts the verbosity of every subsystem logger.
func SetLevel(level Level) {
	if mapped, ok := levelMap[level]; ok {
		backend.SetLevel(mapped, "")
	}
}

func init() {
	SetSink(os.Stderr)
}
