package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	ERROR LogLevel = iota
	WARN
	INFO
	DEBUG
)

const (
	APP       = "APP"
	CLI       = "CLI"
	CONFIG    = "CONFIG"
	GATEWAY   = "GATEWAY"
	HANDLER   = "HANDLER"
	MOCKAPI   = "MOCKAPI"
	RECOMMEND = "RECOMMEND"
	REDIS     = "REDIS"
	REFRESH   = "REFRESH"
	SESSION   = "SESSION"
	STORE     = "STORE"
)

var (
	mu           sync.RWMutex
	currentLevel = getLogLevel()
	base         = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

func getLogLevel() LogLevel {
	return parseLevel(os.Getenv("LOG_LEVEL"))
}

func parseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLevel overrides the LOG_LEVEL read at startup.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = parseLevel(level)
}

// SetOutput redirects every namespaced log line to w. Pretty selects the
// zerolog console writer instead of JSON lines.
func SetOutput(w io.Writer, pretty bool) {
	mu.Lock()
	defer mu.Unlock()
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	base = zerolog.New(w).With().Timestamp().Logger()
}

func formatMessage(level, namespace, format string, v ...interface{}) string {
	msg := fmt.Sprintf(format, v...)
	return fmt.Sprintf("[%s] [%s] %s", level, namespace, msg)
}

func emit(level LogLevel, name, namespace, format string, v ...interface{}) {
	mu.RLock()
	enabled := currentLevel >= level
	l := base
	mu.RUnlock()
	if !enabled {
		return
	}

	var ev *zerolog.Event
	switch level {
	case DEBUG:
		ev = l.Debug()
	case INFO:
		ev = l.Info()
	case WARN:
		ev = l.Warn()
	default:
		ev = l.Error()
	}
	ev.Str("ns", namespace).Msg(formatMessage(name, namespace, format, v...))
}

func Debug(namespace, format string, v ...interface{}) {
	emit(DEBUG, "DEBUG", namespace, format, v...)
}

func Info(namespace, format string, v ...interface{}) {
	emit(INFO, "INFO", namespace, format, v...)
}

func Warn(namespace, format string, v ...interface{}) {
	emit(WARN, "WARN", namespace, format, v...)
}

func Error(namespace, format string, v ...interface{}) {
	emit(ERROR, "ERROR", namespace, format, v...)
}

// Fatal logs at error level without exiting; callers decide how to stop.
func Fatal(namespace, format string, v ...interface{}) {
	emit(ERROR, "FATAL", namespace, format, v...)
}
