// Package logging provides the substrate's structured logging contract:
// a component-aware Logger interface plus a concrete JSON/text
// implementation selected by environment, in the same layered style the
// teacher framework uses for its own production logger.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the minimal structured-logging interface every substrate
// component depends on.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with a component tag that shows
// up in every emitted record, so logs can be filtered per subsystem:
//
//	"registry", "resolver", "pipeline", "patterns", "eventlog", "facade"
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Used by default in tests and by any
// component that hasn't had a logger wired in.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

func (NoOpLogger) WithComponent(string) Logger { return NoOpLogger{} }

// level ordering, lowest to highest severity.
type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return levelDebug
	case "WARN", "WARNING":
		return levelWarn
	case "ERROR":
		return levelError
	default:
		return levelInfo
	}
}

func (l level) String() string {
	switch l {
	case levelDebug:
		return "DEBUG"
	case levelWarn:
		return "WARN"
	case levelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// JSONLogger is the concrete substrate logger. Level and format come
// from the SUBSTRATE_LOG_LEVEL / SUBSTRATE_LOG_FORMAT environment
// variables, falling back to defaults (INFO level, text format, JSON format auto-selected
// under Kubernetes the same way the teacher's telemetry logger does).
type JSONLogger struct {
	mu        sync.Mutex
	out       *os.File
	minLevel  level
	format    string // "json" or "text"
	component string
}

// New creates a root JSONLogger. serviceName is the component name on
// this logger's records; loggers derived via WithComponent use their
// own component name instead.
func New(serviceName string) *JSONLogger {
	minLevel := parseLevel(os.Getenv("SUBSTRATE_LOG_LEVEL"))

	format := os.Getenv("SUBSTRATE_LOG_FORMAT")
	if format == "" {
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		} else {
			format = "text"
		}
	}

	return &JSONLogger{
		out:       os.Stderr,
		minLevel:  minLevel,
		format:    format,
		component: serviceName,
	}
}

func (l *JSONLogger) WithComponent(component string) Logger {
	return &JSONLogger{out: l.out, minLevel: l.minLevel, format: l.format, component: component}
}

func (l *JSONLogger) log(lv level, msg string, fields map[string]interface{}) {
	if lv < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		rec := map[string]interface{}{
			"ts":        time.Now().UTC().Format(time.RFC3339Nano),
			"level":     lv.String(),
			"component": l.component,
			"message":   msg,
		}
		for k, v := range fields {
			rec[k] = v
		}
		enc := json.NewEncoder(l.out)
		_ = enc.Encode(rec)
		return
	}

	fmt.Fprintf(l.out, "%s [%s] %s: %s %v\n",
		time.Now().UTC().Format(time.RFC3339), lv, l.component, msg, fields)
}

func (l *JSONLogger) Info(msg string, fields map[string]interface{})  { l.log(levelInfo, msg, fields) }
func (l *JSONLogger) Error(msg string, fields map[string]interface{}) { l.log(levelError, msg, fields) }
func (l *JSONLogger) Warn(msg string, fields map[string]interface{})  { l.log(levelWarn, msg, fields) }
func (l *JSONLogger) Debug(msg string, fields map[string]interface{}) { l.log(levelDebug, msg, fields) }

func (l *JSONLogger) InfoWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.log(levelInfo, msg, fields)
}
func (l *JSONLogger) ErrorWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.log(levelError, msg, fields)
}
func (l *JSONLogger) WarnWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.log(levelWarn, msg, fields)
}
func (l *JSONLogger) DebugWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.log(levelDebug, msg, fields)
}
