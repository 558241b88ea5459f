// Package logging provides the structured logger used across the
// runtime, materializer, and remote transports. It is deliberately a
// thin wrapper over the standard log package rather than a third-party
// logging library: every Logger call here ultimately reaches
// log.Logger.Output, with an optional JSON encoding of fields on top.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

type clientIDKey struct{}

// WithClientID attaches a client identifier to ctx so loggers derived
// via WithContext tag every line with it automatically.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, clientID)
}

// ClientIDFromContext returns the client identifier stashed by
// WithClientID, or "" if none was set.
func ClientIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(clientIDKey{}).(string)
	return v
}

// Logger is the structured logging interface every package in this
// module takes as a dependency, instead of calling the log package
// directly.
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	// WithFields returns a derived logger that includes fields on every
	// subsequent line.
	WithFields(fields map[string]interface{}) Logger
	// WithContext returns a derived logger tagged with the client ID
	// stashed in ctx via WithClientID, if any.
	WithContext(ctx context.Context) Logger
}

// Config configures a Logger.
type Config struct {
	// JSONOutput enables JSON structured output; otherwise lines are
	// plain text with fields appended.
	JSONOutput bool
}

type defaultLogger struct {
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
	config      Config
	fields      map[string]interface{}
}

// New creates a Logger writing ERROR/WARN to stderr and INFO/DEBUG to stdout.
func New(config Config) Logger {
	return &defaultLogger{
		errorLogger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		warnLogger:  log.New(os.Stderr, "[WARN] ", log.LstdFlags|log.Lshortfile),
		infoLogger:  log.New(os.Stdout, "[INFO] ", log.LstdFlags|log.Lshortfile),
		debugLogger: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
		config:      config,
		fields:      make(map[string]interface{}),
	}
}

// NewJSON creates a Logger with JSON structured output enabled.
func NewJSON() Logger {
	return New(Config{JSONOutput: true})
}

type logLine struct {
	Timestamp string                 `json:"timestamp,omitempty"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (l *defaultLogger) log(level string, logger *log.Logger, message string) {
	if l.config.JSONOutput {
		line := logLine{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Level:     level,
			Message:   message,
		}
		if len(l.fields) > 0 {
			line.Fields = l.fields
		}
		if data, err := json.Marshal(line); err == nil {
			logger.Output(3, string(data))
			return
		}
	}
	if len(l.fields) > 0 {
		logger.Output(3, fmt.Sprintf("%s %v", message, l.fields))
		return
	}
	logger.Output(3, message)
}

func (l *defaultLogger) Error(args ...interface{})                 { l.log("ERROR", l.errorLogger, fmt.Sprint(args...)) }
func (l *defaultLogger) Errorf(format string, args ...interface{}) { l.log("ERROR", l.errorLogger, fmt.Sprintf(format, args...)) }
func (l *defaultLogger) Warn(args ...interface{})                  { l.log("WARN", l.warnLogger, fmt.Sprint(args...)) }
func (l *defaultLogger) Warnf(format string, args ...interface{})  { l.log("WARN", l.warnLogger, fmt.Sprintf(format, args...)) }
func (l *defaultLogger) Info(args ...interface{})                  { l.log("INFO", l.infoLogger, fmt.Sprint(args...)) }
func (l *defaultLogger) Infof(format string, args ...interface{})  { l.log("INFO", l.infoLogger, fmt.Sprintf(format, args...)) }
func (l *defaultLogger) Debug(args ...interface{})                 { l.log("DEBUG", l.debugLogger, fmt.Sprint(args...)) }
func (l *defaultLogger) Debugf(format string, args ...interface{}) { l.log("DEBUG", l.debugLogger, fmt.Sprintf(format, args...)) }

func (l *defaultLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &defaultLogger{
		errorLogger: l.errorLogger,
		warnLogger:  l.warnLogger,
		infoLogger:  l.infoLogger,
		debugLogger: l.debugLogger,
		config:      l.config,
		fields:      merged,
	}
}

func (l *defaultLogger) WithContext(ctx context.Context) Logger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	if clientID := ClientIDFromContext(ctx); clientID != "" {
		fields["client_id"] = clientID
	}
	return &defaultLogger{
		errorLogger: l.errorLogger,
		warnLogger:  l.warnLogger,
		infoLogger:  l.infoLogger,
		debugLogger: l.debugLogger,
		config:      l.config,
		fields:      fields,
	}
}
