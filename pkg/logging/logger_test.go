package logging

import (
	"context"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New() should not return nil")
	}
	logger.Error("test error")
	logger.Errorf("test error: %s", "message")
	logger.Warn("test warning")
	logger.Warnf("test warning: %s", "message")
	logger.Info("test info")
	logger.Infof("test info: %s", "message")
	logger.Debug("test debug")
	logger.Debugf("test debug: %s", "message")
}

func TestLoggerWithFields(t *testing.T) {
	logger := New(Config{})
	withFields := logger.WithFields(map[string]interface{}{
		"obj_id": 7,
		"op":     "insert",
	})
	if withFields == logger {
		t.Error("WithFields() should return a new logger instance")
	}
	withFields.Info("applied entry")
}

func TestLoggerWithContext(t *testing.T) {
	logger := New(Config{})
	ctx := WithClientID(context.Background(), "client-42")

	withCtx := logger.WithContext(ctx)
	if withCtx == nil {
		t.Fatal("WithContext() should not return nil")
	}
	withCtx.Info("synced with shared log")

	if got := ClientIDFromContext(ctx); got != "client-42" {
		t.Errorf("ClientIDFromContext() = %q, want %q", got, "client-42")
	}
}

func TestJSONLogger(t *testing.T) {
	logger := NewJSON()
	jsonLogger, ok := logger.(*defaultLogger)
	if !ok {
		t.Fatal("NewJSON() should return *defaultLogger")
	}
	if !jsonLogger.config.JSONOutput {
		t.Error("JSON logger should have JSONOutput enabled")
	}
	logger.WithFields(map[string]interface{}{"test": "value"}).Info("test message")
}
