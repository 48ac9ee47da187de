package rklog

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
	if logger.level != LevelInfo {
		t.Errorf("default level = %v, want LevelInfo", logger.level)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("this appears")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("filtered level leaked into output: %q", out)
	}
	if !strings.Contains(out, "this appears") {
		t.Errorf("expected WARN line in output: %q", out)
	}
}

func TestLoggerFormatArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("entering state", "state", "foo", "ordinal", 3)

	out := buf.String()
	if !strings.Contains(out, "state=foo") || !strings.Contains(out, "ordinal=3") {
		t.Errorf("expected key=value args in output: %q", out)
	}
}

func TestWithStateThreadsIdentityIntoEveryCall(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	stateLogger := logger.WithState("worker.read", 2)

	stateLogger.Debug("install_handler", "tr_max", 4)
	stateLogger.Info("resume", "released", 1)

	out := buf.String()
	if strings.Count(out, "state=worker.read") != 2 {
		t.Errorf("expected state field on every call, got %q", out)
	}
	if !strings.Contains(out, "state_id=2") {
		t.Errorf("expected state_id field in output: %q", out)
	}
	if !strings.Contains(out, "tr_max=4") || !strings.Contains(out, "released=1") {
		t.Errorf("expected call-site args alongside carried fields: %q", out)
	}
}

func TestDefaultLoggerSingleton(t *testing.T) {
	first := Default()
	second := Default()
	if first != second {
		t.Error("Default() returned different loggers across calls")
	}
}

func TestSetDefault(t *testing.T) {
	var buf bytes.Buffer
	custom := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	SetDefault(custom)
	defer SetDefault(NewLogger(nil))

	Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected package-level Info to use custom default logger, got %q", buf.String())
	}
}
