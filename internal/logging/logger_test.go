package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_AutoFormatFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "auto", Output: &buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	NewComponentLogger(logger, "planner").Info("plan selected", slog.String(FieldMode, "hybrid"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line[FieldComponent] != "planner" || line[FieldMode] != "hybrid" {
		t.Fatalf("unexpected fields: %v", line)
	}
	if line["level"] != "info" {
		t.Fatalf("expected lower-case level, got %v", line["level"])
	}
	if _, ok := line["ts"]; !ok {
		t.Fatalf("expected ts key: %v", line)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", Error(errors.New("boom")))
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") || !strings.Contains(out, "boom") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestNewComponentLogger_NilIsNop(t *testing.T) {
	l := NewComponentLogger(nil, "x")
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("nop logger must be disabled")
	}
}
