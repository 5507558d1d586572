package mlog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleLogger_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.LevelInfo, &buf).With("consumer", "worker-1")

	logger.Info("job acked", "entry", "1-0")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.HasPrefix(out, "INF job acked") {
		t.Fatalf("unexpected prefix: %q", out)
	}
	if !strings.Contains(out, "consumer=worker-1") || !strings.Contains(out, "entry=1-0") {
		t.Errorf("missing attributes in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug line should be filtered at info level")
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(slog.LevelDebug, FormatJSON, &buf)
	logger.Warn("reclaimed", "count", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "reclaimed" || rec["level"] != "WARN" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug {
		t.Error("expected debug")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("expected default info")
	}
}
