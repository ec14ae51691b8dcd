package internal

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, ApplicationConfig{LogLevel: slog.LevelInfo, LogFormat: LogFormatJSON})
	logger.Debug("hidden")
	logger.Info("shown", slog.String("path", "a.ipynb"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["path"] != "a.ipynb" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, ApplicationConfig{LogLevel: slog.LevelDebug, LogFormat: LogFormatText})
	logger.Debug("text line", slog.String("path", "b.ipynb"))
	out := buf.String()
	if !strings.Contains(out, "text line") || !strings.Contains(out, "path=b.ipynb") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("unexpected color codes in %q", out)
	}
}
