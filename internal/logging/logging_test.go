package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestTextHandlerRendersStagePrefix(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewText(&buf, slog.LevelInfo).With("stage", "reset", "root", "/srv/void")
	logger.Info("removed previous target", "entries", 3)

	line := buf.String()
	if !strings.Contains(line, "| [reset] removed previous target") {
		t.Fatalf("log line = %q, want stage prefix", line)
	}
	if strings.Contains(line, "stage=") {
		t.Fatalf("log line = %q, stage rendered as attribute", line)
	}
	if !strings.Contains(line, " root=/srv/void entries=3") {
		t.Fatalf("log line = %q, want attributes in order", line)
	}
}

func TestTextHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var level slog.LevelVar
	level.Set(slog.LevelWarn)
	logger := NewText(&buf, &level)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info record emitted at warn level: %q", buf.String())
	}

	level.Set(slog.LevelDebug)
	logger.Debug("shown")
	if !strings.Contains(buf.String(), "DEBUG") {
		t.Fatalf("debug record missing after level change: %q", buf.String())
	}
}

func TestTextHandlerQuotesErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewText(&buf, nil).Error("stage failed", "error", errors.New("exit status 1"))

	if !strings.Contains(buf.String(), `error="exit status 1"`) {
		t.Fatalf("log line = %q, want quoted error", buf.String())
	}
}

func TestJSONMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(ModeJSON, &buf, nil).Info("archived", "stage", "archive")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if record["stage"] != "archive" {
		t.Fatalf("stage = %v, want archive", record["stage"])
	}
}

func TestParseLevelAndMode(t *testing.T) {
	t.Parallel()

	if level, err := ParseLevel("warning"); err != nil || level != slog.LevelWarn {
		t.Fatalf("ParseLevel(warning) = %v, %v", level, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("ParseLevel(loud) error = nil, want non-nil")
	}
	if mode, err := ParseMode("JSON"); err != nil || mode != ModeJSON {
		t.Fatalf("ParseMode(JSON) = %v, %v", mode, err)
	}
	if _, err := ParseMode("xml"); err == nil {
		t.Fatal("ParseMode(xml) error = nil, want non-nil")
	}
}
