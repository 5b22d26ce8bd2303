package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, slog.LevelInfo, "json")
	NewComponentLogger(base, "segmenter").Info("entry_committed")
	if !strings.Contains(buf.String(), `"component":"segmenter"`) {
		t.Fatalf("expected component attr, got %s", buf.String())
	}
}

func TestNilBaseDiscards(t *testing.T) {
	l := NewComponentLogger(nil, "x")
	if l == nil {
		t.Fatalf("expected non-nil logger")
	}
	l.Error("ignored")
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("warning") != slog.LevelWarn || ParseLevel("") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}
