package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, "warn", "json"))
	log.Info("hidden")
	log.Warn("shown", "phrases", 3)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["phrases"] != float64(3) {
		t.Errorf("record = %v", rec)
	}
}

func TestPrettyHandler(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, "debug", "pretty")).Debug("counting", "lines", 10)
	if !strings.Contains(buf.String(), "counting") || !strings.Contains(buf.String(), "lines") {
		t.Errorf("pretty output = %q", buf.String())
	}
}

func TestFromContextAddsRunID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(NewHandler(&buf, "info", "text")))
	defer slog.SetDefault(prev)

	FromContext(WithRunID(context.Background(), "run-42")).Info("started")
	if !strings.Contains(buf.String(), "run_id=run-42") {
		t.Errorf("output = %q", buf.String())
	}
}
