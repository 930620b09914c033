package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewJSONRedacts(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "json")
	log.Debug().Str("WGD_API_TOKEN", "tok-123456").Msg("loaded")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	if strings.Contains(buf.String(), "tok-123456") {
		t.Errorf("token leaked: %q", buf.String())
	}
	if line["message"] != "loaded" {
		t.Errorf("message: got %v", line["message"])
	}
}

func TestNewLevels(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":  zerolog.DebugLevel,
		" WARN ": zerolog.WarnLevel,
		"bogus":  zerolog.InfoLevel,
		"":       zerolog.InfoLevel,
		"error":  zerolog.ErrorLevel,
	}
	for in, want := range cases {
		if got := New(&bytes.Buffer{}, in, "json").GetLevel(); got != want {
			t.Errorf("level %q: got %v, want %v", in, got, want)
		}
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "text")
	log.Info().Msg("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("text format should not emit JSON: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("missing message: %q", buf.String())
	}
}

func TestOutputConsole(t *testing.T) {
	var buf bytes.Buffer
	for _, path := range []string{"", "console"} {
		w, c := Output(&buf, FileOptions{Path: path})
		if w != &buf {
			t.Errorf("path %q: expected the console writer", path)
		}
		if err := c.Close(); err != nil {
			t.Errorf("path %q: Close: %v", path, err)
		}
	}
}

func TestOutputFileRedacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	w, c := Output(os.Stderr, FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	log := New(w, "info", "json")
	log.Info().Str("password", "hunter2").Msg("file sink")
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "file sink") || strings.Contains(string(data), "hunter2") {
		t.Errorf("unexpected file content %q", data)
	}
}
