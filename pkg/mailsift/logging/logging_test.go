package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"bogus", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidLevel) {
				t.Errorf("ParseLevel(%q) error = %v, want ErrInvalidLevel", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{Level(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestGetBeforeInitIsSilent(t *testing.T) {
	// Must not panic or write anywhere.
	logger := Get("preinit-test")
	logger.Info("this goes nowhere")
	logger.Error("so does this")
}

func TestInitAndLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	err := Init(Config{Level: "debug", Path: path})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Close()

	logger := Get("testcomp")
	logger.Info("hello from test", "key", "value")

	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "hello from test") {
		t.Errorf("log file missing message: %s", content)
	}
	if !strings.Contains(content, "testcomp") {
		t.Errorf("log file missing component prefix: %s", content)
	}
}

func TestComponentLevelOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	err := Init(Config{
		Level:      "info",
		Path:       path,
		Components: map[string]string{"chatty": "error"},
	})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Close()

	Get("chatty").Info("suppressed")
	Get("chatty").Error("recorded")
	Get("other").Info("also recorded")

	if err := Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	if strings.Contains(content, "suppressed") {
		t.Error("info message leaked past component error level")
	}
	if !strings.Contains(content, "recorded") {
		t.Error("error message missing")
	}
	if !strings.Contains(content, "also recorded") {
		t.Error("default-level component message missing")
	}
}

func TestInitRejectsInvalidLevel(t *testing.T) {
	err := Init(Config{Level: "shout", Path: filepath.Join(t.TempDir(), "x.log")})
	if err == nil {
		t.Fatal("Init accepted invalid level")
	}
}

func TestWith(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	if err := Init(Config{Level: "info", Path: path}); err != nil {
		t.Fatal(err)
	}
	defer Close()

	Get("ctx").With("batch", "abc123").Info("contextual message")

	if err := Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "abc123") {
		t.Error("With context missing from log output")
	}
}
