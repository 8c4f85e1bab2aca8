package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "test.log")

	w, err := NewRotatingWriter(path, RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer w.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestRotatingWriterWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	w, err := NewRotatingWriter(path, RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("one log line\n")
	n, err := w.Write(msg)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(msg) {
		t.Errorf("Write returned %d, want %d", n, len(msg))
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(msg) {
		t.Errorf("file content = %q, want %q", data, msg)
	}
}

func TestRotatingWriterRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	w, err := NewRotatingWriter(path, RotationConfig{MaxSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// Exceed the size limit across several writes.
	for i := 0; i < 10; i++ {
		if _, err := w.Write([]byte(fmt.Sprintf("line %d: padding padding padding\n", i))); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	var rotated int
	for _, e := range entries {
		if e.Name() != "test.log" && strings.HasPrefix(e.Name(), "test.") {
			rotated++
		}
	}
	if rotated == 0 {
		t.Error("no rotated files found after exceeding MaxSize")
	}
}

func TestRotatingWriterMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	// Pre-create rotated files beyond the backup limit.
	for _, stamp := range []string{
		"2024-01-01-000000", "2024-01-02-000000", "2024-01-03-000000", "2024-01-04-000000",
	} {
		rotatedPath := filepath.Join(dir, "test."+stamp+".log")
		if err := os.WriteFile(rotatedPath, []byte("old"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w, err := NewRotatingWriter(path, RotationConfig{MaxBackups: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	var rotated int
	for _, e := range entries {
		if e.Name() != "test.log" {
			rotated++
		}
	}
	if rotated > 2 {
		t.Errorf("%d rotated files remain, want <= 2 (MaxBackups)", rotated)
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()

	if cfg.MaxSize != 10*1024*1024 {
		t.Errorf("MaxSize = %d, want 10MB", cfg.MaxSize)
	}
	if cfg.MaxAge != 30 {
		t.Errorf("MaxAge = %d, want 30", cfg.MaxAge)
	}
	if cfg.MaxBackups != 5 {
		t.Errorf("MaxBackups = %d, want 5", cfg.MaxBackups)
	}
	if !cfg.Daily {
		t.Error("Daily = false, want true")
	}
}
