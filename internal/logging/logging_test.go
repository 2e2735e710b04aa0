package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestDefaultLogDir(t *testing.T) {
	dir := DefaultLogDir()
	if dir == "" {
		t.Error("DefaultLogDir returned empty string")
	}

	if !strings.Contains(dir, ".pubvec") || !strings.Contains(dir, "logs") {
		t.Errorf("DefaultLogDir should contain .pubvec/logs, got: %s", dir)
	}
}

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if path == "" {
		t.Error("DefaultLogPath returned empty string")
	}

	if filepath.Base(path) != "ingest.log" {
		t.Errorf("DefaultLogPath should end with ingest.log, got: %s", path)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.MaxSizeMB != 10 {
		t.Errorf("expected MaxSizeMB 10, got: %d", cfg.MaxSizeMB)
	}
	if cfg.MaxFiles != 5 {
		t.Errorf("expected MaxFiles 5, got: %d", cfg.MaxFiles)
	}
	if cfg.WriteToStderr {
		t.Error("expected WriteToStderr to be false by default")
	}
}

func TestDebugConfig(t *testing.T) {
	cfg := DebugConfig()

	if cfg.Level != "debug" {
		t.Errorf("expected level 'debug', got: %s", cfg.Level)
	}
}

func TestSetup(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := Config{
		Level:         "debug",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	logger.Info("test message", "topic", "diabetes treatment", "articles", 120)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "test message") {
		t.Errorf("log file missing message, got: %s", content)
	}
	if !strings.Contains(content, "diabetes treatment") {
		t.Errorf("log file missing attribute, got: %s", content)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		got := parseLevel(tt.input)
		if got.String() != tt.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestRotatingWriter_RotatesAtMaxSize(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "rotate.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = w.Close() }()
	w.SetImmediateSync(false)

	// Write past 1MB to trigger rotation
	line := strings.Repeat("x", 1024)
	for i := 0; i < 1100; i++ {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("expected rotated file %s.1 to exist: %v", logPath, err)
	}
}

func TestRotatingWriter_KeepsMaxFiles(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "keep.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = w.Close() }()
	w.SetImmediateSync(false)

	line := strings.Repeat("y", 1024)
	// Enough writes for several rotations
	for i := 0; i < 4000; i++ {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	if _, err := os.Stat(logPath + ".3"); err == nil {
		t.Error("rotated file beyond MaxFiles should have been removed")
	}
}

func TestViewer_TailReturnsLastLines(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "view.log")

	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"time":"2025-06-01T10:00:%02dZ","level":"INFO","msg":"line %d"}`, i, i))
	}
	if err := os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	v := NewViewer(ViewerConfig{NoColor: true}, os.Stdout)
	entries, err := v.Tail(logPath, 3)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[2].Msg != "line 9" {
		t.Errorf("expected last entry 'line 9', got %q", entries[2].Msg)
	}
}

func TestViewer_LevelFilter(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "filter.log")

	content := `{"time":"2025-06-01T10:00:00Z","level":"DEBUG","msg":"noise"}
{"time":"2025-06-01T10:00:01Z","level":"ERROR","msg":"embed batch dropped"}
`
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	v := NewViewer(ViewerConfig{Level: "warn", NoColor: true}, os.Stdout)
	entries, err := v.Tail(logPath, 10)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after filter, got %d", len(entries))
	}
	if entries[0].Msg != "embed batch dropped" {
		t.Errorf("unexpected entry: %q", entries[0].Msg)
	}
}

func TestViewer_PatternFilter(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "pattern.log")

	content := `{"time":"2025-06-01T10:00:00Z","level":"INFO","msg":"topic complete","topic":"hypertension"}
{"time":"2025-06-01T10:00:01Z","level":"INFO","msg":"topic complete","topic":"sepsis"}
`
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	v := NewViewer(ViewerConfig{Pattern: regexp.MustCompile("sepsis"), NoColor: true}, os.Stdout)
	entries, err := v.Tail(logPath, 10)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after pattern filter, got %d", len(entries))
	}
}

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, os.Stdout)

	entry := LogEntry{
		Time:    time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
		Level:   "INFO",
		Msg:     "store_complete",
		Attrs:   map[string]interface{}{"chunks": float64(42)},
		IsValid: true,
	}

	out := v.FormatEntry(entry)
	if !strings.Contains(out, "10:30:00") {
		t.Errorf("formatted entry missing timestamp: %s", out)
	}
	if !strings.Contains(out, "store_complete") {
		t.Errorf("formatted entry missing message: %s", out)
	}
	if !strings.Contains(out, "chunks=42") {
		t.Errorf("formatted entry missing attrs: %s", out)
	}
}

func TestViewer_InvalidJSONReturnsRaw(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, os.Stdout)
	entry := v.parseLine("not json at all")

	if entry.IsValid {
		t.Error("expected invalid entry for non-JSON line")
	}
	if got := v.FormatEntry(entry); got != "not json at all" {
		t.Errorf("expected raw line back, got %q", got)
	}
}
