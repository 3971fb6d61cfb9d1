package logging

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_CreatesDirAndLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	log, err := NewLogger(dir)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	// Directory should exist
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("log dir missing: %v", err)
	}

	// Write once; just ensuring no panic / basic functionality.
	log.Info("test_message_from_logging_test")

	// Best-effort: a file might not be flushed immediately; don't fail on it.
	if entries, _ := os.ReadDir(dir); len(entries) == 0 {
		t.Logf("no files yet in %s (ok; async writers may delay)", dir)
	}
}

func TestNewWithOptions_Level(t *testing.T) {
	log, err := NewWithOptions(Options{Dir: t.TempDir(), Name: "svc", Level: "warn"})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !log.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("error should be enabled at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"DEBUG": zapcore.DebugLevel,
		"error": zapcore.ErrorLevel,
		"bogus": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
