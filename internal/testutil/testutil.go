package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pratik-mahalle/stackdrift/internal/history"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
)

// NewTestLogger returns a logger that only prints errors
func NewTestLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json"})
}

// WriteTree creates files under a fresh temporary directory and returns its
// path. Keys are slash-separated relative paths.
func WriteTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("Failed to create %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", p, err)
		}
	}
	return root
}

// NewTestHistory opens a migrated sqlite history store in a temporary
// directory
func NewTestHistory(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(context.Background(), history.Config{
		Driver: history.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "history.db"),
	}, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to open test history: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
