package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{})
	logger.Debug("hidden")
	logger.Info("shown", "task", "001-x")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug should be filtered at info level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "001-x") {
		t.Errorf("info line missing: %q", out)
	}

	buf.Reset()
	New(&buf, Options{Verbose: true}).Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("verbose should enable debug: %q", buf.String())
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	Component(New(&buf, Options{}), "scanner").Warn("diverged")
	if !strings.Contains(buf.String(), "scanner") {
		t.Errorf("component prefix missing: %q", buf.String())
	}

	// nil parent must not panic
	Component(nil, "x").Info("dropped")
}

func TestOpenFile(t *testing.T) {
	project := t.TempDir()
	f, err := OpenFile(project, ".auto-build")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	New(f, Options{}).Info("persisted")
	f.Close()

	data, err := os.ReadFile(filepath.Join(project, ".auto-build", "logs", FileName))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "persisted") {
		t.Errorf("log line missing: %q", data)
	}
}
