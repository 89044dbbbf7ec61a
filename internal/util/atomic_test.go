package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Run("creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "a", "b", "file.json")
		if err := WriteFileAtomic(path, []byte("hello")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		if string(data) != "hello" {
			t.Errorf("got %q, want %q", data, "hello")
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "file.json")
		for i := 0; i < 3; i++ {
			if err := WriteFileAtomic(path, []byte("x")); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if strings.Contains(e.Name(), ".tmp.") {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})

	t.Run("rename failure cleans temp file", func(t *testing.T) {
		dir := t.TempDir()
		// A non-empty directory at the target path makes rename fail.
		target := filepath.Join(dir, "target")
		os.MkdirAll(filepath.Join(target, "child"), 0755)

		if err := WriteFileAtomic(target, []byte("x")); err == nil {
			t.Fatal("expected error when target is a non-empty directory")
		}
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if strings.Contains(e.Name(), ".tmp.") {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.json")
	in := map[string]string{"name": "value"}
	if err := WriteJSONAtomic(path, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(path)
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("invalid json written: %v", err)
	}
	if out["name"] != "value" {
		t.Errorf("got %v", out)
	}
}
