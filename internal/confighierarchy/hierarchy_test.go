package confighierarchy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestProjectLocalWinsOverProject(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()

	writeFile(t, filepath.Join(work, dirName, settingsFileName), `{"history": {"maxTokens": 1000}}`)
	writeFile(t, filepath.Join(work, dirName, settingsLocalFileName), `{"history": {"maxTokens": 2000}}`)

	h := New(home, work)
	snap, err := h.Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	history, ok := snap.Settings["history"].(map[string]any)
	if !ok {
		t.Fatalf("expected history map in settings, got %+v", snap.Settings)
	}
	if history["maxTokens"] != float64(2000) {
		t.Fatalf("expected project-local value to win, got %+v", history["maxTokens"])
	}
}

func TestCacheInvalidatesOnMtimeChange(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	settingsPath := filepath.Join(work, dirName, settingsFileName)
	writeFile(t, settingsPath, `{"history": {"maxTokens": 1000}}`)

	h := New(home, work)
	first, err := h.Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Ensure a distinguishable mtime.
	future := time.Now().Add(2 * time.Second)
	writeFile(t, settingsPath, `{"history": {"maxTokens": 5000}}`)
	if err := os.Chtimes(settingsPath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	second, err := h.Load(false)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first.Digest() == second.Digest() {
		t.Fatalf("expected cache invalidation after mtime change")
	}
	history := second.Settings["history"].(map[string]any)
	if history["maxTokens"] != float64(5000) {
		t.Fatalf("expected reloaded value, got %+v", history["maxTokens"])
	}
}

func TestCacheInvalidatesOnDeletion(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	localPath := filepath.Join(work, dirName, settingsLocalFileName)
	writeFile(t, filepath.Join(work, dirName, settingsFileName), `{"history": {"maxTokens": 1000}}`)
	writeFile(t, localPath, `{"history": {"maxTokens": 9000}}`)

	h := New(home, work)
	first, err := h.Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.Remove(localPath); err != nil {
		t.Fatalf("remove: %v", err)
	}
	second, err := h.Load(false)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first.Digest() == second.Digest() {
		t.Fatalf("expected deletion of a source file to invalidate the cache")
	}
}

func TestForceReloadBypassesCache(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	settingsPath := filepath.Join(work, dirName, settingsFileName)
	writeFile(t, settingsPath, `{"history": {"maxTokens": 1000}}`)

	h := New(home, work)
	if _, err := h.Load(false); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Overwrite without changing mtime resolution guarantees; force reload
	// must still re-read from disk.
	writeFile(t, settingsPath, `{"history": {"maxTokens": 1000, "retentionWindow": 5}}`)
	snap, err := h.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	history := snap.Settings["history"].(map[string]any)
	if history["retentionWindow"] != float64(5) {
		t.Fatalf("expected forced reload to pick up new key, got %+v", history)
	}
}

func TestMalformedSettingsFailsLoudlyWithPath(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	settingsPath := filepath.Join(work, dirName, settingsFileName)
	writeFile(t, settingsPath, `{not valid json`)

	h := New(home, work)
	_, err := h.Load(false)
	if err == nil {
		t.Fatalf("expected malformed settings file to error")
	}
	if !containsPath(err.Error(), settingsPath) {
		t.Fatalf("expected error to mention file path %s, got %q", settingsPath, err.Error())
	}
}

func containsPath(haystack, needle string) bool {
	return len(needle) > 0 && (len(haystack) >= len(needle)) && (indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestContextConcatenatesInOrder(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	writeFile(t, filepath.Join(home, dirName, contextFileName), "global context")
	writeFile(t, filepath.Join(work, dirName, contextFileName), "project context")

	h := New(home, work)
	snap, err := h.Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	wantOrder := "global context\n\nproject context"
	if snap.Context != wantOrder {
		t.Fatalf("expected context concatenated low-to-high precedence, got %q", snap.Context)
	}
	if len(snap.Sources) != 2 {
		t.Fatalf("expected 2 sources recorded, got %+v", snap.Sources)
	}
}
