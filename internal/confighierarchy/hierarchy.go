package confighierarchy

import (
	"fmt"
	"os"
	"strings"
	"sync"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// Hierarchy loads and caches a ConfigSnapshot from up to four layers:
// built-in defaults are out of scope here (callers apply their own), then
// the global user directory, the project directory, and project-local
// overrides.
type Hierarchy struct {
	paths layerPaths

	mu          sync.Mutex
	cached      *ConfigSnapshot
	cachedPrint string
}

// New constructs a Hierarchy rooted at homeDir (the global layer) and
// workDir (the project layer). An empty homeDir falls back to
// os.UserHomeDir().
func New(homeDir, workDir string) *Hierarchy {
	if strings.TrimSpace(homeDir) == "" {
		if dir, err := os.UserHomeDir(); err == nil {
			homeDir = dir
		}
	}
	return &Hierarchy{paths: resolvePaths(homeDir, workDir)}
}

// Load returns the cached snapshot unless any known source path's
// modification time (or presence) has changed since the cache was built, or
// forceReload is true.
func (h *Hierarchy) Load(forceReload bool) (*ConfigSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fp := fingerprint(h.paths.all())
	if !forceReload && h.cached != nil && fp == h.cachedPrint {
		return h.cached, nil
	}

	snapshot, err := h.build()
	if err != nil {
		return nil, err
	}
	h.cached = snapshot
	h.cachedPrint = fp
	return snapshot, nil
}

// Reload is Load(true).
func (h *Hierarchy) Reload() (*ConfigSnapshot, error) {
	return h.Load(true)
}

// ClearCache drops the cached snapshot; the next Load rebuilds from disk.
func (h *Hierarchy) ClearCache() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cached = nil
	h.cachedPrint = ""
}

func (h *Hierarchy) build() (*ConfigSnapshot, error) {
	settings := map[string]any{}
	var sources []string

	for _, path := range h.paths.settingsOrder() {
		raw, found, err := readSettingsFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		if !found {
			continue
		}
		settings = mergeMaps(settings, raw)
		sources = append(sources, path)
	}

	var contexts []string
	for _, path := range h.paths.contextOrder() {
		content, found, err := readContextFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		if !found {
			continue
		}
		contexts = append(contexts, content)
		sources = append(sources, path)
	}

	return &ConfigSnapshot{
		Settings: settings,
		Context:  strings.Join(contexts, "\n\n"),
		Sources:  sources,
	}, nil
}

func readSettingsFile(path string) (map[string]any, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var raw map[string]any
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, false, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, true, nil
}

func readContextFile(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// fingerprint captures, per known path, whether it exists and its
// modification time, so that deleting a file is detected as a change even
// when its mtime was never the maximum among the known paths.
func fingerprint(paths []string) string {
	var sb strings.Builder
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			sb.WriteString(p)
			sb.WriteString(":absent;")
			continue
		}
		fmt.Fprintf(&sb, "%s:%d;", p, info.ModTime().UnixNano())
	}
	return sb.String()
}
