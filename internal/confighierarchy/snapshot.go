// Package confighierarchy implements the Config Hierarchy: a four-layer
// settings and context merge (global, project, project-local) with
// mtime-based cache invalidation.
package confighierarchy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ConfigSnapshot is an immutable view of merged settings and context, with
// the list of source files that contributed to it.
type ConfigSnapshot struct {
	Settings map[string]any `json:"settings"`
	Context  string         `json:"context"`
	Sources  []string       `json:"sources"`
}

// Digest returns a sha256 fingerprint of the merged settings and context,
// useful for tests asserting cache identity without a deep-equal on maps.
func (s *ConfigSnapshot) Digest() string {
	payload, _ := json.Marshal(struct {
		Settings map[string]any `json:"settings"`
		Context  string         `json:"context"`
	}{s.Settings, s.Context})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
