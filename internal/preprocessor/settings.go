package preprocessor

import (
	"os"
	"strconv"

	"github.com/archiflow-dev/archiflow/internal/confighierarchy"
)

// Settings are the preprocessor's resolved enabled/threshold/min-length
// knobs.
type Settings struct {
	Enabled   bool
	Threshold float64
	MinLength int
}

// DefaultSettings are the built-in fallback values, matching the framework
// these were distilled from: refinement off by default, a threshold of 8
// out of 10, and a 10-character floor below which refinement never runs.
func DefaultSettings() Settings {
	return Settings{Enabled: false, Threshold: 8.0, MinLength: 10}
}

// Overrides holds explicit per-call values; a nil field falls through to
// the next layer in the precedence cascade.
type Overrides struct {
	Enabled   *bool
	Threshold *float64
	MinLength *int
}

// EnvLookup abstracts os.LookupEnv for testability.
type EnvLookup func(key string) (string, bool)

// ResolveSettings applies the precedence cascade: explicit overrides, then
// the config snapshot's autoRefinement.* keys, then environment variables,
// then built-in defaults.
func ResolveSettings(overrides Overrides, snapshot *confighierarchy.ConfigSnapshot, lookup EnvLookup) Settings {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	s := DefaultSettings()
	applyEnv(&s, lookup)
	applyConfig(&s, snapshot)
	applyOverrides(&s, overrides)
	return s
}

func applyEnv(s *Settings, lookup EnvLookup) {
	if v, ok := lookup("AUTO_REFINE_PROMPTS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Enabled = b
		}
	}
	if v, ok := lookup("AUTO_REFINE_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.Threshold = f
		}
	}
	if v, ok := lookup("AUTO_REFINE_MIN_LENGTH"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.MinLength = n
		}
	}
}

func applyConfig(s *Settings, snapshot *confighierarchy.ConfigSnapshot) {
	if snapshot == nil {
		return
	}
	section, ok := snapshot.Settings["autoRefinement"].(map[string]any)
	if !ok {
		return
	}
	if v, ok := section["enabled"].(bool); ok {
		s.Enabled = v
	}
	if v, ok := section["threshold"].(float64); ok {
		s.Threshold = v
	}
	if v, ok := section["minLength"].(float64); ok {
		s.MinLength = int(v)
	}
}

func applyOverrides(s *Settings, o Overrides) {
	if o.Enabled != nil {
		s.Enabled = *o.Enabled
	}
	if o.Threshold != nil {
		s.Threshold = *o.Threshold
	}
	if o.MinLength != nil {
		s.MinLength = *o.MinLength
	}
}
