// Package history implements the bounded conversation log an agent carries
// through a session: a message list kept under a token budget by a
// configurable cleaning, compaction, and summarization pipeline.
package history

import (
	"context"
	"log/slog"
	"sync"

	"github.com/archiflow-dev/archiflow/pkg/events"
	"github.com/archiflow-dev/archiflow/pkg/llm"
)

// Config configures a Manager. Zero-value fields are filled in by
// DefaultConfig's values where a Manager is constructed with New.
type Config struct {
	// MaxTokens is the absolute budget for the history passed to the LLM,
	// excluding output reserve, system prompt, and tool-schema overhead.
	MaxTokens int

	// RetentionWindow is the number of most-recent messages that survive
	// compaction unchanged (plus any tool-call back-extension).
	RetentionWindow int

	// ProactiveThreshold is the fraction of MaxTokens above which
	// compaction runs preemptively, in (0,1].
	ProactiveThreshold float64

	// MaxSummaryChars bounds the length of a generated summary.
	MaxSummaryChars int

	// Strategy selects what compaction drops. Defaults to SelectiveRetentionStrategy.
	Strategy CompactionStrategy

	// Summarizer turns a dropped chunk into summary text. Defaults to SimpleSummarizer.
	Summarizer Summarizer

	// Cleaners runs before every threshold check. Defaults to the TODO +
	// duplicate cleaner pipeline.
	Cleaners Cleaner

	// Provider is used for token counting. If nil, a ceil(chars/4)
	// estimate is used instead.
	Provider llm.Provider

	// Logger receives diagnostic output. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the manager's default pipeline: selective
// retention, the simple summarizer, and the standard cleaner set.
func DefaultConfig() Config {
	return Config{
		MaxTokens:          100_000,
		RetentionWindow:    10,
		ProactiveThreshold: 0.75,
		MaxSummaryChars:    1000,
		Strategy:           SelectiveRetentionStrategy{},
		Summarizer:         SimpleSummarizer{},
		Cleaners:           NewCompositeCleaner(DefaultTodoCleaner(), DuplicateCleaner{}),
		Logger:             slog.Default(),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = d.RetentionWindow
	}
	if c.ProactiveThreshold <= 0 || c.ProactiveThreshold > 1 {
		c.ProactiveThreshold = d.ProactiveThreshold
	}
	if c.MaxSummaryChars <= 0 {
		c.MaxSummaryChars = d.MaxSummaryChars
	}
	if c.Strategy == nil {
		c.Strategy = d.Strategy
	}
	if c.Summarizer == nil {
		c.Summarizer = d.Summarizer
	}
	if c.Cleaners == nil {
		c.Cleaners = d.Cleaners
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
}

// Manager is the bounded conversation log for one session. A Manager is
// private to its owning agent; it is not safe to share across sessions, but
// it is safe for its own owner to call Add and AddAsync from different
// goroutines (the reentrancy lock serializes compaction).
type Manager struct {
	cfg Config

	mu         sync.Mutex
	messages   []events.Payload
	compacting bool
	cached     []llm.Message
	cacheValid bool
}

// New constructs a Manager. Unset Config fields take DefaultConfig's values.
func New(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{cfg: cfg}
}

// Add appends msg, runs the cleaner pipeline, and — if the history is now
// at or above the proactive threshold — launches a background compaction.
// Add never blocks on compaction; use AddAsync to await it.
func (m *Manager) Add(msg events.Payload) error {
	if msg == nil {
		return ErrNilMessage
	}
	over := m.appendAndClean(msg)
	if over {
		go m.Compact(context.Background())
	}
	return nil
}

// AddAsync appends msg and, if compaction is warranted, runs it to
// completion before returning. Callers in a concurrent runtime use this to
// guarantee the history is under budget before the next LLM call.
func (m *Manager) AddAsync(ctx context.Context, msg events.Payload) error {
	if msg == nil {
		return ErrNilMessage
	}
	if m.appendAndClean(msg) {
		return m.Compact(ctx)
	}
	return nil
}

func (m *Manager) appendAndClean(msg events.Payload) (overThreshold bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.messages = m.cfg.Cleaners.Clean(m.messages, m.cfg.RetentionWindow)
	m.cacheValid = false
	return m.tokensLocked() >= m.thresholdTokens()
}

func (m *Manager) thresholdTokens() int {
	return int(m.cfg.ProactiveThreshold * float64(m.cfg.MaxTokens))
}

func (m *Manager) tokensLocked() int {
	return countTokens(context.Background(), m.cfg.Provider, m.messages)
}

// Compact runs the compaction strategy if the history is over threshold. If
// a compaction is already in progress on this manager, Compact is a no-op
// (the reentrancy lock): it returns nil immediately rather than queuing a
// second pass.
func (m *Manager) Compact(ctx context.Context) error {
	m.mu.Lock()
	if m.compacting {
		m.mu.Unlock()
		return nil
	}
	m.compacting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.compacting = false
		m.mu.Unlock()
	}()

	threshold := m.thresholdTokens()
	window := m.cfg.RetentionWindow

	for {
		current := m.snapshot()
		if countTokens(ctx, m.cfg.Provider, current) < threshold {
			return nil
		}

		analysis := m.cfg.Strategy.Analyze(current, window)
		if analysis.Empty() {
			if window <= 1 {
				m.appendOverflowObservation()
				return nil
			}
			window = halveWindow(window)
			continue
		}

		summary, err := m.cfg.Summarizer.Summarize(ctx, analysis.MiddleChunk, m.cfg.MaxSummaryChars)
		if err != nil {
			m.cfg.Logger.Warn("history: summarizer failed, falling back to simple summary", "error", err)
			summary, _ = SimpleSummarizer{}.Summarize(ctx, analysis.MiddleChunk, m.cfg.MaxSummaryChars)
		}

		rebuilt := make([]events.Payload, 0, len(analysis.PreservedHead)+1+len(analysis.PreservedTail))
		rebuilt = append(rebuilt, analysis.PreservedHead...)
		rebuilt = append(rebuilt, events.SystemMessage{Content: "[Compacted] " + summary})
		rebuilt = append(rebuilt, analysis.PreservedTail...)

		m.mu.Lock()
		m.messages = rebuilt
		m.cacheValid = false
		m.mu.Unlock()

		if window <= 1 {
			if countTokens(ctx, m.cfg.Provider, rebuilt) >= threshold {
				m.appendOverflowObservation()
			}
			return nil
		}
		window = halveWindow(window)
	}
}

func (m *Manager) appendOverflowObservation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, events.ErrorObservation{
		Content: "history still exceeds token budget after maximum compaction",
	})
	m.cacheValid = false
}

func halveWindow(w int) int {
	w /= 2
	if w < 1 {
		w = 1
	}
	return w
}

func (m *Manager) snapshot() []events.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Payload, len(m.messages))
	copy(out, m.messages)
	return out
}

// Messages returns a read-only snapshot of the current message list.
func (m *Manager) Messages() []events.Payload {
	return m.snapshot()
}

// ToLLMFormat returns the memoized provider-neutral projection of the
// current history. The cache is invalidated by any mutation (Add, Compact).
func (m *Manager) ToLLMFormat() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cacheValid {
		return m.cached
	}
	m.cached = ToLLMFormat(m.messages)
	m.cacheValid = true
	return m.cached
}
