package history

import "errors"

// Sentinel errors surfaced by the history manager. Compaction itself never
// fails the calling step; these are returned only from misuse (nil
// arguments, bad configuration) rather than from the compaction algorithm.
var (
	// ErrNilMessage is returned by Add when called with a nil payload.
	ErrNilMessage = errors.New("history: nil message")

	// ErrReentrantCompaction reports that a compaction is already in flight
	// on the manager. Compact does not return it: a Compact call that finds
	// one in progress returns nil.
	ErrReentrantCompaction = errors.New("history: compaction already in progress")
)
