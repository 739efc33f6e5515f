package events

import "time"

// Message is the envelope the broker assigns to every published payload: a
// topic, a per-topic monotonic sequence number, an arrival timestamp, and the
// typed payload itself.
type Message struct {
	Topic     string    `json:"topic"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

// Topics returns the three topics that make up a session's topic context.
func Topics(sessionID string) (agent, runtime, client string) {
	return "agent." + sessionID, "runtime." + sessionID, "client." + sessionID
}
