// Package controller implements the Agent Controller: for one session, it
// translates bus traffic into agent steps and agent outputs back onto the
// bus, enforcing turn boundaries and terminal-state discipline.
package controller

import (
	"context"

	"github.com/archiflow-dev/archiflow/pkg/events"
)

// Agent is the contract a controller drives. Implementations are
// cooperative, single-session actors: the controller guarantees Step is
// never called concurrently with itself for a given instance.
type Agent interface {
	// Step advances the agent by one inbound event and returns zero or more
	// outbound events. Step must not be called again until it returns.
	Step(ctx context.Context, inbound events.Payload) ([]events.Payload, error)

	// Running reports whether the agent will still accept further events.
	// It becomes false once a StopMessage or AgentFinishedMessage has been
	// processed.
	Running() bool
}
