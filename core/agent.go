package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Agent is the capability every tracked participant implements.
// Both hooks are idempotent and return the agent itself so calls can be
// chained, e.g. registry.Add(agent.RegisterTracker()).
type Agent interface {
	RegisterTracker() Agent
	UnregisterTracker() Agent
}

// KeyedAgent supplies a stable identity. Agents without a key are tracked by
// reference equality.
type KeyedAgent interface {
	Agent
	TrackerKey() string
}

// FallibleAgent is an optional extension for agents whose hooks can fail.
// When implemented, the registry calls the Try* methods instead of the plain
// hooks and treats a non-nil error as a failed transition.
type FallibleAgent interface {
	Agent
	TryRegisterTracker() (Agent, error)
	TryUnregisterTracker() (Agent, error)
}

// StatefulAgent exposes the agent's own view of its tracker state.
type StatefulAgent interface {
	TrackerState() TrackerState
}

// TrackerState is the registration state of an agent
type TrackerState int

const (
	StateUnregistered TrackerState = iota
	StateRegistered
)

// String returns the state name
func (s TrackerState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	default:
		return fmt.Sprintf("TrackerState(%d)", int(s))
	}
}

// BaseAgent provides the tracker state machine for concrete agents.
// Embed it and override RegisterTracker/UnregisterTracker so the hooks return
// the outer value rather than the embedded BaseAgent.
type BaseAgent struct {
	ID   string
	Name string

	mu              sync.Mutex
	state           TrackerState
	registrations   int
	unregistrations int
}

// NewBaseAgent creates a base agent with a generated ID
func NewBaseAgent(name string) *BaseAgent {
	if name == "" {
		name = "tracker-agent"
	}
	return &BaseAgent{
		ID:   fmt.Sprintf("%s-%s", name, uuid.New().String()[:8]),
		Name: name,
	}
}

// RegisterTracker marks the agent registered and returns it
func (b *BaseAgent) RegisterTracker() Agent {
	b.MarkRegistered()
	return b
}

// UnregisterTracker marks the agent unregistered and returns it
func (b *BaseAgent) UnregisterTracker() Agent {
	b.MarkUnregistered()
	return b
}

// MarkRegistered moves the agent to StateRegistered.
// It reports whether a transition happened; repeated calls are no-ops.
func (b *BaseAgent) MarkRegistered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateRegistered {
		return false
	}
	b.state = StateRegistered
	b.registrations++
	return true
}

// MarkUnregistered moves the agent to StateUnregistered.
// It reports whether a transition happened; repeated calls are no-ops.
func (b *BaseAgent) MarkUnregistered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateUnregistered {
		return false
	}
	b.state = StateUnregistered
	b.unregistrations++
	return true
}

// TrackerState returns the current state
func (b *BaseAgent) TrackerState() TrackerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registrations returns how many times the agent entered StateRegistered
func (b *BaseAgent) Registrations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registrations
}

// Unregistrations returns how many times the agent left StateRegistered
func (b *BaseAgent) Unregistrations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unregistrations
}

// TrackerKey returns the agent ID
func (b *BaseAgent) TrackerKey() string {
	return b.ID
}

// GetID returns the agent ID
func (b *BaseAgent) GetID() string {
	return b.ID
}

// GetName returns the agent name
func (b *BaseAgent) GetName() string {
	return b.Name
}
