package core

import (
	"fmt"
	"sort"
)

// Default agent kinds shipped with the host.
const (
	AgentKindResolver = "resolver"
	AgentKindVariable = "variable"
)

// ResolverTrackerAgent tracks the host's resolver pipeline.
type ResolverTrackerAgent struct {
	*BaseAgent
}

// NewResolverTrackerAgent creates a resolver tracker
func NewResolverTrackerAgent() *ResolverTrackerAgent {
	return &ResolverTrackerAgent{BaseAgent: NewBaseAgent("resolver-tracker")}
}

// RegisterTracker registers this tracker and returns it for chaining
func (a *ResolverTrackerAgent) RegisterTracker() Agent {
	a.MarkRegistered()
	return a
}

// UnregisterTracker unregisters this tracker and returns it for chaining
func (a *ResolverTrackerAgent) UnregisterTracker() Agent {
	a.MarkUnregistered()
	return a
}

// VariableTrackerAgent tracks variable access in the host.
type VariableTrackerAgent struct {
	*BaseAgent
}

// NewVariableTrackerAgent creates a variable tracker
func NewVariableTrackerAgent() *VariableTrackerAgent {
	return &VariableTrackerAgent{BaseAgent: NewBaseAgent("variable-tracker")}
}

// RegisterTracker registers this tracker and returns it for chaining
func (a *VariableTrackerAgent) RegisterTracker() Agent {
	a.MarkRegistered()
	return a
}

// UnregisterTracker unregisters this tracker and returns it for chaining
func (a *VariableTrackerAgent) UnregisterTracker() Agent {
	a.MarkUnregistered()
	return a
}

var defaultAgentFactories = map[string]func() Agent{
	AgentKindResolver: func() Agent { return NewResolverTrackerAgent() },
	AgentKindVariable: func() Agent { return NewVariableTrackerAgent() },
}

// DefaultAgentKinds returns the supported default agent kinds, sorted
func DefaultAgentKinds() []string {
	kinds := make([]string, 0, len(defaultAgentFactories))
	for k := range defaultAgentFactories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// DefaultAgent builds a default agent by kind
func DefaultAgent(kind string) (Agent, error) {
	factory, ok := defaultAgentFactories[kind]
	if !ok {
		return nil, &TrackerError{
			Op:      "DefaultAgent",
			Kind:    "agent",
			Message: fmt.Sprintf("unknown agent kind: %q", kind),
			Err:     ErrInvalidAgent,
		}
	}
	return factory(), nil
}

// DefaultAgents builds the default agents enabled in cfg, resolver first.
func DefaultAgents(cfg AgentsConfig) []Agent {
	var agents []Agent
	if cfg.Resolver {
		agents = append(agents, NewResolverTrackerAgent())
	}
	if cfg.Variable {
		agents = append(agents, NewVariableTrackerAgent())
	}
	return agents
}
