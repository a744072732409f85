// Package agenttrack re-exports the agent tracking registry from core.
// Most users only need this package:
//   - github.com/itsneelabh/agenttrack/core - Registry, agents, host runner, Redis mirror
//   - github.com/itsneelabh/agenttrack/telemetry - OpenTelemetry provider
package agenttrack

import (
	"context"

	"github.com/itsneelabh/agenttrack/core"
)

// Re-export core types
type (
	// Agent types
	Agent         = core.Agent
	KeyedAgent    = core.KeyedAgent
	FallibleAgent = core.FallibleAgent
	BaseAgent     = core.BaseAgent
	TrackerState  = core.TrackerState

	// Registry types
	Registry       = core.Registry
	RegistryOption = core.RegistryOption
	AgentInfo      = core.AgentInfo
	Stats          = core.Stats
	Observer       = core.Observer
	ObserverFunc   = core.ObserverFunc
	Transition     = core.Transition

	// Errors
	TrackerError   = core.TrackerError
	LifecycleError = core.LifecycleError
	AgentFailure   = core.AgentFailure

	// Configuration types
	Config          = core.Config
	Option          = core.Option
	AgentsConfig    = core.AgentsConfig
	MirrorConfig    = core.MirrorConfig
	TelemetryConfig = core.TelemetryConfig
	LoggingConfig   = core.LoggingConfig

	// Host
	Host        = core.Host
	HostOption  = core.HostOption
	RedisMirror = core.RedisMirror

	// Interfaces
	Logger    = core.Logger
	Telemetry = core.Telemetry
	Span      = core.Span
)

// Re-export constants
const (
	StateUnregistered = core.StateUnregistered
	StateRegistered   = core.StateRegistered

	Version = core.Version
)

// Re-export sentinel errors
var (
	ErrInvalidAgent          = core.ErrInvalidAgent
	ErrAgentHookFailed       = core.ErrAgentHookFailed
	ErrAgentPanicked         = core.ErrAgentPanicked
	ErrRegistryClosed        = core.ErrRegistryClosed
	ErrReloadPartialFailure  = core.ErrReloadPartialFailure
	ErrEnablePartialFailure  = core.ErrEnablePartialFailure
	ErrDisablePartialFailure = core.ErrDisablePartialFailure
)

// Re-export core functions
var (
	NewRegistry   = core.NewRegistry
	NewBaseAgent  = core.NewBaseAgent
	NewHost       = core.NewHost
	NewConfig     = core.NewConfig
	DefaultConfig = core.DefaultConfig
	DefaultAgent  = core.DefaultAgent
	DefaultAgents = core.DefaultAgents

	WithRegistryLogger    = core.WithRegistryLogger
	WithRegistryTelemetry = core.WithRegistryTelemetry
	WithObserver          = core.WithObserver

	WithHostConfig    = core.WithHostConfig
	WithHostLogger    = core.WithHostLogger
	WithHostTelemetry = core.WithHostTelemetry
	WithHostAgents    = core.WithHostAgents
)

// Run builds a host from opts and runs it until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(ctx context.Context, opts ...HostOption) error {
	host, err := core.NewHost(opts...)
	if err != nil {
		return err
	}
	return host.Run(ctx)
}
