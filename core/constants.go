package core

// Version information for the agent tracker
const (
	// Version is the current release
	Version = "development"

	// GitCommit is set during build time
	GitCommit = "unknown"
)

// Environment Variables
const (
	EnvConfigFile = "AGENTTRACK_CONFIG" // Path to a JSON or YAML config file
	EnvRedisURL   = "REDIS_URL"         // Redis connection URL for the mirror
)

// Mirror defaults
const (
	// DefaultMirrorNamespace prefixes every mirrored key
	// Example: agenttrack:agents:active
	DefaultMirrorNamespace = "agenttrack"
)
