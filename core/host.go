package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Host runs a Registry against process lifecycle events. It enables the
// registry on Run, reloads it on SIGHUP and tears it down on SIGINT, SIGTERM
// or context cancellation.
type Host struct {
	config    *Config
	logger    Logger
	telemetry Telemetry
	registry  *Registry
	mirror    *RedisMirror
	agents    []Agent

	signals         <-chan os.Signal
	shutdownTimeout time.Duration
	shutdownHooks   []func(context.Context) error
}

// HostOption configures a Host
type HostOption func(*Host) error

// WithHostConfig sets the host configuration; defaults to DefaultConfig()
func WithHostConfig(cfg *Config) HostOption {
	return func(h *Host) error {
		if cfg == nil {
			return &TrackerError{Op: "WithHostConfig", Kind: "config", Message: "config is nil", Err: ErrMissingConfiguration}
		}
		h.config = cfg
		return nil
	}
}

// WithHostLogger sets the host logger; defaults to a ProductionLogger built from the config
func WithHostLogger(logger Logger) HostOption {
	return func(h *Host) error {
		h.logger = logger
		return nil
	}
}

// WithHostTelemetry sets the telemetry used by the registry
func WithHostTelemetry(telemetry Telemetry) HostOption {
	return func(h *Host) error {
		h.telemetry = telemetry
		return nil
	}
}

// WithHostAgents enrolls agents in addition to the configured default agents
func WithHostAgents(agents ...Agent) HostOption {
	return func(h *Host) error {
		h.agents = append(h.agents, agents...)
		return nil
	}
}

// WithHostMirror uses an existing mirror instead of connecting from config.
// A mirror created without a source follows the host's registry.
func WithHostMirror(mirror *RedisMirror) HostOption {
	return func(h *Host) error {
		h.mirror = mirror
		return nil
	}
}

// WithShutdownHook runs fn after the registry is closed, e.g. to flush telemetry
func WithShutdownHook(fn func(context.Context) error) HostOption {
	return func(h *Host) error {
		if fn != nil {
			h.shutdownHooks = append(h.shutdownHooks, fn)
		}
		return nil
	}
}

// withSignals replaces os/signal delivery; used by tests
func withSignals(ch <-chan os.Signal) HostOption {
	return func(h *Host) error {
		h.signals = ch
		return nil
	}
}

// NewHost builds the registry, enrolls the default and extra agents and,
// when enabled, attaches the Redis mirror.
func NewHost(opts ...HostOption) (*Host, error) {
	h := &Host{shutdownTimeout: 10 * time.Second}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("failed to apply host option: %w", err)
		}
	}

	if h.config == nil {
		h.config = DefaultConfig()
	}
	if err := h.config.Validate(); err != nil {
		return nil, err
	}
	if h.logger == nil {
		h.logger = NewProductionLogger(h.config.Logging, h.config.Development, h.config.Name)
	}
	if h.telemetry == nil {
		h.telemetry = &NoOpTelemetry{}
	}

	h.registry = NewRegistry(
		WithRegistryLogger(h.logger),
		WithRegistryTelemetry(h.telemetry),
	)

	agents := append(DefaultAgents(h.config.Agents), h.agents...)
	if err := h.registry.Add(agents...); err != nil {
		return nil, fmt.Errorf("failed to enroll agents: %w", err)
	}

	if h.mirror == nil && h.config.Mirror.Enabled {
		mirror, err := NewRedisMirror(h.config.Mirror.RedisURL, h.config.Mirror.Namespace, h.registry)
		if err != nil {
			return nil, err
		}
		h.mirror = mirror
	}
	if h.mirror != nil {
		if h.mirror.source == nil {
			h.mirror.source = h.registry
		}
		h.mirror.SetLogger(h.logger)
		if h.config.Mirror.TTL > 0 {
			h.mirror.SetTTL(h.config.Mirror.TTL)
		}
		h.registry.AddObserver(h.mirror)
		// The final sync runs after every agent is unregistered
		if err := h.registry.CloseOnDisable(h.mirror); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// Registry returns the host's registry
func (h *Host) Registry() *Registry {
	return h.registry
}

// Mirror returns the host's mirror, or nil when mirroring is off
func (h *Host) Mirror() *RedisMirror {
	return h.mirror
}

// Config returns the host configuration
func (h *Host) Config() *Config {
	return h.config
}

// Run enables the registry and blocks until shutdown. Partial enable and
// reload failures are logged and do not stop the host.
func (h *Host) Run(ctx context.Context) error {
	signals := h.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	if h.mirror != nil {
		h.mirror.Start(ctx)
	}

	if err := h.registry.OnEnable(ctx); err != nil {
		if !IsLifecycleError(err) {
			return errors.Join(err, h.shutdown())
		}
		h.logger.Warn("Host enabled with failing agents", map[string]interface{}{
			"error": err.Error(),
		})
	}

	h.logger.Info("Agent tracker host started", map[string]interface{}{
		"name":    h.config.Name,
		"active":  h.registry.Len(),
		"mirror":  h.mirror != nil,
		"version": Version,
	})

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Context cancelled, shutting down", nil)
			return h.shutdown()
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				h.reload(ctx)
				continue
			}
			h.logger.Info("Received signal, shutting down", map[string]interface{}{
				"signal": sig.String(),
			})
			return h.shutdown()
		}
	}
}

func (h *Host) reload(ctx context.Context) {
	if err := h.registry.OnHostReload(ctx); err != nil {
		h.logger.Warn("Reload completed with failing agents", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	h.logger.Info("Reload completed", map[string]interface{}{
		"active": h.registry.Len(),
	})
}

func (h *Host) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := h.registry.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	// Normally closed by the registry on disable; Close is idempotent
	if h.mirror != nil {
		if err := h.mirror.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, hook := range h.shutdownHooks {
		if err := hook(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		h.logger.Error("Host stopped with errors", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	h.logger.Info("Agent tracker host stopped", nil)
	return nil
}
