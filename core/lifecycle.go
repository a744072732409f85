package core

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// OnEnable registers every known agent in enrollment order and marks the
// registry enabled. It may be called again after OnDisable. Agents whose hook
// fails are left unregistered and reported in a *LifecycleError; the pass
// always completes.
func (r *Registry) OnEnable(ctx context.Context) error {
	_, span := r.telemetry.StartSpan(ctx, "agenttrack.OnEnable")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		err := &TrackerError{Op: "Registry.OnEnable", Kind: "registry", Err: ErrRegistryClosed}
		span.RecordError(err)
		return err
	}

	r.enabled = true
	r.generation = uuid.New().String()

	var failures []AgentFailure
	for _, id := range r.known {
		if err := r.registerLocked("Registry.OnEnable", id); err != nil {
			failures = append(failures, AgentFailure{Key: id.label, Agent: id.agent, Phase: "register", Err: err})
		}
	}

	span.SetAttribute("agenttrack.generation", r.generation)
	span.SetAttribute("agenttrack.active", len(r.active))
	span.SetAttribute("agenttrack.failures", len(failures))

	r.logger.Info("Registry enabled", map[string]interface{}{
		"generation": r.generation,
		"known":      len(r.known),
		"active":     len(r.active),
		"failures":   len(failures),
	})

	if len(failures) > 0 {
		err := newLifecycleError("Registry.OnEnable", ErrEnablePartialFailure, failures)
		span.RecordError(err)
		return err
	}
	return nil
}

// OnDisable unregisters every active agent, most recently registered first,
// then closes the closers queued with CloseOnDisable. Calling it again with
// nothing active is a no-op. Agents whose unregister hook fails stay active
// and degraded.
func (r *Registry) OnDisable(ctx context.Context) error {
	_, span := r.telemetry.StartSpan(ctx, "agenttrack.OnDisable")
	defer span.End()

	failures, closers, skipped := r.disable("Registry.OnDisable", false)
	if skipped {
		return nil
	}
	r.runClosers(closers)

	span.SetAttribute("agenttrack.failures", len(failures))
	if len(failures) > 0 {
		err := newLifecycleError("Registry.OnDisable", ErrDisablePartialFailure, failures)
		span.RecordError(err)
		return err
	}
	return nil
}

// OnHostReload unregisters and then re-registers every active agent inside a
// single critical section, so no half-reloaded state is observable.
// Membership and order are unchanged afterwards. Agents whose hooks fail stay
// in the active set as intended-active and degraded; the failures are
// returned as a *LifecycleError wrapping ErrReloadPartialFailure.
func (r *Registry) OnHostReload(ctx context.Context) error {
	_, span := r.telemetry.StartSpan(ctx, "agenttrack.OnHostReload")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		err := &TrackerError{Op: "Registry.OnHostReload", Kind: "registry", Err: ErrRegistryClosed}
		span.RecordError(err)
		return err
	}

	r.generation = uuid.New().String()
	entries := append([]*trackedEntry(nil), r.active...)

	var failures []AgentFailure
	unregisterFailed := make(map[*trackedEntry]bool)

	for _, e := range entries {
		if err := callHook("Registry.OnHostReload", e.identity, false); err != nil {
			r.recordHookFailureLocked("Registry.OnHostReload", e.label, "unregister", err)
			failures = append(failures, AgentFailure{Key: e.label, Agent: e.agent, Phase: "unregister", Err: err})
			unregisterFailed[e] = true
			e.degraded = true
			e.lastErr = err
			continue
		}
		r.stats.Unregistrations++
		r.telemetry.RecordMetric(MetricUnregistrations, 1, nil)
		r.notifyLocked(TransitionUnregistered, e.label, e.agent)
	}

	for _, e := range entries {
		if err := callHook("Registry.OnHostReload", e.identity, true); err != nil {
			r.recordHookFailureLocked("Registry.OnHostReload", e.label, "register", err)
			failures = append(failures, AgentFailure{Key: e.label, Agent: e.agent, Phase: "register", Err: err})
			e.degraded = true
			e.lastErr = err
			continue
		}
		r.stats.Registrations++
		r.telemetry.RecordMetric(MetricRegistrations, 1, nil)
		e.registeredAt = r.now()
		if !unregisterFailed[e] {
			e.degraded = false
			e.lastErr = nil
		}
		r.notifyLocked(TransitionRegistered, e.label, e.agent)
	}

	r.stats.Reloads++
	r.telemetry.RecordMetric(MetricReloads, 1, nil)
	r.notifyLocked(TransitionReloaded, "", nil)

	span.SetAttribute("agenttrack.generation", r.generation)
	span.SetAttribute("agenttrack.active", len(r.active))
	span.SetAttribute("agenttrack.failures", len(failures))

	if len(failures) > 0 {
		err := newLifecycleError("Registry.OnHostReload", ErrReloadPartialFailure, failures)
		for _, f := range failures {
			r.logger.Warn("Agent kept active after failed reload", map[string]interface{}{
				"agent":      f.Key,
				"phase":      f.Phase,
				"generation": r.generation,
				"error":      f.Err.Error(),
			})
		}
		span.RecordError(err)
		return err
	}

	r.logger.Info("Registry reloaded", map[string]interface{}{
		"generation": r.generation,
		"active":     len(r.active),
	})
	return nil
}

// Close performs a final disable that drops every agent even if its hook
// fails, runs pending closers, and makes the registry terminal. Later calls
// return ErrRegistryClosed from mutating methods; Close itself is idempotent.
func (r *Registry) Close(ctx context.Context) error {
	_, span := r.telemetry.StartSpan(ctx, "agenttrack.Close")
	defer span.End()

	failures, closers, skipped := r.disable("Registry.Close", true)
	if skipped {
		return nil
	}
	r.runClosers(closers)

	if len(failures) > 0 {
		err := newLifecycleError("Registry.Close", ErrDisablePartialFailure, failures)
		span.RecordError(err)
		return err
	}
	return nil
}

// disable runs the unregister pass under the lock and hands back the closers
// so they run after the lock is released.
func (r *Registry) disable(op string, teardown bool) (failures []AgentFailure, closers []io.Closer, skipped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, true
	}
	if !teardown && !r.enabled && len(r.active) == 0 && len(r.closers) == 0 {
		r.logger.Debug("Registry already disabled", nil)
		return nil, nil, true
	}

	entries := append([]*trackedEntry(nil), r.active...)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := r.unregisterLocked(op, e.key, teardown); err != nil {
			failures = append(failures, AgentFailure{Key: e.label, Agent: e.agent, Phase: "unregister", Err: err})
		}
	}

	r.enabled = false
	closers = r.closers
	r.closers = nil

	if teardown {
		r.closed = true
		r.known = nil
		r.knownIndex = make(map[interface{}]struct{})
		r.observers = nil
	}

	r.logger.Info("Registry disabled", map[string]interface{}{
		"op":        op,
		"remaining": len(r.active),
		"failures":  len(failures),
		"closers":   len(closers),
		"teardown":  teardown,
	})
	return failures, closers, false
}

func (r *Registry) runClosers(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			r.logger.Warn("Error while closing on disable", map[string]interface{}{
				"closer":     fmt.Sprintf("%T", c),
				"error":      err.Error(),
				"error_type": fmt.Sprintf("%T", err),
			})
		}
	}
}
