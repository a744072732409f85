package core

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"reflect"
	"sync"
	"time"
)

// Metric names recorded by the registry
const (
	MetricRegistrations     = "agenttrack.registry.registrations"
	MetricUnregistrations   = "agenttrack.registry.unregistrations"
	MetricDuplicatesIgnored = "agenttrack.registry.duplicates_ignored"
	MetricUnknownIgnored    = "agenttrack.registry.unknown_ignored"
	MetricHookFailures      = "agenttrack.registry.hook_failures"
	MetricReloads           = "agenttrack.registry.reloads"
)

// Registry is the single source of truth for which agents are active.
// All methods are safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	// active is kept in registration order
	active []*trackedEntry
	index  map[interface{}]*trackedEntry

	known      []identity
	knownIndex map[interface{}]struct{}

	enabled    bool
	closed     bool
	generation string

	closers   []io.Closer
	observers []Observer

	logger    Logger
	telemetry Telemetry
	stats     Stats
	now       func() time.Time
}

// Stats reports registry counters. Ignored duplicates and unknown
// unregistrations are recorded here rather than surfaced as errors.
type Stats struct {
	Active     int
	Known      int
	Enabled    bool
	Closed     bool
	Generation string

	Registrations     uint64
	Unregistrations   uint64
	DuplicatesIgnored uint64
	UnknownIgnored    uint64
	HookFailures      uint64
	Reloads           uint64
}

// AgentInfo is the read model of one active agent
type AgentInfo struct {
	Key          string    `json:"key"`
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name,omitempty"`
	Type         string    `json:"type"`
	Position     int       `json:"position"`
	RegisteredAt time.Time `json:"registered_at"`
	Degraded     bool      `json:"degraded"`
	LastError    string    `json:"last_error,omitempty"`
	Agent        Agent     `json:"-"`
}

// identity is what the registry needs to know about an agent
type identity struct {
	key   interface{}
	label string
	id    string
	name  string
	typ   string
	agent Agent
}

type trackedEntry struct {
	identity
	registeredAt time.Time
	degraded     bool
	lastErr      error
}

// stringKey keeps keyed agents from colliding with agents whose dynamic type is string
type stringKey string

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used by the registry
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = createComponentLogger(logger, "framework/registry")
		}
	}
}

// WithRegistryTelemetry sets the telemetry used for lifecycle spans and counters
func WithRegistryTelemetry(telemetry Telemetry) RegistryOption {
	return func(r *Registry) {
		if telemetry != nil {
			r.telemetry = telemetry
		}
	}
}

// WithObserver adds a membership observer
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// withClock overrides time.Now; used by tests
func withClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty, disabled registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		index:      make(map[interface{}]*trackedEntry),
		knownIndex: make(map[interface{}]struct{}),
		logger:     &NoOpLogger{},
		telemetry:  &NoOpTelemetry{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds agent to the active set and calls its RegisterTracker hook.
// Registering an active agent is a recorded no-op. If the hook fails the agent
// is not added and the error is returned.
func (r *Registry) Register(agent Agent) error {
	id, err := identify(agent)
	if err != nil {
		return &TrackerError{Op: "Registry.Register", Kind: "agent", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &TrackerError{Op: "Registry.Register", Kind: "registry", ID: id.label, Err: ErrRegistryClosed}
	}
	r.enrollLocked(id)
	return r.registerLocked("Registry.Register", id)
}

// Unregister removes agent from the active set and calls its UnregisterTracker
// hook. Unregistering an inactive or unknown agent is a recorded no-op. If the
// hook fails the agent stays active, is marked degraded, and the error is returned.
func (r *Registry) Unregister(agent Agent) error {
	id, err := identify(agent)
	if err != nil {
		return &TrackerError{Op: "Registry.Unregister", Kind: "agent", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &TrackerError{Op: "Registry.Unregister", Kind: "registry", ID: id.label, Err: ErrRegistryClosed}
	}
	return r.unregisterLocked("Registry.Unregister", id.key, false)
}

// Add enrolls agents as known so OnEnable registers them. While the registry
// is enabled they are registered immediately.
func (r *Registry) Add(agents ...Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &TrackerError{Op: "Registry.Add", Kind: "registry", Err: ErrRegistryClosed}
	}

	var errs []error
	for _, agent := range agents {
		id, err := identify(agent)
		if err != nil {
			errs = append(errs, &TrackerError{Op: "Registry.Add", Kind: "agent", Err: err})
			continue
		}
		r.enrollLocked(id)
		if r.enabled {
			if err := r.registerLocked("Registry.Add", id); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Remove unregisters agent and forgets it, so later OnEnable calls skip it.
// If the unregister hook fails the agent stays active and known.
func (r *Registry) Remove(agent Agent) error {
	id, err := identify(agent)
	if err != nil {
		return &TrackerError{Op: "Registry.Remove", Kind: "agent", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &TrackerError{Op: "Registry.Remove", Kind: "registry", ID: id.label, Err: ErrRegistryClosed}
	}
	if err := r.unregisterLocked("Registry.Remove", id.key, false); err != nil {
		return err
	}
	r.forgetLocked(id.key)
	return nil
}

// Active returns a copy of the active agents in registration order.
// The slice is owned by the caller and never reflects later mutations.
func (r *Registry) Active() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	agents := make([]Agent, len(r.active))
	for i, e := range r.active {
		agents[i] = e.agent
	}
	return agents
}

// Sequence snapshots the active set and returns a sequence over that copy.
// Ranging over it more than once yields the same agents.
func (r *Registry) Sequence() iter.Seq[Agent] {
	snapshot := r.Active()
	return func(yield func(Agent) bool) {
		for _, a := range snapshot {
			if !yield(a) {
				return
			}
		}
	}
}

// IsActive reports whether agent is in the active set
func (r *Registry) IsActive(agent Agent) bool {
	id, err := identify(agent)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[id.key]
	return ok
}

// Lookup finds an active keyed agent by its tracker key
func (r *Registry) Lookup(key string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.index[stringKey(key)]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// Len returns the number of active agents
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Known returns every enrolled agent in enrollment order
func (r *Registry) Known() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	agents := make([]Agent, len(r.known))
	for i, id := range r.known {
		agents[i] = id.agent
	}
	return agents
}

// Entries returns the read model of the active set in registration order
func (r *Registry) Entries() []AgentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]AgentInfo, len(r.active))
	for i, e := range r.active {
		info := AgentInfo{
			Key:          e.label,
			ID:           e.id,
			Name:         e.name,
			Type:         e.typ,
			Position:     i,
			RegisteredAt: e.registeredAt,
			Degraded:     e.degraded,
			Agent:        e.agent,
		}
		if e.lastErr != nil {
			info.LastError = e.lastErr.Error()
		}
		infos[i] = info
	}
	return infos
}

// Degraded returns active agents whose last hook call failed
func (r *Registry) Degraded() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var agents []Agent
	for _, e := range r.active {
		if e.degraded {
			agents = append(agents, e.agent)
		}
	}
	return agents
}

// Enabled reports whether the host has enabled the registry
func (r *Registry) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Stats returns a copy of the registry counters
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.Active = len(r.active)
	s.Known = len(r.known)
	s.Enabled = r.enabled
	s.Closed = r.closed
	s.Generation = r.generation
	return s
}

// AddObserver subscribes o to membership transitions
func (r *Registry) AddObserver(o Observer) {
	if o == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// CloseOnDisable registers c to be closed once, after the next OnDisable has
// unregistered every agent. Close errors are logged, never returned.
func (r *Registry) CloseOnDisable(c io.Closer) error {
	if c == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &TrackerError{Op: "Registry.CloseOnDisable", Kind: "registry", Err: ErrRegistryClosed}
	}
	r.closers = append(r.closers, c)
	return nil
}

// registerLocked performs one Unregistered -> Registered transition. Caller holds r.mu.
func (r *Registry) registerLocked(op string, id identity) error {
	if _, ok := r.index[id.key]; ok {
		r.stats.DuplicatesIgnored++
		r.telemetry.RecordMetric(MetricDuplicatesIgnored, 1, nil)
		r.logger.Debug("Duplicate registration ignored", map[string]interface{}{
			"agent": id.label,
			"op":    op,
		})
		return nil
	}

	if err := callHook(op, id, true); err != nil {
		r.recordHookFailureLocked(op, id.label, "register", err)
		return err
	}

	e := &trackedEntry{identity: id, registeredAt: r.now()}
	r.active = append(r.active, e)
	r.index[id.key] = e
	r.stats.Registrations++
	r.telemetry.RecordMetric(MetricRegistrations, 1, nil)
	r.logger.Debug("Agent registered", map[string]interface{}{
		"agent":    id.label,
		"type":     id.typ,
		"position": len(r.active) - 1,
	})
	r.notifyLocked(TransitionRegistered, id.label, id.agent)
	return nil
}

// unregisterLocked performs one Registered -> Unregistered transition. With
// force the entry is dropped even if the hook fails. Caller holds r.mu.
func (r *Registry) unregisterLocked(op string, key interface{}, force bool) error {
	e, ok := r.index[key]
	if !ok {
		r.stats.UnknownIgnored++
		r.telemetry.RecordMetric(MetricUnknownIgnored, 1, nil)
		r.logger.Debug("Unregister of inactive agent ignored", map[string]interface{}{
			"op": op,
		})
		return nil
	}

	err := callHook(op, e.identity, false)
	if err != nil {
		r.recordHookFailureLocked(op, e.label, "unregister", err)
		e.degraded = true
		e.lastErr = err
		if !force {
			return err
		}
	}

	r.removeLocked(e)
	r.stats.Unregistrations++
	r.telemetry.RecordMetric(MetricUnregistrations, 1, nil)
	r.logger.Debug("Agent unregistered", map[string]interface{}{
		"agent": e.label,
		"type":  e.typ,
	})
	r.notifyLocked(TransitionUnregistered, e.label, e.agent)
	return err
}

func (r *Registry) removeLocked(e *trackedEntry) {
	for i, cur := range r.active {
		if cur == e {
			r.active = append(r.active[:i], r.active[i+1:]...)
			break
		}
	}
	delete(r.index, e.key)
}

func (r *Registry) enrollLocked(id identity) {
	if _, ok := r.knownIndex[id.key]; ok {
		return
	}
	r.known = append(r.known, id)
	r.knownIndex[id.key] = struct{}{}
}

func (r *Registry) forgetLocked(key interface{}) {
	if _, ok := r.knownIndex[key]; !ok {
		return
	}
	for i, id := range r.known {
		if id.key == key {
			r.known = append(r.known[:i], r.known[i+1:]...)
			break
		}
	}
	delete(r.knownIndex, key)
}

func (r *Registry) recordHookFailureLocked(op, label, phase string, err error) {
	r.stats.HookFailures++
	r.telemetry.RecordMetric(MetricHookFailures, 1, map[string]string{"phase": phase})
	r.logger.Warn("Agent tracker hook failed", map[string]interface{}{
		"agent":      label,
		"op":         op,
		"phase":      phase,
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})
}

func (r *Registry) notifyLocked(kind TransitionKind, label string, agent Agent) {
	if len(r.observers) == 0 {
		return
	}
	t := Transition{
		Kind:       kind,
		Key:        label,
		Agent:      agent,
		Generation: r.generation,
		At:         r.now(),
	}
	for _, o := range r.observers {
		r.safeObserve(o, t)
	}
}

func (r *Registry) safeObserve(o Observer, t Transition) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Observer panicked", map[string]interface{}{
				"observer":   fmt.Sprintf("%T", o),
				"transition": string(t.Kind),
				"panic":      fmt.Sprint(rec),
			})
		}
	}()
	o.ObserveTransition(t)
}

// identify validates agent and derives its registry key
func identify(agent Agent) (id identity, err error) {
	if agent == nil {
		return identity{}, fmt.Errorf("%w: nil agent", ErrInvalidAgent)
	}

	v := reflect.ValueOf(agent)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		if v.IsNil() {
			return identity{}, fmt.Errorf("%w: nil %T", ErrInvalidAgent, agent)
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			id = identity{}
			err = fmt.Errorf("%w: %T panicked while being identified: %v", ErrInvalidAgent, agent, rec)
		}
	}()

	id = identity{agent: agent, typ: fmt.Sprintf("%T", agent)}
	if named, ok := agent.(interface{ GetID() string }); ok {
		id.id = named.GetID()
	}
	if named, ok := agent.(interface{ GetName() string }); ok {
		id.name = named.GetName()
	}

	if keyed, ok := agent.(KeyedAgent); ok {
		key := keyed.TrackerKey()
		if key == "" {
			return identity{}, fmt.Errorf("%w: %T has an empty tracker key", ErrInvalidAgent, agent)
		}
		id.key = stringKey(key)
		id.label = key
		return id, nil
	}

	// Value.Comparable also catches interface fields holding slices or maps
	if !v.Comparable() {
		return identity{}, fmt.Errorf("%w: %T is not comparable and has no tracker key", ErrInvalidAgent, agent)
	}
	id.key = agent
	if v.Kind() == reflect.Pointer {
		id.label = fmt.Sprintf("%T@%p", agent, agent)
	} else {
		id.label = fmt.Sprintf("%T(%v)", agent, agent)
	}
	return id, nil
}

// callHook runs one tracker hook, converting failures and panics into errors
func callHook(op string, id identity, register bool) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &TrackerError{
				Op:   op,
				Kind: "agent",
				ID:   id.label,
				Err:  fmt.Errorf("%w: %v", ErrAgentPanicked, rec),
			}
		}
	}()

	if fallible, ok := id.agent.(FallibleAgent); ok {
		var hookErr error
		if register {
			_, hookErr = fallible.TryRegisterTracker()
		} else {
			_, hookErr = fallible.TryUnregisterTracker()
		}
		if hookErr != nil {
			return &TrackerError{
				Op:   op,
				Kind: "agent",
				ID:   id.label,
				Err:  fmt.Errorf("%w: %w", ErrAgentHookFailed, hookErr),
			}
		}
		return nil
	}

	if register {
		id.agent.RegisterTracker()
	} else {
		id.agent.UnregisterTracker()
	}
	return nil
}
