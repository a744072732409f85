package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAddsExactlyOnce(t *testing.T) {
	r := NewRegistry()
	a := newTestAgent("a", nil)

	require.NoError(t, r.Register(a))

	active := r.Active()
	require.Len(t, active, 1)
	assert.Same(t, a, active[0])
	assert.True(t, r.IsActive(a))
	assert.True(t, a.isRegistered())

	registers, _ := a.counts()
	assert.Equal(t, 1, registers)
}

func TestRegisterIsIdempotent(t *testing.T) {
	logger := &MockLogger{}
	tel := newRecordingTelemetry()
	r := NewRegistry(WithRegistryLogger(logger), WithRegistryTelemetry(tel))
	a := newTestAgent("a", nil)

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(a))

	assert.Equal(t, 1, r.Len())
	registers, _ := a.counts()
	assert.Equal(t, 1, registers, "hook must not run on a duplicate registration")

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Registrations)
	assert.Equal(t, uint64(2), stats.DuplicatesIgnored)
	assert.Equal(t, float64(2), tel.metric(MetricDuplicatesIgnored))
	assert.Len(t, logger.byMessage("Duplicate registration ignored"), 2)
}

func TestUnregisterUnknownIsNoOp(t *testing.T) {
	r := NewRegistry()
	a := newTestAgent("a", nil)
	b := newTestAgent("b", nil)
	require.NoError(t, r.Register(a))

	before := r.Active()
	require.NoError(t, r.Unregister(b))

	assert.Equal(t, before, r.Active())
	_, unregisters := b.counts()
	assert.Zero(t, unregisters, "hook must not run for an agent that is not active")
	assert.Equal(t, uint64(1), r.Stats().UnknownIgnored)

	// Unregistering twice is also a no-op the second time
	require.NoError(t, r.Unregister(a))
	require.NoError(t, r.Unregister(a))
	_, unregisters = a.counts()
	assert.Equal(t, 1, unregisters)
	assert.Equal(t, uint64(2), r.Stats().UnknownIgnored)
}

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	r := NewRegistry()
	a := newTestAgent("a", nil)
	b := newTestAgent("b", nil)
	require.NoError(t, r.Register(a))

	before := r.Active()
	require.NoError(t, r.Register(b))
	require.NoError(t, r.Unregister(b))

	assert.Equal(t, before, r.Active())
	assert.False(t, b.isRegistered())
}

func TestActiveOrderAndMoveToEnd(t *testing.T) {
	r := NewRegistry()
	a := newTestAgent("a", nil)
	b := newTestAgent("b", nil)
	c := newTestAgent("c", nil)

	for _, agent := range []Agent{a, b, c} {
		require.NoError(t, r.Register(agent))
	}
	assert.Equal(t, []Agent{a, b, c}, r.Active())

	// Re-registering after an unregister appends at the end
	require.NoError(t, r.Unregister(a))
	require.NoError(t, r.Register(a))
	assert.Equal(t, []Agent{b, c, a}, r.Active())

	// A duplicate registration does not move the agent
	require.NoError(t, r.Register(b))
	assert.Equal(t, []Agent{b, c, a}, r.Active())

	entries := r.Entries()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i, e.Position)
	}
	assert.Equal(t, "c", entries[1].Agent.(*testAgent).name)
}

func TestActiveReturnsIndependentSnapshot(t *testing.T) {
	r := NewRegistry()
	a := newTestAgent("a", nil)
	b := newTestAgent("b", nil)
	require.NoError(t, r.Register(a))

	snapshot := r.Active()

	require.NoError(t, r.Register(b))
	require.NoError(t, r.Unregister(a))

	assert.Equal(t, []Agent{a}, snapshot, "snapshot must not follow later mutations")
	assert.Equal(t, []Agent{b}, r.Active())

	fresh := r.Active()
	fresh[0] = a
	assert.Equal(t, []Agent{b}, r.Active(), "callers must not be able to mutate the registry through a snapshot")
}

func TestSequence(t *testing.T) {
	r := NewRegistry()
	a := newTestAgent("a", nil)
	b := newTestAgent("b", nil)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	seq := r.Sequence()
	require.NoError(t, r.Unregister(a))

	var first, second []Agent
	for agent := range seq {
		first = append(first, agent)
	}
	for agent := range seq {
		second = append(second, agent)
	}
	assert.Equal(t, []Agent{a, b}, first)
	assert.Equal(t, first, second, "a sequence can be ranged over more than once")

	var stopped []Agent
	for agent := range r.Sequence() {
		stopped = append(stopped, agent)
		break
	}
	assert.Equal(t, []Agent{b}, stopped)
}

func TestRegisterRejectsInvalidAgents(t *testing.T) {
	var typedNil *testAgent

	tests := []struct {
		name  string
		agent Agent
	}{
		{name: "nil interface", agent: nil},
		{name: "typed nil pointer", agent: typedNil},
		{name: "typed nil slice", agent: sliceAgent(nil)},
		{name: "not comparable", agent: sliceAgent{"x"}},
		{name: "holds an uncomparable value", agent: taggedAgent{Tag: []int{1}}},
		{name: "nested uncomparable value", agent: taggedAgent{Tag: taggedAgent{Tag: map[string]int{}}}},
		{name: "empty tracker key", agent: &keyedTestAgent{testAgent: newTestAgent("k", nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()

			var err error
			require.NotPanics(t, func() { err = r.Register(tt.agent) })
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidAgent)
			assert.True(t, IsAgentError(err))
			assert.Zero(t, r.Len())

			assert.ErrorIs(t, r.Unregister(tt.agent), ErrInvalidAgent)
			assert.ErrorIs(t, r.Add(tt.agent), ErrInvalidAgent)
			assert.ErrorIs(t, r.Remove(tt.agent), ErrInvalidAgent)
			assert.False(t, r.IsActive(tt.agent))
			assert.Empty(t, r.Known())
		})
	}

	t.Run("comparable tag is accepted", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(taggedAgent{Tag: 1}))
		assert.True(t, r.IsActive(taggedAgent{Tag: 1}))
	})
}

func TestAgentIdentity(t *testing.T) {
	t.Run("keyed agents share identity by key", func(t *testing.T) {
		r := NewRegistry()
		first := &keyedTestAgent{testAgent: newTestAgent("first", nil), key: "resolver"}
		second := &keyedTestAgent{testAgent: newTestAgent("second", nil), key: "resolver"}

		require.NoError(t, r.Register(first))
		require.NoError(t, r.Register(second))

		assert.Equal(t, []Agent{first}, r.Active())
		assert.True(t, r.IsActive(second))
		registers, _ := second.counts()
		assert.Zero(t, registers)

		found, ok := r.Lookup("resolver")
		require.True(t, ok)
		assert.Same(t, first, found)

		// Unregistering through the other value removes the registered one
		require.NoError(t, r.Unregister(second))
		assert.Zero(t, r.Len())
		_, unregisters := first.counts()
		assert.Equal(t, 1, unregisters)
	})

	t.Run("distinct pointers are distinct agents", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newTestAgent("same", nil)))
		require.NoError(t, r.Register(newTestAgent("same", nil)))
		assert.Equal(t, 2, r.Len())
	})

	t.Run("equal values are the same agent", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(valueAgent{name: "v"}))
		require.NoError(t, r.Register(valueAgent{name: "v"}))
		require.NoError(t, r.Register(valueAgent{name: "w"}))
		assert.Equal(t, 2, r.Len())
		assert.Equal(t, uint64(1), r.Stats().DuplicatesIgnored)
	})

	t.Run("key namespace does not collide with values", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(&keyedTestAgent{testAgent: newTestAgent("k", nil), key: "v"}))
		require.NoError(t, r.Register(valueAgent{name: "v"}))
		assert.Equal(t, 2, r.Len())
	})

	t.Run("lookup misses unkeyed and inactive agents", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newTestAgent("plain", nil)))
		_, ok := r.Lookup("plain")
		assert.False(t, ok)
	})

	t.Run("base agents are keyed by ID", func(t *testing.T) {
		r := NewRegistry()
		resolver := NewResolverTrackerAgent()
		require.NoError(t, r.Register(resolver))

		found, ok := r.Lookup(resolver.GetID())
		require.True(t, ok)
		assert.Same(t, resolver, found)

		entries := r.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, resolver.GetID(), entries[0].Key)
		assert.Equal(t, resolver.GetID(), entries[0].ID)
		assert.Equal(t, "resolver-tracker", entries[0].Name)
		assert.Equal(t, "*core.ResolverTrackerAgent", entries[0].Type)
		assert.Equal(t, StateRegistered, resolver.TrackerState())
	})
}

func TestRegisterHookFailure(t *testing.T) {
	t.Run("panic", func(t *testing.T) {
		logger := &MockLogger{}
		r := NewRegistry(WithRegistryLogger(logger))
		a := newTestAgent("a", nil)
		a.setPanicOn("register")

		err := r.Register(a)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAgentPanicked)
		assert.Contains(t, err.Error(), "a refuses to register")
		assert.False(t, r.IsActive(a), "an agent whose hook failed is not added")
		assert.Equal(t, uint64(1), r.Stats().HookFailures)

		warnings := logger.byMessage("Agent tracker hook failed")
		require.Len(t, warnings, 1)
		assert.Equal(t, "register", warnings[0].Fields["phase"])

		// It can be registered once it behaves
		a.setPanicOn("")
		require.NoError(t, r.Register(a))
		assert.True(t, r.IsActive(a))
	})

	t.Run("returned error", func(t *testing.T) {
		r := NewRegistry()
		f := newFallibleAgent("f", nil)
		cause := errors.New("resolver pipeline unavailable")
		f.failWith(cause, nil)

		err := r.Register(f)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAgentHookFailed)
		assert.ErrorIs(t, err, cause)
		assert.False(t, r.IsActive(f))
		assert.False(t, f.isRegistered())
	})
}

func TestUnregisterHookFailureKeepsAgentDegraded(t *testing.T) {
	r := NewRegistry()
	a := newTestAgent("a", nil)
	f := newFallibleAgent("f", nil)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(f))

	f.failWith(nil, errors.New("still tracking"))
	err := r.Unregister(f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentHookFailed)

	assert.Equal(t, []Agent{a, f}, r.Active(), "the agent is still registered")
	assert.Equal(t, []Agent{f}, r.Degraded())

	entries := r.Entries()
	assert.False(t, entries[0].Degraded)
	assert.True(t, entries[1].Degraded)
	assert.Contains(t, entries[1].LastError, "still tracking")

	// A later successful unregister removes it
	f.failWith(nil, nil)
	require.NoError(t, r.Unregister(f))
	assert.Equal(t, []Agent{a}, r.Active())
	assert.Empty(t, r.Degraded())
}

func TestAddAndRemove(t *testing.T) {
	t.Run("add while disabled only enrolls", func(t *testing.T) {
		r := NewRegistry()
		a := newTestAgent("a", nil)
		b := newTestAgent("b", nil)

		require.NoError(t, r.Add(a, b, a))
		assert.Equal(t, []Agent{a, b}, r.Known())
		assert.Zero(t, r.Len())
		assert.False(t, a.isRegistered())
	})

	t.Run("add while enabled registers immediately", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.OnEnable(context.Background()))

		a := newTestAgent("a", nil)
		require.NoError(t, r.Add(a))
		assert.True(t, r.IsActive(a))
		assert.True(t, a.isRegistered())
	})

	t.Run("add reports every invalid agent and keeps the rest", func(t *testing.T) {
		r := NewRegistry()
		a := newTestAgent("a", nil)
		bad := newTestAgent("bad", nil)
		bad.setPanicOn("register")
		require.NoError(t, r.OnEnable(context.Background()))

		err := r.Add(nil, a, bad)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidAgent)
		assert.ErrorIs(t, err, ErrAgentPanicked)
		assert.Equal(t, []Agent{a}, r.Active())
		assert.Equal(t, []Agent{a, bad}, r.Known())
	})

	t.Run("register enrolls", func(t *testing.T) {
		r := NewRegistry()
		a := newTestAgent("a", nil)
		require.NoError(t, r.Register(a))
		assert.Equal(t, []Agent{a}, r.Known())
	})

	t.Run("remove unregisters and forgets", func(t *testing.T) {
		r := NewRegistry()
		a := newTestAgent("a", nil)
		b := newTestAgent("b", nil)
		require.NoError(t, r.Add(a, b))
		require.NoError(t, r.OnEnable(context.Background()))

		require.NoError(t, r.Remove(a))
		assert.Equal(t, []Agent{b}, r.Active())
		assert.Equal(t, []Agent{b}, r.Known())
		assert.False(t, a.isRegistered())

		// Remove of an unknown agent is a no-op
		require.NoError(t, r.Remove(a))
	})

	t.Run("remove keeps the agent when its hook fails", func(t *testing.T) {
		r := NewRegistry()
		f := newFallibleAgent("f", nil)
		require.NoError(t, r.Add(f))
		require.NoError(t, r.OnEnable(context.Background()))

		f.failWith(nil, errors.New("busy"))
		require.Error(t, r.Remove(f))
		assert.Equal(t, []Agent{f}, r.Active())
		assert.Equal(t, []Agent{f}, r.Known())
	})
}

func TestObservers(t *testing.T) {
	rec := &transitionRecorder{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(WithObserver(rec), withClock(func() time.Time { return now }))
	a := newTestAgent("a", nil)

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Unregister(a))
	require.NoError(t, r.Unregister(a))

	assert.Equal(t, []TransitionKind{TransitionRegistered, TransitionUnregistered}, rec.kinds(),
		"no-ops do not notify observers")
	assert.Same(t, a, rec.transitions[0].Agent)
	assert.Equal(t, now, rec.transitions[0].At)

	t.Run("observer panics are contained", func(t *testing.T) {
		logger := &MockLogger{}
		r := NewRegistry(WithRegistryLogger(logger))
		r.AddObserver(ObserverFunc(func(Transition) { panic("observer bug") }))
		after := &transitionRecorder{}
		r.AddObserver(after)
		r.AddObserver(nil)

		require.NoError(t, r.Register(newTestAgent("a", nil)))
		assert.Equal(t, 1, r.Len())
		assert.Len(t, after.kinds(), 1)
		assert.Len(t, logger.byMessage("Observer panicked"), 1)
	})
}

func TestRegistryLoggerComponent(t *testing.T) {
	logger := NewProductionLogger(LoggingConfig{Level: "debug", Format: "json"}, DevelopmentConfig{}, "host")
	r := NewRegistry(WithRegistryLogger(logger))

	pl, ok := r.logger.(*ProductionLogger)
	require.True(t, ok)
	assert.Equal(t, "framework/registry", pl.component)

	// Nil options keep the defaults
	r = NewRegistry(WithRegistryLogger(nil), WithRegistryTelemetry(nil))
	assert.IsType(t, &NoOpLogger{}, r.logger)
	assert.IsType(t, &NoOpTelemetry{}, r.telemetry)
}

func TestRegistryMetrics(t *testing.T) {
	tel := newRecordingTelemetry()
	r := NewRegistry(WithRegistryTelemetry(tel))
	a := newTestAgent("a", nil)
	f := newFallibleAgent("f", nil)
	f.failWith(errors.New("no"), nil)

	require.NoError(t, r.Register(a))
	require.Error(t, r.Register(f))
	require.NoError(t, r.Unregister(a))
	require.NoError(t, r.Unregister(a))

	assert.Equal(t, float64(1), tel.metric(MetricRegistrations))
	assert.Equal(t, float64(1), tel.metric(MetricUnregistrations))
	assert.Equal(t, float64(1), tel.metric(MetricHookFailures))
	assert.Equal(t, float64(1), tel.metric(MetricUnknownIgnored))
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	const workers = 16
	const rounds = 200

	agents := make([]*testAgent, workers)
	for i := range agents {
		agents[i] = newTestAgent(fmt.Sprintf("agent-%d", i), nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < rounds; n++ {
				// Each goroutine also touches a neighbour to force contention
				_ = r.Register(agents[i])
				_ = r.Register(agents[(i+1)%workers])
				_ = r.Unregister(agents[i])
				_ = r.Active()
			}
			_ = r.Register(agents[i])
		}(i)
	}
	wg.Wait()

	active := r.Active()
	assert.Len(t, active, workers)

	seen := make(map[Agent]bool)
	for _, a := range active {
		assert.False(t, seen[a], "duplicate agent in active set")
		seen[a] = true
	}
	for _, a := range agents {
		assert.True(t, seen[a], "missing agent %s", a.name)
		assert.True(t, a.isRegistered())

		registers, unregisters := a.counts()
		assert.Equal(t, registers, unregisters+1, "every transition in must be matched by one out, plus the final register")
	}

	stats := r.Stats()
	assert.Equal(t, stats.Registrations, stats.Unregistrations+uint64(workers))
}

func TestClosedRegistryRejectsMutations(t *testing.T) {
	r := NewRegistry()
	a := newTestAgent("a", nil)
	require.NoError(t, r.Close(context.Background()))

	for name, err := range map[string]error{
		"Register":       r.Register(a),
		"Unregister":     r.Unregister(a),
		"Add":            r.Add(a),
		"Remove":         r.Remove(a),
		"CloseOnDisable": r.CloseOnDisable(closerFunc(func() error { return nil })),
		"OnEnable":       r.OnEnable(context.Background()),
		"OnHostReload":   r.OnHostReload(context.Background()),
	} {
		assert.ErrorIs(t, err, ErrRegistryClosed, name)
	}

	assert.Empty(t, r.Active())
	assert.True(t, r.Stats().Closed)
	assert.NoError(t, r.CloseOnDisable(nil))
}
