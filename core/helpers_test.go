package core

import (
	"context"
	"fmt"
	"sync"
)

// callLog records hook calls across agents in the order they happen
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// testAgent counts hook calls. It is tracked by reference.
type testAgent struct {
	name string
	log  *callLog

	mu          sync.Mutex
	registered  bool
	registers   int
	unregisters int
	panicOn     string
}

func newTestAgent(name string, log *callLog) *testAgent {
	return &testAgent{name: name, log: log}
}

func (a *testAgent) RegisterTracker() Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.panicOn == "register" {
		panic(fmt.Sprintf("%s refuses to register", a.name))
	}
	a.registered = true
	a.registers++
	a.log.add("register " + a.name)
	return a
}

func (a *testAgent) UnregisterTracker() Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.panicOn == "unregister" {
		panic(fmt.Sprintf("%s refuses to unregister", a.name))
	}
	a.registered = false
	a.unregisters++
	a.log.add("unregister " + a.name)
	return a
}

func (a *testAgent) GetName() string { return a.name }

func (a *testAgent) setPanicOn(phase string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.panicOn = phase
}

func (a *testAgent) counts() (registers, unregisters int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registers, a.unregisters
}

func (a *testAgent) isRegistered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registered
}

// fallibleAgent reports hook failures through the Try* methods
type fallibleAgent struct {
	*testAgent

	errMu         sync.Mutex
	registerErr   error
	unregisterErr error
}

func newFallibleAgent(name string, log *callLog) *fallibleAgent {
	return &fallibleAgent{testAgent: newTestAgent(name, log)}
}

func (f *fallibleAgent) RegisterTracker() Agent {
	f.testAgent.RegisterTracker()
	return f
}

func (f *fallibleAgent) UnregisterTracker() Agent {
	f.testAgent.UnregisterTracker()
	return f
}

func (f *fallibleAgent) TryRegisterTracker() (Agent, error) {
	f.errMu.Lock()
	err := f.registerErr
	f.errMu.Unlock()
	if err != nil {
		return f, err
	}
	return f.RegisterTracker(), nil
}

func (f *fallibleAgent) TryUnregisterTracker() (Agent, error) {
	f.errMu.Lock()
	err := f.unregisterErr
	f.errMu.Unlock()
	if err != nil {
		return f, err
	}
	return f.UnregisterTracker(), nil
}

func (f *fallibleAgent) failWith(registerErr, unregisterErr error) {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	f.registerErr = registerErr
	f.unregisterErr = unregisterErr
}

// keyedTestAgent is identified by its key rather than its pointer
type keyedTestAgent struct {
	*testAgent
	key string
}

func (k *keyedTestAgent) RegisterTracker() Agent {
	k.testAgent.RegisterTracker()
	return k
}

func (k *keyedTestAgent) UnregisterTracker() Agent {
	k.testAgent.UnregisterTracker()
	return k
}

func (k *keyedTestAgent) TrackerKey() string { return k.key }

// valueAgent is a comparable value type; equal values are the same agent
type valueAgent struct {
	name string
}

func (v valueAgent) RegisterTracker() Agent   { return v }
func (v valueAgent) UnregisterTracker() Agent { return v }

// sliceAgent is not comparable and has no key
type sliceAgent []string

func (s sliceAgent) RegisterTracker() Agent   { return s }
func (s sliceAgent) UnregisterTracker() Agent { return s }

// taggedAgent has a comparable type but can hold an uncomparable tag
type taggedAgent struct {
	Tag interface{}
}

func (a taggedAgent) RegisterTracker() Agent   { return a }
func (a taggedAgent) UnregisterTracker() Agent { return a }

// LogEntry is one captured log call
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

// MockLogger captures log entries for assertions
type MockLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (m *MockLogger) record(level, msg string, fields map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, LogEntry{Level: level, Message: msg, Fields: fields})
}

func (m *MockLogger) Debug(msg string, fields map[string]interface{}) { m.record("debug", msg, fields) }
func (m *MockLogger) Info(msg string, fields map[string]interface{})  { m.record("info", msg, fields) }
func (m *MockLogger) Warn(msg string, fields map[string]interface{})  { m.record("warn", msg, fields) }
func (m *MockLogger) Error(msg string, fields map[string]interface{}) { m.record("error", msg, fields) }

func (m *MockLogger) byMessage(msg string) []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LogEntry
	for _, e := range m.entries {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

// recordingTelemetry captures spans and metrics
type recordingTelemetry struct {
	mu      sync.Mutex
	spans   []*recordingSpan
	metrics map[string]float64
}

func newRecordingTelemetry() *recordingTelemetry {
	return &recordingTelemetry{metrics: make(map[string]float64)}
}

func (r *recordingTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &recordingSpan{name: name, attrs: make(map[string]interface{})}
	r.spans = append(r.spans, s)
	return ctx, s
}

func (r *recordingTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] += value
}

func (r *recordingTelemetry) metric(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics[name]
}

func (r *recordingTelemetry) span(name string) *recordingSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.spans) - 1; i >= 0; i-- {
		if r.spans[i].name == name {
			return r.spans[i]
		}
	}
	return nil
}

type recordingSpan struct {
	name  string
	attrs map[string]interface{}
	errs  []error
	ended bool
}

func (s *recordingSpan) End()                                       { s.ended = true }
func (s *recordingSpan) SetAttribute(key string, value interface{}) { s.attrs[key] = value }
func (s *recordingSpan) RecordError(err error)                      { s.errs = append(s.errs, err) }

// closerFunc adapts a function to io.Closer
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// transitionRecorder collects observer notifications
type transitionRecorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *transitionRecorder) ObserveTransition(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *transitionRecorder) kinds() []TransitionKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TransitionKind, len(r.transitions))
	for i, t := range r.transitions {
		out[i] = t.Kind
	}
	return out
}
