package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/itsneelabh/agenttrack/resilience"
)

// EntrySource supplies the active set to a mirror. *Registry implements it.
type EntrySource interface {
	Entries() []AgentInfo
}

// RedisMirror publishes the registry's active set to Redis so other processes
// can see which agents a host is running. It observes registry transitions and
// rewrites the whole ordered set on a background goroutine; several
// transitions in quick succession collapse into one write.
//
// Keys written, with <ns> the mirror namespace:
//
//	<ns>:agents:active   list of agent keys in registration order
//	<ns>:agents:entries  hash of agent key to JSON AgentInfo
type RedisMirror struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	retry     *resilience.RetryConfig
	source    EntrySource
	logger    Logger

	dirty chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
	syncs   uint64
	lastErr error
}

// NewRedisMirror connects to redisURL and creates a mirror of source
func NewRedisMirror(redisURL, namespace string, source EntrySource) (*RedisMirror, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	opt.MaxRetries = 3
	opt.MinRetryBackoff = time.Millisecond * 100
	opt.MaxRetryBackoff = time.Second
	opt.DialTimeout = time.Second * 5
	opt.ReadTimeout = time.Second * 5
	opt.WriteTimeout = time.Second * 5

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", ErrConnectionFailed)
	}

	return NewRedisMirrorWithClient(client, namespace, source), nil
}

// NewRedisMirrorWithClient creates a mirror using an existing client.
// The mirror takes ownership of the client and closes it in Close.
func NewRedisMirrorWithClient(client *redis.Client, namespace string, source EntrySource) *RedisMirror {
	if namespace == "" {
		namespace = DefaultMirrorNamespace
	}
	return &RedisMirror{
		client:    client,
		namespace: namespace,
		retry:     resilience.DefaultRetryConfig(),
		source:    source,
		logger:    &NoOpLogger{},
		dirty:     make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the mirror
func (m *RedisMirror) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = createComponentLogger(logger, "framework/mirror")
	}
}

// SetTTL sets the expiry applied to mirrored keys; zero disables expiry
func (m *RedisMirror) SetTTL(ttl time.Duration) {
	m.ttl = ttl
}

// SetRetry sets how failed writes are retried; nil restores the default
func (m *RedisMirror) SetRetry(cfg *resilience.RetryConfig) {
	if cfg == nil {
		cfg = resilience.DefaultRetryConfig()
	}
	m.retry = cfg
}

// ActiveKey returns the Redis key of the ordered agent list
func (m *RedisMirror) ActiveKey() string {
	return fmt.Sprintf("%s:agents:active", m.namespace)
}

// EntriesKey returns the Redis key of the agent info hash
func (m *RedisMirror) EntriesKey() string {
	return fmt.Sprintf("%s:agents:entries", m.namespace)
}

// ObserveTransition marks the mirror dirty. It never blocks.
func (m *RedisMirror) ObserveTransition(t Transition) {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

// Start runs the sync worker until ctx is done or Close is called.
// Calling Start on a running or closed mirror is a no-op.
func (m *RedisMirror) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
}

func (m *RedisMirror) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.dirty:
			if err := m.syncWithRetry(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("Failed to mirror active agents", map[string]interface{}{
					"error":      err.Error(),
					"error_type": fmt.Sprintf("%T", err),
					"namespace":  m.namespace,
				})
			}
		}
	}
}

// Sync writes the current active set to Redis in one transaction
func (m *RedisMirror) Sync(ctx context.Context) error {
	var entries []AgentInfo
	if m.source != nil {
		entries = m.source.Entries()
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.ActiveKey(), m.EntriesKey())

	if len(entries) > 0 {
		keys := make([]interface{}, len(entries))
		fields := make(map[string]interface{}, len(entries))
		for i, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal agent info for %s: %w", e.Key, err)
			}
			keys[i] = e.Key
			fields[e.Key] = data
		}
		pipe.RPush(ctx, m.ActiveKey(), keys...)
		pipe.HSet(ctx, m.EntriesKey(), fields)

		if m.ttl > 0 {
			pipe.Expire(ctx, m.ActiveKey(), m.ttl)
			pipe.Expire(ctx, m.EntriesKey(), m.ttl)
		}
	}

	_, err := pipe.Exec(ctx)

	m.mu.Lock()
	m.lastErr = err
	if err == nil {
		m.syncs++
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to mirror active agents: %w", err)
	}

	m.logger.Debug("Mirrored active agents", map[string]interface{}{
		"namespace": m.namespace,
		"active":    len(entries),
	})
	return nil
}

func (m *RedisMirror) syncWithRetry(ctx context.Context) error {
	cfg := *m.retry
	cfg.OnRetry = func(attempt int, err error) {
		m.logger.Debug("Retrying mirror write", map[string]interface{}{
			"attempt":   attempt,
			"error":     err.Error(),
			"namespace": m.namespace,
		})
	}
	return resilience.Retry(ctx, &cfg, func() error {
		return m.Sync(ctx)
	})
}

// Load reads the mirrored active set back in registration order.
// Entries whose JSON is missing are returned with only Key and Position set.
func (m *RedisMirror) Load(ctx context.Context) ([]AgentInfo, error) {
	return LoadMirror(ctx, m.client, m.namespace)
}

// LoadMirror reads a mirrored active set without a running mirror
func LoadMirror(ctx context.Context, client *redis.Client, namespace string) ([]AgentInfo, error) {
	activeKey := fmt.Sprintf("%s:agents:active", namespace)
	entriesKey := fmt.Sprintf("%s:agents:entries", namespace)

	keys, err := client.LRange(ctx, activeKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read mirrored agents: %w", err)
	}
	if len(keys) == 0 {
		return []AgentInfo{}, nil
	}

	values, err := client.HMGet(ctx, entriesKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read mirrored agent entries: %w", err)
	}

	infos := make([]AgentInfo, len(keys))
	for i, key := range keys {
		info := AgentInfo{Key: key}
		if raw, ok := values[i].(string); ok {
			if err := json.Unmarshal([]byte(raw), &info); err != nil {
				return nil, fmt.Errorf("failed to parse mirrored entry %s: %w", key, err)
			}
		}
		info.Position = i
		infos[i] = info
	}
	return infos, nil
}

// Syncs returns how many successful writes the mirror has made
func (m *RedisMirror) Syncs() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs
}

// LastError returns the error of the most recent write, if any
func (m *RedisMirror) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Close stops the worker, writes a final snapshot and closes the client.
// It is safe to call more than once.
func (m *RedisMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	ctx, cancelSync := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSync()
	syncErr := m.syncWithRetry(ctx)

	if err := m.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}
	return syncErr
}
