package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// UpdateFunc is notified after a new snapshot goes live. Callbacks run in
// registration order; a panic or slow callback is logged and never rolls
// back the swap.
type UpdateFunc func(*Snapshot)

// Handle identifies a registered update callback.
type Handle int64

type listener struct {
	id Handle
	fn UpdateFunc
}

// Manager owns the live configuration snapshot. Reads are a single atomic
// pointer load, so no reader ever blocks on a reload.
type Manager struct {
	v      *viper.Viper
	logger *slog.Logger

	live    atomic.Pointer[Snapshot]
	version atomic.Int64

	mu        sync.Mutex // guards listeners and write-side swaps
	listeners []listener
	nextID    Handle
}

// NewManager loads the layered configuration: defaults, then the file at
// path (optional), then RETRIEVO_* environment overrides. It returns an
// error if the initial snapshot fails validation.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("RETRIEVO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{v: v, logger: logger}

	snap, err := m.build()
	if err != nil {
		return nil, err
	}
	m.live.Store(snap)
	return m, nil
}

// build unmarshals and validates a candidate snapshot without publishing it.
// The version is only consumed when the snapshot passes validation, keeping
// observed versions strictly increasing.
func (m *Manager) build() (*Snapshot, error) {
	snap := &Snapshot{}
	if err := m.v.Unmarshal(snap); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	snap.raw = m.v.AllSettings()

	if err := validate(snap); err != nil {
		return nil, err
	}
	snap.Version = m.version.Add(1)
	return snap, nil
}

// Current returns the live snapshot.
func (m *Manager) Current() *Snapshot {
	return m.live.Load()
}

// Get returns the values for the given dotted keys from the live snapshot.
// Unknown keys map to nil.
func (m *Manager) Get(keys ...string) map[string]interface{} {
	snap := m.Current()
	out := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		out[key] = lookup(snap.raw, key)
	}
	return out
}

// GetSection returns a top-level section of the live snapshot as a map,
// nil if the section does not exist.
func (m *Manager) GetSection(name string) map[string]interface{} {
	snap := m.Current()
	if sec, ok := snap.raw[name].(map[string]interface{}); ok {
		return sec
	}
	return nil
}

// Update applies a partial set of dotted-key overrides at runtime. Runtime
// values supersede environment and file values. The whole update is
// validated before anything goes live; on failure nothing is applied and
// the returned error lists every violation.
func (m *Manager) Update(partial map[string]interface{}) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Dry-run against a scratch viper so a rejected update leaves no trace.
	scratch := viper.New()
	setDefaults(scratch)
	if err := scratch.MergeConfigMap(m.v.AllSettings()); err != nil {
		return 0, fmt.Errorf("merge settings: %w", err)
	}
	for key, val := range partial {
		scratch.Set(key, val)
	}
	candidate := &Snapshot{}
	if err := scratch.Unmarshal(candidate); err != nil {
		return 0, fmt.Errorf("decode config: %w", err)
	}
	candidate.raw = scratch.AllSettings()
	if err := validate(candidate); err != nil {
		return 0, err
	}

	for key, val := range partial {
		m.v.Set(key, val)
	}
	return m.swapLocked()
}

// Reload re-reads the configuration file and publishes a new snapshot if it
// validates. On any error the previous snapshot stays live.
func (m *Manager) Reload() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.v.ConfigFileUsed() != "" {
		if err := m.v.ReadInConfig(); err != nil {
			return 0, fmt.Errorf("reload config: %w", err)
		}
	}
	return m.swapLocked()
}

// swapLocked builds, validates, publishes, and notifies. Caller holds mu.
func (m *Manager) swapLocked() (int64, error) {
	snap, err := m.build()
	if err != nil {
		return 0, err
	}
	m.live.Store(snap)

	for _, l := range m.listeners {
		m.notify(l, snap)
	}
	return snap.Version, nil
}

func (m *Manager) notify(l listener, snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("config update callback panicked",
				"handle", int64(l.id), "version", snap.Version, "panic", r)
		}
	}()
	l.fn(snap)
}

// OnUpdate registers a callback invoked synchronously after each snapshot
// swap, in registration order.
func (m *Manager) OnUpdate(fn UpdateFunc) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners = append(m.listeners, listener{id: m.nextID, fn: fn})
	return m.nextID
}

// Unregister removes a previously registered callback.
func (m *Manager) Unregister(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l.id == h {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// Watch starts watching the config file for changes. Each change triggers a
// Reload; a failed reload is logged and the previous snapshot stays live.
func (m *Manager) Watch() {
	if m.v.ConfigFileUsed() == "" {
		return
	}
	m.v.OnConfigChange(func(fsnotify.Event) {
		if _, err := m.Reload(); err != nil {
			m.logger.Error("config reload rejected, keeping previous version",
				"version", m.Current().Version, "error", err)
		}
	})
	m.v.WatchConfig()
}

// lookup resolves a dotted key against nested settings maps.
func lookup(settings map[string]interface{}, key string) interface{} {
	parts := strings.Split(key, ".")
	var cur interface{} = settings
	for _, p := range parts {
		node, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = node[p]
		if !ok {
			return nil
		}
	}
	return cur
}
