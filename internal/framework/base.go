package framework

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ModuleState represents the current state of an agent module.
type ModuleState int32

const (
	StateUninitialized ModuleState = iota
	StateInitializing
	StateReady
	StateNotReady
	StateStopping
	StateStopped
	StateFailed
)

// String returns a human-readable state name.
func (s ModuleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateNotReady:
		return "not-ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ServiceBase provides a thread-safe ready/not-ready toggle that every
// agent module (kv, lastseen, netcache, wire server, actuation pipeline)
// embeds to avoid hand-rolled readiness tracking.
type ServiceBase struct {
	state     atomic.Int32
	name      atomic.Value // string
	domain    atomic.Value // string
	startedAt atomic.Value // time.Time
	stoppedAt atomic.Value // time.Time

	mu       sync.RWMutex
	lastErr  error
	metadata map[string]string
}

// NewServiceBase creates a new ServiceBase with the given name and domain.
func NewServiceBase(name, domain string) *ServiceBase {
	b := &ServiceBase{metadata: make(map[string]string)}
	b.name.Store(name)
	b.domain.Store(domain)
	return b
}

// Name returns the module name.
func (b *ServiceBase) Name() string {
	if v := b.name.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Domain returns the module domain (kv, net, policy, ...).
func (b *ServiceBase) Domain() string {
	if v := b.domain.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// State returns the current module state.
func (b *ServiceBase) State() ModuleState { return ModuleState(b.state.Load()) }

// SetState atomically sets the module state.
func (b *ServiceBase) SetState(state ModuleState) { b.state.Store(int32(state)) }

// MarkReady is a helper to set readiness without an error message.
func (b *ServiceBase) MarkReady(ready bool) {
	if ready {
		b.state.Store(int32(StateReady))
	} else {
		b.state.Store(int32(StateNotReady))
	}
}

// MarkStarted records that the module has started.
func (b *ServiceBase) MarkStarted() {
	b.startedAt.Store(time.Now())
	b.state.Store(int32(StateReady))
}

// MarkStopped records that the module has stopped.
func (b *ServiceBase) MarkStopped() {
	b.stoppedAt.Store(time.Now())
	b.state.Store(int32(StateStopped))
}

// MarkFailed records that the module has failed with an error.
func (b *ServiceBase) MarkFailed(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
	b.state.Store(int32(StateFailed))
}

// LastError returns the last recorded error.
func (b *ServiceBase) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// StartedAt returns when the module started, or zero time if not started.
func (b *ServiceBase) StartedAt() time.Time {
	if v := b.startedAt.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// Uptime returns how long the module has been running, or 0 if not started.
func (b *ServiceBase) Uptime() time.Duration {
	started := b.StartedAt()
	if started.IsZero() {
		return 0
	}
	return time.Since(started)
}

// IsReady returns true if the module is in ready state.
func (b *ServiceBase) IsReady() bool { return b.State() == StateReady }

// Ready reports whether the module is ready, surfacing its last error when
// it is not.
func (b *ServiceBase) Ready(ctx context.Context) error {
	_ = ctx
	if b.State() == StateReady {
		return nil
	}
	name := b.Name()
	if lastErr := b.LastError(); lastErr != nil {
		if name != "" {
			return fmt.Errorf("%s: %w", name, lastErr)
		}
		return lastErr
	}
	if name != "" {
		return fmt.Errorf("%s: %s", name, b.State())
	}
	return fmt.Errorf("module %s", b.State())
}

// SetMetadata stores a key-value pair in the module metadata.
func (b *ServiceBase) SetMetadata(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.metadata == nil {
		b.metadata = make(map[string]string)
	}
	b.metadata[strings.TrimSpace(key)] = value
}

// GetMetadata retrieves a metadata value by key.
func (b *ServiceBase) GetMetadata(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.metadata[key]
	return v, ok
}
