package framework

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cfengine-go/agentcore/internal/framework/lifecycle"
)

// ModuleBuilder provides a fluent API for constructing agent modules,
// reducing boilerplate and enforcing consistent start/stop/readiness
// structure across kv, lastseen, netcache, wire, and actuation.
type ModuleBuilder struct {
	name        string
	domain      string
	description string
	manifest    *Manifest
	hooks       *lifecycle.Hooks
	readyCheck  func(context.Context) error
	bus         BusClient

	startFn func(context.Context) error
	stopFn  func(context.Context) error

	startRetries int
	startDelay   time.Duration

	errs []error
}

// NewModule creates a new ModuleBuilder with the given name and domain.
func NewModule(name, domain string) *ModuleBuilder {
	return &ModuleBuilder{
		name:   name,
		domain: domain,
		hooks:  lifecycle.NewHooks(),
		manifest: &Manifest{
			Name:   name,
			Domain: domain,
		},
	}
}

// WithDescription sets the module description.
func (b *ModuleBuilder) WithDescription(desc string) *ModuleBuilder {
	b.description = desc
	b.manifest.Description = desc
	return b
}

// WithManifest sets a complete manifest (replaces the auto-generated one).
func (b *ModuleBuilder) WithManifest(m *Manifest) *ModuleBuilder {
	if m != nil {
		b.manifest = m
		if m.Name != "" {
			b.name = m.Name
		}
		if m.Domain != "" {
			b.domain = m.Domain
		}
	}
	return b
}

// WithCapabilities adds capabilities to the module manifest.
func (b *ModuleBuilder) WithCapabilities(caps ...string) *ModuleBuilder {
	b.manifest.Capabilities = append(b.manifest.Capabilities, caps...)
	return b
}

// DependsOn declares module dependencies.
func (b *ModuleBuilder) DependsOn(deps ...string) *ModuleBuilder {
	b.manifest.DependsOn = append(b.manifest.DependsOn, deps...)
	return b
}

// WithVersion sets the module version.
func (b *ModuleBuilder) WithVersion(version string) *ModuleBuilder {
	b.manifest.Version = version
	return b
}

// WithTag sets a single tag key-value pair.
func (b *ModuleBuilder) WithTag(key, value string) *ModuleBuilder {
	b.manifest.SetTag(key, value)
	return b
}

// Enabled sets whether the module is enabled.
func (b *ModuleBuilder) Enabled(enabled bool) *ModuleBuilder {
	b.manifest.SetEnabled(enabled)
	return b
}

// WithValidatorFunc adds a custom manifest validation function. The
// error, if any, is collected alongside every other builder problem
// and surfaces together with them from Build, rather than failing
// immediately.
func (b *ModuleBuilder) WithValidatorFunc(fn func(*Manifest) error) *ModuleBuilder {
	if fn != nil {
		if err := fn(b.manifest); err != nil {
			b.errs = append(b.errs, fmt.Errorf("%w: %w", ErrInvalidManifest, err))
		}
	}
	return b
}

// OnPreStart adds a pre-start hook.
func (b *ModuleBuilder) OnPreStart(fn func(context.Context) error) *ModuleBuilder {
	b.hooks.OnPreStart(fn)
	return b
}

// OnPostStart adds a post-start hook.
func (b *ModuleBuilder) OnPostStart(fn func(context.Context) error) *ModuleBuilder {
	b.hooks.OnPostStart(fn)
	return b
}

// OnPreStop adds a pre-stop hook.
func (b *ModuleBuilder) OnPreStop(fn func(context.Context) error) *ModuleBuilder {
	b.hooks.OnPreStop(fn)
	return b
}

// OnPostStop adds a post-stop hook.
func (b *ModuleBuilder) OnPostStop(fn func(context.Context) error) *ModuleBuilder {
	b.hooks.OnPostStop(fn)
	return b
}

// OnStart sets the main start function (runs after pre-start hooks).
func (b *ModuleBuilder) OnStart(fn func(context.Context) error) *ModuleBuilder {
	b.startFn = fn
	return b
}

// OnStop sets the main stop function (runs after pre-stop hooks).
func (b *ModuleBuilder) OnStop(fn func(context.Context) error) *ModuleBuilder {
	b.stopFn = fn
	return b
}

// WithStartRetry makes Start retry a failing startFn up to attempts
// additional times (so attempts=2 allows up to 3 total tries), sleeping
// delay between each. This exists for modules whose start function can
// fail transiently for reasons outside the agent's control — most
// concretely cf-wire's listener bind, which can race another process
// releasing the port during a fast restart. Zero attempts (the default)
// preserves the original single-try behavior.
func (b *ModuleBuilder) WithStartRetry(attempts int, delay time.Duration) *ModuleBuilder {
	b.startRetries = attempts
	b.startDelay = delay
	return b
}

// WithReadyCheck sets a custom readiness check function.
func (b *ModuleBuilder) WithReadyCheck(fn func(context.Context) error) *ModuleBuilder {
	b.readyCheck = fn
	return b
}

// WithBus sets the event bus client for the module.
func (b *ModuleBuilder) WithBus(bus BusClient) *ModuleBuilder {
	b.bus = bus
	return b
}

// Build creates the module. Every problem found — a missing name or
// domain, manifest validation failures, and any error collected from
// WithValidatorFunc — is joined into a single error rather than
// reported one at a time, so a caller fixing the builder call doesn't
// have to rebuild repeatedly to discover the next complaint.
func (b *ModuleBuilder) Build() (*Module, error) {
	var problems []error
	if b.name == "" {
		problems = append(problems, fmt.Errorf("%w: module name required", ErrInvalidManifest))
	}
	if b.domain == "" {
		problems = append(problems, fmt.Errorf("%w: module domain required", ErrInvalidManifest))
	}

	b.manifest.Name = b.name
	b.manifest.Domain = b.domain
	b.manifest.Normalize()

	if err := b.manifest.Validate(); err != nil {
		problems = append(problems, fmt.Errorf("%w: %v", ErrInvalidManifest, err))
	}
	problems = append(problems, b.errs...)

	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}

	return &Module{
		ServiceBase:  *NewServiceBase(b.name, b.domain),
		manifest:     b.manifest,
		hooks:        b.hooks,
		startFn:      b.startFn,
		stopFn:       b.stopFn,
		readyCheck:   b.readyCheck,
		bus:          b.bus,
		shutdown:     lifecycle.NewGracefulShutdown(),
		startRetries: b.startRetries,
		startDelay:   b.startDelay,
	}, nil
}

// MustBuild creates the module or panics on error. Use only where build
// errors are a programming bug, e.g. wiring the Agent's fixed module
// list at startup.
func (b *ModuleBuilder) MustBuild() *Module {
	m, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build module %q: %v", b.name, err))
	}
	return m
}

// Module is an agent module created by ModuleBuilder: it implements the
// start/stop/ready lifecycle the Agent orchestrator drives, with ordered
// hooks and a graceful-shutdown tracker that Stop marks as shut down
// without waiting for in-flight work.
type Module struct {
	ServiceBase

	manifest   *Manifest
	hooks      *lifecycle.Hooks
	startFn    func(context.Context) error
	stopFn     func(context.Context) error
	readyCheck func(context.Context) error
	bus        BusClient
	shutdown   *lifecycle.GracefulShutdown

	startRetries int
	startDelay   time.Duration

	started bool
}

// Manifest returns the module manifest.
func (s *Module) Manifest() *Manifest { return s.manifest }

// Start starts the module with proper hook execution. If startFn fails
// and WithStartRetry configured retries, it is retried up to that many
// additional times (sleeping startDelay, or honoring ctx's cancellation,
// between attempts) before the failure is reported.
func (s *Module) Start(ctx context.Context) error {
	if s.started {
		return ErrServiceAlreadyStarted
	}
	if err := s.hooks.RunPreStart(ctx); err != nil {
		return NewHookError(s.Name(), "PreStart", err)
	}

	if s.startFn != nil {
		var err error
		for attempt := 0; ; attempt++ {
			if err = s.startFn(ctx); err == nil {
				break
			}
			if attempt >= s.startRetries {
				return WrapServiceError(s.Name(), "start", err)
			}
			select {
			case <-time.After(s.startDelay):
			case <-ctx.Done():
				return WrapServiceError(s.Name(), "start", ctx.Err())
			}
		}
	}

	s.MarkReady(true)
	s.started = true
	if err := s.hooks.RunPostStart(ctx); err != nil {
		return NewHookError(s.Name(), "PostStart", err)
	}
	return nil
}

// Stop stops the module with proper hook execution.
func (s *Module) Stop(ctx context.Context) error {
	if !s.started {
		return nil
	}
	s.shutdown.Shutdown()

	if err := s.hooks.RunPreStop(ctx); err != nil {
		return NewHookError(s.Name(), "PreStop", err)
	}
	s.MarkReady(false)
	if s.stopFn != nil {
		if err := s.stopFn(ctx); err != nil {
			return WrapServiceError(s.Name(), "stop", err)
		}
	}
	s.started = false
	if err := s.hooks.RunPostStop(ctx); err != nil {
		return NewHookError(s.Name(), "PostStop", err)
	}
	return nil
}

// Ready checks if the module is ready.
func (s *Module) Ready(ctx context.Context) error {
	if err := s.ServiceBase.Ready(ctx); err != nil {
		return err
	}
	if s.readyCheck != nil {
		return s.readyCheck(ctx)
	}
	return nil
}

// Bus returns the module's event bus client.
func (s *Module) Bus() BusClient { return s.bus }

// Hooks returns the module's lifecycle hooks.
func (s *Module) Hooks() *lifecycle.Hooks { return s.hooks }

// Shutdown returns the graceful shutdown coordinator.
func (s *Module) Shutdown() *lifecycle.GracefulShutdown { return s.shutdown }

// IsStarted returns true if the module has been started.
func (s *Module) IsStarted() bool { return s.started }

// IsEnabled returns whether the module is enabled.
func (s *Module) IsEnabled() bool {
	if s.manifest == nil {
		return true
	}
	return s.manifest.IsEnabled()
}
