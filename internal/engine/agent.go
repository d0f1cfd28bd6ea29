// Package engine wires the kv, lastseen, netcache, wire, and actuation
// subsystems into the single process-wide Agent value holding global
// mutable state, using internal/framework's ModuleBuilder/EventBus to
// register and start each subsystem as a dependency-ordered module.
package engine

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cfengine-go/agentcore/internal/actuation"
	"github.com/cfengine-go/agentcore/internal/crypto"
	"github.com/cfengine-go/agentcore/internal/evalctx"
	"github.com/cfengine-go/agentcore/internal/framework"
	"github.com/cfengine-go/agentcore/internal/kv"
	"github.com/cfengine-go/agentcore/internal/lastseen"
	"github.com/cfengine-go/agentcore/internal/netcache"
	"github.com/cfengine-go/agentcore/internal/policy"
	"github.com/cfengine-go/agentcore/internal/wire"
)

// Config collects the knobs Agent needs to construct and wire its
// modules. Zero values pick sensible single-host defaults.
type Config struct {
	// WorkDir roots the kv/lastseen databases and the wire server's
	// served file tree (CFENGINE_TEST_OVERRIDE_WORKDIR overrides this).
	WorkDir string

	// WireListenAddr, if non-empty, starts a wire.Server listening on
	// this address. Empty disables the server (client-only agent).
	WireListenAddr string
	MaxClockSkew   time.Duration

	// PrivateKeyFile/PublicKeyFile locate this host's ppkeys identity.
	// Both empty disables the HELLO handshake: the agent starts with no
	// Identity and its wire client/server fall back to unauthenticated
	// calls. HashAlgo selects the digest algorithm for the identity key
	// (default AlgoSHA256).
	PrivateKeyFile string
	PublicKeyFile  string
	HashAlgo       crypto.Algo

	// DialRPS/DialBurst/CallTimeout tune the wire client's outbound dial
	// throttle and per-call deadline.
	DialRPS     float64
	DialBurst   int
	CallTimeout time.Duration

	// IfElapsed/ExpireAfter are the actuation pipeline's lock timing,
	// applied to every promise; they are not overridden per promise.
	IfElapsed   time.Duration
	ExpireAfter time.Duration

	Dispatch actuation.Dispatch
	Logf     func(format string, args ...any)
	Now      func() time.Time
}

func (c *Config) setDefaults() {
	if c.IfElapsed == 0 {
		c.IfElapsed = time.Minute
	}
	if c.ExpireAfter == 0 {
		c.ExpireAfter = time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logf == nil {
		c.Logf = func(string, ...any) {}
	}
	if c.HashAlgo == "" {
		c.HashAlgo = crypto.AlgoSHA256
	}
	if c.DialRPS == 0 {
		c.DialRPS = 10
	}
	if c.DialBurst == 0 {
		c.DialBurst = 5
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
}

// Agent is the process-wide orchestrator: one instance per running
// cf-agent/cf-serverd process, holding the started subsystem handles
// and driving their lifecycle in dependency order, mirroring
// runtime.Application.Run/Shutdown's engine.Start/engine.Stop pairing.
type Agent struct {
	mu      sync.Mutex
	bus     *framework.EventBus
	modules []*framework.Module
	started []*framework.Module

	KV         *kv.Handle
	LastSeen   *lastseen.Registry
	NetCache   *netcache.Cache
	Wire       *wire.Server
	WireClient *wire.Client
	Locks      *actuation.LockManager
	Pipeline   *actuation.Pipeline

	// Identity is this host's RSA keypair, loaded (or generated, on
	// first run) from cfg.PrivateKeyFile/PublicKeyFile. Nil when neither
	// path is configured.
	Identity *crypto.KeyPair

	listener net.Listener
}

// New constructs an Agent and its module set from cfg, but does not
// start anything; call Start to bring the subsystems up.
func New(cfg Config) (*Agent, error) {
	cfg.setDefaults()
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("engine: WorkDir required")
	}

	a := &Agent{bus: framework.NewEventBus()}

	if cfg.PrivateKeyFile != "" && cfg.PublicKeyFile != "" {
		identity, err := crypto.LoadOrGenerateKeyPair(cfg.HashAlgo, cfg.PrivateKeyFile, cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("engine: load host identity: %w", err)
		}
		a.Identity = identity
	}

	kvModule := framework.NewModule("cf-kv", "storage").
		WithDescription("embedded bbolt-backed agent state store").
		WithCapabilities("read", "write").
		WithBus(a.bus).
		OnStart(func(ctx context.Context) error {
			h, err := kv.Open(cfg.WorkDir, "cf_state")
			if err != nil {
				return err
			}
			a.KV = h
			return nil
		}).
		OnStop(func(ctx context.Context) error {
			if a.KV == nil {
				return nil
			}
			return a.KV.Close()
		}).
		MustBuild()

	lastSeenModule := framework.NewModule("cf-lastseen", "storage").
		WithDescription("forward/reverse peer-address registry with EWMA quality").
		DependsOn("cf-kv").
		WithBus(a.bus).
		OnStart(func(ctx context.Context) error {
			r, err := lastseen.Open(cfg.WorkDir)
			if err != nil {
				return err
			}
			a.LastSeen = r
			return nil
		}).
		OnStop(func(ctx context.Context) error {
			if a.LastSeen == nil {
				return nil
			}
			return a.LastSeen.Close()
		}).
		MustBuild()

	netCacheModule := framework.NewModule("cf-netcache", "net").
		WithDescription("idle/busy/broken connection cache for the wire client").
		WithBus(a.bus).
		OnStart(func(ctx context.Context) error {
			a.NetCache = netcache.New()
			return nil
		}).
		OnStop(func(ctx context.Context) error {
			if a.NetCache != nil {
				a.NetCache.Destroy()
			}
			return nil
		}).
		MustBuild()

	wireModule := framework.NewModule("cf-wire", "net").
		WithDescription("length-delimited TCP protocol server and client").
		DependsOn("cf-netcache", "cf-lastseen").
		WithBus(a.bus).
		WithStartRetry(2, 250*time.Millisecond).
		OnStart(func(ctx context.Context) error {
			a.WireClient = wire.NewClient(a.NetCache, cfg.DialRPS, cfg.DialBurst, cfg.CallTimeout)
			a.WireClient.Identity = a.Identity
			a.WireClient.PeerRegistry = a.LastSeen
			a.WireClient.Logf = cfg.Logf

			if cfg.WireListenAddr == "" {
				return nil
			}
			ln, err := net.Listen("tcp", cfg.WireListenAddr)
			if err != nil {
				return err
			}
			a.listener = ln
			a.Wire = &wire.Server{
				WorkDir:      cfg.WorkDir,
				MaxClockSkew: cfg.MaxClockSkew,
				Now:          cfg.Now,
				Identity:     a.Identity,
				PeerRegistry: a.LastSeen,
			}
			go func() {
				_ = a.Wire.Serve(ln)
			}()
			return nil
		}).
		OnStop(func(ctx context.Context) error {
			if a.listener == nil {
				return nil
			}
			return a.listener.Close()
		}).
		WithReadyCheck(func(ctx context.Context) error {
			if cfg.WireListenAddr != "" && a.listener == nil {
				return fmt.Errorf("wire server not listening")
			}
			return nil
		}).
		MustBuild()

	actuationModule := framework.NewModule("cf-actuation", "policy").
		WithDescription("promise actuation pipeline: class guard, locking, dispatch").
		DependsOn("cf-kv").
		WithBus(a.bus).
		OnStart(func(ctx context.Context) error {
			locks, err := actuation.OpenLockManager(cfg.WorkDir)
			if err != nil {
				return err
			}
			a.Locks = locks
			a.Pipeline = actuation.NewPipeline(locks, cfg.Dispatch, actuation.Options{
				Now:         cfg.Now,
				IfElapsed:   cfg.IfElapsed,
				ExpireAfter: cfg.ExpireAfter,
				Logf:        cfg.Logf,
			})
			return nil
		}).
		OnStop(func(ctx context.Context) error {
			if a.Locks == nil {
				return nil
			}
			return a.Locks.Close()
		}).
		MustBuild()

	a.modules = []*framework.Module{kvModule, lastSeenModule, netCacheModule, wireModule, actuationModule}
	return a, nil
}

// Start brings modules up in registration order, which is also
// dependency order for the fixed five-module set above. If any module
// fails to start, already-started modules are torn down in reverse
// order before the error is returned, so a partially-initialized Agent
// never lingers.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, m := range a.modules {
		if !m.IsEnabled() {
			continue
		}
		if err := m.Start(ctx); err != nil {
			for i := len(a.started) - 1; i >= 0; i-- {
				_ = a.started[i].Stop(ctx)
			}
			a.started = nil
			if framework.IsHookError(err) {
				return fmt.Errorf("engine: start %s: lifecycle hook failed: %w", m.Name(), err)
			}
			return fmt.Errorf("engine: start %s: %w", m.Name(), err)
		}
		a.started = append(a.started, m)
	}
	_ = a.bus.Publish(ctx, "agent.started", nil)
	return nil
}

// Stop tears modules down in the reverse of the order they were
// started, collecting (not short-circuiting on) per-module errors so
// one stuck subsystem doesn't prevent the others from releasing their
// locks and file handles.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for i := len(a.started) - 1; i >= 0; i-- {
		if err := a.started[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.started[i].Name(), err))
		}
	}
	a.started = nil
	_ = a.bus.Publish(ctx, "agent.stopped", nil)
	if len(errs) > 0 {
		return fmt.Errorf("engine: stop errors: %v", errs)
	}
	return nil
}

// ProbeReadiness reports the first not-ready module's error, or nil if
// every started module is ready. It emits no metrics; cmd/cf-agent calls
// it periodically and logs the result.
func (a *Agent) ProbeReadiness(ctx context.Context) error {
	a.mu.Lock()
	modules := append([]*framework.Module{}, a.started...)
	a.mu.Unlock()

	for _, m := range modules {
		if err := m.Ready(ctx); err != nil {
			return fmt.Errorf("%s: %w", m.Name(), err)
		}
	}
	return nil
}

// Bus exposes the Agent's event bus for external subscribers. The Agent
// itself publishes "agent.started" and "agent.stopped" on it.
func (a *Agent) Bus() *framework.EventBus { return a.bus }

// RunPolicy actuates every promise in pol through the actuation
// pipeline. The Agent must already be started: the pipeline depends on
// cf-kv (for locks) having opened its handle.
func (a *Agent) RunPolicy(evalCtx *evalctx.Context, pol *policy.Policy) error {
	if a.Pipeline == nil {
		return fmt.Errorf("engine: actuation pipeline not started")
	}
	return a.Pipeline.Run(evalCtx, pol)
}
