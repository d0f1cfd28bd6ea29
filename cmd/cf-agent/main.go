// Command cf-agent is the long-running promise-actuation daemon: it opens
// the kv/lastseen/netcache/wire/actuation subsystems through
// internal/engine.Agent, serves wire-protocol requests from peers, and
// shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cfengine-go/agentcore/internal/apperr"
	"github.com/cfengine-go/agentcore/internal/engine"
	"github.com/cfengine-go/agentcore/internal/framework"
	"github.com/cfengine-go/agentcore/internal/kv"
	"github.com/cfengine-go/agentcore/pkg/config"
	"github.com/cfengine-go/agentcore/pkg/logger"
	"github.com/cfengine-go/agentcore/pkg/version"
)

func main() {
	// A re-exec'd replication child never reaches the rest of main: it
	// performs the copy and exits with a status the parent classifies.
	if kv.IsReplicateChild() {
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "cf-agent: --replicate-child requires src and dst arguments")
			os.Exit(1)
		}
		kv.RunReplicateChild(os.Args[2], os.Args[3])
		return
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "cf-agent:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("cf-agent", flag.ContinueOnError)
	logLevel := fs.String("log-level", "", "error|warning|notice|info|verbose|debug")
	debug := fs.Bool("debug", false, "shorthand for --log-level debug")
	verbose := fs.Bool("verbose", false, "shorthand for --log-level verbose")
	inform := fs.Bool("inform", false, "shorthand for --log-level info")
	schedule := fs.String("schedule", "", "cron expression for periodic readiness probing (default: run once and serve until signaled)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version.FullVersion())
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		if framework.IsConfigError(err) {
			return fmt.Errorf("load config: %w (check configs/cf-agent.yaml and CFENGINE_* environment overrides)", err)
		}
		return fmt.Errorf("load config: %w", err)
	}
	switch {
	case *debug:
		cfg.Logging.Level = "debug"
	case *verbose:
		cfg.Logging.Level = "trace"
	case *inform:
		cfg.Logging.Level = "info"
	case *logLevel != "":
		cfg.Logging.Level = normalizeLogLevel(*logLevel)
	}
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	agent, err := engine.New(engine.Config{
		WorkDir:        cfg.Agent.WorkDir,
		WireListenAddr: fmt.Sprintf("%s:%d", cfg.Net.Host, cfg.Net.Port),
		MaxClockSkew:   cfg.Net.MaxClockSkew,
		PrivateKeyFile: cfg.Security.PrivateKeyFile,
		PublicKeyFile:  cfg.Security.PublicKeyFile,
		IfElapsed:      cfg.Agent.IfElapsedDefault,
		Logf: func(format string, a ...any) {
			log.Infof(format, a...)
		},
	})
	if err != nil {
		return &apperr.FatalEnvironmentError{Op: "construct agent (crypto init or work directory)", Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agent.Start(ctx); err != nil {
		return &apperr.FatalEnvironmentError{Op: "start agent", Err: err}
	}
	log.WithField("work_dir", cfg.Agent.WorkDir).WithField("listen", cfg.Net.Host+":"+fmt.Sprint(cfg.Net.Port)).
		Info("cf-agent started")

	var scheduler *cron.Cron
	if *schedule != "" {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(*schedule, func() {
			if err := agent.ProbeReadiness(ctx); err != nil {
				log.WithField("err", err).Warn("scheduled readiness probe failed")
				return
			}
			log.Debug("scheduled readiness probe ok")
		}); err != nil {
			return fmt.Errorf("parse --schedule: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	waitForShutdown(log)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := agent.Stop(stopCtx); err != nil {
		log.WithField("err", err).Error("error stopping agent")
	}
	return nil
}

// waitForShutdown blocks until a termination signal arrives, consulting no
// more than two of them: the first begins a graceful stop, a second forces
// immediate exit without waiting on in-flight actuators. This is the
// SIGINT -> wait -> SIGTERM -> wait -> SIGKILL sequence a daemon frontend
// owes its children, collapsed into a single process's own shutdown path.
func waitForShutdown(log *logger.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	first := <-sigCh
	log.WithField("signal", first.String()).Info("received termination signal, stopping gracefully")

	go func() {
		second := <-sigCh
		log.WithField("signal", second.String()).Warn("received second termination signal, forcing exit")
		os.Exit(1)
	}()
}

// normalizeLogLevel maps CFEngine's six-level vocabulary onto logrus's
// level names, where they diverge (notice has no logrus equivalent and
// folds into info; verbose maps to logrus's more granular trace).
func normalizeLogLevel(level string) string {
	switch level {
	case "warning":
		return "warn"
	case "notice":
		return "info"
	case "verbose":
		return "trace"
	default:
		return level
	}
}
