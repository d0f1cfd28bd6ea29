// Package config loads cf-agent's configuration: defaults, an optional
// YAML file, then environment-variable overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cfengine-go/agentcore/internal/framework"
)

// AgentConfig controls promise actuation pacing.
type AgentConfig struct {
	WorkDir          string        `json:"work_dir" env:"CFENGINE_WORKDIR"`
	ExtensionLibDir  string        `json:"extension_library_dir" env:"CFENGINE_EXTENSION_LIBRARY_DIR"`
	IfElapsedDefault time.Duration `json:"ifelapsed_default" env:"CFENGINE_IFELAPSED_DEFAULT"`
	SplayTime        time.Duration `json:"splay_time" env:"CFENGINE_SPLAY_TIME"`
	MaxRecursionDepth int          `json:"max_recursion_depth" env:"CFENGINE_MAX_RECURSION_DEPTH"`
	TimeoutSeconds   int           `json:"timeout_seconds" env:"CFENGINE_TIMEOUT_SECONDS"`
}

// DatabaseConfig selects and locates the embedded KV backend.
type DatabaseConfig struct {
	Backend     string `json:"backend" env:"CFENGINE_DB_BACKEND"`
	StateHandle string `json:"state_handle" env:"CFENGINE_DB_STATE_HANDLE"`
	LockHandle  string `json:"lock_handle" env:"CFENGINE_DB_LOCK_HANDLE"`
	Directory   string `json:"directory" env:"CFENGINE_DB_DIR"`
}

// NetConfig controls the wire-protocol server and peer discovery.
type NetConfig struct {
	Host             string        `json:"host" env:"CFENGINE_NET_HOST"`
	Port             int           `json:"port" env:"CFENGINE_NET_PORT"`
	TLSCertFile      string        `json:"tls_cert_file" env:"CFENGINE_TLS_CERT_FILE"`
	TLSKeyFile       string        `json:"tls_key_file" env:"CFENGINE_TLS_KEY_FILE"`
	TLSCAFile        string        `json:"tls_ca_file" env:"CFENGINE_TLS_CA_FILE"`
	MaxClockSkew     time.Duration `json:"max_clock_skew" env:"CFENGINE_MAX_CLOCK_SKEW"`
	DiscoveryEnabled bool          `json:"discovery_enabled" env:"CFENGINE_DISCOVERY_ENABLED"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"CFENGINE_LOG_LEVEL"`
	Format     string `json:"format" env:"CFENGINE_LOG_FORMAT"`
	Output     string `json:"output" env:"CFENGINE_LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"CFENGINE_LOG_FILE_PREFIX"`
}

// SecurityConfig locates key material and PRNG seeding input.
type SecurityConfig struct {
	PrivateKeyFile string `json:"private_key_file" env:"CFENGINE_PRIVATE_KEY_FILE"`
	PublicKeyFile  string `json:"public_key_file" env:"CFENGINE_PUBLIC_KEY_FILE"`
	PRNGSeedFile   string `json:"prng_seed_file" env:"CFENGINE_PRNG_SEED_FILE"`
}

// Config is the top-level cf-agent configuration structure.
type Config struct {
	Agent    AgentConfig    `json:"agent" yaml:"agent"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Net      NetConfig      `json:"net" yaml:"net"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Security SecurityConfig `json:"security" yaml:"security"`
}

// New returns a configuration populated with cf-agent's upstream defaults.
func New() *Config {
	return &Config{
		Agent: AgentConfig{
			WorkDir:           "/var/cfengine",
			IfElapsedDefault:  time.Minute,
			SplayTime:         4 * time.Minute,
			MaxRecursionDepth: 50,
			TimeoutSeconds:    600,
		},
		Database: DatabaseConfig{
			Backend:     "bbolt",
			StateHandle: "cf_state",
			LockHandle:  "cf_lock",
			Directory:   "/var/cfengine/state",
		},
		Net: NetConfig{
			Host:         "0.0.0.0",
			Port:         5308,
			MaxClockSkew: time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "cf-agent",
		},
		Security: SecurityConfig{},
	}
}

// Load loads configuration from file (if present) and environment
// variables, in that order, applying a three-layer defaults-then-file-
// then-env precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/cf-agent.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, framework.NewConfigErrorWithValue("env", err.Error(), "failed to decode environment overrides")
		}
	}

	applyWorkdirOverride(cfg)
	applyExtensionLibraryOverride(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configuration values the rest of the agent cannot act
// on, joining every problem found so a misconfigured deployment doesn't
// have to be corrected one field at a time.
func validate(cfg *Config) error {
	var problems []error
	if cfg.Net.Port <= 0 || cfg.Net.Port > 65535 {
		problems = append(problems, framework.NewConfigErrorWithValue("net.port", cfg.Net.Port, "must be between 1 and 65535"))
	}
	if cfg.Agent.TimeoutSeconds <= 0 {
		problems = append(problems, framework.NewConfigErrorWithValue("agent.timeout_seconds", cfg.Agent.TimeoutSeconds, "must be positive"))
	}
	if cfg.Agent.MaxRecursionDepth <= 0 {
		problems = append(problems, framework.NewConfigErrorWithValue("agent.max_recursion_depth", cfg.Agent.MaxRecursionDepth, "must be positive"))
	}
	switch cfg.Database.Backend {
	case "bbolt", "":
	default:
		problems = append(problems, framework.NewConfigError("database.backend", fmt.Sprintf("unsupported backend %q", cfg.Database.Backend)))
	}
	return errors.Join(problems...)
}

// LoadFile reads configuration from a YAML file, applied on top of
// defaults without any environment-variable pass.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyWorkdirOverride honors CFENGINE_TEST_OVERRIDE_WORKDIR, which test
// harnesses use to redirect the agent at a scratch directory without
// touching the real /var/cfengine tree.
func applyWorkdirOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dir := strings.TrimSpace(os.Getenv("CFENGINE_TEST_OVERRIDE_WORKDIR")); dir != "" {
		cfg.Agent.WorkDir = dir
		if cfg.Database.Directory == "" {
			cfg.Database.Directory = dir
		}
	}
}

// applyExtensionLibraryOverride honors
// CFENGINE_TEST_OVERRIDE_EXTENSION_LIBRARY_DIR.
func applyExtensionLibraryOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dir := strings.TrimSpace(os.Getenv("CFENGINE_TEST_OVERRIDE_EXTENSION_LIBRARY_DIR")); dir != "" {
		cfg.Agent.ExtensionLibDir = dir
	}
}
