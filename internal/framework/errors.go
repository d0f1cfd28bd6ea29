// Package framework provides the agent module development framework: a
// builder for wiring kv/lastseen/netcache/wire/actuation modules into the
// Agent orchestrator with consistent lifecycle, manifest, and error
// handling.
package framework

import (
	"errors"
	"fmt"
)

// Standard framework errors.
var (
	// ErrServiceAlreadyStarted is returned when trying to start a service that's already running.
	ErrServiceAlreadyStarted = errors.New("service already started")

	// ErrInvalidConfig is returned when service configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidManifest is returned when a service manifest is invalid.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrHookFailed is returned when a lifecycle hook fails.
	ErrHookFailed = errors.New("lifecycle hook failed")
)

// ServiceError wraps an error with service context.
type ServiceError struct {
	Service string // Service name
	Op      string // Operation that failed
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(service, op string, err error) *ServiceError {
	return &ServiceError{
		Service: service,
		Op:      op,
		Err:     err,
	}
}

// WrapServiceError wraps an error with service context.
// If err is nil, returns nil.
func WrapServiceError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return NewServiceError(service, op, err)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string // Configuration field name
	Value   any    // Invalid value (optional)
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("config error: %s=%v: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// Unwrap returns ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewConfigErrorWithValue creates a new ConfigError with the invalid value.
func NewConfigErrorWithValue(field string, value any, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// HookError represents a lifecycle hook error.
type HookError struct {
	Service  string // Service name
	HookType string // Hook type (PreStart, PostStart, PreStop, PostStop)
	HookName string // Optional hook name
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *HookError) Error() string {
	if e.HookName != "" {
		return fmt.Sprintf("%s: %s hook %q failed: %v", e.Service, e.HookType, e.HookName, e.Err)
	}
	return fmt.Sprintf("%s: %s hook failed: %v", e.Service, e.HookType, e.Err)
}

// Unwrap returns the underlying error.
func (e *HookError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrHookFailed, so callers can classify a
// HookError without knowing its HookType/HookName via a plain
// errors.Is(err, framework.ErrHookFailed) check.
func (e *HookError) Is(target error) bool {
	return target == ErrHookFailed
}

// NewHookError creates a new HookError.
func NewHookError(service, hookType string, err error) *HookError {
	return &HookError{
		Service:  service,
		HookType: hookType,
		Err:      err,
	}
}

// IsConfigError returns true if the error is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsHookError returns true if the error is a hook error.
func IsHookError(err error) bool {
	return errors.Is(err, ErrHookFailed)
}
