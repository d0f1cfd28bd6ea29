package framework

import (
	"fmt"
	"strings"
)

// Manifest captures one agent module's contract with the Agent
// orchestrator: the capabilities it offers, the modules it depends on,
// and descriptive metadata.
type Manifest struct {
	Name         string            `json:"name,omitempty"`
	Domain       string            `json:"domain,omitempty"`
	Description  string            `json:"description,omitempty"`
	Version      string            `json:"version,omitempty"`
	DependsOn    []string          `json:"depends_on,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Enabled      *bool             `json:"enabled,omitempty"` // nil means default (enabled)
}

// Normalize cleans up whitespace and dedupes fields.
func (m *Manifest) Normalize() {
	if m == nil {
		return
	}
	m.Name = strings.TrimSpace(m.Name)
	m.Domain = strings.TrimSpace(m.Domain)
	m.Description = strings.TrimSpace(m.Description)
	m.Version = strings.TrimSpace(m.Version)
	m.DependsOn = dedupeStrings(m.DependsOn)
	m.Capabilities = dedupeStrings(m.Capabilities)

	if m.Tags != nil {
		cleaned := make(map[string]string)
		for k, v := range m.Tags {
			k = strings.TrimSpace(k)
			if k != "" {
				cleaned[k] = strings.TrimSpace(v)
			}
		}
		m.Tags = cleaned
	}
}

// Validate performs lightweight checks for operator visibility.
func (m *Manifest) Validate() error {
	if m == nil {
		return nil
	}
	if m.Name == "" {
		return fmt.Errorf("manifest name required")
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	return out
}

// IsEnabled returns whether the module is enabled (defaults to true if nil).
func (m *Manifest) IsEnabled() bool {
	if m == nil || m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// SetEnabled sets the enabled flag.
func (m *Manifest) SetEnabled(enabled bool) { m.Enabled = &enabled }

// HasCapability checks if the manifest declares a specific capability.
func (m *Manifest) HasCapability(cap string) bool {
	if m == nil {
		return false
	}
	capLower := strings.ToLower(strings.TrimSpace(cap))
	for _, c := range m.Capabilities {
		if strings.ToLower(c) == capLower {
			return true
		}
	}
	return false
}

// SetTag sets a tag key-value pair.
func (m *Manifest) SetTag(key, value string) {
	if m.Tags == nil {
		m.Tags = make(map[string]string)
	}
	m.Tags[key] = value
}

// DependsOnModule checks if the manifest depends on a specific module.
func (m *Manifest) DependsOnModule(name string) bool {
	if m == nil {
		return false
	}
	nameLower := strings.ToLower(strings.TrimSpace(name))
	for _, d := range m.DependsOn {
		if strings.ToLower(d) == nameLower {
			return true
		}
	}
	return false
}

// Merge combines another manifest into this one. The other manifest's
// non-empty values take precedence; lists and maps merge additively.
func (m *Manifest) Merge(other *Manifest) {
	if m == nil || other == nil {
		return
	}
	if other.Name != "" {
		m.Name = other.Name
	}
	if other.Domain != "" {
		m.Domain = other.Domain
	}
	if other.Description != "" {
		m.Description = other.Description
	}
	if other.Version != "" {
		m.Version = other.Version
	}
	if other.Enabled != nil {
		m.Enabled = other.Enabled
	}
	m.DependsOn = append(m.DependsOn, other.DependsOn...)
	m.Capabilities = append(m.Capabilities, other.Capabilities...)
	if len(other.Tags) > 0 {
		if m.Tags == nil {
			m.Tags = make(map[string]string)
		}
		for k, v := range other.Tags {
			m.Tags[k] = v
		}
	}
}

// ManifestValidator is an interface for custom manifest validation.
type ManifestValidator interface {
	ValidateManifest(m *Manifest) error
}

// ManifestValidatorFunc is a function type that implements ManifestValidator.
type ManifestValidatorFunc func(*Manifest) error

// ValidateManifest implements ManifestValidator.
func (f ManifestValidatorFunc) ValidateManifest(m *Manifest) error { return f(m) }
