package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GovernanceProfile is a deployment-specific override set for the runtime
// knobs that are safe to tune per environment. Decision rules and
// graduation gates are code, not configuration.
type GovernanceProfile struct {
	Name    string        `yaml:"name" json:"name"`
	Code    string        `yaml:"code" json:"code"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Sandbox SandboxConfig `yaml:"sandbox" json:"sandbox"`
	Workers WorkerConfig  `yaml:"workers" json:"workers"`
}

// CacheConfig tunes the permission decision cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`
	Capacity   int `yaml:"capacity" json:"capacity"`
}

// SandboxConfig tunes sandboxed execution limits. TimeoutSeconds may only
// lower the hard five-minute ceiling, never raise it.
type SandboxConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	MemoryLimitMB  int `yaml:"memory_limit_mb" json:"memory_limit_mb"`
}

// WorkerConfig sizes the execution worker pool.
type WorkerConfig struct {
	Sandbox int `yaml:"sandbox" json:"sandbox"`
}

// TTL returns the cache TTL, or 0 when unset (caller applies its default).
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Timeout returns the sandbox timeout, or 0 when unset.
func (c SandboxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoadProfile loads a governance profile YAML by deployment code. It reads
// profile_<code>.yaml from the profiles directory.
func LoadProfile(profilesDir, code string) (*GovernanceProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile GovernanceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*GovernanceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*GovernanceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile GovernanceProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}
