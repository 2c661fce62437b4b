package config

import (
	"fmt"

	"github.com/kbukum/guardkit/dlock"
	"github.com/kbukum/guardkit/logger"
	"github.com/kbukum/guardkit/resilience"
)

// DefaultPolicyName is the policy set entry used for keys without a
// dedicated policy.
const DefaultPolicyName = "default"

// Config is the root guardkit configuration.
type Config struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`

	Logging logger.Config `yaml:"logging" mapstructure:"logging"`

	// Policies maps a policy name (usually a dependency key) to its
	// resilience policy. The "default" entry backs unnamed keys.
	Policies map[string]resilience.Policy `yaml:"policies" mapstructure:"policies"`

	Lock LockConfig `yaml:"lock" mapstructure:"lock"`
}

// LockConfig configures the distributed lock backend.
type LockConfig struct {
	// Enabled controls whether the lock backend is active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	Redis dlock.RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// PolicyFor returns the policy registered under name, falling back to
// the default entry, falling back to library defaults.
func (c *Config) PolicyFor(name string) resilience.Policy {
	if p, ok := c.Policies[name]; ok {
		return p
	}
	if p, ok := c.Policies[DefaultPolicyName]; ok {
		return p
	}
	return resilience.DefaultPolicy()
}

// ApplyDefaults fills zero-valued fields across the whole tree.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Logging.ServiceName == "" && c.Name != "" {
		c.Logging.ServiceName = c.Name
	}
	c.Logging.ApplyDefaults()

	for name, p := range c.Policies {
		p.ApplyDefaults()
		c.Policies[name] = p
	}
	if c.Lock.Enabled {
		c.Lock.Redis.ApplyDefaults()
	}
}

// Validate checks the whole tree.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config.name is required")
	}
	switch c.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("config.environment must be one of [development, staging, production] (got: %s)", c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	for name, p := range c.Policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("config.policies.%s: %w", name, err)
		}
	}
	if c.Lock.Enabled {
		if err := c.Lock.Redis.Validate(); err != nil {
			return fmt.Errorf("config.lock.redis: %w", err)
		}
	}
	return nil
}
