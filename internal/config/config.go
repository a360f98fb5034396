package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the root k8sai configuration.
type Config struct {
	// Model provider used by the agent loop
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Agent loop behavior
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// kubectl execution
	Kubectl KubectlConfig `json:"kubectl" mapstructure:"kubectl"`

	// A2A and admin listeners
	Server ServerConfig `json:"server" mapstructure:"server"`

	// API key store
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Conversation persistence
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Registered cluster sessions
	Clusters ClustersConfig `json:"clusters" mapstructure:"clusters"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory, default ~/.k8sai
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig selects and configures the language model provider.
type ProviderConfig struct {
	Name         string  `json:"name" mapstructure:"name"` // openai, anthropic
	Model        string  `json:"model" mapstructure:"model"`
	APIKey       string  `json:"api_key" mapstructure:"api_key"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
}

// AgentConfig bounds a single agent loop invocation.
type AgentConfig struct {
	MaxSteps              int `json:"max_steps" mapstructure:"max_steps"`
	InvocationTimeoutSecs int `json:"invocation_timeout_seconds" mapstructure:"invocation_timeout_seconds"`
}

// InvocationTimeout returns the whole-invocation deadline, 0 meaning none.
func (a AgentConfig) InvocationTimeout() time.Duration {
	return time.Duration(a.InvocationTimeoutSecs) * time.Second
}

// KubectlConfig configures the command executor.
type KubectlConfig struct {
	Binary      string `json:"binary" mapstructure:"binary"`
	TimeoutSecs int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	Context     string `json:"context" mapstructure:"context"`
	Kubeconfig  string `json:"kubeconfig" mapstructure:"kubeconfig"`
}

// Timeout returns the per-command deadline.
func (k KubectlConfig) Timeout() time.Duration {
	return time.Duration(k.TimeoutSecs) * time.Second
}

// ServerConfig configures the A2A and admin HTTP listeners.
type ServerConfig struct {
	Host      string `json:"host" mapstructure:"host"`
	Port      int    `json:"port" mapstructure:"port"`
	AdminPort int    `json:"admin_port" mapstructure:"admin_port"`
}

// AuthConfig configures bearer authentication.
type AuthConfig struct {
	KeysFile string `json:"keys_file" mapstructure:"keys_file"`
}

// SessionsConfig configures conversation persistence.
type SessionsConfig struct {
	Dir              string `json:"dir" mapstructure:"dir"`
	RetentionDays    int    `json:"retention_days" mapstructure:"retention_days"`
	ArchiveAfterDays int    `json:"archive_after_days" mapstructure:"archive_after_days"`
}

// ClustersConfig configures the cluster session registry.
type ClustersConfig struct {
	Dir              string `json:"dir" mapstructure:"dir"`
	DefaultTTLHours  int    `json:"default_ttl_hours" mapstructure:"default_ttl_hours"`
	MaxTTLHours      int    `json:"max_ttl_hours" mapstructure:"max_ttl_hours"`
	SweepIntervalMin int    `json:"sweep_interval_minutes" mapstructure:"sweep_interval_minutes"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultSystemPrompt is the instruction the model receives before any
// conversation turns.
const DefaultSystemPrompt = "You are a Kubernetes expert ready to help. " +
	"Use the available tools to inspect the cluster before answering, and " +
	"explain what you found in plain language."

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:         "openai",
			Model:        "gpt-4o",
			Temperature:  0.2,
			MaxTokens:    4096,
			SystemPrompt: DefaultSystemPrompt,
		},
		Agent: AgentConfig{
			MaxSteps:              10,
			InvocationTimeoutSecs: 300,
		},
		Kubectl: KubectlConfig{
			Binary:      "kubectl",
			TimeoutSecs: 30,
		},
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      9999,
			AdminPort: 9998,
		},
		Sessions: SessionsConfig{
			RetentionDays:    30,
			ArchiveAfterDays: 7,
		},
		Clusters: ClustersConfig{
			DefaultTTLHours:  24,
			MaxTTLHours:      168,
			SweepIntervalMin: 10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns an indented JSON rendering of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks structural validity. Provider credentials are checked
// at client construction, not here, so read-only commands work without
// a key.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "openai", "anthropic":
	case "":
		return fmt.Errorf("provider.name is required")
	default:
		return fmt.Errorf("provider.name %q is not supported (must be: openai, anthropic)", c.Provider.Name)
	}

	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}

	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.InvocationTimeoutSecs < 0 {
		return fmt.Errorf("agent.invocation_timeout_seconds must be >= 0")
	}

	if c.Kubectl.Binary == "" {
		return fmt.Errorf("kubectl.binary is required")
	}
	if c.Kubectl.TimeoutSecs <= 0 {
		return fmt.Errorf("kubectl.timeout_seconds must be positive, got %d", c.Kubectl.TimeoutSecs)
	}

	if err := validatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := validatePort("server.admin_port", c.Server.AdminPort); err != nil {
		return err
	}
	if c.Server.Port == c.Server.AdminPort {
		return fmt.Errorf("server.port and server.admin_port must differ, both are %d", c.Server.Port)
	}

	if c.Clusters.DefaultTTLHours <= 0 {
		return fmt.Errorf("clusters.default_ttl_hours must be positive")
	}
	if c.Clusters.MaxTTLHours < c.Clusters.DefaultTTLHours {
		return fmt.Errorf("clusters.max_ttl_hours must be >= clusters.default_ttl_hours")
	}

	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", field, port)
	}
	return nil
}
