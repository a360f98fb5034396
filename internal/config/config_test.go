package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, "gpt-4o", cfg.Provider.Model)
	assert.Equal(t, 10, cfg.Agent.MaxSteps)
	assert.Equal(t, "kubectl", cfg.Kubectl.Binary)
	assert.Equal(t, 30, cfg.Kubectl.TimeoutSecs)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 9998, cfg.Server.AdminPort)
	assert.Equal(t, 24, cfg.Clusters.DefaultTTLHours)
	assert.Equal(t, 168, cfg.Clusters.MaxTTLHours)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing provider",
			mutate:  func(c *Config) { c.Provider.Name = "" },
			wantErr: "provider.name is required",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider.Name = "llama-at-home" },
			wantErr: "not supported",
		},
		{
			name:    "missing model",
			mutate:  func(c *Config) { c.Provider.Model = "" },
			wantErr: "provider.model is required",
		},
		{
			name:    "zero max steps",
			mutate:  func(c *Config) { c.Agent.MaxSteps = 0 },
			wantErr: "max_steps must be positive",
		},
		{
			name:    "missing kubectl binary",
			mutate:  func(c *Config) { c.Kubectl.Binary = "" },
			wantErr: "kubectl.binary is required",
		},
		{
			name:    "zero kubectl timeout",
			mutate:  func(c *Config) { c.Kubectl.TimeoutSecs = 0 },
			wantErr: "timeout_seconds must be positive",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "between 1 and 65535",
		},
		{
			name: "ports collide",
			mutate: func(c *Config) {
				c.Server.Port = 9999
				c.Server.AdminPort = 9999
			},
			wantErr: "must differ",
		},
		{
			name: "max ttl below default ttl",
			mutate: func(c *Config) {
				c.Clusters.DefaultTTLHours = 48
				c.Clusters.MaxTTLHours = 24
			},
			wantErr: "max_ttl_hours",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestAgentConfigInvocationTimeout(t *testing.T) {
	a := AgentConfig{InvocationTimeoutSecs: 300}
	assert.Equal(t, 5*time.Minute, a.InvocationTimeout())

	a.InvocationTimeoutSecs = 0
	assert.Equal(t, time.Duration(0), a.InvocationTimeout())
}

func TestKubectlConfigTimeout(t *testing.T) {
	k := KubectlConfig{TimeoutSecs: 30}
	assert.Equal(t, 30*time.Second, k.Timeout())
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()

	assert.Contains(t, s, `"provider"`)
	assert.Contains(t, s, `"kubectl"`)
	assert.Contains(t, s, `"gpt-4o"`)
}
