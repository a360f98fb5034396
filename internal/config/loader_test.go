package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/k8sai.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/k8sai.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file is missing", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.Provider.Name)
		assert.Equal(t, 10, cfg.Agent.MaxSteps)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "k8sai.json")

		testConfig := `{
			"provider": {
				"name": "anthropic",
				"model": "claude-sonnet-4-20250514",
				"api_key": "sk-ant-test123"
			},
			"kubectl": {
				"context": "kind-dev"
			}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0o644))

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Provider.Name)
		assert.Equal(t, "claude-sonnet-4-20250514", cfg.Provider.Model)
		assert.Equal(t, "sk-ant-test123", cfg.Provider.APIKey)
		assert.Equal(t, "kind-dev", cfg.Kubectl.Context)
		// Untouched sections keep their defaults.
		assert.Equal(t, 9999, cfg.Server.Port)
	})

	t.Run("derived paths are filled", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "k8sai.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+tmpDir+`"}`), 0o644))

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tmpDir, "k8sai.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(tmpDir, "keys.json"), cfg.Auth.KeysFile)
		assert.Equal(t, filepath.Join(tmpDir, "sessions"), cfg.Sessions.Dir)
		assert.Equal(t, filepath.Join(tmpDir, "clusters"), cfg.Clusters.Dir)
	})

	t.Run("provider key from environment", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "k8sai.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{}`), 0o644))

		t.Setenv("OPENAI_API_KEY", "sk-from-env-abcdefgh")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-from-env-abcdefgh", cfg.Provider.APIKey)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("not json"), 0o644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "k8sai.json")

		cfg := DefaultConfig()
		cfg.Provider.Name = "anthropic"
		cfg.Provider.Model = "claude-sonnet-4-20250514"
		cfg.Kubectl.Context = "prod-west"

		require.NoError(t, NewLoader(configPath).Save(cfg))

		loaded, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, "anthropic", loaded.Provider.Name)
		assert.Equal(t, "prod-west", loaded.Kubectl.Context)
	})

	t.Run("creates directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nested", "k8sai.json")

		require.NoError(t, NewLoader(configPath).Save(DefaultConfig()))

		_, err := os.Stat(configPath)
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/k8sai.json")
		assert.Equal(t, "/custom/path/k8sai.json", loader.GetConfigPath())
	})

	t.Run("default path", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.NotEmpty(t, path)
		assert.Contains(t, path, ".k8sai")
	})
}
