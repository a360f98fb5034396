package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig points the CLI at a throwaway data directory.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cfg := map[string]interface{}{
		"provider": map[string]interface{}{"name": "openai", "model": "gpt-4o"},
		"auth":     map[string]interface{}{"keys_file": filepath.Join(dir, "keys.json")},
		"data_dir": dir,
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(dir, "k8sai.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	cmd.SetArgs(args)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)

	err := cmd.Execute()
	return output.String(), err
}

func TestKeysCommands(t *testing.T) {
	t.Run("should generate list and revoke a key", func(t *testing.T) {
		configPath := writeTestConfig(t)

		out, err := runCLI(t, "--config", configPath, "keys", "generate", "--name", "ci-bot")
		require.NoError(t, err)
		assert.Contains(t, out, `Generated key "ci-bot"`)

		keyPattern := regexp.MustCompile(`sk-k8sai-ci-bot-\S{16}`)
		key := keyPattern.FindString(out)
		require.NotEmpty(t, key)

		out, err = runCLI(t, "--config", configPath, "keys", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "ci-bot")
		assert.NotContains(t, out, key)

		out, err = runCLI(t, "--config", configPath, "keys", "revoke", "ci-bot")
		require.NoError(t, err)
		assert.Contains(t, out, `Revoked key "ci-bot"`)

		out, err = runCLI(t, "--config", configPath, "keys", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "No API keys")
	})

	t.Run("should revoke by full key", func(t *testing.T) {
		configPath := writeTestConfig(t)

		out, err := runCLI(t, "--config", configPath, "keys", "generate", "--name", "deploy")
		require.NoError(t, err)
		key := regexp.MustCompile(`sk-k8sai-deploy-\S{16}`).FindString(out)
		require.NotEmpty(t, key)

		_, err = runCLI(t, "--config", configPath, "keys", "revoke", key)
		require.NoError(t, err)

		out, err = runCLI(t, "--config", configPath, "keys", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "No API keys")
	})

	t.Run("should reject an empty name", func(t *testing.T) {
		configPath := writeTestConfig(t)

		_, err := runCLI(t, "--config", configPath, "keys", "generate", "--name", "##")
		assert.Error(t, err)
	})

	t.Run("should fail revoking an unknown key", func(t *testing.T) {
		configPath := writeTestConfig(t)

		_, err := runCLI(t, "--config", configPath, "keys", "revoke", "nobody")
		assert.Error(t, err)
	})
}
