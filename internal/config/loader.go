package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader resolves, reads, and writes the k8sai config file.
type Loader struct {
	configPath string
}

// NewLoader creates a loader. An empty path means the default location,
// ~/.k8sai/k8sai.json.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load reads the configuration. Precedence: defaults, then the config
// file if present, then K8SAI_* environment variables. Provider API
// keys additionally fall back to the provider's conventional variable.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path: no home directory")
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("json")

		v.SetEnvPrefix("K8SAI")
		v.AutomaticEnv()

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyDerivedPaths(cfg)
	applyEnvCredentials(cfg)

	return cfg, nil
}

// applyDerivedPaths fills path fields the user left empty.
func applyDerivedPaths(cfg *Config) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			cfg.DataDir = ".k8sai"
		} else {
			cfg.DataDir = filepath.Join(home, ".k8sai")
		}
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "k8sai.log")
	}
	if cfg.Auth.KeysFile == "" {
		cfg.Auth.KeysFile = filepath.Join(cfg.DataDir, "keys.json")
	}
	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Clusters.Dir == "" {
		cfg.Clusters.Dir = filepath.Join(cfg.DataDir, "clusters")
	}
}

// applyEnvCredentials fills the provider key from the provider's own
// environment variable when the config carries none.
func applyEnvCredentials(cfg *Config) {
	if cfg.Provider.APIKey != "" {
		return
	}
	switch cfg.Provider.Name {
	case "openai":
		cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Save writes cfg to the config file, creating the directory as needed.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path: no home directory")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("provider", cfg.Provider)
	v.Set("agent", cfg.Agent)
	v.Set("kubectl", cfg.Kubectl)
	v.Set("server", cfg.Server)
	v.Set("auth", cfg.Auth)
	v.Set("sessions", cfg.Sessions)
	v.Set("clusters", cfg.Clusters)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the effective config file path.
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".k8sai", "k8sai.json")
}

// Load is a convenience wrapper over NewLoader(path).Load().
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
