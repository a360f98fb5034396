package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Wizard walks the operator through first-time setup on stdin.
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard.
func NewWizard() *Wizard {
	return &Wizard{reader: bufio.NewReader(os.Stdin)}
}

// Run collects a working configuration interactively.
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== k8sai Configuration ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// Provider
	fmt.Println("Model provider:")
	fmt.Print("Provider (openai/anthropic) [openai]: ")
	provider, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if provider == "" {
		provider = "openai"
	}
	if err := validator.ValidateProvider(provider); err != nil {
		return nil, err
	}
	cfg.Provider.Name = provider
	if provider == "anthropic" {
		cfg.Provider.Model = "claude-sonnet-4-20250514"
	}

	// API key, env fallback allowed
	for {
		fmt.Printf("%s API key (press Enter to use the environment variable): ", provider)
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		if err := validator.ValidateProviderKey(key, provider); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		cfg.Provider.APIKey = key
		break
	}

	fmt.Println()

	// Model
	fmt.Printf("Model name [%s]: ", cfg.Provider.Model)
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.Provider.Model = model
	}

	fmt.Println()

	// kubectl context
	fmt.Println("Kubernetes:")
	fmt.Print("kubectl context (press Enter for current-context): ")
	kubeCtx, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if kubeCtx != "" {
		if err := validator.ValidateKubeContext(kubeCtx); err != nil {
			fmt.Printf("Warning: %v, ignoring\n", err)
		} else {
			cfg.Kubectl.Context = kubeCtx
		}
	}

	fmt.Println()

	// Log level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
