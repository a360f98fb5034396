package config

import (
	"fmt"
	"strings"
)

// Validator checks individual configuration values. Used by the wizard
// and the configure command to give per-field feedback before saving.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider checks a provider name.
func (v *Validator) ValidateProvider(name string) error {
	switch name {
	case "openai", "anthropic":
		return nil
	case "":
		return fmt.Errorf("provider name cannot be empty")
	default:
		return fmt.Errorf("invalid provider: %s (must be one of: openai, anthropic)", name)
	}
}

// ValidateProviderKey checks an API key's format for a given provider.
func (v *Validator) ValidateProviderKey(key, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel checks a model name. Unknown names are allowed so new
// models work without a release.
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateMaxSteps checks the agent loop step budget.
func (v *Validator) ValidateMaxSteps(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d", steps)
	}
	if steps > 100 {
		return fmt.Errorf("max steps too large (max 100), got %d", steps)
	}
	return nil
}

// ValidateTemperature checks a sampling temperature.
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateLogLevel checks a log level name.
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateKubeContext checks a kubectl context name. Empty means the
// kubeconfig's current context.
func (v *Validator) ValidateKubeContext(ctx string) error {
	if ctx == "" {
		return nil
	}
	if strings.ContainsAny(ctx, " \t\n") {
		return fmt.Errorf("invalid kubectl context: %q contains whitespace", ctx)
	}
	return nil
}

// ValidateConfig runs every field check and returns all failures.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateProvider(cfg.Provider.Name); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateModel(cfg.Provider.Model); err != nil {
		errs = append(errs, err)
	}
	if cfg.Provider.APIKey != "" {
		if err := v.ValidateProviderKey(cfg.Provider.APIKey, cfg.Provider.Name); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Provider.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Provider.Temperature); err != nil {
			errs = append(errs, err)
		}
	}

	if err := v.ValidateMaxSteps(cfg.Agent.MaxSteps); err != nil {
		errs = append(errs, err)
	}

	if err := v.ValidateKubeContext(cfg.Kubectl.Context); err != nil {
		errs = append(errs, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
