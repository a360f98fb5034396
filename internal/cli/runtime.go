package cli

import (
	"fmt"
	"os"

	"github.com/harunnryd/k8sai/internal/config"
	"github.com/harunnryd/k8sai/internal/logger"
	"github.com/harunnryd/k8sai/pkg/agent"
	"github.com/harunnryd/k8sai/pkg/kubectl"
	"github.com/harunnryd/k8sai/pkg/lane"
	"github.com/harunnryd/k8sai/pkg/session"
	"github.com/harunnryd/k8sai/pkg/tools"
)

// runtime bundles the components every agent-running command needs.
type runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	executor *kubectl.Executor
	registry *tools.Registry
	loop     *agent.Loop
	sessions *session.Manager
	queue    *lane.Queue
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newRuntime builds the agent loop and its dependencies from cfg. Pass
// console=false for interactive commands that own stdout.
func newRuntime(cfg *config.Config, console bool) (*runtime, error) {
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    console,
		Pretty:     console,
		Redaction:  cfg.Logging.Redaction,
		MaxSizeMB:  cfg.Logging.MaxSize,
		MaxAgeDays: cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}

	executor := kubectl.New(kubectl.Config{
		Binary:     cfg.Kubectl.Binary,
		Timeout:    cfg.Kubectl.Timeout(),
		Kubeconfig: cfg.Kubectl.Kubeconfig,
		Context:    cfg.Kubectl.Context,
		Logger:     log.For("kubectl"),
	})

	registry, err := buildToolRegistry(executor)
	if err != nil {
		return nil, err
	}

	provider, err := agent.NewProvider(cfg.Provider.Name, cfg.Provider.APIKey)
	if err != nil {
		return nil, err
	}

	loop, err := agent.New(agent.Config{
		Provider:     provider,
		Registry:     registry,
		Model:        cfg.Provider.Model,
		Temperature:  cfg.Provider.Temperature,
		MaxTokens:    cfg.Provider.MaxTokens,
		SystemPrompt: cfg.Provider.SystemPrompt,
		MaxSteps:     cfg.Agent.MaxSteps,
		Logger:       log.For("agent"),
	})
	if err != nil {
		return nil, err
	}

	sessions, err := session.New(cfg.Sessions.Dir)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		log:      log,
		executor: executor,
		registry: registry,
		loop:     loop,
		sessions: sessions,
		queue:    lane.New(),
	}, nil
}

// buildToolRegistry registers the full diagnostic tool surface.
func buildToolRegistry(executor *kubectl.Executor) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	for _, spec := range []tools.Spec{
		tools.KubectlSpec(executor),
		tools.ClusterHealthSpec(executor),
		tools.AnalyzeLogsSpec(executor),
		tools.RecommendFixesSpec(),
	} {
		if err := registry.Register(spec); err != nil {
			return nil, fmt.Errorf("failed to register tool: %w", err)
		}
	}
	return registry, nil
}

func (r *runtime) close() {
	r.queue.Close()
	if err := r.sessions.Close(); err != nil {
		r.log.Warn().Err(err).Msg("Failed to close session manager")
	}
	if err := r.log.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", err)
	}
}
