package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harunnryd/k8sai/internal/metrics"
	"github.com/harunnryd/k8sai/internal/observability"
	"github.com/harunnryd/k8sai/internal/tracing"
	"github.com/harunnryd/k8sai/pkg/a2a"
	"github.com/harunnryd/k8sai/pkg/apikey"
	"github.com/harunnryd/k8sai/pkg/cluster"
	"github.com/harunnryd/k8sai/pkg/session"
)

var (
	servePort      int
	serveAdminPort int
	serveAuthKey   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over the A2A protocol",
	Long: `Serve the agent over the A2A protocol: an agent card for discovery,
a JSON-RPC message endpoint with a WebSocket streaming variant, and a
separate admin listener for cluster session management. All non-discovery
traffic requires an API key; create one with "k8sai keys generate".`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "A2A listener port (overrides config)")
	serveCmd.Flags().IntVar(&serveAdminPort, "admin-port", 0, "admin listener port (overrides config)")
	serveCmd.Flags().StringVar(&serveAuthKey, "auth-key", "", "extra API key accepted for this process only")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveAdminPort != 0 {
		cfg.Server.AdminPort = serveAdminPort
	}

	rt, err := newRuntime(cfg, true)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		rt.log.Warn().Err(err).Msg("Audit log unavailable, auditing to process logger")
	}
	if err := tracing.InitOpenTelemetry(tracing.ServiceName); err != nil {
		rt.log.Warn().Err(err).Msg("Tracing unavailable")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			rt.log.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}()

	store, err := apikey.New(filepath.Dir(cfg.Auth.KeysFile))
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	store.AddExtra(serveAuthKey)
	watcher, err := apikey.NewWatcher(store, 0)
	if err != nil {
		return fmt.Errorf("failed to create key watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to stop key watcher")
		}
	}()

	clusters, err := cluster.New(cluster.Config{
		Dir:           cfg.Clusters.Dir,
		DefaultTTL:    time.Duration(cfg.Clusters.DefaultTTLHours) * time.Hour,
		MaxTTL:        time.Duration(cfg.Clusters.MaxTTLHours) * time.Hour,
		SweepInterval: time.Duration(cfg.Clusters.SweepIntervalMin) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to open cluster registry: %w", err)
	}
	if err := clusters.StartSweeper(); err != nil {
		return err
	}
	defer clusters.StopSweeper()

	archiver := session.NewArchiver(rt.sessions,
		time.Duration(cfg.Sessions.ArchiveAfterDays)*24*time.Hour,
		time.Duration(cfg.Sessions.RetentionDays)*24*time.Hour)
	if err := archiver.Start(); err != nil {
		return err
	}
	defer archiver.Stop()

	// One metrics instance for both listeners, so the admin /metrics
	// endpoint scrapes A2A traffic too.
	serveMetrics := metrics.NewMetrics()

	server, err := a2a.NewServer(a2a.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		Version:           version,
		Store:             store,
		Clusters:          clusters,
		Sessions:          rt.sessions,
		Queue:             rt.queue,
		Loop:              rt.loop,
		Metrics:           serveMetrics,
		Logger:            rt.log.For("a2a"),
		InvocationTimeout: cfg.Agent.InvocationTimeout(),
	})
	if err != nil {
		return err
	}

	admin, err := a2a.NewAdminServer(a2a.AdminConfig{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.AdminPort,
		Version:  version,
		Store:    store,
		Clusters: clusters,
		Metrics:  serveMetrics,
		Logger:   rt.log.For("admin"),
	})
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}
	if err := admin.Start(); err != nil {
		_ = server.Stop()
		return err
	}

	rt.log.Info().
		Int("port", cfg.Server.Port).
		Int("admin_port", cfg.Server.AdminPort).
		Str("provider", cfg.Provider.Name).
		Str("model", cfg.Provider.Model).
		Msg("k8sai is serving")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	sig := <-stop
	rt.log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if err := admin.Stop(); err != nil {
		rt.log.Warn().Err(err).Msg("Admin server shutdown failed")
	}
	if err := server.Stop(); err != nil {
		rt.log.Warn().Err(err).Msg("A2A server shutdown failed")
	}
	if !rt.queue.WaitForActive(30 * time.Second) {
		rt.log.Warn().Msg("Timed out waiting for in-flight invocations")
	}
	return nil
}
