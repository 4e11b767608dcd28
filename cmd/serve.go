package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/giantswarm/dbfleet/internal/config"
	"github.com/giantswarm/dbfleet/internal/execstore"
	"github.com/giantswarm/dbfleet/internal/kvscan"
	"github.com/giantswarm/dbfleet/internal/pool"
	"github.com/giantswarm/dbfleet/internal/server"
	"github.com/giantswarm/dbfleet/internal/sqlexec"
)

// Defaults for the serve command flags.
const (
	defaultConfigPath = "/config/clouds.json"
	defaultListenAddr = ":8080"
)

// newServeCmd creates the Cobra command for starting the control plane
// HTTP server.
func newServeCmd() *cobra.Command {
	var (
		configPath    string
		listenAddr    string
		logLevel      string
		authVerifyURL string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dbfleet HTTP server",
		Long: `Starts the control plane: loads the declarative cloud configuration,
connects the shared execution store, and serves the query and cache APIs
until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load cloud configuration: %w", err)
			}
			settings := config.SettingsFromEnv(logger)

			store, storeClient := newExecutionStore(settings, logger)
			if storeClient != nil {
				defer func() { _ = storeClient.Close() }()
			}

			registry := pool.NewRegistry(cfg, logger)
			defer registry.Close()

			active := execstore.NewActiveClients()
			sqlExec := sqlexec.NewExecutor(
				&sqlexec.PoolProvider{Registry: registry}, cfg, store, active, settings, logger)
			kvExec := kvscan.NewExecutor(
				&kvscan.RegistryCluster{Registry: registry}, cfg, store, logger)

			var verifier server.PasswordVerifier
			if authVerifyURL != "" {
				verifier = &server.GatewayVerifier{URL: authVerifyURL}
			} else {
				logger.Warn("no auth verify URL configured, dangerous statements will be refused")
			}

			srv := server.New(server.Options{
				Config:   cfg,
				Settings: settings,
				Store:    store,
				Active:   active,
				SQLExec:  sqlExec,
				KVExec:   kvExec,
				KVRunner: &server.RegistryKVRunner{Registry: registry},
				Verifier: verifier,
				Logger:   logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, listenAddr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "Path to the cloud configuration JSON")
	cmd.Flags().StringVar(&listenAddr, "listen", defaultListenAddr, "HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&authVerifyURL, "auth-verify-url", "", "Session gateway endpoint for password re-verification")
	return cmd
}

// newLogger builds the process-wide JSON logger.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// newExecutionStore wires the shared Redis tier with the local fallback.
// The fallback only engages for local development endpoints.
func newExecutionStore(settings config.Settings, logger *slog.Logger) (execstore.Store, redis.UniversalClient) {
	addr := fmt.Sprintf("%s:%d", settings.RedisHost, settings.RedisPort)

	var client redis.UniversalClient
	if settings.RedisClusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       []string{addr},
			DialTimeout: 10 * time.Second,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:        addr,
			DialTimeout: 10 * time.Second,
		})
	}

	shared := execstore.NewRedisStore(client, settings.ExecutionTTL)
	local := execstore.NewMemoryStore()
	return execstore.NewTieredStore(shared, local, settings.SharedStoreIsLocal(), logger), client
}
