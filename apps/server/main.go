package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/auth"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/clock"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/config"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/coord"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/events"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/gateway"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/ledger"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/logging"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/room"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/server"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/telemetry"
	"github.com/Nera26/pokerhub-sub001/holdem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pokerhub",
		Short: "Poker table hosting server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCmd(), newTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <playerId> <tableId>",
		Short: "Issue a handshake token for local testing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("auth.signing_secret")
			if secret == "" {
				return fmt.Errorf("auth.signing_secret is required to issue tokens")
			}
			token, err := auth.Issue(secret, args[0], args[1], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("coord-driver", defaults.GetString("coord.driver"), "Coordination store (memory, redis, bolt)")
	cmd.PersistentFlags().String("redis-url", "", "Redis URL for the redis coordination store")
	cmd.PersistentFlags().String("storage-driver", defaults.GetString("storage.driver"), "Hand storage (memory, sqlite, postgres)")
	cmd.PersistentFlags().Bool("followers", defaults.GetBool("room.followers"), "Run a hot standby per table")
	cmd.PersistentFlags().String("signing-secret", "", "Handshake token secret (overrides env)")
	cmd.PersistentFlags().Bool("dev", false, "Allow running without room.deck_secret (decks do not survive restarts)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "coord.driver", "coord-driver")
	bindFlag(cmd, "coord.redis_url", "redis-url")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "room.followers", "followers")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "room.dev_mode", "dev")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(signalCtx, "pokerhub", appConfig.OTelEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	store, err := coord.Open(signalCtx, coord.Options{
		Driver:   appConfig.CoordDriver,
		RedisURL: appConfig.CoordRedisURL,
		BoltPath: appConfig.CoordBoltPath,
	}, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ledgerStore, ledgerMode, err := ledger.NewStore(ledger.Options{
		Driver:      appConfig.StorageDriver,
		SQLitePath:  appConfig.StorageSQLitePath,
		PostgresDSN: appConfig.StoragePostgresDSN,
	}, logger)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	rules := holdem.DefaultConfig()
	rules.DeckSecret = appConfig.DeckSecret
	if rules.DeckSecret == "" {
		logger.Warn("dev mode: using a random per-process deck secret")
	}
	engine, err := holdem.NewGame(rules)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rooms, err := room.NewManager(room.Options{
		Engine:          engine,
		Store:           store,
		Logger:          logger,
		Followers:       appConfig.Followers,
		RecoveryTimeout: appConfig.RecoveryTimeout,
		Metrics:         room.NewMetrics(registry),
	})
	if err != nil {
		return err
	}
	defer rooms.CloseAll()

	analytics := events.NewPublisher(store, logger)
	defer analytics.Close()

	timers := clock.New(appConfig.TickInterval)
	defer timers.Stop()

	opts := gateway.DefaultOptions()
	opts.QueueLimit = appConfig.QueueLimit
	opts.QueueAlertThreshold = appConfig.QueueAlertThreshold
	opts.SocketLimit = appConfig.SocketLimit
	opts.GlobalLimit = appConfig.GlobalLimit
	opts.RateWindow = appConfig.RateWindow
	opts.ActionTimeout = appConfig.ActionTimeout
	opts.DefaultAction = appConfig.DefaultAction
	opts.SnapshotInterval = appConfig.SnapshotInterval

	gw, err := gateway.New(opts, gateway.Dependencies{
		Rooms:      rooms,
		Store:      store,
		Ledger:     ledgerStore,
		Clock:      timers,
		Events:     analytics,
		Auth:       auth.NewVerifier(appConfig.SigningSecret),
		Logger:     logger,
		Registerer: registry,
	})
	if err != nil {
		return err
	}
	if err := gw.Start(signalCtx); err != nil {
		return err
	}
	defer gw.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Gateway:  gw,
		Rooms:    rooms,
		Ledger:   ledgerStore,
		Gatherer: registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("coord", appConfig.CoordDriver),
			zap.String("ledger", ledgerMode),
			zap.Bool("followers", appConfig.Followers),
			zap.Bool("auth", appConfig.SigningSecret != ""))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
