package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/waypoint/internal/auth"
	"github.com/MarcoPoloResearchLab/waypoint/internal/config"
	"github.com/MarcoPoloResearchLab/waypoint/internal/database"
	"github.com/MarcoPoloResearchLab/waypoint/internal/logging"
	"github.com/MarcoPoloResearchLab/waypoint/internal/pricecheck"
	"github.com/MarcoPoloResearchLab/waypoint/internal/server"
	"github.com/MarcoPoloResearchLab/waypoint/internal/trips"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "waypoint-api",
		Short: "Waypoint reservation price tracking service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("service-key", "", "Service key clients exchange for tokens (overrides env)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("price-source-url", defaults.GetString("pricecheck.source_url"), "Price quote endpoint base URL")
	cmd.PersistentFlags().Int("price-interval-minutes", defaults.GetInt("pricecheck.interval_minutes"), "Minutes between price sweeps")
	cmd.PersistentFlags().Int("price-delay-seconds", defaults.GetInt("pricecheck.delay_seconds"), "Seconds between reservations within a sweep")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.service_key", "service-key")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "pricecheck.source_url", "price-source-url")
	bindFlag(cmd, "pricecheck.interval_minutes", "price-interval-minutes")
	bindFlag(cmd, "pricecheck.delay_seconds", "price-delay-seconds")
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "waypoint-auth",
		Audience:      "waypoint-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	feed := trips.NewFeedDispatcher()
	tripsService, err := trips.NewService(trips.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: trips.NewUUIDProvider(),
		Logger:     logger,
		Feed:       feed,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var checker *pricecheck.Checker
	if appConfig.PriceChecksEnabled {
		source, err := pricecheck.NewHTTPPriceSource(pricecheck.HTTPPriceSourceConfig{
			BaseURL: appConfig.PriceSourceURL,
		})
		if err != nil {
			return err
		}
		checker, err = pricecheck.NewChecker(pricecheck.CheckerConfig{
			Service:    tripsService,
			Source:     source,
			Logger:     logger,
			CheckDelay: appConfig.PriceCheckDelay,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := checker.Run(signalCtx, appConfig.PriceCheckInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("price check worker stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Info("price checks disabled, no source url configured")
	}

	deps := server.Dependencies{
		ServiceKey:   appConfig.ServiceKey,
		TokenManager: tokenManager,
		TripsService: tripsService,
		Feed:         feed,
		Logger:       logger,
	}
	if checker != nil {
		deps.Checker = checker
	}
	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
