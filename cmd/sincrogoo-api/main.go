package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EmmanuelGava/sincrogoo/backend/internal/auth"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/config"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/database"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/logging"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/projects"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/server"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "sincrogoo-api",
		Short: "SincroGoo content synchronization backend",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("environment", defaults.GetString("environment"), "Runtime environment (development, production)")
	cmd.PersistentFlags().String("rest-base-url", defaults.GetString("rest.base_url"), "Secondary REST write path base URL")
	cmd.PersistentFlags().String("session-signing-secret", "", "Session JWT signing secret (overrides env)")
	cmd.PersistentFlags().String("service-token-secret", "", "Service token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "environment", "environment")
	bindFlag(cmd, "rest.base_url", "rest-base-url")
	bindFlag(cmd, "session.signing_secret", "session-signing-secret")
	bindFlag(cmd, "service.token_secret", "service-token-secret")
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Environment)
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

	storeClient, err := buildStoreClient(db, appConfig, logger)
	if err != nil {
		return err
	}

	elevatedClient, err := serviceClient(appConfig)
	if err != nil {
		return err
	}

	selector := store.NewSelector(store.SelectorConfig{
		Session:    storeClient,
		Service:    elevatedClient,
		Anonymous:  storeClient,
		Production: appConfig.Production(),
		Logger:     logger,
	})

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	projectsService, err := projects.NewService(projects.ServiceConfig{
		Database:   db,
		IDProvider: store.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions: sessionValidator,
		Selector: selector,
		Projects: projectsService,
		Notifier: server.NewSyncNotifier(),
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("environment", appConfig.Environment))
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

// buildStoreClient assembles the primary gorm-backed client and, when a
// secondary REST path is configured, chains it behind a fallback wrapper.
func buildStoreClient(db *gorm.DB, appConfig config.AppConfig, logger *zap.Logger) (store.Client, error) {
	primary, err := store.NewGormClient(store.GormClientConfig{
		Database:   db,
		IDProvider: store.NewUUIDProvider(),
		Clock:      time.Now,
		Procedures: map[string]store.ProcedureFunc{
			"purge_sync_events": purgeSyncEventsProcedure(db),
		},
	})
	if err != nil {
		return nil, err
	}

	if appConfig.RESTBaseURL == "" {
		return primary, nil
	}

	secondary, err := store.NewRESTClient(store.RESTClientConfig{
		BaseURL: appConfig.RESTBaseURL,
		APIKey:  appConfig.RESTAPIKey,
	})
	if err != nil {
		return nil, err
	}

	fallback, err := store.NewFallbackClient(store.FallbackClientConfig{
		Primary:   primary,
		Secondary: secondary,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return fallback, nil
}

// serviceClient builds the elevated rung: a REST client authenticating with
// minted service tokens. The rung is absent unless both the token secret and
// the REST path are configured.
func serviceClient(appConfig config.AppConfig) (store.Client, error) {
	if appConfig.ServiceTokenSecret == "" || appConfig.RESTBaseURL == "" {
		return nil, nil
	}

	issuer := auth.NewServiceTokenIssuer(auth.ServiceTokenIssuerConfig{
		SigningSecret: []byte(appConfig.ServiceTokenSecret),
		Issuer:        appConfig.SessionIssuer,
		Audience:      appConfig.ServiceAudience,
		TokenTTL:      appConfig.ServiceTokenTTL,
	})

	return store.NewRESTClient(store.RESTClientConfig{
		BaseURL:     appConfig.RESTBaseURL,
		APIKey:      appConfig.RESTAPIKey,
		TokenSource: issuer.TokenSource(appConfig.ServiceSubject),
	})
}

// purgeSyncEventsProcedure trims forced-sync sentinel rows older than the
// supplied cutoff, returning how many were removed.
func purgeSyncEventsProcedure(db *gorm.DB) store.ProcedureFunc {
	return func(ctx context.Context, args store.Row) (store.Row, error) {
		cutoff, _ := args["before"].(string)
		if cutoff == "" {
			cutoff = time.Now().UTC().AddDate(0, -1, 0).Format(time.RFC3339)
		}
		result := db.WithContext(ctx).Exec("DELETE FROM sync_events WHERE recorded_at < ?", cutoff)
		if result.Error != nil {
			return nil, result.Error
		}
		return store.Row{"purged": result.RowsAffected}, nil
	}
}
