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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/waypointhq/waypoint/backend/internal/auth"
	"github.com/waypointhq/waypoint/backend/internal/config"
	"github.com/waypointhq/waypoint/backend/internal/database"
	"github.com/waypointhq/waypoint/backend/internal/dispatch"
	"github.com/waypointhq/waypoint/backend/internal/logging"
	"github.com/waypointhq/waypoint/backend/internal/server"
	"github.com/waypointhq/waypoint/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "waypoint-api",
		Short: "Waypoint dispatch backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newReconcileOrdersCommand())
	rootCmd.AddCommand(newMintSessionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres DSN (overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Log file path (stdout when empty)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("session-cookie", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().String("session-issuer", defaults.GetString("session.issuer"), "Expected session token issuer")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.cookie_name", "session-cookie")
	bindFlag(cmd, "session.issuer", "session-issuer")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		// A config file is optional unless one was named explicitly.
		if cfgFile != "" {
			return err
		}
	}

	return nil
}

func databaseSource(appConfig config.AppConfig) string {
	if appConfig.DatabaseDriver == config.DriverPostgres {
		return appConfig.DatabaseDSN
	}
	return appConfig.DatabasePath
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, databaseSource(appConfig), logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	dispatchService, err := dispatch.NewService(dispatch.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: dispatch.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		UsersService:     usersService,
		DispatchService:  dispatchService,
		Logger:           logger,
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

func newReconcileOrdersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-orders",
		Short: "Delete route-order rows whose driver and client pairing no longer holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcileOrders(cmd.Context())
		},
	}
}

func runReconcileOrders(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, databaseSource(appConfig), logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	dispatchService, err := dispatch.NewService(dispatch.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: dispatch.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	result, err := dispatchService.ReconcileRouteOrders(ctx)
	if err != nil {
		return err
	}
	logger.Info("route orders reconciled",
		zap.Int("checked", result.Checked),
		zap.Int("deleted", result.Deleted))
	return nil
}

func newMintSessionCommand() *cobra.Command {
	var (
		userID      string
		email       string
		displayName string
		roles       []string
		tokenTTL    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mint-session",
		Short: "Mint a development session token accepted by this API",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}

			issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
				SigningSecret: []byte(appConfig.SessionSigningKey),
				Issuer:        appConfig.SessionIssuer,
				TokenTTL:      tokenTTL,
			})
			if err != nil {
				return err
			}

			token, expiresAt, err := issuer.IssueSession(auth.SessionProfile{
				UserID:      userID,
				Email:       email,
				DisplayName: displayName,
				Roles:       roles,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "Staff identifier carried as the token subject")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name claim")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role claim, repeatable")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to the issuer's standard TTL)")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}
