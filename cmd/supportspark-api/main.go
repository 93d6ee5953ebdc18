package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/supportspark/internal/auth"
	"github.com/MarcoPoloResearchLab/supportspark/internal/config"
	"github.com/MarcoPoloResearchLab/supportspark/internal/conversations"
	"github.com/MarcoPoloResearchLab/supportspark/internal/logging"
	"github.com/MarcoPoloResearchLab/supportspark/internal/observability"
	"github.com/MarcoPoloResearchLab/supportspark/internal/server"
	"github.com/MarcoPoloResearchLab/supportspark/internal/storage"
	"github.com/MarcoPoloResearchLab/supportspark/internal/supporters"
	"github.com/MarcoPoloResearchLab/supportspark/internal/uploads"
	"github.com/MarcoPoloResearchLab/supportspark/internal/users"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "supportspark-api",
		Short: "SupportSpark backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("data-dir", defaults.GetString("data.dir"), "Directory holding the JSON data files")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")
	flags.Bool("secure-cookie", defaults.GetBool("session.secure_cookie"), "Mark the session cookie Secure")
	flags.Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session lifetime in minutes")
	flags.Int64("upload-max-bytes", defaults.GetInt64("uploads.max_bytes"), "Largest accepted image upload")
	flags.Int("auth-rate-per-minute", defaults.GetInt("ratelimit.auth_per_minute"), "Auth requests allowed per client IP per minute")
	flags.String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")
	flags.Bool("demo", defaults.GetBool("demo.enabled"), "Seed and allow the demo accounts")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "data.dir", "data-dir")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.cookie_name", "cookie-name")
	bindFlag(cmd, "session.secure_cookie", "secure-cookie")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "uploads.max_bytes", "upload-max-bytes")
	bindFlag(cmd, "ratelimit.auth_per_minute", "auth-rate-per-minute")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "demo.enabled", "demo")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := observability.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	store, err := storage.Open(ctx, storage.Config{
		DataDir: appConfig.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if appConfig.DemoEnabled {
		if err := store.SeedDemoData(ctx, users.HashPassword); err != nil {
			return err
		}
	}

	validate := validator.New()
	realtime := server.NewRealtimeDispatcher()

	userService, err := users.NewService(users.ServiceConfig{
		Store:     store,
		Validator: validate,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	conversationService, err := conversations.NewService(conversations.ServiceConfig{
		Store:      store,
		Notifier:   realtime,
		Validator:  validate,
		Clock:      time.Now,
		IDProvider: conversations.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	supporterService, err := supporters.NewService(supporters.ServiceConfig{
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	uploadStore, err := uploads.NewStore(uploads.Config{
		DataDir:  store.DataDir(),
		MaxBytes: appConfig.UploadMaxBytes,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessionIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        auth.DefaultSessionIssuer,
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        auth.DefaultSessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:             userService,
		Conversations:     conversationService,
		Supporters:        supporterService,
		Uploads:           uploadStore,
		SessionIssuer:     sessionIssuer,
		SessionValidator:  sessionValidator,
		Realtime:          realtime,
		Logger:            logger,
		AllowedOrigins:    appConfig.AllowedOrigins,
		AuthRatePerMinute: appConfig.AuthRatePerMinute,
		SecureCookies:     appConfig.SecureCookies,
	})
	if err != nil {
		return err
	}

	// Event streams never finish on their own; their contexts end when shutdown starts.
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return streamCtx
		},
	}
	httpServer.RegisterOnShutdown(cancelStreams)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("data_dir", store.DataDir()),
			zap.Bool("demo", appConfig.DemoEnabled))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
