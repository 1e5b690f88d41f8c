package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/popupshop/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "POPUPD"

	flagConfigFile        = "config"
	flagEnvFile           = "env-file"
	flagDatabaseURL       = "database-url"
	flagStoreDriver       = "store-driver"
	flagHTTPListenAddr    = "http-listen-addr"
	flagGRPCListenAddr    = "grpc-listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagJWTSigningKey     = "jwt-signing-key"
	flagJWTIssuer         = "jwt-issuer"
	flagJWTCookieName     = "jwt-cookie-name"
	flagAdminRole         = "admin-role"
	flagTimezone          = "timezone"
	flagReservationPrefix = "reservation-prefix"
	flagRedisURL          = "redis-url"
	flagRateCapacity      = "rate-limit-capacity"
	flagRateRefillTokens  = "rate-limit-refill-tokens"
	flagRateRefillEvery   = "rate-limit-refill-interval"
	flagEnvironment       = "environment"
	flagShutdownTimeout   = "shutdown-timeout"

	defaultEnvFile = ".env"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "popupd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	settings := viper.New()
	cmd := &cobra.Command{
		Use:           "popupd",
		Short:         "Pop-up shop reservation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return prepareSettings(cmd, settings)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagConfigFile, "", "optional config file (yaml, json, toml, ...)")
	flags.String(flagEnvFile, defaultEnvFile, "optional .env file loaded before reading the environment")
	flags.String(flagDatabaseURL, "", "memory://, sqlite://path or postgres:// connection string")
	flags.String(flagStoreDriver, server.StoreDriverGORM, "postgres access layer: gorm or pgx")
	flags.String(flagHTTPListenAddr, "", "HTTP listen address")
	flags.String(flagGRPCListenAddr, "", "gRPC listen address")
	flags.String(flagAllowedOrigins, "", "comma-separated CORS origins")
	flags.String(flagJWTSigningKey, "", "tauth session signing key")
	flags.String(flagJWTIssuer, "", "tauth session issuer")
	flags.String(flagJWTCookieName, "", "tauth session cookie name")
	flags.String(flagAdminRole, "", "role granting staff access")
	flags.String(flagTimezone, "", "shop time zone")
	flags.String(flagReservationPrefix, "", "reservation number prefix")
	flags.String(flagRedisURL, "", "redis url for rate limiting; empty disables it")
	flags.Int(flagRateCapacity, 0, "rate limit bucket capacity")
	flags.Int(flagRateRefillTokens, 0, "tokens added per refill interval")
	flags.Duration(flagRateRefillEvery, 0, "rate limit refill interval")
	flags.String(flagEnvironment, "", "production or development")
	flags.Duration(flagShutdownTimeout, 0, "graceful shutdown timeout")

	cmd.AddCommand(newServeCommand(settings), newMigrateCommand(settings))
	return cmd
}

func newServeCommand(settings *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, configFrom(settings))
		},
	}
}

func newMigrateCommand(settings *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(settings)
			if cfg.SessionSigningKey == "" {
				// Migrations never validate sessions.
				cfg.SessionSigningKey = "unused"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			message, err := server.MigrateDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), message)
			return nil
		},
	}
}

func prepareSettings(cmd *cobra.Command, settings *viper.Viper) error {
	flags := cmd.Flags()
	envFile, err := flags.GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if envFile != "" {
		if loadErr := godotenv.Load(envFile); loadErr != nil && !errors.Is(loadErr, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, loadErr)
		}
	}

	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindPFlags(flags); err != nil {
		return err
	}

	configFile := settings.GetString(flagConfigFile)
	if configFile == "" {
		return nil
	}
	settings.SetConfigFile(configFile)
	if err := settings.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configFile, err)
	}
	return nil
}

func configFrom(settings *viper.Viper) server.Config {
	return server.Config{
		DatabaseURL:             settings.GetString(flagDatabaseURL),
		StoreDriver:             settings.GetString(flagStoreDriver),
		HTTPListenAddr:          settings.GetString(flagHTTPListenAddr),
		GRPCListenAddr:          settings.GetString(flagGRPCListenAddr),
		AllowedOrigins:          server.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins)),
		SessionSigningKey:       settings.GetString(flagJWTSigningKey),
		SessionIssuer:           settings.GetString(flagJWTIssuer),
		SessionCookieName:       settings.GetString(flagJWTCookieName),
		AdminRole:               settings.GetString(flagAdminRole),
		Timezone:                settings.GetString(flagTimezone),
		ReservationPrefix:       settings.GetString(flagReservationPrefix),
		RedisURL:                settings.GetString(flagRedisURL),
		RateLimitCapacity:       settings.GetInt(flagRateCapacity),
		RateLimitRefillTokens:   settings.GetInt(flagRateRefillTokens),
		RateLimitRefillInterval: settings.GetDuration(flagRateRefillEvery),
		Environment:             settings.GetString(flagEnvironment),
		ShutdownTimeout:         settings.GetDuration(flagShutdownTimeout),
	}
}
