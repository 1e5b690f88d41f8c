package server

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultDatabaseURL        = "sqlite:///tmp/popupshop.db"
	defaultHTTPListenAddr     = ":8080"
	defaultGRPCListenAddr     = ":7070"
	defaultAllowedOrigin      = "http://localhost:8000"
	defaultSessionIssuer      = "tauth"
	defaultSessionCookie      = "app_session"
	defaultAdminRole          = "admin"
	defaultTimezone           = "UTC"
	defaultReservationPrefix  = "JJS"
	defaultRateLimitCapacity  = 60
	defaultRateLimitRefill    = 1
	defaultRateLimitInterval  = time.Second
	defaultShutdownTimeout    = 10 * time.Second
	StoreDriverGORM           = "gorm"
	StoreDriverPGX            = "pgx"
	EnvironmentProduction     = "production"
	EnvironmentDevelopment    = "development"
	memoryDatabaseURL         = "memory://"
	postgresSchemePrefix      = "postgres://"
	postgresqlSchemePrefix    = "postgresql://"
	sqliteSchemePrefix        = "sqlite://"
	defaultSQLiteDatabaseFile = "popupshop.db"
)

// Config aggregates runtime settings for popupd.
type Config struct {
	DatabaseURL             string
	StoreDriver             string
	HTTPListenAddr          string
	GRPCListenAddr          string
	AllowedOrigins          []string
	SessionSigningKey       string
	SessionIssuer           string
	SessionCookieName       string
	AdminRole               string
	Timezone                string
	ReservationPrefix       string
	RedisURL                string
	RateLimitCapacity       int
	RateLimitRefillTokens   int
	RateLimitRefillInterval time.Duration
	Environment             string
	ShutdownTimeout         time.Duration
}

// Validate applies defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGORM))
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.AdminRole = defaultIfEmpty(cfg.AdminRole, defaultAdminRole)
	cfg.Timezone = defaultIfEmpty(cfg.Timezone, defaultTimezone)
	cfg.ReservationPrefix = strings.ToUpper(defaultIfEmpty(cfg.ReservationPrefix, defaultReservationPrefix))
	cfg.Environment = strings.ToLower(defaultIfEmpty(cfg.Environment, EnvironmentProduction))
	if cfg.RateLimitCapacity <= 0 {
		cfg.RateLimitCapacity = defaultRateLimitCapacity
	}
	if cfg.RateLimitRefillTokens <= 0 {
		cfg.RateLimitRefillTokens = defaultRateLimitRefill
	}
	if cfg.RateLimitRefillInterval <= 0 {
		cfg.RateLimitRefillInterval = defaultRateLimitInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.StoreDriver != StoreDriverGORM && cfg.StoreDriver != StoreDriverPGX {
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == StoreDriverPGX && !isPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("store driver %q requires a postgres database url", StoreDriverPGX)
	}
	if cfg.Environment != EnvironmentProduction && cfg.Environment != EnvironmentDevelopment {
		return fmt.Errorf("unsupported environment %q", cfg.Environment)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

// Location returns the shop time zone. Call after Validate.
func (cfg Config) Location() *time.Location {
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return time.UTC
	}
	return location
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, postgresSchemePrefix) || strings.HasPrefix(dsn, postgresqlSchemePrefix)
}
