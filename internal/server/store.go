package server

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/popupshop/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/popupshop/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/popupshop/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	databaseMemory   = "memory"
	databasePostgres = "postgres"
	databaseSQLite   = "sqlite"
)

// OpenStore connects the configured backend, brings its schema up to date and
// returns the store with a cleanup func.
func OpenStore(ctx context.Context, cfg Config, log *zap.Logger) (booking.Store, func(), error) {
	database, sqlitePath, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	switch database {
	case databaseMemory:
		log.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), func() {}, nil
	case databasePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		if err := pgstore.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if cfg.StoreDriver == StoreDriverPGX {
			return pgstore.New(pool), pool.Close, nil
		}
		pool.Close()
		db, cleanup, err := openGorm(postgres.Open(cfg.DatabaseURL))
		if err != nil {
			return nil, nil, err
		}
		return gormstore.New(db), cleanup, nil
	default:
		db, cleanup, err := openGorm(sqlite.Open(sqlitePath))
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		if err := gormstore.AutoMigrate(db); err != nil {
			cleanup()
			return nil, nil, err
		}
		return gormstore.New(db), cleanup, nil
	}
}

// MigrateDatabase applies the schema without starting the service.
func MigrateDatabase(ctx context.Context, cfg Config) (string, error) {
	database, sqlitePath, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return "", err
	}
	switch database {
	case databaseMemory:
		return "in-memory store needs no migration", nil
	case databasePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return "", fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return "", err
		}
		version, err := pgstore.SchemaVersion(ctx, pool)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("postgres schema at version %d", version), nil
	default:
		db, cleanup, err := openGorm(sqlite.Open(sqlitePath))
		if err != nil {
			return "", err
		}
		defer cleanup()
		if err := gormstore.AutoMigrate(db); err != nil {
			return "", err
		}
		return fmt.Sprintf("sqlite schema migrated at %s", sqlitePath), nil
	}
}

func openGorm(dialector gorm.Dialector) (*gorm.DB, func(), error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if dsn == memoryDatabaseURL {
		return databaseMemory, "", nil
	}
	if isPostgresURL(dsn) {
		return databasePostgres, "", nil
	}
	if strings.HasPrefix(dsn, sqliteSchemePrefix) {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteDatabaseFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return databaseSQLite, sqlitePath, err
	}
	// Anything else is a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return databaseSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	relative := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(relative), 0o755); err != nil {
		return "", err
	}
	return relative, nil
}
