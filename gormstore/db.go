package gormstore

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/MrEthical07/goIdP/gormstore/migrations"
	"github.com/glebarez/sqlite"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialect names accepted by Open and Migrate.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

func newGormLogger() logger.Interface {
	return logger.New(log.StandardLogger(), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         newGormLogger(),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Open opens a gorm connection, choosing the dialect from the DSN.
func Open(dsn string) (*gorm.DB, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, "", fmt.Errorf("gormstore: empty dsn")
	}
	dialect := DetectDialect(trimmed)
	var (
		conn *gorm.DB
		err  error
	)
	switch dialect {
	case DialectPostgres:
		conn, err = OpenPostgres(trimmed)
	default:
		conn, err = OpenSQLite(trimmed)
	}
	return conn, dialect, err
}

// DetectDialect infers the dialect from a DSN. Anything that does not look
// like a PostgreSQL URL or keyword DSN is treated as a SQLite path.
func DetectDialect(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "sslmode="):
		return DialectPostgres
	default:
		return DialectSQLite
	}
}

// OpenPostgres opens a PostgreSQL connection.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("gormstore: open postgres: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("gormstore: open postgres sql: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := ping(conn); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return conn, nil
}

// OpenSQLite opens a SQLite database. ":memory:" gives a private in-memory
// database.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite://"), "sqlite3://")
	conn, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("gormstore: open sqlite: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("gormstore: open sqlite sql: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases
	// shared across calls.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if err := conn.Exec(pragma).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("gormstore: %s: %w", pragma, err)
		}
	}
	if err := ping(conn); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return conn, nil
}

func ping(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("gormstore: ping: %w", err)
	}
	return nil
}

// Migrate applies every pending migration for dialect.
func Migrate(ctx context.Context, conn *gorm.DB, dialect string) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}

	var (
		fsys        fs.FS
		gooseDriver goose.Dialect
	)
	switch dialect {
	case DialectPostgres:
		sub, err := fs.Sub(migrations.Postgres, "postgres")
		if err != nil {
			return err
		}
		fsys, gooseDriver = sub, goose.DialectPostgres
	case DialectSQLite:
		sub, err := fs.Sub(migrations.SQLite, "sqlite")
		if err != nil {
			return err
		}
		fsys, gooseDriver = sub, goose.DialectSQLite3
	default:
		return fmt.Errorf("gormstore: unsupported dialect %q", dialect)
	}

	provider, err := goose.NewProvider(gooseDriver, sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("gormstore: migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("gormstore: migrate up: %w", err)
	}
	return nil
}
