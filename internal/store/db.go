package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultAcquireTimeout  = 5 * time.Second
)

// Config selects the driver and sizes the connection pool. AcquireTimeout
// bounds every operation, including the wait for a pooled connection.
type Config struct {
	Driver          string
	DSN             string
	Silent          bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration
	SkipMigrate     bool
}

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm           *gorm.DB
	acquireTimeout time.Duration
}

// Open initializes the database for the configured driver.
func Open(cfg Config) (*Database, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(sqliteDSN(dsn))
		// SQLite has a single writer and in-memory databases live on one
		// connection, so the pool is pinned to it.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	case DriverPostgres:
		dialector = postgres.Open(dsn)
		if cfg.ConnMaxLifetime <= 0 {
			cfg.ConnMaxLifetime = defaultConnMaxLifetime
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	return OpenDialector(dialector, cfg)
}

// OpenDialector opens the database on an already constructed dialector.
func OpenDialector(dialector gorm.Dialector, cfg Config) (*Database, error) {
	gcfg := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: logger.New(logrus.StandardLogger(), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
	if cfg.Silent {
		gcfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if dialector.Name() == DriverSQLite {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			logrus.WithError(err).Warn("enable WAL mode")
		}
	}

	if !cfg.SkipMigrate {
		if err := db.AutoMigrate(&User{}, &Screening{}); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		if err := applyIndexes(db); err != nil {
			return nil, fmt.Errorf("apply indexes: %w", err)
		}
	}

	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}

	logrus.WithFields(logrus.Fields{
		"driver":          dialector.Name(),
		"max_open_conns":  cfg.MaxOpenConns,
		"max_idle_conns":  cfg.MaxIdleConns,
		"acquire_timeout": timeout,
	}).Info("database ready")

	return &Database{gorm: db, acquireTimeout: timeout}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that a pooled connection can be acquired and used.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return &PersistenceError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &PersistenceError{Op: "ping", Err: err}
	}
	return nil
}

// EnsureUser inserts the user or refreshes its profile fields.
func (d *Database) EnsureUser(ctx context.Context, user *User) error {
	if user == nil {
		return errors.New("user is nil")
	}
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	err := d.gorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "updated_at"}),
	}).Create(user).Error
	if err != nil {
		return &PersistenceError{Op: "ensure user", Err: err}
	}
	return nil
}

func (d *Database) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d.acquireTimeout)
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_screenings_history ON screenings(user_id, disease, created_at DESC, id DESC)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
