package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// DB is a connection pool together with the dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Connect opens the configured database with sensible pooling defaults.
func Connect(ctx context.Context, driver, dsn string) (*DB, error) {
	switch Dialect(driver) {
	case MySQL:
		return connectMySQL(ctx, dsn)
	case SQLite:
		return connectSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func connectMySQL(ctx context.Context, dsn string) (*DB, error) {
	mcfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	mcfg.ParseTime = true
	mcfg.Loc = time.UTC

	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetConnMaxLifetime(time.Minute * 5)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &DB{DB: db, Dialect: MySQL}, nil
}

func connectSQLite(ctx context.Context, path string) (*DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; one connection serializes every transaction.
	db.SetMaxOpenConns(1)

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &DB{DB: db, Dialect: SQLite}, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()
	return db.PingContext(ctx)
}

// Migrate runs the bootstrap schema to ensure required tables exist.
func Migrate(ctx context.Context, db *DB) error {
	statements := mysqlSchema
	if db.Dialect == SQLite {
		statements = sqliteSchema
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a duplicate-key error from either backend.
func (db *DB) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")
	}
	return false
}

// UpsertUsageAnalytics is the create-or-increment statement for the daily rollup.
// Arguments: user_id, day, generation_type, count, credits_used.
func (db *DB) UpsertUsageAnalytics() string {
	if db.Dialect == SQLite {
		return `
INSERT INTO usage_analytics (user_id, day, generation_type, count, credits_used)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id, day, generation_type)
DO UPDATE SET count = count + excluded.count, credits_used = credits_used + excluded.credits_used`
	}
	return `
INSERT INTO usage_analytics (user_id, day, generation_type, count, credits_used)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE count = count + VALUES(count), credits_used = credits_used + VALUES(credits_used)`
}

// Now is the timestamp written by every repository, truncated to what DATETIME(6) keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// ForUpdate is the row-lock suffix for SELECTs inside a transaction. SQLite locks the
// whole database for writers, so it needs none.
func (db *DB) ForUpdate() string {
	if db.Dialect == SQLite {
		return ""
	}
	return " FOR UPDATE"
}
