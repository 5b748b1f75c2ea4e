package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path and applies
// pending migrations.
func New(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if err := runMigrations(ctx, conn, archive.DialectSQLite); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{conn: conn}, nil
}

// sqliteDSN adds a busy timeout so concurrent writers wait instead of failing.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false: SQLite serializes writers.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Dialect() archive.Dialect {
	return archive.DialectSQLite
}

// --- Subscription Methods ---

// GetSubscriptions returns all subscriptions ordered by category and title.
func (db *DB) GetSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions ORDER BY category, title, id")
	if err != nil {
		return nil, fmt.Errorf("get subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (db *DB) GetSubscriptionByKey(ctx context.Context, archiveKey string) (*model.Subscription, error) {
	return scanOne(db.conn.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE archive_key = ?", archiveKey))
}

// GetSubscriptionByURL returns the owned subscription syncing from url.
func (db *DB) GetSubscriptionByURL(ctx context.Context, url string) (*model.Subscription, error) {
	return scanOne(db.conn.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE url = ? AND own = 1 ORDER BY id LIMIT 1", url))
}

// GetOrCreateSubscription finds a subscription by archive key, or creates it.
// The bool reports whether a row was created.
func (db *DB) GetOrCreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, bool, error) {
	existing, err := db.GetSubscriptionByKey(ctx, sub.ArchiveKey)
	if err == nil {
		return *existing, false, nil
	}
	if err != ErrNotFound {
		return model.Subscription{}, false, err
	}
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO subscriptions (title, url, category, archive_key, own) VALUES (?, ?, ?, ?, ?)",
		sub.Title, sub.URL, sub.Category, sub.ArchiveKey, sub.Own)
	if err != nil {
		return model.Subscription{}, false, fmt.Errorf("create subscription: %w", err)
	}
	sub.ID, err = res.LastInsertId()
	if err != nil {
		return model.Subscription{}, false, err
	}
	return sub, true, nil
}

// UpdateSubscriptionSynced records a successful sync and clears the last error.
func (db *DB) UpdateSubscriptionSynced(ctx context.Context, id int64, t time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE subscriptions SET last_synced = ?, last_error = '' WHERE id = ?", t.UTC(), id)
	return err
}

func (db *DB) UpdateSubscriptionError(ctx context.Context, id int64, errMsg string) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE subscriptions SET last_error = ? WHERE id = ?", errMsg, id)
	return err
}

func (db *DB) UpdateSubscriptionTitle(ctx context.Context, id int64, title string) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE subscriptions SET title = ? WHERE id = ?", title, id)
	return err
}

func (db *DB) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM subscriptions WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Settings Methods ---

// GetSetting retrieves a setting value.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var val string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	return val, err
}

// SetSetting saves a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	return err
}

// GetPollingInterval returns the polling interval in minutes, with a minimum of 15.
func (db *DB) GetPollingInterval(ctx context.Context) (int, error) {
	return pollingMinutes(db.GetSetting(ctx, model.SettingPollingInterval))
}
