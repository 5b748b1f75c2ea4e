// Package database keeps the catalog of hosted and mirrored feeds. The same
// database also carries the tables of the sql archive backend.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("subscription not found")

// DefaultPollingMinutes is the polling interval floor, in minutes.
const DefaultPollingMinutes = 15

// Store defines the interface for catalog operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent writers. SQLite returns false.
	SupportsHighConcurrency() bool

	// Conn and Dialect expose the connection to the sql archive backend.
	Conn() *sql.DB
	Dialect() archive.Dialect

	// Subscription operations
	GetSubscriptions(ctx context.Context) ([]model.Subscription, error)
	GetSubscriptionByKey(ctx context.Context, archiveKey string) (*model.Subscription, error)
	GetSubscriptionByURL(ctx context.Context, url string) (*model.Subscription, error)
	GetOrCreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, bool, error)
	UpdateSubscriptionSynced(ctx context.Context, id int64, t time.Time) error
	UpdateSubscriptionError(ctx context.Context, id int64, errMsg string) error
	UpdateSubscriptionTitle(ctx context.Context, id int64, title string) error
	// DeleteSubscription drops the catalog row. The archive is left alone.
	DeleteSubscription(ctx context.Context, id int64) error

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetPollingInterval(ctx context.Context) (int, error)
}

// Open picks the backend from dsn: postgres:// and postgresql:// URLs go to
// PostgreSQL, anything else is treated as a SQLite file path.
func Open(ctx context.Context, dsn string) (Store, error) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return NewPostgres(ctx, dsn)
	}
	return New(ctx, dsn)
}

const subscriptionColumns = "id, title, url, category, archive_key, own, last_synced, last_error"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (model.Subscription, error) {
	var s model.Subscription
	var lastSynced sql.NullTime
	var lastError sql.NullString
	if err := row.Scan(&s.ID, &s.Title, &s.URL, &s.Category, &s.ArchiveKey, &s.Own, &lastSynced, &lastError); err != nil {
		return model.Subscription{}, err
	}
	if lastSynced.Valid {
		s.LastSynced = lastSynced.Time
	}
	if lastError.Valid {
		s.LastError = lastError.String
	}
	return s, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func scanOne(row *sql.Row) (*model.Subscription, error) {
	s, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// pollingMinutes parses a stored interval, applying the floor.
func pollingMinutes(val string, err error) (int, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPollingMinutes, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get polling interval: %w", err)
	}
	var mins int
	fmt.Sscanf(val, "%d", &mins)
	if mins < DefaultPollingMinutes {
		mins = DefaultPollingMinutes
	}
	return mins, nil
}
