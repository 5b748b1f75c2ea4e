package archive

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Dialect names the SQL flavour behind a *sql.DB.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DefaultPollInterval is how often SQL and S3 live listings look for new entries.
const DefaultPollInterval = 100 * time.Millisecond

// SQLDrive opens archives stored in the archives/archive_entries tables
// created by the internal/database migrations.
type SQLDrive struct {
	db           *sql.DB
	dialect      Dialect
	PollInterval time.Duration
}

var _ Opener = (*SQLDrive)(nil)

func NewSQLDrive(db *sql.DB, dialect Dialect) *SQLDrive {
	return &SQLDrive{db: db, dialect: dialect, PollInterval: DefaultPollInterval}
}

func (d *SQLDrive) Open(ctx context.Context, opts OpenOptions) (Archive, error) {
	key, own, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	a := &SQLArchive{
		db:       d.db,
		dialect:  d.dialect,
		key:      key,
		id:       uuid.NewString(),
		writable: own,
		poll:     d.PollInterval,
	}
	_, err = d.db.ExecContext(ctx, a.rebind(
		`INSERT INTO archives (archive_key, created_at) VALUES (?, ?) ON CONFLICT (archive_key) DO NOTHING`),
		key.String(), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("register archive: %w", err)
	}
	return a, nil
}

// SQLArchive is an archive backed by a sqlite or postgres database. Every
// write is a new row; the row with the highest seq for a name is current.
type SQLArchive struct {
	db       *sql.DB
	dialect  Dialect
	key      Key
	id       string
	writable bool
	poll     time.Duration
	closed   atomic.Bool
}

var _ Archive = (*SQLArchive)(nil)

func (a *SQLArchive) Key() Key          { return a.key }
func (a *SQLArchive) DiscoveryKey() Key { return a.key.Discovery() }
func (a *SQLArchive) ID() string        { return a.id }
func (a *SQLArchive) Writable() bool    { return a.writable }

// rebind rewrites ? placeholders to $n for postgres.
func (a *SQLArchive) rebind(query string) string {
	if a.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (a *SQLArchive) WriteFile(ctx context.Context, name string, content []byte, opts WriteOptions) error {
	if !a.writable {
		return ErrReadOnly
	}
	return a.Apply(ctx, Entry{Name: name, CTime: opts.CTime}, content)
}

func (a *SQLArchive) Apply(ctx context.Context, e Entry, content []byte) error {
	if a.closed.Load() {
		return ErrClosed
	}
	ctime := ctimeOrNow(e.CTime)
	_, err := a.db.ExecContext(ctx, a.rebind(`
		INSERT INTO archive_entries (archive_key, name, ctime, content, written_at)
		VALUES (?, ?, ?, ?, ?)`),
		a.key.String(), e.Name, ctime.UnixMilli(), content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write %s: %w", e.Name, err)
	}
	return nil
}

func (a *SQLArchive) ReadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	var content []byte
	err := a.db.QueryRowContext(ctx, a.rebind(`
		SELECT content FROM archive_entries
		WHERE archive_key = ? AND name = ?
		ORDER BY seq DESC LIMIT 1`), a.key.String(), name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (a *SQLArchive) List(ctx context.Context) ([]Entry, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := a.db.QueryContext(ctx, a.rebind(`
		SELECT e.seq, e.name, e.ctime, length(e.content)
		FROM archive_entries e
		WHERE e.archive_key = ?
		  AND e.seq = (SELECT MAX(l.seq) FROM archive_entries l
		               WHERE l.archive_key = e.archive_key AND l.name = e.name)
		ORDER BY e.seq`), a.key.String())
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (a *SQLArchive) since(ctx context.Context, seq int64) ([]Entry, error) {
	rows, err := a.db.QueryContext(ctx, a.rebind(`
		SELECT seq, name, ctime, length(content)
		FROM archive_entries
		WHERE archive_key = ? AND seq > ?
		ORDER BY seq`), a.key.String(), seq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var ctime int64
		var size sql.NullInt64
		if err := rows.Scan(&e.Seq, &e.Name, &ctime, &size); err != nil {
			return nil, err
		}
		e.CTime = time.UnixMilli(ctime)
		e.Size = size.Int64
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (a *SQLArchive) Watch(ctx context.Context) (*Stream, error) {
	snapshot, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	var last int64
	for _, e := range snapshot {
		if e.Seq > last {
			last = e.Seq
		}
	}
	interval := a.poll
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return newStream(ctx, snapshotThenPoll(snapshot, func(ctx context.Context, emit func(Entry) bool) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			fresh, err := a.since(ctx, last)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("poll entries: %w", err)
			}
			for _, e := range fresh {
				if !emit(e) {
					return nil
				}
				last = e.Seq
			}
		}
	})), nil
}

func (a *SQLArchive) Finalize(ctx context.Context) error {
	if !a.writable {
		return ErrReadOnly
	}
	_, err := a.db.ExecContext(ctx, a.rebind(`
		UPDATE archives SET finalized_seq = (
			SELECT COALESCE(MAX(seq), 0) FROM archive_entries WHERE archive_key = ?
		) WHERE archive_key = ?`), a.key.String(), a.key.String())
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// Close marks the handle closed. The *sql.DB belongs to the caller.
func (a *SQLArchive) Close() error {
	a.closed.Store(true)
	return nil
}
