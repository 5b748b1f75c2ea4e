package archive

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrReadOnly          = errors.New("archive is read-only")
	ErrOwnershipRequired = errors.New("ownership must be specified when a key is given")
	ErrUnsupported       = errors.New("unsupported archive backend")
	ErrClosed            = errors.New("archive closed")
)

// Entry describes one stored file.
type Entry struct {
	Name  string    `json:"name"`
	CTime time.Time `json:"ctime"`
	Size  int64     `json:"size"`
	Seq   int64     `json:"seq,omitempty"` // write sequence; 0 when the backend has none
}

// WriteOptions controls WriteFile. A zero CTime means "now".
type WriteOptions struct {
	CTime time.Time
}

// Sink receives replicated entries.
type Sink interface {
	Apply(ctx context.Context, e Entry, content []byte) error
}

// Archive is a durable keyed file store.
type Archive interface {
	Sink

	Key() Key
	DiscoveryKey() Key
	// ID identifies this handle (not the archive) among peers.
	ID() string
	Writable() bool

	WriteFile(ctx context.Context, name string, content []byte, opts WriteOptions) error
	ReadFile(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context) ([]Entry, error)
	// Watch yields the current entries, then every entry written afterwards,
	// until the stream is closed or ctx is done.
	Watch(ctx context.Context) (*Stream, error)
	// Finalize establishes a consistent snapshot of everything written so
	// far. Owner only.
	Finalize(ctx context.Context) error
	Close() error
}

// Ownership is the explicit ownership choice made when opening by key.
type Ownership int

const (
	OwnershipUnspecified Ownership = iota
	Owner
	Reader
)

// OpenOptions selects the archive to open. A nil Key creates a fresh archive
// owned by the caller.
type OpenOptions struct {
	Key       *Key
	Ownership Ownership
}

func (o OpenOptions) resolve() (Key, bool, error) {
	if o.Key == nil {
		k, err := NewKey()
		return k, true, err
	}
	if o.Ownership == OwnershipUnspecified {
		return Key{}, false, ErrOwnershipRequired
	}
	return *o.Key, o.Ownership == Owner, nil
}

// Opener opens archives of one backend.
type Opener interface {
	Open(ctx context.Context, opts OpenOptions) (Archive, error)
}

// ReadAll reads a whole file.
func ReadAll(ctx context.Context, a Archive, name string) ([]byte, error) {
	rc, err := a.ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func ctimeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
