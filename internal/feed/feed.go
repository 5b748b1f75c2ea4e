// Package feed keeps an append-only, deduplicated record of feed items in an
// archive and renders them back into a feed document.
//
// An archive holds three kinds of records:
//
//	_meta          the feed metadata, overwritten on every update
//	<guid>         one JSON record per item, written at most once
//	scrap/<guid>   an optional raw payload fetched for the item
//
// Only the owner of the archive may write. All writes of one Feed are
// serialized; reads never take the write lock.
package feed

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/codec"
	"github.com/KRYPTOHAUS/hyperfeed/internal/logging"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
	"github.com/KRYPTOHAUS/hyperfeed/internal/scrap"
)

const (
	MetaName    = "_meta"
	ScrapPrefix = "scrap/"

	// DefaultRenderLimit is the item count XML renders when none is given.
	DefaultRenderLimit = 10

	defaultScrapTimeout = 30 * time.Second
)

// Codec parses incoming documents and renders stored items.
type Codec interface {
	Parse(ctx context.Context, r io.Reader) (*codec.Document, error)
	Render(meta model.Meta, items []model.Item) ([]byte, error)
}

type Options struct {
	Codec Codec
	// Fetcher retrieves scrap payloads. Defaults to an HTTP fetcher when
	// Scrap is set.
	Fetcher scrap.Fetcher
	// Scrap fetches a payload for every newly saved item.
	Scrap       bool
	RenderLimit int
	Logger      logging.Logger
	Now         func() time.Time
	NewGUID     func() string
}

type Feed struct {
	arc         archive.Archive
	own         bool
	codec       Codec
	fetcher     scrap.Fetcher
	scrap       bool
	renderLimit int
	log         logging.Logger
	now         func() time.Time
	newGUID     func() string

	// writeLock is a one-slot semaphore so waiting writers honor ctx.
	writeLock chan struct{}

	metaMu sync.RWMutex
	meta   *model.Meta
}

// New wraps an open archive. The feed owns the archive when the handle is
// writable.
func New(arc archive.Archive, opts Options) *Feed {
	f := &Feed{
		arc:         arc,
		own:         arc.Writable(),
		codec:       opts.Codec,
		fetcher:     opts.Fetcher,
		scrap:       opts.Scrap,
		renderLimit: opts.RenderLimit,
		log:         opts.Logger,
		now:         opts.Now,
		newGUID:     opts.NewGUID,
		writeLock:   make(chan struct{}, 1),
	}
	if f.codec == nil {
		f.codec = codec.New()
	}
	if f.scrap && f.fetcher == nil {
		f.fetcher = scrap.NewHTTPFetcher(defaultScrapTimeout, nil)
	}
	if f.renderLimit <= 0 {
		f.renderLimit = DefaultRenderLimit
	}
	if f.log == nil {
		f.log = logging.Discard()
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.newGUID == nil {
		f.newGUID = timeUUID
	}
	f.log = f.log.With("feed", arc.Key().String())
	return f
}

// Open opens an archive through o and wraps it. Opening by key requires an
// explicit ownership choice.
func Open(ctx context.Context, o archive.Opener, oo archive.OpenOptions, opts Options) (*Feed, error) {
	arc, err := o.Open(ctx, oo)
	if err != nil {
		return nil, err
	}
	return New(arc, opts), nil
}

func timeUUID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (f *Feed) Key() archive.Key          { return f.arc.Key() }
func (f *Feed) DiscoveryKey() archive.Key { return f.arc.DiscoveryKey() }
func (f *Feed) ID() string                { return f.arc.ID() }

// Own reports whether this process may write to the feed.
func (f *Feed) Own() bool { return f.own }

// Archive returns the backing archive handle.
func (f *Feed) Archive() archive.Archive { return f.arc }

// Replicate copies the backing archive into dst.
func (f *Feed) Replicate(ctx context.Context, dst archive.Sink, opts archive.ReplicateOptions) *archive.Session {
	return archive.Replicate(ctx, f.arc, dst, opts)
}

func (f *Feed) Close() error {
	return f.arc.Close()
}

func (f *Feed) lock(ctx context.Context) error {
	select {
	case f.writeLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) unlock() {
	<-f.writeLock
}
