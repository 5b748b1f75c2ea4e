// Package hub keeps the feeds this process hosts or mirrors open, keyed by
// archive key, and records them in the catalog.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/database"
	"github.com/KRYPTOHAUS/hyperfeed/internal/feed"
	"github.com/KRYPTOHAUS/hyperfeed/internal/logging"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

// Hub is safe for concurrent use.
type Hub struct {
	store  database.Store
	opener archive.Opener
	opts   feed.Options
	log    logging.Logger

	mu    sync.Mutex
	feeds map[archive.Key]*feed.Feed
}

// New builds a hub. opts is applied to every feed the hub opens.
func New(store database.Store, opener archive.Opener, opts feed.Options, log logging.Logger) *Hub {
	if log == nil {
		log = logging.Discard()
	}
	if opts.Logger == nil {
		opts.Logger = log
	}
	return &Hub{
		store:  store,
		opener: opener,
		opts:   opts,
		log:    log,
		feeds:  make(map[archive.Key]*feed.Feed),
	}
}

// Store returns the catalog.
func (h *Hub) Store() database.Store { return h.store }

// Create hosts a new owned feed for sub. A feed already syncing from the
// same source URL is returned instead; the bool reports whether a new one
// was made.
func (h *Hub) Create(ctx context.Context, sub model.Subscription) (*feed.Feed, model.Subscription, bool, error) {
	if sub.URL != "" {
		existing, err := h.store.GetSubscriptionByURL(ctx, sub.URL)
		if err == nil {
			f, err := h.open(ctx, *existing)
			return f, *existing, false, err
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, model.Subscription{}, false, err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := feed.Open(ctx, h.opener, archive.OpenOptions{}, h.opts)
	if err != nil {
		return nil, model.Subscription{}, false, fmt.Errorf("create archive: %w", err)
	}
	sub.ArchiveKey = f.Key().String()
	sub.Own = true
	if sub.Title == "" {
		sub.Title = sub.URL
	}
	if sub.Title == "" {
		sub.Title = sub.ArchiveKey
	}
	created, _, err := h.store.GetOrCreateSubscription(ctx, sub)
	if err != nil {
		f.Close()
		return nil, model.Subscription{}, false, err
	}
	h.feeds[f.Key()] = f
	h.log.Info(ctx, "feed created", "key", sub.ArchiveKey, "url", sub.URL)
	return f, created, true, nil
}

// Follow mirrors the feed with key. source is the replication endpoint the
// syncer pulls from; it may be empty when entries arrive by other means.
func (h *Hub) Follow(ctx context.Context, key archive.Key, source, title string) (*feed.Feed, model.Subscription, error) {
	if title == "" {
		title = key.String()
	}
	sub, _, err := h.store.GetOrCreateSubscription(ctx, model.Subscription{
		Title:      title,
		URL:        source,
		ArchiveKey: key.String(),
		Own:        false,
	})
	if err != nil {
		return nil, model.Subscription{}, err
	}
	f, err := h.open(ctx, sub)
	if err != nil {
		return nil, model.Subscription{}, err
	}
	h.log.Info(ctx, "feed followed", "key", sub.ArchiveKey, "source", source)
	return f, sub, nil
}

// Get returns the open feed with key, opening it from the catalog if needed.
func (h *Hub) Get(ctx context.Context, key archive.Key) (*feed.Feed, error) {
	h.mu.Lock()
	f, ok := h.feeds[key]
	h.mu.Unlock()
	if ok {
		return f, nil
	}
	sub, err := h.store.GetSubscriptionByKey(ctx, key.String())
	if err != nil {
		return nil, err
	}
	return h.open(ctx, *sub)
}

// Remove drops the catalog row and closes the feed. The archive itself is
// append-only and stays in place.
func (h *Hub) Remove(ctx context.Context, key archive.Key) error {
	sub, err := h.store.GetSubscriptionByKey(ctx, key.String())
	if err != nil {
		return err
	}
	if err := h.store.DeleteSubscription(ctx, sub.ID); err != nil {
		return err
	}
	h.mu.Lock()
	f, ok := h.feeds[key]
	delete(h.feeds, key)
	h.mu.Unlock()
	if ok {
		return f.Close()
	}
	return nil
}

func (h *Hub) open(ctx context.Context, sub model.Subscription) (*feed.Feed, error) {
	key, err := archive.ParseKey(sub.ArchiveKey)
	if err != nil {
		return nil, fmt.Errorf("subscription %d: %w", sub.ID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.feeds[key]; ok {
		return f, nil
	}
	own := archive.Reader
	if sub.Own {
		own = archive.Owner
	}
	f, err := feed.Open(ctx, h.opener, archive.OpenOptions{Key: &key, Ownership: own}, h.opts)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", sub.ArchiveKey, err)
	}
	h.feeds[key] = f
	return f, nil
}

// Close closes every open feed.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for k, f := range h.feeds {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(h.feeds, k)
	}
	return errors.Join(errs...)
}
