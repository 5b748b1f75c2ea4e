// Package rss keeps hosted feeds in step with their sources: owned feeds
// are updated from the source document, mirrors are pulled from their peer.
package rss

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/database"
	"github.com/KRYPTOHAUS/hyperfeed/internal/feed"
	"github.com/KRYPTOHAUS/hyperfeed/internal/hub"
	"github.com/KRYPTOHAUS/hyperfeed/internal/logging"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
	"github.com/KRYPTOHAUS/hyperfeed/internal/replica"
	"github.com/KRYPTOHAUS/hyperfeed/internal/scrap"
)

// MinPollingIntervalMinutes is the minimum allowed interval.
const MinPollingIntervalMinutes = database.DefaultPollingMinutes

// Concurrency settings
const (
	// MaxConcurrencyPostgres is the number of parallel syncs for PostgreSQL
	MaxConcurrencyPostgres = 10
	// MaxConcurrencySQLite is the number of parallel syncs for SQLite (limited due to locking)
	MaxConcurrencySQLite = 1

	maxErrorLen = 200
)

// Syncer updates subscriptions from their sources.
type Syncer struct {
	hub         *hub.Hub
	db          database.Store
	fetcher     scrap.Fetcher
	concurrency int
	log         logging.Logger
}

// NewSyncer creates a syncer with concurrency based on database type. Source
// documents are fetched with timeout through limiter; nil selects the
// default per-domain limits.
func NewSyncer(h *hub.Hub, timeout time.Duration, limiter *scrap.DomainLimiter, log logging.Logger) *Syncer {
	if log == nil {
		log = logging.Discard()
	}
	concurrency := MaxConcurrencySQLite
	if h.Store().SupportsHighConcurrency() {
		concurrency = MaxConcurrencyPostgres
	}
	return &Syncer{
		hub:         h,
		db:          h.Store(),
		fetcher:     scrap.NewHTTPFetcher(timeout, limiter),
		concurrency: concurrency,
		log:         log,
	}
}

// SyncSubscription brings one subscription up to date. For owned feeds the
// returned stats count saved and duplicate items; for mirrors Saved is the
// number of replicated entries.
func (s *Syncer) SyncSubscription(ctx context.Context, sub model.Subscription) (feed.Stats, error) {
	if sub.URL == "" {
		return feed.Stats{}, nil
	}
	key, err := archive.ParseKey(sub.ArchiveKey)
	if err != nil {
		return feed.Stats{}, fmt.Errorf("subscription %d: %w", sub.ID, err)
	}
	f, err := s.hub.Get(ctx, key)
	if err != nil {
		return feed.Stats{}, err
	}

	var stats feed.Stats
	if sub.Own {
		stats, err = s.update(ctx, f, sub)
	} else {
		var n int
		n, err = replica.Pull(ctx, sub.URL, f.Archive(), replica.PullOptions{})
		stats.Saved = n
	}
	if err != nil {
		s.recordError(ctx, sub, err)
		return stats, fmt.Errorf("sync %s: %w", sub.URL, err)
	}

	if err := s.db.UpdateSubscriptionSynced(ctx, sub.ID, time.Now()); err != nil {
		s.log.Error(ctx, "record sync time", "subscription", sub.ID, "error", err)
	}
	return stats, nil
}

func (s *Syncer) update(ctx context.Context, f *feed.Feed, sub model.Subscription) (feed.Stats, error) {
	body, err := s.fetcher.Fetch(ctx, sub.URL)
	if err != nil {
		return feed.Stats{}, err
	}
	stats, err := f.Update(ctx, bytes.NewReader(body))
	if err != nil {
		return stats, err
	}

	// Replace a placeholder title with the one the source declares.
	if sub.Title == sub.URL {
		meta, err := f.Meta(ctx)
		if err == nil && meta.Title != "" && meta.Title != sub.Title {
			if err := s.db.UpdateSubscriptionTitle(ctx, sub.ID, meta.Title); err != nil {
				s.log.Error(ctx, "update title", "subscription", sub.ID, "error", err)
			} else {
				s.log.Info(ctx, "updated feed title", "url", sub.URL, "title", meta.Title)
			}
		}
	}
	return stats, nil
}

func (s *Syncer) recordError(ctx context.Context, sub model.Subscription, err error) {
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	if dbErr := s.db.UpdateSubscriptionError(ctx, sub.ID, msg); dbErr != nil {
		s.log.Error(ctx, "record sync error", "subscription", sub.ID, "error", dbErr)
	}
}

// SyncResult holds the result of syncing a single subscription.
type SyncResult struct {
	SubscriptionID int64
	Stats          feed.Stats
	Error          error
}

// SyncAll syncs every subscription with configurable concurrency.
// Uses parallel workers for PostgreSQL, sequential for SQLite.
// Returns a map of subscription ID -> stats for the ones that succeeded.
func (s *Syncer) SyncAll(ctx context.Context) (map[int64]feed.Stats, error) {
	subs, err := s.db.GetSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	if len(subs) == 0 {
		return make(map[int64]feed.Stats), nil
	}

	s.log.Info(ctx, "syncing subscriptions", "count", len(subs), "concurrency", s.concurrency)

	if s.concurrency <= 1 {
		return s.syncSequential(ctx, subs)
	}
	return s.syncParallel(ctx, subs)
}

// syncSequential syncs subscriptions one at a time (for SQLite).
func (s *Syncer) syncSequential(ctx context.Context, subs []model.Subscription) (map[int64]feed.Stats, error) {
	results := make(map[int64]feed.Stats)

	for i, sub := range subs {
		select {
		case <-ctx.Done():
			s.log.Warn(ctx, "sync cancelled", "done", i, "total", len(subs))
			return results, ctx.Err()
		default:
		}

		stats, err := s.SyncSubscription(ctx, sub)
		if err != nil {
			s.log.Warn(ctx, "sync failed", "url", sub.URL, "error", err)
			continue
		}
		results[sub.ID] = stats

		if (i+1)%50 == 0 {
			s.log.Info(ctx, "sync progress", "done", i+1, "total", len(subs))
		}
	}

	return results, nil
}

// syncParallel syncs subscriptions using a worker pool (for PostgreSQL).
func (s *Syncer) syncParallel(ctx context.Context, subs []model.Subscription) (map[int64]feed.Stats, error) {
	var wg sync.WaitGroup

	results := make(map[int64]feed.Stats)
	subChan := make(chan model.Subscription, len(subs))
	resultChan := make(chan SyncResult, len(subs))

	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range subChan {
				if ctx.Err() != nil {
					return
				}
				stats, err := s.SyncSubscription(ctx, sub)
				resultChan <- SyncResult{SubscriptionID: sub.ID, Stats: stats, Error: err}
			}
		}()
	}

	for _, sub := range subs {
		subChan <- sub
	}
	close(subChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	completed := 0
	for result := range resultChan {
		if result.Error != nil {
			s.log.Warn(ctx, "sync failed", "subscription", result.SubscriptionID, "error", result.Error)
			continue
		}
		results[result.SubscriptionID] = result.Stats
		completed++
		if completed%50 == 0 {
			s.log.Info(ctx, "sync progress", "done", completed, "total", len(subs))
		}
	}

	return results, ctx.Err()
}
