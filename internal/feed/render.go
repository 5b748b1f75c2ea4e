package feed

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

const renderLoadConcurrency = 8

// XML renders the maxCount most recent items, newest first. maxCount <= 0
// uses the configured render limit.
func (f *Feed) XML(ctx context.Context, maxCount int) ([]byte, error) {
	if maxCount <= 0 {
		maxCount = f.renderLimit
	}
	entries, err := f.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}
	entries = newest(entries, maxCount)

	items := make([]model.Item, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renderLoadConcurrency)
	for i, e := range entries {
		g.Go(func() error {
			it, err := f.Load(gctx, e.Name)
			if err != nil {
				return err
			}
			items[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	meta, err := f.Meta(ctx)
	if err != nil {
		return nil, err
	}
	out, err := f.codec.Render(meta, items)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return out, nil
}

// newest sorts by ctime descending, ties by name, and keeps at most n.
func newest(entries []archive.Entry, n int) []archive.Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CTime.Equal(entries[j].CTime) {
			return entries[i].CTime.After(entries[j].CTime)
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
