package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

// Stats summarizes one Update.
type Stats struct {
	Saved      int
	Duplicates int
}

// SaveOptions tweaks a single save. Target overrides the record name (the
// guid by default); SideData is stored as the scrap record instead of
// fetching one.
type SaveOptions struct {
	Target   string
	SideData []byte
}

type SaveResult struct {
	Item  model.Item // normalized
	Saved bool       // false when the guid was already stored
}

// Update merges a feed document into the archive. The document is parsed in
// full before anything is written, so a malformed document leaves the
// archive untouched. Items are then saved one at a time in document order;
// the first failing save stops the batch and earlier saves stay.
func (f *Feed) Update(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	if !f.own {
		return stats, &PermissionError{Op: "update"}
	}
	doc, err := f.codec.Parse(ctx, r)
	if err != nil {
		return stats, &ParseError{Err: err}
	}

	if err := f.lock(ctx); err != nil {
		return stats, err
	}
	defer f.unlock()

	if err := f.writeMeta(ctx, doc.Meta); err != nil {
		return stats, err
	}
	names, err := f.names(ctx)
	if err != nil {
		return stats, err
	}
	for _, it := range doc.Items {
		res, err := f.save(ctx, it, SaveOptions{}, names)
		if err != nil {
			return stats, err
		}
		if res.Saved {
			stats.Saved++
		} else {
			stats.Duplicates++
		}
	}
	f.log.Info(ctx, "feed updated", "items", len(doc.Items), "saved", stats.Saved, "duplicates", stats.Duplicates)
	return stats, nil
}

// SetMeta replaces the feed metadata.
func (f *Feed) SetMeta(ctx context.Context, meta model.Meta) error {
	if !f.own {
		return &PermissionError{Op: "set meta"}
	}
	if err := f.lock(ctx); err != nil {
		return err
	}
	defer f.unlock()
	return f.writeMeta(ctx, meta)
}

// Save stores one item unless a record named after its guid already exists.
// A duplicate is not an error: the result reports Saved=false and nothing is
// written or fetched.
func (f *Feed) Save(ctx context.Context, it model.Item, opts SaveOptions) (SaveResult, error) {
	if !f.own {
		return SaveResult{}, &PermissionError{Op: "save"}
	}
	if err := f.lock(ctx); err != nil {
		return SaveResult{}, err
	}
	defer f.unlock()

	names, err := f.names(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	return f.save(ctx, it, opts, names)
}

// Push saves a single item and returns it normalized.
func (f *Feed) Push(ctx context.Context, it model.Item) (model.Item, error) {
	res, err := f.Save(ctx, it, SaveOptions{})
	return res.Item, err
}

// names lists the stored item names. Callers hold the write lock, so the
// set stays current as long as save keeps it updated.
func (f *Feed) names(ctx context.Context) (map[string]struct{}, error) {
	entries, err := f.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		names[e.Name] = struct{}{}
	}
	return names, nil
}

func (f *Feed) save(ctx context.Context, it model.Item, opts SaveOptions, names map[string]struct{}) (SaveResult, error) {
	it = f.normalize(it)
	res := SaveResult{Item: it}
	if err := checkIdentity(it.GUID); err != nil {
		return res, err
	}
	if _, dup := names[it.GUID]; dup {
		f.log.Debug(ctx, "duplicate item skipped", "guid", it.GUID)
		return res, nil
	}

	content, err := encodeRecord(it)
	if err != nil {
		return res, fmt.Errorf("encode %s: %w", it.GUID, err)
	}
	target := opts.Target
	if target == "" {
		target = it.GUID
	}
	if err := f.arc.WriteFile(ctx, target, content, archive.WriteOptions{CTime: it.Date}); err != nil {
		return res, fmt.Errorf("save %s: %w", it.GUID, err)
	}
	names[target] = struct{}{}
	res.Saved = true

	if err := f.storeScrap(ctx, it, opts.SideData); err != nil {
		return res, err
	}
	return res, nil
}

// storeScrap writes the side record for a freshly saved item: the supplied
// data if any, else a fetched payload when scrapping is enabled.
func (f *Feed) storeScrap(ctx context.Context, it model.Item, side []byte) error {
	data := side
	if len(data) == 0 {
		if !f.scrap {
			return nil
		}
		var err error
		data, err = f.fetcher.Fetch(ctx, it.Target())
		if err != nil {
			f.log.Warn(ctx, "scrap fetch failed", "guid", it.GUID, "url", it.Target(), "error", err)
			return fmt.Errorf("scrap %s: %w", it.GUID, err)
		}
	}
	if err := f.arc.WriteFile(ctx, ScrapPrefix+it.GUID, data, archive.WriteOptions{CTime: it.Date}); err != nil {
		return fmt.Errorf("save scrap %s: %w", it.GUID, err)
	}
	return nil
}

func (f *Feed) writeMeta(ctx context.Context, meta model.Meta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := f.arc.WriteFile(ctx, MetaName, raw, archive.WriteOptions{}); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	f.metaMu.Lock()
	f.meta = &meta
	f.metaMu.Unlock()
	return nil
}
