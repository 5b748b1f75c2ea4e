package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

// LoadRaw returns a record's stored bytes.
func (f *Feed) LoadRaw(ctx context.Context, name string) ([]byte, error) {
	raw, err := archive.ReadAll(ctx, f.arc, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return raw, nil
}

// Load reads a record back as an item with a native date.
func (f *Feed) Load(ctx context.Context, name string) (model.Item, error) {
	raw, err := f.LoadRaw(ctx, name)
	if err != nil {
		return model.Item{}, err
	}
	return decodeRecord(name, raw)
}

// LoadScrap returns the side record stored for guid.
func (f *Feed) LoadScrap(ctx context.Context, guid string) ([]byte, error) {
	return f.LoadRaw(ctx, ScrapPrefix+guid)
}

// Meta returns the feed metadata. Owners answer from memory once it is
// known; replicas read the meta record every time since replication may
// replace it. A feed without a meta record has zero metadata.
func (f *Feed) Meta(ctx context.Context) (model.Meta, error) {
	if f.own {
		f.metaMu.RLock()
		m := f.meta
		f.metaMu.RUnlock()
		if m != nil {
			return *m, nil
		}
	}
	raw, err := archive.ReadAll(ctx, f.arc, MetaName)
	if errors.Is(err, archive.ErrNotFound) {
		return model.Meta{}, nil
	}
	if err != nil {
		return model.Meta{}, fmt.Errorf("load meta: %w", err)
	}
	var meta model.Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return model.Meta{}, &DeserializationError{Name: MetaName, Err: err}
	}
	if f.own {
		f.metaMu.Lock()
		if f.meta == nil {
			f.meta = &meta
		}
		f.metaMu.Unlock()
	}
	return meta, nil
}
