package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
)

type ListOptions struct {
	// WithScrapped includes scrap/ side records.
	WithScrapped bool
}

func (o ListOptions) keep(e archive.Entry) bool {
	if e.Name == MetaName {
		return false
	}
	return o.WithScrapped || !strings.HasPrefix(e.Name, ScrapPrefix)
}

// finalize establishes a consistent snapshot before listing. Only the owner
// can finalize; replicas list what they have.
func (f *Feed) finalize(ctx context.Context) error {
	if !f.own {
		return nil
	}
	if err := f.arc.Finalize(ctx); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// List returns the stored records, never the meta record.
func (f *Feed) List(ctx context.Context, opts ListOptions) ([]archive.Entry, error) {
	if err := f.finalize(ctx); err != nil {
		return nil, err
	}
	entries, err := f.arc.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	out := entries[:0]
	for _, e := range entries {
		if opts.keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Live yields the current records, then every matching record written
// afterwards, until the stream is closed or ctx is done.
func (f *Feed) Live(ctx context.Context, opts ListOptions) (*archive.Stream, error) {
	if err := f.finalize(ctx); err != nil {
		return nil, err
	}
	s, err := f.arc.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("live list: %w", err)
	}
	return s.Filter(opts.keep), nil
}
