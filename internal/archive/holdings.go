package archive

import (
	"context"
	"fmt"
)

// Holdings indexes the entries a sink already has, so that replaying a
// snapshot into it does not append a second version of unchanged records.
type Holdings map[string]Entry

type lister interface {
	List(ctx context.Context) ([]Entry, error)
}

// HoldingsOf lists dst when it can be listed. Other sinks start empty.
func HoldingsOf(ctx context.Context, dst Sink) (Holdings, error) {
	h := Holdings{}
	l, ok := dst.(lister)
	if !ok {
		return h, nil
	}
	entries, err := l.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sink: %w", err)
	}
	for _, e := range entries {
		h[e.Name] = e
	}
	return h, nil
}

// Has reports whether the sink holds e under the same name, ctime and size.
// Ctimes compare at millisecond precision, the finest every backend keeps.
func (h Holdings) Has(e Entry) bool {
	cur, ok := h[e.Name]
	return ok && cur.Size == e.Size && cur.CTime.UnixMilli() == e.CTime.UnixMilli()
}

func (h Holdings) Add(e Entry) {
	h[e.Name] = e
}
