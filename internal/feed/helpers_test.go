package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/codec"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu    sync.Mutex
	body  []byte
	err   error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// stepClock advances one second per call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type guidSeq struct{ n atomic.Int64 }

func (g *guidSeq) Next() string { return fmt.Sprintf("gen-%d", g.n.Add(1)) }

func testItems(n int) []model.Item {
	items := make([]model.Item, n)
	for i := range items {
		items[i] = model.Item{
			GUID:        fmt.Sprintf("id-%d", i),
			Title:       fmt.Sprintf("entry%d", i),
			Description: fmt.Sprintf("desc%d", i),
			Link:        fmt.Sprintf("http://example.com/%d", i),
			Date:        baseTime.Add(time.Duration(i) * time.Minute),
		}
	}
	return items
}

var testMeta = model.Meta{
	Title:       "test feed",
	Description: "a test feed",
	Link:        "http://example.com",
	XMLURL:      "http://example.com/rss.xml",
}

func rssDoc(t *testing.T, items []model.Item) []byte {
	t.Helper()
	doc, err := codec.New().Render(testMeta, items)
	require.NoError(t, err)
	return doc
}

func testOptions() Options {
	clock := &stepClock{t: baseTime.Add(365 * 24 * time.Hour)}
	guids := &guidSeq{}
	return Options{Now: clock.Now, NewGUID: guids.Next}
}

func newOwned(t *testing.T, opts Options) (*Feed, *archive.Memory) {
	t.Helper()
	arc := archive.NewMemory()
	return New(arc, opts), arc
}

func names(entries []archive.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
