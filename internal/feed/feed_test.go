package feed

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/codec"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
	"github.com/KRYPTOHAUS/hyperfeed/internal/scrap"
)

func TestUpdateListPushRender(t *testing.T) {
	ctx := context.Background()
	f, _ := newOwned(t, testOptions())

	stats, err := f.Update(ctx, bytes.NewReader(rssDoc(t, testItems(10))))
	require.NoError(t, err)
	assert.Equal(t, Stats{Saved: 10}, stats)

	entries, err := f.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 10)

	pushed, err := f.Push(ctx, model.Item{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", pushed.GUID)
	assert.False(t, pushed.Date.IsZero())

	entries, err = f.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 11)
	assert.Contains(t, names(entries), "gen-1")

	titles := renderedTitles(t, f, 11)
	want := []string{"x"}
	for _, it := range testItems(10) {
		want = append(want, it.Title)
	}
	sort.Strings(want)
	assert.Equal(t, want, titles)

	// the pushed item is the newest, so it survives the default cut of 10
	titles = renderedTitles(t, f, 10)
	assert.Len(t, titles, 10)
	assert.Contains(t, titles, "x")
	assert.NotContains(t, titles, "entry0")
}

func renderedTitles(t *testing.T, f *Feed, count int) []string {
	t.Helper()
	out, err := f.XML(context.Background(), count)
	require.NoError(t, err)
	doc, err := codec.New().Parse(context.Background(), bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, testMeta.Title, doc.Meta.Title)
	assert.Equal(t, testMeta.Link, doc.Meta.Link)
	titles := make([]string, 0, len(doc.Items))
	for _, it := range doc.Items {
		titles = append(titles, it.Title)
	}
	sort.Strings(titles)
	return titles
}

func TestUpdate_DedupWithinDocument(t *testing.T) {
	ctx := context.Background()
	f, _ := newOwned(t, testOptions())
	items := testItems(3)
	for i := range items {
		items[i].GUID = "1"
	}

	stats, err := f.Update(ctx, bytes.NewReader(rssDoc(t, items)))
	require.NoError(t, err)
	assert.Equal(t, Stats{Saved: 1, Duplicates: 2}, stats)

	entries, err := f.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, names(entries))

	// first occurrence wins
	it, err := f.Load(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "entry0", it.Title)
}

func TestUpdate_IdempotentAndAdditive(t *testing.T) {
	ctx := context.Background()
	f, arc := newOwned(t, testOptions())
	items := testItems(5)

	_, err := f.Update(ctx, bytes.NewReader(rssDoc(t, items)))
	require.NoError(t, err)
	stats, err := f.Update(ctx, bytes.NewReader(rssDoc(t, items)))
	require.NoError(t, err)
	assert.Equal(t, Stats{Duplicates: 5}, stats)
	assert.Equal(t, 1, arc.Versions("id-0"), "duplicates never rewrite a record")

	superset := append(testItems(5), model.Item{GUID: "new", Title: "new", Date: baseTime.Add(time.Hour)})
	stats, err = f.Update(ctx, bytes.NewReader(rssDoc(t, superset)))
	require.NoError(t, err)
	assert.Equal(t, Stats{Saved: 1, Duplicates: 5}, stats)

	entries, err := f.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 6)
	assert.Equal(t, 3, arc.Versions(MetaName), "meta is rewritten on every update")
}

func TestUpdate_ParseErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	f, arc := newOwned(t, testOptions())

	_, err := f.Update(ctx, strings.NewReader("definitely not a feed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))

	entries, err := arc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = arc.ReadFile(ctx, MetaName)
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestUpdate_MetaReplaced(t *testing.T) {
	ctx := context.Background()
	f, _ := newOwned(t, testOptions())
	_, err := f.Update(ctx, bytes.NewReader(rssDoc(t, testItems(1))))
	require.NoError(t, err)

	meta, err := f.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test feed", meta.Title)
	assert.Equal(t, "http://example.com/rss.xml", meta.XMLURL)

	require.NoError(t, f.SetMeta(ctx, model.Meta{Title: "renamed"}))
	meta, err = f.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Meta{Title: "renamed"}, meta)

	// a second handle on the same archive reads the record
	reopened := New(f.Archive(), Options{})
	meta, err = reopened.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, "renamed", meta.Title)
}

func TestListExcludesBookkeeping(t *testing.T) {
	ctx := context.Background()
	f, _ := newOwned(t, testOptions())
	require.NoError(t, f.SetMeta(ctx, testMeta))
	_, err := f.Save(ctx, model.Item{GUID: "a"}, SaveOptions{SideData: []byte("side")})
	require.NoError(t, err)

	entries, err := f.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(entries))

	entries, err = f.List(ctx, ListOptions{WithScrapped: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "scrap/a"}, names(entries))
}

func TestList_OwnerFinalizes(t *testing.T) {
	ctx := context.Background()
	f, arc := newOwned(t, testOptions())
	_, err := f.Push(ctx, model.Item{GUID: "a"})
	require.NoError(t, err)
	_, err = f.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), arc.Finalized())
}

func TestLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f, _ := newOwned(t, testOptions())
	in := model.Item{
		GUID:        "round",
		Date:        time.Date(2023, 6, 1, 12, 30, 15, 123_000_000, time.FixedZone("X", 7200)),
		Title:       "Round trip",
		Link:        "http://example.com/r",
		URL:         "http://example.com/u",
		Description: "d",
		Content:     "<p>c</p>",
		Author:      "me",
		Categories:  []string{"a", "b"},
		Custom:      map[string]string{"k": "v"},
	}
	_, err := f.Push(ctx, in)
	require.NoError(t, err)

	out, err := f.Load(ctx, "round")
	require.NoError(t, err)
	assert.True(t, in.Date.Equal(out.Date))
	out.Date = in.Date
	assert.Equal(t, in, out)

	raw, err := f.LoadRaw(ctx, "round")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"date":1685615415123`)
}

func TestLoad_DeserializationError(t *testing.T) {
	ctx := context.Background()
	f, arc := newOwned(t, testOptions())
	require.NoError(t, arc.WriteFile(ctx, "broken", []byte("{not json"), archive.WriteOptions{}))
	require.NoError(t, arc.WriteFile(ctx, "noguid", []byte(`{"title":"x"}`), archive.WriteOptions{}))
	require.NoError(t, arc.WriteFile(ctx, "baddate", []byte(`{"guid":"g","date":true}`), archive.WriteOptions{}))

	for _, name := range []string{"broken", "noguid", "baddate"} {
		_, err := f.Load(ctx, name)
		assert.ErrorIs(t, err, ErrDeserialize, name)
	}

	raw, err := f.LoadRaw(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))

	_, err = f.Load(ctx, "missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestLoad_StringDate(t *testing.T) {
	ctx := context.Background()
	f, arc := newOwned(t, testOptions())
	require.NoError(t, arc.WriteFile(ctx, "s", []byte(`{"guid":"s","date":"2020-05-06T07:08:09.010Z"}`), archive.WriteOptions{}))

	it, err := f.Load(ctx, "s")
	require.NoError(t, err)
	assert.True(t, it.Date.Equal(time.Date(2020, 5, 6, 7, 8, 9, 10_000_000, time.UTC)))
}

func TestXML_BoundAndOrder(t *testing.T) {
	ctx := context.Background()
	f, _ := newOwned(t, testOptions())
	_, err := f.Update(ctx, bytes.NewReader(rssDoc(t, testItems(15))))
	require.NoError(t, err)

	out, err := f.XML(ctx, 5)
	require.NoError(t, err)
	doc, err := codec.New().Parse(ctx, bytes.NewReader(out))
	require.NoError(t, err)

	var got []string
	for _, it := range doc.Items {
		got = append(got, it.Title)
	}
	assert.Equal(t, []string{"entry14", "entry13", "entry12", "entry11", "entry10"}, got)
}

func TestXML_DefaultLimit(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.RenderLimit = 3
	f, _ := newOwned(t, opts)
	_, err := f.Update(ctx, bytes.NewReader(rssDoc(t, testItems(6))))
	require.NoError(t, err)

	out, err := f.XML(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(out), "<item>"))
}

func TestNewest_TiesByName(t *testing.T) {
	ts := baseTime
	got := newest([]archive.Entry{{Name: "b", CTime: ts}, {Name: "a", CTime: ts}, {Name: "c", CTime: ts.Add(-time.Second)}}, 2)
	assert.Equal(t, []string{"a", "b"}, names(got))
}

func TestPermissionGate(t *testing.T) {
	ctx := context.Background()
	drive := archive.NewMemoryDrive()
	owner, err := Open(ctx, drive, archive.OpenOptions{}, testOptions())
	require.NoError(t, err)
	_, err = owner.Update(ctx, bytes.NewReader(rssDoc(t, testItems(2))))
	require.NoError(t, err)

	key := owner.Key()
	replica, err := Open(ctx, drive, archive.OpenOptions{Key: &key, Ownership: archive.Reader}, testOptions())
	require.NoError(t, err)
	assert.False(t, replica.Own())
	assert.Equal(t, owner.DiscoveryKey(), replica.DiscoveryKey())

	before, err := owner.List(ctx, ListOptions{WithScrapped: true})
	require.NoError(t, err)

	_, err = replica.Update(ctx, bytes.NewReader(rssDoc(t, testItems(5))))
	assert.ErrorIs(t, err, ErrPermission)
	assert.ErrorIs(t, replica.SetMeta(ctx, model.Meta{Title: "nope"}), ErrPermission)
	_, err = replica.Push(ctx, model.Item{GUID: "p"})
	assert.ErrorIs(t, err, ErrPermission)
	_, err = replica.Save(ctx, model.Item{GUID: "s"}, SaveOptions{SideData: []byte("x")})
	assert.ErrorIs(t, err, ErrPermission)

	after, err := owner.List(ctx, ListOptions{WithScrapped: true})
	require.NoError(t, err)
	assert.Equal(t, names(before), names(after))
	meta, err := replica.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test feed", meta.Title)

	// replicas can still read and render
	entries, err := replica.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	_, err = replica.XML(ctx, 10)
	require.NoError(t, err)
}

func TestOpen_KeyNeedsOwnership(t *testing.T) {
	k, err := archive.NewKey()
	require.NoError(t, err)
	_, err = Open(context.Background(), archive.NewMemoryDrive(), archive.OpenOptions{Key: &k}, Options{})
	assert.ErrorIs(t, err, archive.ErrOwnershipRequired)
}

func TestSave_ScrapFetchedOnce(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{body: []byte("<html>scrapped</html>")}
	opts := testOptions()
	opts.Scrap = true
	opts.Fetcher = fetcher
	f, _ := newOwned(t, opts)

	item := model.Item{GUID: "a", Link: "http://example.com/a", URL: "http://example.com/u", Date: baseTime}
	res, err := f.Save(ctx, item, SaveOptions{})
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, []string{"http://example.com/u"}, fetcher.Calls())

	body, err := f.LoadScrap(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "<html>scrapped</html>", string(body))

	entries, err := f.List(ctx, ListOptions{WithScrapped: true})
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.CTime.Equal(baseTime), "scrap shares the item ctime")
	}

	res, err = f.Save(ctx, item, SaveOptions{})
	require.NoError(t, err)
	assert.False(t, res.Saved)
	assert.Len(t, fetcher.Calls(), 1, "duplicates skip the scrap step")
}

func TestSave_FetchErrorKeepsRecord(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{err: &scrap.FetchError{URL: "http://example.com/a", Status: 500}}
	opts := testOptions()
	opts.Scrap = true
	opts.Fetcher = fetcher
	f, _ := newOwned(t, opts)

	res, err := f.Save(ctx, model.Item{GUID: "a", Link: "http://example.com/a"}, SaveOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, scrap.ErrFetch)
	assert.True(t, res.Saved)

	it, err := f.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", it.GUID)
	_, err = f.LoadScrap(ctx, "a")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestUpdate_StopsAtFirstFailingSave(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{err: &scrap.FetchError{URL: "x", Status: 404}}
	opts := testOptions()
	opts.Scrap = true
	opts.Fetcher = fetcher
	f, _ := newOwned(t, opts)

	_, err := f.Update(ctx, bytes.NewReader(rssDoc(t, testItems(3))))
	assert.ErrorIs(t, err, scrap.ErrFetch)

	entries, err := f.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-0"}, names(entries))
	assert.Len(t, fetcher.Calls(), 1)
}

func TestSave_SideDataWithoutScrap(t *testing.T) {
	ctx := context.Background()
	f, _ := newOwned(t, testOptions())
	_, err := f.Save(ctx, model.Item{GUID: "a"}, SaveOptions{SideData: []byte("given")})
	require.NoError(t, err)
	body, err := f.LoadScrap(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "given", string(body))
}

func TestSave_Target(t *testing.T) {
	ctx := context.Background()
	f, _ := newOwned(t, testOptions())
	res, err := f.Save(ctx, model.Item{GUID: "g", Title: "t"}, SaveOptions{Target: "custom"})
	require.NoError(t, err)
	assert.True(t, res.Saved)

	it, err := f.Load(ctx, "custom")
	require.NoError(t, err)
	assert.Equal(t, "g", it.GUID)
}

func TestSave_ReservedGUID(t *testing.T) {
	ctx := context.Background()
	f, arc := newOwned(t, testOptions())
	for _, guid := range []string{MetaName, "scrap/x"} {
		_, err := f.Push(ctx, model.Item{GUID: guid})
		assert.ErrorIs(t, err, ErrIdentity, guid)
	}
	entries, err := arc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPush_ConcurrentSameGUID(t *testing.T) {
	ctx := context.Background()
	f, arc := newOwned(t, testOptions())

	var wg sync.WaitGroup
	var mu sync.Mutex
	saved := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.Save(ctx, model.Item{GUID: "same"}, SaveOptions{})
			assert.NoError(t, err)
			if res.Saved {
				mu.Lock()
				saved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, saved)
	assert.Equal(t, 1, arc.Versions("same"))
}

func TestSave_LockHonorsContext(t *testing.T) {
	f, _ := newOwned(t, testOptions())
	require.NoError(t, f.lock(context.Background()))
	defer f.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Push(ctx, model.Item{GUID: "a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLive_Completeness(t *testing.T) {
	ctx := context.Background()
	f, _ := newOwned(t, testOptions())
	_, err := f.Update(ctx, bytes.NewReader(rssDoc(t, testItems(3))))
	require.NoError(t, err)

	s, err := f.Live(ctx, ListOptions{})
	require.NoError(t, err)
	defer s.Close()

	seen := map[string]bool{}
	for len(seen) < 3 {
		seen[recvEntry(t, s).Name] = true
	}
	for _, guid := range []string{"l1", "l2"} {
		_, err := f.Save(ctx, model.Item{GUID: guid}, SaveOptions{SideData: []byte("x")})
		require.NoError(t, err)
	}
	require.NoError(t, f.SetMeta(ctx, testMeta))
	_, err = f.Push(ctx, model.Item{GUID: "l3"})
	require.NoError(t, err)

	// write order across appends; meta and scrap records are filtered out
	assert.Equal(t, "l1", recvEntry(t, s).Name)
	assert.Equal(t, "l2", recvEntry(t, s).Name)
	assert.Equal(t, "l3", recvEntry(t, s).Name)

	s.Close()
	_, err = f.Push(ctx, model.Item{GUID: "late"})
	require.NoError(t, err)
	_, ok := <-s.C()
	assert.False(t, ok, "no delivery after Close")
}

func recvEntry(t *testing.T, s *archive.Stream) archive.Entry {
	t.Helper()
	select {
	case e, ok := <-s.C():
		require.True(t, ok, "stream ended: %v", s.Err())
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for live entry")
		return archive.Entry{}
	}
}

func TestReplicate_IntoEmptyMirror(t *testing.T) {
	ctx := context.Background()
	owner, _ := newOwned(t, testOptions())
	_, err := owner.Update(ctx, bytes.NewReader(rssDoc(t, testItems(10))))
	require.NoError(t, err)

	key := owner.Key()
	mirrorArc, err := archive.NewMemoryDrive().Open(ctx, archive.OpenOptions{Key: &key, Ownership: archive.Reader})
	require.NoError(t, err)
	mirror := New(mirrorArc, Options{})

	_, err = owner.Replicate(ctx, mirrorArc, archive.ReplicateOptions{}).Wait()
	require.NoError(t, err)

	entries, err := mirror.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 10)

	out, err := mirror.XML(ctx, 10)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<title>test feed</title>")
	assert.Equal(t, 10, strings.Count(string(out), "<item>"))
}

func TestDirBackend_UpdatePushLongGUID(t *testing.T) {
	ctx := context.Background()
	arc, err := archive.NewDirDrive(t.TempDir()).Open(ctx, archive.OpenOptions{})
	require.NoError(t, err)
	f := New(arc, testOptions())
	defer f.Close()

	stats, err := f.Update(ctx, bytes.NewReader(rssDoc(t, testItems(3))))
	require.NoError(t, err)
	assert.Equal(t, Stats{Saved: 3}, stats)

	long := "https://example.com/2024/" + strings.Repeat("a-long-path-segment/", 12)
	res, err := f.Save(ctx, model.Item{GUID: long, Title: "long"}, SaveOptions{SideData: []byte("<html>")})
	require.NoError(t, err)
	assert.True(t, res.Saved)

	res, err = f.Save(ctx, model.Item{GUID: long, Title: "again"}, SaveOptions{})
	require.NoError(t, err)
	assert.False(t, res.Saved)

	entries, err := f.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Contains(t, names(entries), long)

	it, err := f.Load(ctx, long)
	require.NoError(t, err)
	assert.Equal(t, "long", it.Title)
	side, err := f.LoadScrap(ctx, long)
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(side))
}

func TestUpdate_GUIDLessItemsDedupByLink(t *testing.T) {
	ctx := context.Background()
	f, _ := newOwned(t, testOptions())
	const doc = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
<item><title>one</title><link>http://example.com/1</link></item>
<item><title>two</title><link>http://example.com/2</link></item>
</channel></rss>`

	stats, err := f.Update(ctx, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, Stats{Saved: 2}, stats)
	stats, err = f.Update(ctx, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, Stats{Duplicates: 2}, stats)

	entries, err := f.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http://example.com/1", "http://example.com/2"}, names(entries))
}
