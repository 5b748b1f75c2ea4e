package replica

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
)

// serveArchive exposes arc at /replicate and /live.
func serveArchive(t *testing.T, arc archive.Archive) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/replicate", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = Serve(r.Context(), conn, arc, r.URL.Query().Get("live") == "1")
	})
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		stream, err := arc.Watch(r.Context())
		if err != nil {
			conn.Close(websocket.StatusInternalError, err.Error())
			return
		}
		_ = ServeLive(r.Context(), conn, stream)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fill(t *testing.T, arc archive.Archive, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ctime := time.UnixMilli(1_700_000_000_000 + int64(i)*1000)
		require.NoError(t, arc.WriteFile(context.Background(), fmt.Sprintf("id-%d", i),
			[]byte(fmt.Sprintf(`{"guid":"id-%d"}`, i)), archive.WriteOptions{CTime: ctime}))
	}
}

func mirrorOf(t *testing.T, src archive.Archive) archive.Archive {
	t.Helper()
	key := src.Key()
	m, err := archive.NewMemoryDrive().Open(context.Background(), archive.OpenOptions{Key: &key, Ownership: archive.Reader})
	require.NoError(t, err)
	return m
}

func TestPull_Snapshot(t *testing.T) {
	ctx := context.Background()
	src := archive.NewMemory()
	fill(t, src, 10)
	base := serveArchive(t, src)

	mirror := mirrorOf(t, src)
	var synced int
	n, err := Pull(ctx, base+"/replicate", mirror, PullOptions{OnSynced: func(c int) { synced = c }})
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 10, synced)

	entries, err := mirror.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000).UTC(), entries[0].CTime.UTC())

	got, err := archive.ReadAll(ctx, mirror, "id-3")
	require.NoError(t, err)
	assert.JSONEq(t, `{"guid":"id-3"}`, string(got))
}

func TestPull_RepeatedSnapshotAppliesOnce(t *testing.T) {
	ctx := context.Background()
	src := archive.NewMemory()
	fill(t, src, 10)
	base := serveArchive(t, src)
	mirror := mirrorOf(t, src)

	stream, err := mirror.Watch(ctx)
	require.NoError(t, err)
	defer stream.Close()
	var events atomic.Int64
	go func() {
		for range stream.C() {
			events.Add(1)
		}
	}()

	for i, want := range []int{10, 0, 0} {
		n, err := Pull(ctx, base+"/replicate", mirror, PullOptions{})
		require.NoError(t, err)
		assert.Equal(t, want, n, "pull %d", i)
	}
	mem, ok := mirror.(*archive.Memory)
	require.True(t, ok)
	assert.Equal(t, 1, mem.Versions("id-0"))

	require.Eventually(t, func() bool { return events.Load() == 10 }, 5*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return events.Load() > 10 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestPull_EmptyArchive(t *testing.T) {
	src := archive.NewMemory()
	base := serveArchive(t, src)
	n, err := Pull(context.Background(), base+"/replicate", mirrorOf(t, src), PullOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPull_Live(t *testing.T) {
	src := archive.NewMemory()
	fill(t, src, 2)
	base := serveArchive(t, src)
	mirror := mirrorOf(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	synced := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := Pull(ctx, base+"/replicate", mirror, PullOptions{
			Live:     true,
			OnSynced: func(int) { close(synced) },
		})
		assert.NoError(t, err)
	}()

	select {
	case <-synced:
	case <-time.After(5 * time.Second):
		t.Fatal("no synced frame")
	}
	require.NoError(t, src.WriteFile(context.Background(), "late", []byte("x"), archive.WriteOptions{}))
	require.Eventually(t, func() bool {
		got, err := archive.ReadAll(context.Background(), mirror, "late")
		return err == nil && string(got) == "x"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
}

type brokenArchive struct {
	archive.Archive
}

func (b brokenArchive) ReadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	return nil, errors.New("disk on fire")
}

func TestPull_RemoteError(t *testing.T) {
	src := archive.NewMemory()
	fill(t, src, 1)
	base := serveArchive(t, brokenArchive{src})

	_, err := Pull(context.Background(), base+"/replicate", mirrorOf(t, src), PullOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestPull_DialFailure(t *testing.T) {
	_, err := Pull(context.Background(), "ws://127.0.0.1:1/replicate", archive.NewMemory(), PullOptions{})
	assert.Error(t, err)
}

func TestListen_SnapshotThenLive(t *testing.T) {
	src := archive.NewMemory()
	fill(t, src, 3)
	base := serveArchive(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var names []string
	synced := make(chan int, 1)
	done := make(chan error, 1)
	go func() {
		done <- Listen(ctx, base+"/live", func(e archive.Entry) error {
			mu.Lock()
			names = append(names, e.Name)
			mu.Unlock()
			return nil
		}, PullOptions{Live: true, OnSynced: func(n int) { synced <- n }})
	}()

	select {
	case n := <-synced:
		assert.Equal(t, 3, n)
	case <-time.After(5 * time.Second):
		t.Fatal("no synced frame")
	}
	require.NoError(t, src.WriteFile(context.Background(), "new", []byte("y"), archive.WriteOptions{}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) == 4 && names[3] == "new"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return")
	}
}

func TestFrame_EntryRoundTrip(t *testing.T) {
	e := archive.Entry{Name: "a", CTime: time.UnixMilli(1_685_615_415_123).UTC(), Size: 3}
	f := entryFrame(e, nil)
	assert.Equal(t, FrameEntry, f.Type)
	assert.Equal(t, int64(1_685_615_415_123), f.CTime)
	assert.Equal(t, e, f.Entry())
}
