package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// memoryStore is the shared state behind every handle of one memory archive.
type memoryStore struct {
	mu        sync.RWMutex
	versions  []memoryVersion
	latest    map[string]int // name -> index into versions
	finalized int64
	subs      map[*memorySub]struct{}
}

type memoryVersion struct {
	entry   Entry
	content []byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		latest: make(map[string]int),
		subs:   make(map[*memorySub]struct{}),
	}
}

// memorySub queues notifications without ever blocking the writer.
type memorySub struct {
	mu     sync.Mutex
	queue  []Entry
	notify chan struct{}
}

func (s *memorySub) push(e Entry) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) drain() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

// Memory is a process-local archive.
type Memory struct {
	store    *memoryStore
	key      Key
	id       string
	writable bool
	closed   atomic.Bool
}

var _ Archive = (*Memory)(nil)

// NewMemory creates a fresh, owned, in-memory archive.
func NewMemory() *Memory {
	k, err := NewKey()
	if err != nil {
		panic(err)
	}
	return &Memory{store: newMemoryStore(), key: k, id: uuid.NewString(), writable: true}
}

// MemoryDrive hands out memory archives by key, so that several handles
// opened from one drive share data.
type MemoryDrive struct {
	mu     sync.Mutex
	stores map[Key]*memoryStore
}

var _ Opener = (*MemoryDrive)(nil)

func NewMemoryDrive() *MemoryDrive {
	return &MemoryDrive{stores: make(map[Key]*memoryStore)}
}

func (d *MemoryDrive) Open(ctx context.Context, opts OpenOptions) (Archive, error) {
	key, own, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.stores[key]
	if !ok {
		st = newMemoryStore()
		d.stores[key] = st
	}
	return &Memory{store: st, key: key, id: uuid.NewString(), writable: own}, nil
}

func (m *Memory) Key() Key          { return m.key }
func (m *Memory) DiscoveryKey() Key { return m.key.Discovery() }
func (m *Memory) ID() string        { return m.id }
func (m *Memory) Writable() bool    { return m.writable }

func (m *Memory) WriteFile(ctx context.Context, name string, content []byte, opts WriteOptions) error {
	if !m.writable {
		return ErrReadOnly
	}
	return m.Apply(ctx, Entry{Name: name, CTime: opts.CTime}, content)
}

func (m *Memory) Apply(ctx context.Context, e Entry, content []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := append([]byte(nil), content...)

	st := m.store
	st.mu.Lock()
	defer st.mu.Unlock()
	entry := Entry{
		Name:  e.Name,
		CTime: ctimeOrNow(e.CTime),
		Size:  int64(len(buf)),
		Seq:   int64(len(st.versions) + 1),
	}
	st.versions = append(st.versions, memoryVersion{entry: entry, content: buf})
	st.latest[entry.Name] = len(st.versions) - 1
	for sub := range st.subs {
		sub.push(entry)
	}
	return nil
}

func (m *Memory) ReadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	st := m.store
	st.mu.RLock()
	defer st.mu.RUnlock()
	idx, ok := st.latest[name]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", name, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(st.versions[idx].content)), nil
}

func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	st := m.store
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshotLocked(), nil
}

func (st *memoryStore) snapshotLocked() []Entry {
	entries := make([]Entry, 0, len(st.latest))
	for _, idx := range st.latest {
		entries = append(entries, st.versions[idx].entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries
}

func (m *Memory) Watch(ctx context.Context) (*Stream, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	st := m.store
	sub := &memorySub{notify: make(chan struct{}, 1)}

	st.mu.Lock()
	snapshot := st.snapshotLocked()
	st.subs[sub] = struct{}{}
	st.mu.Unlock()

	return newStream(ctx, func(ctx context.Context, emit func(Entry) bool, synced func()) error {
		defer func() {
			st.mu.Lock()
			delete(st.subs, sub)
			st.mu.Unlock()
		}()
		for _, e := range snapshot {
			if !emit(e) {
				return nil
			}
		}
		synced()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sub.notify:
				for _, e := range sub.drain() {
					if !emit(e) {
						return nil
					}
				}
			}
		}
	}), nil
}

func (m *Memory) Finalize(ctx context.Context) error {
	if !m.writable {
		return ErrReadOnly
	}
	st := m.store
	st.mu.Lock()
	st.finalized = int64(len(st.versions))
	st.mu.Unlock()
	return nil
}

// Finalized reports the write sequence captured by the last Finalize.
func (m *Memory) Finalized() int64 {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	return m.store.finalized
}

// Versions reports how many versions of name have been written.
func (m *Memory) Versions(name string) int {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	n := 0
	for _, v := range m.store.versions {
		if v.entry.Name == name {
			n++
		}
	}
	return n
}

func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}
