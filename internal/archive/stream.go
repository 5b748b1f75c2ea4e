package archive

import (
	"context"
	"sync"
)

// Stream is a cancelable, live sequence of entries.
type Stream struct {
	ch       chan Entry
	synced   chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
	syncOnce sync.Once
	err      error
}

type streamFunc func(ctx context.Context, emit func(Entry) bool, synced func()) error

func newStream(ctx context.Context, run streamFunc) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan Entry),
		synced: make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	emit := func(e Entry) bool {
		select {
		case s.ch <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		err := run(ctx, emit, s.markSynced)
		if err != nil && ctx.Err() == nil {
			s.err = err
		}
	}()
	return s
}

func (s *Stream) markSynced() {
	s.syncOnce.Do(func() { close(s.synced) })
}

// C delivers entries. It is closed when the stream ends.
func (s *Stream) C() <-chan Entry {
	return s.ch
}

// Synced is closed once every entry present when the stream started has
// been delivered.
func (s *Stream) Synced() <-chan struct{} {
	return s.synced
}

// Err reports why the stream ended; nil while running or after Close.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops the stream and releases the underlying subscription. No
// entry is delivered after Close returns.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

// Filter returns a stream carrying only entries that match keep. Closing the
// returned stream closes s.
func (s *Stream) Filter(keep func(Entry) bool) *Stream {
	return newStream(context.Background(), func(ctx context.Context, emit func(Entry) bool, synced func()) error {
		defer s.Close()
		parentSynced := s.Synced()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-parentSynced:
				synced()
				parentSynced = nil
			case e, ok := <-s.C():
				if !ok {
					<-s.done
					return s.err
				}
				if keep(e) && !emit(e) {
					return nil
				}
			}
		}
	})
}

// snapshotThenPoll emits snapshot, marks the stream synced, then hands over
// to poll. Used by backends whose live mode is built on polling.
func snapshotThenPoll(snapshot []Entry, poll func(ctx context.Context, emit func(Entry) bool) error) streamFunc {
	return func(ctx context.Context, emit func(Entry) bool, synced func()) error {
		for _, e := range snapshot {
			if !emit(e) {
				return nil
			}
		}
		synced()
		return poll(ctx, emit)
	}
}
