package archive

import (
	"context"
	"fmt"
	"sync"
)

// ReplicateOptions controls a replication session.
type ReplicateOptions struct {
	// Live keeps the session running after the initial copy, forwarding
	// every entry appended to the source until the session is closed.
	Live bool
}

// Session copies entries from a source archive into a sink.
type Session struct {
	have   Holdings
	cancel context.CancelFunc
	done   chan struct{}
	synced chan struct{}

	mu     sync.Mutex
	copied int
	err    error
}

// Replicate starts copying src into dst. Content and ctime are preserved.
// Entries dst already holds unchanged are skipped.
func Replicate(ctx context.Context, src Archive, dst Sink, opts ReplicateOptions) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		cancel: cancel,
		done:   make(chan struct{}),
		synced: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		var err error
		if opts.Live {
			err = s.runLive(ctx, src, dst)
		} else {
			err = s.runOnce(ctx, src, dst)
		}
		if err != nil && ctx.Err() == nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *Session) runOnce(ctx context.Context, src Archive, dst Sink) error {
	defer close(s.synced)
	if err := s.loadHoldings(ctx, dst); err != nil {
		return err
	}
	entries, err := src.List(ctx)
	if err != nil {
		return fmt.Errorf("replicate: %w", err)
	}
	for _, e := range entries {
		if err := s.copy(ctx, src, dst, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) runLive(ctx context.Context, src Archive, dst Sink) error {
	if err := s.loadHoldings(ctx, dst); err != nil {
		close(s.synced)
		return err
	}
	stream, err := src.Watch(ctx)
	if err != nil {
		close(s.synced)
		return fmt.Errorf("replicate: %w", err)
	}
	defer stream.Close()
	streamSynced := stream.Synced()
	syncedClosed := false
	defer func() {
		if !syncedClosed {
			close(s.synced)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-streamSynced:
			close(s.synced)
			syncedClosed = true
			streamSynced = nil
		case e, ok := <-stream.C():
			if !ok {
				stream.Close()
				if err := stream.Err(); err != nil {
					return fmt.Errorf("replicate: %w", err)
				}
				return nil
			}
			if err := s.copy(ctx, src, dst, e); err != nil {
				return err
			}
		}
	}
}

func (s *Session) loadHoldings(ctx context.Context, dst Sink) error {
	have, err := HoldingsOf(ctx, dst)
	if err != nil {
		return fmt.Errorf("replicate: %w", err)
	}
	s.have = have
	return nil
}

func (s *Session) copy(ctx context.Context, src Archive, dst Sink, e Entry) error {
	if s.have.Has(e) {
		return nil
	}
	content, err := ReadAll(ctx, src, e.Name)
	if err != nil {
		return fmt.Errorf("replicate %s: %w", e.Name, err)
	}
	if err := dst.Apply(ctx, e, content); err != nil {
		return fmt.Errorf("replicate %s: %w", e.Name, err)
	}
	s.have.Add(e)
	s.mu.Lock()
	s.copied++
	s.mu.Unlock()
	return nil
}

// Synced is closed once every entry present at start has been copied.
func (s *Session) Synced() <-chan struct{} {
	return s.synced
}

// Done is closed when the session stops.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Copied reports how many entries have been copied so far. Skipped entries
// are not counted.
func (s *Session) Copied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copied
}

// Wait blocks until the session stops and reports the copy count and error.
func (s *Session) Wait() (int, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copied, s.err
}

// Close stops the session and waits for it to finish.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}
