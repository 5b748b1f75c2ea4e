package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
)

// frameSink writes replicated entries to the connection. Writes are
// serialized so control frames can interleave with entries.
type frameSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
	sent int
}

func (s *frameSink) Apply(ctx context.Context, e archive.Entry, content []byte) error {
	if content == nil {
		content = []byte{}
	}
	if err := s.write(ctx, entryFrame(e, content)); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	return nil
}

func (s *frameSink) write(ctx context.Context, f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsjson.Write(ctx, s.conn, f)
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Serve replicates arc to the peer on conn. Every entry is sent with its
// content, followed by a synced frame. Without live the connection is then
// closed normally; with live appended entries keep flowing until the peer
// goes away or ctx is done.
func Serve(ctx context.Context, conn *websocket.Conn, arc archive.Archive, live bool) error {
	ctx = conn.CloseRead(ctx)
	sink := &frameSink{conn: conn}
	sess := archive.Replicate(ctx, arc, sink, archive.ReplicateOptions{Live: live})
	defer sess.Close()

	select {
	case <-sess.Synced():
	case <-ctx.Done():
		return nil
	}
	if !live {
		if _, err := sess.Wait(); err != nil {
			return fail(ctx, conn, sink, err)
		}
	} else {
		select {
		case <-sess.Done():
			if _, err := sess.Wait(); err != nil {
				return fail(ctx, conn, sink, err)
			}
		default:
		}
	}
	if err := sink.write(ctx, Frame{Type: FrameSynced, Count: sink.count()}); err != nil {
		return nil
	}
	if !live {
		return conn.Close(websocket.StatusNormalClosure, "")
	}

	select {
	case <-ctx.Done():
		return nil
	case <-sess.Done():
		if _, err := sess.Wait(); err != nil {
			return fail(ctx, conn, sink, err)
		}
		return conn.Close(websocket.StatusNormalClosure, "")
	}
}

func fail(ctx context.Context, conn *websocket.Conn, sink *frameSink, err error) error {
	_ = sink.write(ctx, Frame{Type: FrameError, Error: err.Error()})
	conn.Close(websocket.StatusInternalError, "replication failed")
	return err
}

// ServeLive streams entry headers from stream to the peer until the peer
// goes away, ctx is done or the stream ends. A synced frame marks the end
// of the initial snapshot.
func ServeLive(ctx context.Context, conn *websocket.Conn, stream *archive.Stream) error {
	ctx = conn.CloseRead(ctx)
	defer stream.Close()

	sent := 0
	synced := stream.Synced()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-synced:
			synced = nil
			if err := wsjson.Write(ctx, conn, Frame{Type: FrameSynced, Count: sent}); err != nil {
				return nil
			}
		case e, ok := <-stream.C():
			if !ok {
				stream.Close()
				if err := stream.Err(); err != nil {
					_ = wsjson.Write(ctx, conn, Frame{Type: FrameError, Error: err.Error()})
					conn.Close(websocket.StatusInternalError, "stream failed")
					return err
				}
				return conn.Close(websocket.StatusNormalClosure, "")
			}
			if err := wsjson.Write(ctx, conn, entryFrame(e, nil)); err != nil {
				if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("write frame: %w", err)
			}
			sent++
		}
	}
}
