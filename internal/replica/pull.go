package replica

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
)

// PullOptions controls Pull and Listen.
type PullOptions struct {
	// Live keeps the connection open after the initial snapshot.
	Live bool
	// OnSynced is called once the peer has sent its snapshot.
	OnSynced func(count int)
	Header   http.Header
	// ReadLimit bounds one frame; DefaultReadLimit when zero.
	ReadLimit int64
}

func dial(ctx context.Context, rawURL string, opts PullOptions) (*websocket.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse replication url: %w", err)
	}
	if opts.Live {
		q := u.Query()
		q.Set("live", "1")
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: opts.Header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)
	return conn, nil
}

// Pull replicates the remote archive at rawURL into sink and reports how many
// entries were applied. Entries the sink already holds unchanged are skipped,
// so pulling the same snapshot again applies nothing. Without Live it returns
// once the snapshot is in. With Live it runs until ctx is done or the peer
// closes.
func Pull(ctx context.Context, rawURL string, sink archive.Sink, opts PullOptions) (int, error) {
	have, err := archive.HoldingsOf(ctx, sink)
	if err != nil {
		return 0, err
	}
	conn, err := dial(ctx, rawURL, opts)
	if err != nil {
		return 0, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	n := 0
	err = readFrames(ctx, conn, func(f Frame) (bool, error) {
		switch f.Type {
		case FrameEntry:
			e := f.Entry()
			if have.Has(e) {
				return true, nil
			}
			if err := sink.Apply(ctx, e, f.Content); err != nil {
				return false, fmt.Errorf("apply %s: %w", f.Name, err)
			}
			have.Add(e)
			n++
		case FrameSynced:
			if opts.OnSynced != nil {
				opts.OnSynced(n)
			}
			return opts.Live, nil
		}
		return true, nil
	})
	return n, err
}

// Listen follows the live listing at rawURL, calling fn for every entry
// until ctx is done, the peer closes or fn returns an error.
func Listen(ctx context.Context, rawURL string, fn func(archive.Entry) error, opts PullOptions) error {
	conn, err := dial(ctx, rawURL, PullOptions{Header: opts.Header, ReadLimit: opts.ReadLimit})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	n := 0
	return readFrames(ctx, conn, func(f Frame) (bool, error) {
		switch f.Type {
		case FrameEntry:
			n++
			return true, fn(f.Entry())
		case FrameSynced:
			if opts.OnSynced != nil {
				opts.OnSynced(n)
			}
			return opts.Live, nil
		}
		return true, nil
	})
}

// readFrames hands every frame to handle until it returns false or an error.
// Error frames and abnormal closes are reported as errors; a normal close
// ends the loop cleanly.
func readFrames(ctx context.Context, conn *websocket.Conn, handle func(Frame) (bool, error)) error {
	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if f.Type == FrameError {
			return fmt.Errorf("%w: %s", ErrRemote, f.Error)
		}
		more, err := handle(f)
		if err != nil || !more {
			return err
		}
	}
}
