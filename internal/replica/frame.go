// Package replica carries replication sessions and live listings over
// websockets. Every message is a JSON Frame.
package replica

import (
	"errors"
	"time"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
)

// Frame types.
const (
	FrameEntry  = "entry"
	FrameSynced = "synced"
	FrameError  = "error"
)

// DefaultReadLimit bounds a single frame read by Pull and Listen.
const DefaultReadLimit = 32 << 20

// ErrRemote is matched by errors reported by the serving side.
var ErrRemote = errors.New("remote replication error")

// Frame is one websocket message. Content is only set on replication
// streams; live listings carry entry headers alone.
type Frame struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	CTime   int64  `json:"ctime,omitempty"` // epoch milliseconds
	Size    int64  `json:"size,omitempty"`
	Content []byte `json:"content,omitempty"`
	Count   int    `json:"count,omitempty"` // entries sent before a synced frame
	Error   string `json:"error,omitempty"`
}

func entryFrame(e archive.Entry, content []byte) Frame {
	f := Frame{Type: FrameEntry, Name: e.Name, Size: e.Size, Content: content}
	if !e.CTime.IsZero() {
		f.CTime = e.CTime.UnixMilli()
	}
	if content != nil {
		f.Size = int64(len(content))
	}
	return f
}

// Entry converts an entry frame back into an archive entry.
func (f Frame) Entry() archive.Entry {
	e := archive.Entry{Name: f.Name, Size: f.Size}
	if f.CTime != 0 {
		e.CTime = time.UnixMilli(f.CTime).UTC()
	}
	return e
}
