package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// DirDrive stores each archive as a flat directory <root>/<key>. File names
// are escaped so that names containing "/" (such as scrap/<guid>) stay flat.
// Names too long to escape into one file name are stored under their sha256
// with the real name in a hidden sidecar. Only the latest version of a name
// is kept on disk.
type DirDrive struct {
	root string
}

var _ Opener = (*DirDrive)(nil)

func NewDirDrive(root string) *DirDrive {
	return &DirDrive{root: root}
}

func (d *DirDrive) Open(ctx context.Context, opts OpenOptions) (Archive, error) {
	key, own, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(d.root, key.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &DirArchive{dir: dir, key: key, id: uuid.NewString(), writable: own}, nil
}

type DirArchive struct {
	dir      string
	key      Key
	id       string
	writable bool
	closed   atomic.Bool
}

var _ Archive = (*DirArchive)(nil)

func (a *DirArchive) Key() Key          { return a.key }
func (a *DirArchive) DiscoveryKey() Key { return a.key.Discovery() }
func (a *DirArchive) ID() string        { return a.id }
func (a *DirArchive) Writable() bool    { return a.writable }

const (
	dirTempPrefix = ".tmp-"
	// hashedPrefix marks files named by the sha256 of their record name.
	hashedPrefix = "~"
	// sidecarPrefix holds the record name of a hashed file.
	sidecarPrefix = ".name-"
	// maxFileName keeps escaped names well under the usual 255 byte limit.
	maxFileName = 200
)

func encodeName(name string) string {
	enc := url.QueryEscape(name)
	switch {
	case len(enc) > maxFileName:
		sum := sha256.Sum256([]byte(name))
		return hashedPrefix + hex.EncodeToString(sum[:])
	case strings.HasPrefix(enc, "."):
		enc = "%2E" + enc[1:]
	case strings.HasPrefix(enc, hashedPrefix):
		enc = "%7E" + enc[1:]
	}
	return enc
}

func (a *DirArchive) decodeName(file string) (string, bool) {
	switch {
	case strings.HasPrefix(file, "."):
		return "", false
	case strings.HasPrefix(file, hashedPrefix):
		raw, err := os.ReadFile(filepath.Join(a.dir, sidecarPrefix+file))
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
	name, err := url.QueryUnescape(file)
	if err != nil {
		return "", false
	}
	return name, true
}

func (a *DirArchive) WriteFile(ctx context.Context, name string, content []byte, opts WriteOptions) error {
	if !a.writable {
		return ErrReadOnly
	}
	return a.Apply(ctx, Entry{Name: name, CTime: opts.CTime}, content)
}

// Apply writes to a temp file, stamps the ctime as mtime and renames it into
// place, so watchers only ever see complete files. A hashed file gets its
// sidecar first, so a listed file can always be named.
func (a *DirArchive) Apply(ctx context.Context, e Entry, content []byte) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctime := ctimeOrNow(e.CTime)
	file := encodeName(e.Name)
	if strings.HasPrefix(file, hashedPrefix) {
		if err := a.place(sidecarPrefix+file, []byte(e.Name), ctime); err != nil {
			return fmt.Errorf("write %s: %w", e.Name, err)
		}
	}
	if err := a.place(file, content, ctime); err != nil {
		return fmt.Errorf("write %s: %w", e.Name, err)
	}
	return nil
}

func (a *DirArchive) place(file string, content []byte, mtime time.Time) error {
	tmp, err := os.CreateTemp(a.dir, dirTempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chtimes(tmpName, mtime, mtime); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(a.dir, file)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (a *DirArchive) ReadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	f, err := os.Open(filepath.Join(a.dir, encodeName(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return f, nil
}

func (a *DirArchive) List(ctx context.Context) ([]Entry, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	files, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		e, ok, err := a.stat(f.Name())
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if ok {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CTime.Equal(entries[j].CTime) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].CTime.Before(entries[j].CTime)
	})
	return entries, nil
}

func (a *DirArchive) stat(file string) (Entry, bool, error) {
	name, ok := a.decodeName(file)
	if !ok {
		return Entry{}, false, nil
	}
	info, err := os.Stat(filepath.Join(a.dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Name: name, CTime: info.ModTime(), Size: info.Size()}, true, nil
}

func (a *DirArchive) Watch(ctx context.Context) (*Stream, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := w.Add(a.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch: %w", err)
	}
	snapshot, err := a.List(ctx)
	if err != nil {
		w.Close()
		return nil, err
	}
	return newStream(ctx, func(ctx context.Context, emit func(Entry) bool, synced func()) error {
		defer w.Close()
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
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				return fmt.Errorf("watch: %w", err)
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				e, found, err := a.stat(filepath.Base(ev.Name))
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				if found && !emit(e) {
					return nil
				}
			}
		}
	}), nil
}

// Finalize flushes the directory so completed renames are durable.
func (a *DirArchive) Finalize(ctx context.Context) error {
	if !a.writable {
		return ErrReadOnly
	}
	d, err := os.Open(a.dir)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

func (a *DirArchive) Close() error {
	a.closed.Store(true)
	return nil
}
