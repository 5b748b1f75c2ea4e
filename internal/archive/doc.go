// Package archive is the storage boundary of hyperfeed: a keyed, append-only
// file store with enumeration, live notification of appended files, and
// replication into peers.
//
// Every WriteFile appends a new version; List reports the latest version of
// each name. Ownership is decided when an archive is opened: only an owning
// handle accepts WriteFile and Finalize. Replication bypasses ownership via
// Apply, which is how read-only mirrors receive data.
//
// Backends:
//   - memory: process-local, shared between handles opened from one Opener
//   - sql: sqlite or postgres tables (see internal/database migrations)
//   - dir: one directory per archive, live listing via fsnotify
//   - s3: one object prefix per archive, ctime kept in object metadata
package archive
