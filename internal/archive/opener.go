package archive

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
)

// Deps carries the shared resources some backends need.
type Deps struct {
	DB      *sql.DB
	Dialect Dialect
	S3      S3API
}

// NewOpener picks a backend from dsn:
//
//	memory            process-local archives
//	sql               the catalog database (Deps.DB)
//	file:///var/feeds one directory per archive under the path
//	s3://bucket/pfx   one object prefix per archive (Deps.S3)
func NewOpener(dsn string, deps Deps) (Opener, error) {
	dsn = strings.TrimSpace(dsn)
	switch strings.ToLower(dsn) {
	case "", "memory", "mem", "inmem":
		return NewMemoryDrive(), nil
	case "sql":
		if deps.DB == nil {
			return nil, fmt.Errorf("%w: sql archive needs a database", ErrUnsupported)
		}
		return NewSQLDrive(deps.DB, deps.Dialect), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse archive dsn: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "file":
		root := parsed.Path
		if parsed.Host != "" {
			root = parsed.Host + root
		}
		if root == "" {
			return nil, fmt.Errorf("%w: file archive needs a path", ErrUnsupported)
		}
		return NewDirDrive(root), nil
	case "s3":
		if deps.S3 == nil {
			return nil, fmt.Errorf("%w: s3 archive needs a client", ErrUnsupported)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("%w: s3 archive needs a bucket", ErrUnsupported)
		}
		return NewS3Drive(deps.S3, parsed.Host, parsed.Path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, parsed.Scheme)
	}
}

// IsS3 reports whether dsn selects the s3 backend.
func IsS3(dsn string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(dsn)), "s3://")
}
