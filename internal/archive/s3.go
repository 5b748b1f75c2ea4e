package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3API is the subset of the S3 client used by the s3 backend.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures NewS3Client.
type S3Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client from static credentials, for S3-compatible
// stores such as MinIO.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

const s3CTimeMeta = "ctime"

// S3Drive stores archives under <prefix>/<key>/ in one bucket.
type S3Drive struct {
	client       S3API
	bucket       string
	prefix       string
	PollInterval time.Duration
}

var _ Opener = (*S3Drive)(nil)

func NewS3Drive(client S3API, bucket, prefix string) *S3Drive {
	return &S3Drive{
		client:       client,
		bucket:       bucket,
		prefix:       strings.Trim(prefix, "/"),
		PollInterval: DefaultPollInterval,
	}
}

func (d *S3Drive) Open(ctx context.Context, opts OpenOptions) (Archive, error) {
	key, own, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	return &S3Archive{
		client:   d.client,
		bucket:   d.bucket,
		root:     path.Join(d.prefix, key.String()) + "/",
		key:      key,
		id:       uuid.NewString(),
		writable: own,
		poll:     d.PollInterval,
	}, nil
}

// S3Archive keeps one object per name; ctime lives in object metadata.
type S3Archive struct {
	client   S3API
	bucket   string
	root     string
	key      Key
	id       string
	writable bool
	poll     time.Duration
	closed   atomic.Bool
}

var _ Archive = (*S3Archive)(nil)

func (a *S3Archive) Key() Key          { return a.key }
func (a *S3Archive) DiscoveryKey() Key { return a.key.Discovery() }
func (a *S3Archive) ID() string        { return a.id }
func (a *S3Archive) Writable() bool    { return a.writable }

func (a *S3Archive) objectKey(name string) string {
	return a.root + name
}

func (a *S3Archive) WriteFile(ctx context.Context, name string, content []byte, opts WriteOptions) error {
	if !a.writable {
		return ErrReadOnly
	}
	return a.Apply(ctx, Entry{Name: name, CTime: opts.CTime}, content)
}

func (a *S3Archive) Apply(ctx context.Context, e Entry, content []byte) error {
	if a.closed.Load() {
		return ErrClosed
	}
	ctime := ctimeOrNow(e.CTime)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.objectKey(e.Name)),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		Metadata:      map[string]string{s3CTimeMeta: strconv.FormatInt(ctime.UnixMilli(), 10)},
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", e.Name, err)
	}
	return nil
}

func (a *S3Archive) ReadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("read %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return out.Body, nil
}

type s3Object struct {
	entry Entry
	etag  string
}

func (a *S3Archive) listObjects(ctx context.Context) ([]s3Object, error) {
	var objects []s3Object
	p := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.root),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), a.root)
			if name == "" {
				continue
			}
			objects = append(objects, s3Object{
				entry: Entry{
					Name:  name,
					CTime: aws.ToTime(obj.LastModified),
					Size:  aws.ToInt64(obj.Size),
				},
				etag: aws.ToString(obj.ETag),
			})
		}
	}
	return objects, nil
}

// ctime prefers the stored metadata over LastModified.
func (a *S3Archive) ctime(ctx context.Context, e Entry) (Entry, error) {
	head, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(e.Name)),
	})
	if err != nil {
		return e, err
	}
	if raw, ok := head.Metadata[s3CTimeMeta]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			e.CTime = time.UnixMilli(ms)
		}
	}
	return e, nil
}

func (a *S3Archive) List(ctx context.Context) ([]Entry, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	objects, err := a.listObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	entries := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		e, err := a.ctime(ctx, obj.entry)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", obj.entry.Name, err)
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CTime.Before(entries[j].CTime) })
	return entries, nil
}

// Watch polls the listing and emits objects whose ETag changed.
func (a *S3Archive) Watch(ctx context.Context) (*Stream, error) {
	objects, err := a.listObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	seen := make(map[string]string, len(objects))
	snapshot := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		e, err := a.ctime(ctx, obj.entry)
		if err != nil {
			return nil, fmt.Errorf("watch: %w", err)
		}
		seen[obj.entry.Name] = obj.etag
		snapshot = append(snapshot, e)
	}
	interval := a.poll
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return newStream(ctx, snapshotThenPoll(snapshot, func(ctx context.Context, emit func(Entry) bool) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			objects, err := a.listObjects(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("poll objects: %w", err)
			}
			for _, obj := range objects {
				if seen[obj.entry.Name] == obj.etag {
					continue
				}
				e, err := a.ctime(ctx, obj.entry)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("poll objects: %w", err)
				}
				seen[obj.entry.Name] = obj.etag
				if !emit(e) {
					return nil
				}
			}
		}
	})), nil
}

// Finalize is a no-op beyond the ownership check: S3 reads are strongly
// consistent after a successful PUT.
func (a *S3Archive) Finalize(ctx context.Context) error {
	if !a.writable {
		return ErrReadOnly
	}
	return nil
}

func (a *S3Archive) Close() error {
	a.closed.Store(true)
	return nil
}
