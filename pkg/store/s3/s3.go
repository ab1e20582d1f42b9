// Package s3 implements a file store on Amazon S3 or an S3-compatible
// service (MinIO, Localstack, Cubbit DS3).
//
// Each committed file is one object at "<key_prefix><name>". Uploads are
// staged in memory (they are bounded by the server's size ceiling) and
// published with a conditional PutObject (If-None-Match: *), so an object is
// never overwritten and a listing never shows a partial upload.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/filedrop/pkg/store"
)

// S3StoreConfig contains configuration for the S3 store.
type S3StoreConfig struct {
	// Client is the configured S3 client.
	Client *s3.Client

	// Bucket is the bucket name. It must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key (e.g. "filedrop/").
	KeyPrefix string

	// Extension is the suffix listed files must carry.
	Extension string
}

// S3Store implements store.Store on an S3 bucket.
//
// Thread Safety:
// Safe for concurrent use; the S3 client is goroutine-safe and the store
// keeps no mutable state of its own.
type S3Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	extension string
}

// NewS3Store verifies bucket access and returns a ready store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		extension: cfg.Extension,
	}, nil
}

func (s *S3Store) objectKey(name string) string {
	return s.keyPrefix + name
}

func (s *S3Store) Extension() string {
	return s.extension
}

func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(name)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object %s: %w", name, err)
}

// List returns objects directly under the key prefix. Keys with a further
// "/" belong to a deeper hierarchy and are skipped.
func (s *S3Store) List(ctx context.Context) ([]store.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var files []store.FileInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix)
			if strings.Contains(name, "/") || !store.HasExtension(name, s.extension) {
				continue
			}
			files = append(files, store.FileInfo{Name: name, Size: aws.ToInt64(obj.Size)})
		}
	}

	store.SortByName(files)
	return files, nil
}

func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("file %s: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", name, err)
	}
	return result.Body, nil
}

func (s *S3Store) Stage(ctx context.Context, name string) (store.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateName(name); err != nil {
		return nil, fmt.Errorf("file %q: %w", name, err)
	}
	return &s3Upload{store: s, name: name}, nil
}

func (s *S3Store) Close() error {
	return nil
}

type s3Upload struct {
	mu     sync.Mutex
	store  *S3Store
	name   string
	buf    bytes.Buffer
	closed bool
}

func (u *s3Upload) Name() string {
	return u.name
}

func (u *s3Upload) Size() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return int64(u.buf.Len())
}

func (u *s3Upload) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return 0, store.ErrUploadClosed
	}
	return u.buf.Write(p)
}

func (u *s3Upload) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return store.ErrUploadClosed
	}
	u.closed = true
	defer u.buf.Reset()

	_, err := u.store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.store.bucket),
		Key:           aws.String(u.store.objectKey(u.name)),
		Body:          bytes.NewReader(u.buf.Bytes()),
		ContentLength: aws.Int64(int64(u.buf.Len())),
		ContentType:   aws.String("text/plain"),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("file %s: %w", u.name, store.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to put object %s: %w", u.name, err)
	}
	return nil
}

func (u *s3Upload) Discard(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.closed = true
	u.buf.Reset()
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return false
}
