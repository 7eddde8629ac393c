package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/tshirt-orderflow/internal/aws"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultURLTTL is the lifetime of signed URLs when none is configured.
const DefaultURLTTL = time.Hour

// ErrNotFound is returned by Get for a key that does not exist.
var ErrNotFound = errors.New("object not found")

// Presigner issues signed GET requests. *s3.PresignClient satisfies it.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Object is an uploaded object and a signed URL for it.
type Object struct {
	Key string
	URL string
}

// Store is the S3-backed object store.
type Store struct {
	client    aws.S3API
	presigner Presigner
	bucket    string
	ttl       time.Duration
	metrics   *storeMetrics
	logger    *slog.Logger
	nowFunc   func() time.Time
	lastStamp atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithURLTTL sets the default lifetime of signed URLs.
func WithURLTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegisterer enables Prometheus metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Store) {
		s.metrics = newStoreMetrics(reg)
	}
}

// New returns a Store over bucket.
func New(client aws.S3API, presigner Presigner, bucket string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		ttl:       DefaultURLTTL,
		logger:    slog.Default(),
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload stores body under "{prefix}/{unixNano}-{name}" and returns the key
// together with a signed URL. size may be -1 when unknown.
func (s *Store) Upload(ctx context.Context, prefix, name, contentType string, body io.Reader, size int64) (Object, error) {
	key := fmt.Sprintf("%s/%d-%s", strings.TrimSuffix(prefix, "/"), s.stamp(), safeName(name))
	if err := s.Put(ctx, key, contentType, body, size); err != nil {
		return Object{}, err
	}
	url, err := s.SignedURL(ctx, key, 0)
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, URL: url}, nil
}

// Put writes body at exactly key, overwriting any existing object.
func (s *Store) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (err error) {
	defer func(start time.Time) { s.metrics.observe("put", start, err) }(time.Now())

	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if size >= 0 {
		input.ContentLength = &size
	}
	if _, err = s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Get reads the object at key. Returns ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, key string) (data []byte, err error) {
	defer func(start time.Time) { s.metrics.observe("get", start, err) }(time.Now())

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err = io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// PutJSON writes v as a JSON document at key.
func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, "application/json", bytes.NewReader(data), int64(len(data)))
}

// GetJSON decodes the JSON document at key into v.
func (s *Store) GetJSON(ctx context.Context, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SignedURL returns a URL granting GET access to key for ttl (the store
// default when ttl <= 0). The key is not required to exist.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// ListKeys yields every key starting with prefix. Each iteration issues a
// fresh listing; a prefix with no objects yields nothing. A listing failure
// is yielded once as ("", err) and ends the sequence.
func (s *Store) ListKeys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start := time.Now()
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: &s.bucket,
			Prefix: &prefix,
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				s.metrics.observe("list", start, err)
				yield("", fmt.Errorf("list objects %s: %w", prefix, err))
				return
			}
			for _, obj := range page.Contents {
				if !yield(sdkaws.ToString(obj.Key), nil) {
					return
				}
			}
		}
		s.metrics.observe("list", start, nil)
	}
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.metrics.observe("delete", start, err) }(time.Now())

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// DeletePrefix deletes every object under the directory prefix. It keeps going
// past individual failures and returns how many objects were deleted together
// with the joined errors.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return s.DeletePrefixExcept(ctx, prefix)
}

// DeletePrefixExcept is DeletePrefix leaving the keys in keep untouched.
func (s *Store) DeletePrefixExcept(ctx context.Context, prefix string, keep ...string) (int, error) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var (
		deleted int
		errs    []error
	)
	for key, err := range s.ListKeys(ctx, prefix) {
		if err != nil {
			errs = append(errs, err)
			break
		}
		if slices.Contains(keep, key) {
			continue
		}
		if err := s.Delete(ctx, key); err != nil {
			s.logger.Error("delete object failed", "key", key, "err", err)
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// stamp returns the current time in nanoseconds, bumped past the previous
// stamp so keys issued by one store never repeat.
func (s *Store) stamp() int64 {
	now := s.nowFunc().UnixNano()
	for {
		last := s.lastStamp.Load()
		next := max(now, last+1)
		if s.lastStamp.CompareAndSwap(last, next) {
			return next
		}
	}
}

// safeName keeps only the final path element of a client-declared file name.
func safeName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
