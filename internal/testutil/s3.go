package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MemoryS3 is an in-memory S3API holding a single bucket's worth of objects per bucket name.
type MemoryS3 struct {
	mu      sync.Mutex
	objects map[string][]byte // bucket + "/" + key
	types   map[string]string

	// Errs forces the named operation ("PutObject", "GetObject",
	// "DeleteObject", "ListObjectsV2") to fail.
	Errs map[string]error
	// DeleteErrs fails DeleteObject for specific keys.
	DeleteErrs map[string]error
	// PageSize bounds ListObjectsV2 pages; 0 means 1000.
	PageSize int
}

// NewMemoryS3 returns an empty MemoryS3.
func NewMemoryS3() *MemoryS3 {
	return &MemoryS3{
		objects:    map[string][]byte{},
		types:      map[string]string{},
		Errs:       map[string]error{},
		DeleteErrs: map[string]error{},
	}
}

// Keys returns the sorted keys stored in bucket.
func (m *MemoryS3) Keys(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if key, ok := strings.CutPrefix(k, bucket+"/"); ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// Object returns the stored bytes and content type of key.
func (m *MemoryS3) Object(bucket, key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	return data, m.types[bucket+"/"+key], ok
}

func (m *MemoryS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := m.Errs["PutObject"]; err != nil {
		return nil, err
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := *params.Bucket + "/" + *params.Key
	m.objects[k] = data
	if params.ContentType != nil {
		m.types[k] = *params.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *MemoryS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := m.Errs["GetObject"]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*params.Bucket+"/"+*params.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *MemoryS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := m.Errs["DeleteObject"]; err != nil {
		return nil, err
	}
	if err := m.DeleteErrs[*params.Key]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := *params.Bucket + "/" + *params.Key
	delete(m.objects, k)
	delete(m.types, k)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *MemoryS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := m.Errs["ListObjectsV2"]; err != nil {
		return nil, err
	}
	prefix := ""
	if params.Prefix != nil {
		prefix = *params.Prefix
	}
	var keys []string
	for _, k := range m.Keys(*params.Bucket) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	start := 0
	if params.ContinuationToken != nil {
		fmt.Sscanf(*params.ContinuationToken, "%d", &start)
	}
	size := m.PageSize
	if size <= 0 {
		size = 1000
	}
	end := min(start+size, len(keys))

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: &k})
	}
	truncated := end < len(keys)
	out.IsTruncated = &truncated
	if truncated {
		next := fmt.Sprintf("%d", end)
		out.NextContinuationToken = &next
	}
	return out, nil
}

// StaticPresigner signs URLs deterministically as https://signed.test/{bucket}/{key}?expires={seconds}.
type StaticPresigner struct {
	Err error
}

func (p StaticPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &v4.PresignedHTTPRequest{
		Method: "GET",
		URL:    fmt.Sprintf("https://signed.test/%s/%s?expires=%d", *params.Bucket, *params.Key, int(opts.Expires.Seconds())),
	}, nil
}
