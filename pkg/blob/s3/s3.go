// Package s3 implements the blob.Store interface over any S3-compatible
// endpoint (AWS, MinIO, LocalStack, R2).
//
// This file contains the main types, configuration, constructor, and helper
// methods. Read and write operations live in s3_read.go and s3_write.go.
package s3

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/semaphore"

	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/errs"
)

// Store implements blob.Store using Amazon S3 or S3-compatible storage.
//
// Key Design:
//   - Callers pass keys relative to the configured prefix ("data/users/u1").
//   - The prefix is prepended on the wire and stripped from listings, so
//     the rest of the codebase never sees it.
//
// Concurrency:
//   - A weighted semaphore bounds in-flight HTTP requests to the configured
//     parallelism. The bound applies per attempt, so a request waiting out
//     a retry backoff does not hold a slot.
//
// Thread Safety:
// Safe for concurrent use by multiple goroutines. Concurrent writes to the
// same key are last-writer-wins, which is the semantic the record layer is
// built around.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string

	// Retry configuration for transient errors
	retry retryConfig

	// Bounds in-flight HTTP requests
	sem *semaphore.Weighted

	costs   *blob.Costs
	metrics blob.Metrics
}

// retryConfig holds retry settings for S3 operations.
type retryConfig struct {
	maxAttempts       int           // Total attempts including the first (default: 3)
	initialBackoff    time.Duration // Backoff before the first retry (default: 100ms)
	maxBackoff        time.Duration // Backoff ceiling (default: 2s)
	backoffMultiplier float64       // Exponential factor (default: 2.0)
}

// Config contains configuration for the S3 store.
type Config struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys.
	// Example: "myapp/prod" results in keys like "myapp/prod/data/users/u1".
	KeyPrefix string

	// MaxAttempts is the total number of attempts for retryable failures,
	// including the first (default: 3). Set to 1 to disable retries.
	MaxAttempts int

	// InitialBackoff is the backoff before the first retry (default: 100ms).
	// Each retry waits: min(InitialBackoff * (BackoffMultiplier ^ n), MaxBackoff)
	// with ±25% jitter applied.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff between retries (default: 2s).
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential backoff factor (default: 2.0).
	BackoffMultiplier float64

	// Parallelism bounds concurrent in-flight requests (default: 10).
	Parallelism int64

	// Metrics is an optional metrics collector. Nil means zero overhead.
	Metrics blob.Metrics
}

// NewClientFromConfig creates an S3 client from connection parameters.
// An empty endpoint selects AWS with the given region; a non-empty one
// targets an S3-compatible service (MinIO, LocalStack) with path-style
// addressing.
func NewClientFromConfig(
	ctx context.Context,
	endpoint,
	region,
	accessKeyID,
	secretAccessKey string,
	forcePathStyle bool,
) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"", // session token (empty for static credentials)
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = forcePathStyle
	})

	return client, nil
}

// New creates a new S3-backed blob store and verifies bucket access.
// The bucket must already exist - this function does not create it.
//
// Returns a NoSuchBucket or Permission error when the verification HEAD
// fails, which callers treat as fatal at connect time.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff == 0 {
		initialBackoff = 100 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 2 * time.Second
	}
	backoffMultiplier := cfg.BackoffMultiplier
	if backoffMultiplier == 0 {
		backoffMultiplier = 2.0
	}
	parallelism := cfg.Parallelism
	if parallelism == 0 {
		parallelism = 10
	}

	store := &Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: strings.Trim(cfg.KeyPrefix, "/"),
		metrics:   cfg.Metrics,
		costs:     blob.NewCosts(),
		sem:       semaphore.NewWeighted(parallelism),
		retry: retryConfig{
			maxAttempts:       maxAttempts,
			initialBackoff:    initialBackoff,
			maxBackoff:        maxBackoff,
			backoffMultiplier: backoffMultiplier,
		},
	}

	// Verify bucket access up front so misconfiguration fails at connect,
	// not on the first record write.
	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	store.costs.Add(blob.ClassHead)
	if err != nil {
		classified := store.classify("HeadBucket", "", err)
		if errs.KindOf(classified) == errs.KindNoSuchKey {
			// HeadBucket reports a missing bucket as a bare 404
			return nil, errs.NewNoSuchBucket(cfg.Bucket)
		}
		return nil, classified
	}

	return store, nil
}

// fullKey returns the wire-level object key for a caller-relative key.
func (s *Store) fullKey(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return s.keyPrefix + "/" + key
}

// relativeKey strips the store prefix from a wire-level key.
func (s *Store) relativeKey(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.keyPrefix+"/")
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Costs returns the request cost meter.
func (s *Store) Costs() *blob.Costs {
	return s.costs
}

// acquire blocks until an in-flight request slot is free.
func (s *Store) acquire(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

// release frees an in-flight request slot.
func (s *Store) release() {
	s.sem.Release(1)
}
