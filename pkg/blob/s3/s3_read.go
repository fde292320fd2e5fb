// Package s3 implements the blob.Store interface over any S3-compatible
// endpoint.
//
// This file contains read operations: object gets, metadata heads,
// existence checks, and key listings.
package s3

import (
	"fmt"
	"io"
	"time"

	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/errs"
)

// Get downloads an object and returns it with the body fully read.
//
// Retry Behavior:
// Throttled and TransientNetwork failures are retried with exponential
// backoff up to the configured attempt budget. NoSuchKey, Permission, and
// other kinds surface immediately.
//
// Context Cancellation:
// The S3 GetObject call respects context cancellation, including while
// waiting out a retry backoff.
func (s *Store) Get(ctx context.Context, key string) (obj *blob.Object, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("GetObject", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	wireKey := s.fullKey(key)

	var result *s3.GetObjectOutput
	var lastErr error

	for attempt := 0; attempt < s.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Get: retrying", "backoff", backoff, "attempt", attempt, "max_attempts", s.retry.maxAttempts, "key", wireKey)
			if s.metrics != nil {
				s.metrics.RecordRetry("GetObject")
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := s.acquire(ctx); err != nil {
			return nil, err
		}
		s.costs.Add(blob.ClassGet)
		result, lastErr = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(wireKey),
		})
		s.release()

		if lastErr == nil {
			break
		}

		classified := s.classify("GetObject", key, lastErr)
		if !errs.IsRetryable(classified) {
			return nil, classified
		}

		lastErr = classified
		logger.Debug("Get: transient error", "attempt", attempt+1, "max_attempts", s.retry.maxAttempts, "key", wireKey, "error", lastErr)
	}

	if lastErr != nil {
		return nil, lastErr
	}

	defer func() { _ = result.Body.Close() }()

	body, readErr := io.ReadAll(result.Body)
	if readErr != nil {
		err = s.classify("GetObject", key, readErr)
		return nil, err
	}

	length := int64(len(body))
	if result.ContentLength != nil && *result.ContentLength != length {
		err = errs.NewContentMismatch(s.bucket, key,
			fmt.Sprintf("body length %d does not match content length %d", length, *result.ContentLength))
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordBytes("GetObject", length)
	}

	return &blob.Object{
		Key:           key,
		Body:          body,
		Metadata:      blob.Metadata(result.Metadata),
		ContentType:   aws.ToString(result.ContentType),
		ContentLength: length,
		ETag:          aws.ToString(result.ETag),
	}, nil
}

// Head returns object metadata without downloading the body.
//
// Retry Behavior:
// Same policy as Get: only Throttled and TransientNetwork are retried.
func (s *Store) Head(ctx context.Context, key string) (obj *blob.Object, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	wireKey := s.fullKey(key)

	var result *s3.HeadObjectOutput
	var lastErr error

	for attempt := 0; attempt < s.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Head: retrying", "backoff", backoff, "attempt", attempt, "max_attempts", s.retry.maxAttempts, "key", wireKey)
			if s.metrics != nil {
				s.metrics.RecordRetry("HeadObject")
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := s.acquire(ctx); err != nil {
			return nil, err
		}
		s.costs.Add(blob.ClassHead)
		result, lastErr = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(wireKey),
		})
		s.release()

		if lastErr == nil {
			break
		}

		classified := s.classify("HeadObject", key, lastErr)
		if !errs.IsRetryable(classified) {
			return nil, classified
		}

		lastErr = classified
		logger.Debug("Head: transient error", "attempt", attempt+1, "max_attempts", s.retry.maxAttempts, "key", wireKey, "error", lastErr)
	}

	if lastErr != nil {
		return nil, lastErr
	}

	return &blob.Object{
		Key:           key,
		Metadata:      blob.Metadata(result.Metadata),
		ContentType:   aws.ToString(result.ContentType),
		ContentLength: aws.ToInt64(result.ContentLength),
		ETag:          aws.ToString(result.ETag),
	}, nil
}

// Exists checks object presence via a HEAD request.
// A missing key returns (false, nil) - not an error.
func (s *Store) Exists(ctx context.Context, key string) (exists bool, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return false, err
	}

	wireKey := s.fullKey(key)

	var lastErr error

	for attempt := 0; attempt < s.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Exists: retrying", "backoff", backoff, "attempt", attempt, "max_attempts", s.retry.maxAttempts, "key", wireKey)
			if s.metrics != nil {
				s.metrics.RecordRetry("HeadObject")
			}

			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := s.acquire(ctx); err != nil {
			return false, err
		}
		s.costs.Add(blob.ClassHead)
		_, lastErr = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(wireKey),
		})
		s.release()

		if lastErr == nil {
			return true, nil
		}

		// Not found is not an error for existence checks
		if isNotFound(lastErr) {
			return false, nil
		}

		classified := s.classify("HeadObject", key, lastErr)
		if !errs.IsRetryable(classified) {
			return false, classified
		}

		lastErr = classified
		logger.Debug("Exists: transient error", "attempt", attempt+1, "max_attempts", s.retry.maxAttempts, "key", wireKey, "error", lastErr)
	}

	return false, lastErr
}

// List returns one page of keys under a prefix. Returned keys and common
// prefixes are relative to the store's configured prefix.
//
// Retry Behavior:
// Same policy as Get.
func (s *Store) List(ctx context.Context, in blob.ListInput) (out *blob.ListOutput, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	wirePrefix := s.fullKey(in.Prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(wirePrefix),
	}
	if in.MaxKeys > 0 {
		input.MaxKeys = aws.Int32(in.MaxKeys)
	}
	if in.ContinuationToken != "" {
		input.ContinuationToken = aws.String(in.ContinuationToken)
	}
	if in.Delimiter != "" {
		input.Delimiter = aws.String(in.Delimiter)
	}

	var result *s3.ListObjectsV2Output
	var lastErr error

	for attempt := 0; attempt < s.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("List: retrying", "backoff", backoff, "attempt", attempt, "max_attempts", s.retry.maxAttempts, "prefix", wirePrefix)
			if s.metrics != nil {
				s.metrics.RecordRetry("ListObjectsV2")
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := s.acquire(ctx); err != nil {
			return nil, err
		}
		s.costs.Add(blob.ClassList)
		result, lastErr = s.client.ListObjectsV2(ctx, input)
		s.release()

		if lastErr == nil {
			break
		}

		classified := s.classify("ListObjectsV2", in.Prefix, lastErr)
		if !errs.IsRetryable(classified) {
			return nil, classified
		}

		lastErr = classified
		logger.Debug("List: transient error", "attempt", attempt+1, "max_attempts", s.retry.maxAttempts, "prefix", wirePrefix, "error", lastErr)
	}

	if lastErr != nil {
		return nil, lastErr
	}

	out = &blob.ListOutput{
		Keys:      make([]string, 0, len(result.Contents)),
		Truncated: aws.ToBool(result.IsTruncated),
		NextToken: aws.ToString(result.NextContinuationToken),
	}
	for _, obj := range result.Contents {
		out.Keys = append(out.Keys, s.relativeKey(aws.ToString(obj.Key)))
	}
	for _, cp := range result.CommonPrefixes {
		out.CommonPrefixes = append(out.CommonPrefixes, s.relativeKey(aws.ToString(cp.Prefix)))
	}

	return out, nil
}
