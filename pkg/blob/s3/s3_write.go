// Package s3 implements the blob.Store interface over any S3-compatible
// endpoint.
//
// This file contains write operations: puts, deletes, batch deletes, and
// server-side copies.
package s3

import (
	"bytes"
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/errs"
)

// Put writes an object, overwriting any previous version. A nil body writes
// a zero-byte object, which is how partition-index entries are stored.
//
// Retry Behavior:
// Throttled and TransientNetwork failures are retried with exponential
// backoff up to the configured attempt budget. PutObject is idempotent from
// the caller's perspective (last writer wins), so retrying a write whose
// response was lost is safe.
func (s *Store) Put(ctx context.Context, in blob.PutInput) (err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("PutObject", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return err
	}

	wireKey := s.fullKey(in.Key)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(wireKey),
		Body:   bytes.NewReader(in.Body),
	}
	if len(in.Metadata) > 0 {
		input.Metadata = in.Metadata
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}

	var lastErr error

	for attempt := 0; attempt < s.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Put: retrying", "backoff", backoff, "attempt", attempt, "max_attempts", s.retry.maxAttempts, "key", wireKey)
			if s.metrics != nil {
				s.metrics.RecordRetry("PutObject")
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			// The reader is consumed on each attempt.
			input.Body = bytes.NewReader(in.Body)
		}

		if err := s.acquire(ctx); err != nil {
			return err
		}
		s.costs.Add(blob.ClassPut)
		_, lastErr = s.client.PutObject(ctx, input)
		s.release()

		if lastErr == nil {
			if s.metrics != nil {
				s.metrics.RecordBytes("PutObject", int64(len(in.Body)))
			}
			return nil
		}

		classified := s.classify("PutObject", in.Key, lastErr)
		if !errs.IsRetryable(classified) {
			return classified
		}

		lastErr = classified
		logger.Debug("Put: transient error", "attempt", attempt+1, "max_attempts", s.retry.maxAttempts, "key", wireKey, "error", lastErr)
	}

	return lastErr
}

// Delete removes an object. Deleting a missing key is a no-op, matching
// the provider's DeleteObject semantics.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("DeleteObject", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return err
	}

	wireKey := s.fullKey(key)

	var lastErr error

	for attempt := 0; attempt < s.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Delete: retrying", "backoff", backoff, "attempt", attempt, "max_attempts", s.retry.maxAttempts, "key", wireKey)
			if s.metrics != nil {
				s.metrics.RecordRetry("DeleteObject")
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := s.acquire(ctx); err != nil {
			return err
		}
		s.costs.Add(blob.ClassDelete)
		_, lastErr = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(wireKey),
		})
		s.release()

		if lastErr == nil {
			return nil
		}

		classified := s.classify("DeleteObject", key, lastErr)
		if !errs.IsRetryable(classified) {
			return classified
		}

		lastErr = classified
		logger.Debug("Delete: transient error", "attempt", attempt+1, "max_attempts", s.retry.maxAttempts, "key", wireKey, "error", lastErr)
	}

	return lastErr
}

// DeleteMany removes up to 1000 keys in a single DeleteObjects request.
// Larger slices are the caller's responsibility to batch (blob.DeleteAll
// does this).
//
// Per-key failures inside an otherwise successful batch are collected into
// a single Unknown error listing the failed keys; missing keys are not
// failures.
func (s *Store) DeleteMany(ctx context.Context, keys []string) (err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("DeleteObjects", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.fullKey(k))})
	}

	input := &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	}

	var result *s3.DeleteObjectsOutput
	var lastErr error

	for attempt := 0; attempt < s.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("DeleteMany: retrying", "backoff", backoff, "attempt", attempt, "max_attempts", s.retry.maxAttempts, "keys", len(keys))
			if s.metrics != nil {
				s.metrics.RecordRetry("DeleteObjects")
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := s.acquire(ctx); err != nil {
			return err
		}
		s.costs.Add(blob.ClassDelete)
		result, lastErr = s.client.DeleteObjects(ctx, input)
		s.release()

		if lastErr == nil {
			break
		}

		classified := s.classify("DeleteObjects", "", lastErr)
		if !errs.IsRetryable(classified) {
			return classified
		}

		lastErr = classified
		logger.Debug("DeleteMany: transient error", "attempt", attempt+1, "max_attempts", s.retry.maxAttempts, "error", lastErr)
	}

	if lastErr != nil {
		return lastErr
	}

	var failed []string
	for _, e := range result.Errors {
		code := aws.ToString(e.Code)
		if code == "NoSuchKey" || code == "NotFound" {
			continue
		}
		failed = append(failed, s.relativeKey(aws.ToString(e.Key)))
	}
	if len(failed) > 0 {
		return &errs.Error{
			Kind:    errs.KindUnknown,
			Command: "DeleteObjects",
			Bucket:  s.bucket,
			Message: "batch delete failed for some keys",
			Key:     failed[0],
		}
	}

	return nil
}

// Copy duplicates src to dst server-side. When replace is non-nil the
// destination gets the new metadata instead of the source's (REPLACE
// directive); a nil replace copies metadata unchanged.
func (s *Store) Copy(ctx context.Context, src, dst string, replace blob.Metadata) (err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("CopyObject", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return err
	}

	input := &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.fullKey(dst)),
		CopySource: aws.String(s.bucket + "/" + s.fullKey(src)),
	}
	if replace != nil {
		input.Metadata = replace
		input.MetadataDirective = types.MetadataDirectiveReplace
	}

	var lastErr error

	for attempt := 0; attempt < s.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Copy: retrying", "backoff", backoff, "attempt", attempt, "max_attempts", s.retry.maxAttempts, "src", src, "dst", dst)
			if s.metrics != nil {
				s.metrics.RecordRetry("CopyObject")
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := s.acquire(ctx); err != nil {
			return err
		}
		s.costs.Add(blob.ClassPut)
		_, lastErr = s.client.CopyObject(ctx, input)
		s.release()

		if lastErr == nil {
			return nil
		}

		classified := s.classify("CopyObject", src, lastErr)
		if !errs.IsRetryable(classified) {
			return classified
		}

		lastErr = classified
		logger.Debug("Copy: transient error", "attempt", attempt+1, "max_attempts", s.retry.maxAttempts, "src", src, "error", lastErr)
	}

	return lastErr
}
