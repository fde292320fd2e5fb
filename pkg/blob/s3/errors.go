// Package s3 implements the blob.Store interface over any S3-compatible
// endpoint.
//
// This file contains error normalization and retry backoff helpers shared
// by the read and write paths.
package s3

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/s3db-io/s3db/pkg/errs"
)

// classify normalizes a provider failure into the stable error shape.
// Context cancellation passes through untouched so callers can detect it
// with errors.Is.
func (s *Store) classify(command, key string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	e := &errs.Error{
		Kind:    errs.KindUnknown,
		Command: command,
		Bucket:  s.bucket,
		Key:     key,
		Message: err.Error(),
		Err:     err,
	}

	// HTTP-level context: status code and the request id AWS support asks for.
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		e.HTTPStatus = respErr.HTTPStatusCode()
		e.RequestID = respErr.ServiceRequestID()
	}

	// Typed errors first: the SDK models the common 404s explicitly.
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		e.Kind = errs.KindNoSuchKey
		e.Message = "object does not exist"
		return e
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		e.Kind = errs.KindNoSuchBucket
		e.Message = "bucket does not exist"
		e.Suggestion = "create the bucket or check the connection string"
		return e
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		e.AWSCode = apiErr.ErrorCode()
		if msg := apiErr.ErrorMessage(); msg != "" {
			e.Message = msg
		}

		switch e.AWSCode {
		case "NoSuchKey", "NotFound", "404":
			e.Kind = errs.KindNoSuchKey

		case "NoSuchBucket":
			e.Kind = errs.KindNoSuchBucket
			e.Suggestion = "create the bucket or check the connection string"

		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"AccountProblem", "AllAccessDisabled":
			e.Kind = errs.KindPermission
			e.Suggestion = "check the credentials and bucket policy"

		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"TooManyRequests", "ProvisionedThroughputExceededException":
			e.Kind = errs.KindThrottled

		case "InternalError", "ServiceUnavailable", "ServiceException",
			"InternalServiceException", "RequestTimeout", "RequestTimeoutException":
			e.Kind = errs.KindTransientNetwork
		}

		return e
	}

	// Network errors without an API shape are transient.
	var netErr net.Error
	if errors.As(err, &netErr) {
		e.Kind = errs.KindTransientNetwork
		return e
	}

	// Fall back to message patterns the SDK does not always type.
	errStr := err.Error()
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "StatusCode: 500") ||
		strings.Contains(errStr, "StatusCode: 503") {
		e.Kind = errs.KindTransientNetwork
		return e
	}
	if strings.Contains(errStr, "StatusCode: 404") {
		e.Kind = errs.KindNoSuchKey
		return e
	}

	return e
}

// isNotFound reports whether a raw provider error is a missing-object 404,
// before classification.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}

	return strings.Contains(err.Error(), "StatusCode: 404")
}

// calculateBackoff returns the wait before retry n (0-based), applying the
// exponential schedule with ±25% jitter so herds of workers do not retry
// in lockstep.
func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.retry.initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.backoffMultiplier
	}
	if backoff > float64(s.retry.maxBackoff) {
		backoff = float64(s.retry.maxBackoff)
	}
	jitter := 0.75 + 0.5*rand.Float64()
	return time.Duration(backoff * jitter)
}
