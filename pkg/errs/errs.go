// Package errs provides the stable error taxonomy shared by every layer.
// This is a leaf package with no internal dependencies, designed to be
// imported by the blob client, codec, resources, and plugins without
// causing circular imports.
//
// Import graph: errs <- blob <- codec <- resource <- plugins
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error into one of the stable categories callers are
// expected to branch on. The names are part of the public contract: they
// appear in logs, emitted events, and CLI output.
type Kind int

const (
	// KindUnknown is the fallback for errors that fit no other category.
	KindUnknown Kind = iota

	// KindNoSuchKey indicates a GET/HEAD on a missing object key.
	KindNoSuchKey

	// KindNoSuchBucket indicates the configured bucket does not exist.
	KindNoSuchBucket

	// KindNotFound indicates a record lookup miss at the resource level.
	KindNotFound

	// KindPermission indicates the credentials lack access (AccessDenied).
	KindPermission

	// KindThrottled indicates provider rate limiting (Throttling, SlowDown).
	KindThrottled

	// KindTransientNetwork indicates a retryable network or 5xx failure.
	KindTransientNetwork

	// KindContentMismatch indicates a checksum or length mismatch on read.
	KindContentMismatch

	// KindValidation indicates schema validation rejected a record.
	KindValidation

	// KindFieldOverflow indicates the metadata size cap was exceeded under
	// a behavior that refuses oversized records.
	KindFieldOverflow

	// KindDecryptionFailed indicates a secret field could not be decrypted.
	KindDecryptionFailed

	// KindManifestCorrupted indicates the catalog object failed to parse.
	KindManifestCorrupted

	// KindConflictEpoch indicates a write from a stale leadership epoch.
	KindConflictEpoch

	// KindDependencyMissing indicates an optional plugin dependency is absent.
	KindDependencyMissing
)

// String returns the stable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNoSuchKey:
		return "NoSuchKey"
	case KindNoSuchBucket:
		return "NoSuchBucket"
	case KindNotFound:
		return "NotFound"
	case KindPermission:
		return "Permission"
	case KindThrottled:
		return "Throttled"
	case KindTransientNetwork:
		return "TransientNetwork"
	case KindContentMismatch:
		return "ContentMismatch"
	case KindValidation:
		return "ValidationError"
	case KindFieldOverflow:
		return "FieldOverflow"
	case KindDecryptionFailed:
		return "DecryptionFailed"
	case KindManifestCorrupted:
		return "ManifestCorrupted"
	case KindConflictEpoch:
		return "ConflictEpoch"
	case KindDependencyMissing:
		return "DependencyMissing"
	case KindUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// FieldError describes a single attribute that failed validation.
type FieldError struct {
	Field   string // attribute path, e.g. "profile.email"
	Rule    string // violated rule, e.g. "required", "max"
	Message string
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// Error is the structured error shape surfaced by every operation.
// The zero fields are omitted from rendering, so constructors only
// fill what they know.
type Error struct {
	Kind       Kind
	Op         string // logical operation, e.g. "resource.insert"
	Command    string // provider command, e.g. "PutObject"
	Bucket     string
	Key        string
	Resource   string
	HTTPStatus int
	AWSCode    string // original provider error code
	RequestID  string // provider request id for support correlation
	Message    string
	Suggestion string       // human hint, e.g. "run removeOrphanedPartitions()"
	Fields     []FieldError // populated for KindValidation
	Err        error        // wrapped cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Bucket != "" || e.Key != "" {
		b.WriteString(" (")
		if e.Bucket != "" {
			b.WriteString("bucket: ")
			b.WriteString(e.Bucket)
		}
		if e.Key != "" {
			if e.Bucket != "" {
				b.WriteString(", ")
			}
			b.WriteString("key: ")
			b.WriteString(e.Key)
		}
		b.WriteString(")")
	}
	for _, f := range e.Fields {
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	if e.Suggestion != "" {
		b.WriteString(" - ")
		b.WriteString(e.Suggestion)
	}
	return b.String()
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewNoSuchKey creates a NoSuchKey error for a missing object.
func NewNoSuchKey(bucket, key string) *Error {
	return &Error{
		Kind:    KindNoSuchKey,
		Bucket:  bucket,
		Key:     key,
		Message: "object does not exist",
	}
}

// NewNoSuchBucket creates a NoSuchBucket error.
func NewNoSuchBucket(bucket string) *Error {
	return &Error{
		Kind:       KindNoSuchBucket,
		Bucket:     bucket,
		Message:    "bucket does not exist",
		Suggestion: "create the bucket or check the connection string",
	}
}

// NewNotFound creates a NotFound error for a missing record.
func NewNotFound(resource, id string) *Error {
	return &Error{
		Kind:     KindNotFound,
		Resource: resource,
		Message:  fmt.Sprintf("record %q not found", id),
	}
}

// NewPermission creates a Permission error.
func NewPermission(bucket, key string, cause error) *Error {
	return &Error{
		Kind:       KindPermission,
		Bucket:     bucket,
		Key:        key,
		Message:    "access denied",
		Suggestion: "check the credentials and bucket policy",
		Err:        cause,
	}
}

// NewThrottled creates a Throttled error.
func NewThrottled(bucket, key string, cause error) *Error {
	return &Error{
		Kind:    KindThrottled,
		Bucket:  bucket,
		Key:     key,
		Message: "provider is rate limiting requests",
		Err:     cause,
	}
}

// NewTransientNetwork creates a TransientNetwork error.
func NewTransientNetwork(bucket, key string, cause error) *Error {
	return &Error{
		Kind:    KindTransientNetwork,
		Bucket:  bucket,
		Key:     key,
		Message: "transient network failure",
		Err:     cause,
	}
}

// NewContentMismatch creates a ContentMismatch error.
func NewContentMismatch(bucket, key, detail string) *Error {
	return &Error{
		Kind:    KindContentMismatch,
		Bucket:  bucket,
		Key:     key,
		Message: detail,
	}
}

// NewValidation creates a ValidationError carrying per-field failures.
func NewValidation(resource string, fields []FieldError) *Error {
	return &Error{
		Kind:     KindValidation,
		Resource: resource,
		Message:  fmt.Sprintf("%d field(s) failed validation", len(fields)),
		Fields:   fields,
	}
}

// NewFieldOverflow creates a FieldOverflow error for a record whose
// mapped metadata exceeds the effective limit.
func NewFieldOverflow(resource string, size, limit int) *Error {
	return &Error{
		Kind:       KindFieldOverflow,
		Resource:   resource,
		Message:    fmt.Sprintf("metadata size %dB exceeds limit %dB", size, limit),
		Suggestion: "switch the resource to the body-overflow behavior or trim the record",
	}
}

// NewDecryptionFailed creates a DecryptionFailed error for a secret field.
func NewDecryptionFailed(resource, field string, cause error) *Error {
	return &Error{
		Kind:       KindDecryptionFailed,
		Resource:   resource,
		Message:    fmt.Sprintf("cannot decrypt field %q", field),
		Suggestion: "verify the passphrase matches the one used at write time",
		Err:        cause,
	}
}

// NewManifestCorrupted creates a ManifestCorrupted error.
func NewManifestCorrupted(key string, cause error) *Error {
	return &Error{
		Kind:    KindManifestCorrupted,
		Key:     key,
		Message: "catalog object failed to parse",
		Err:     cause,
	}
}

// NewConflictEpoch creates a ConflictEpoch error for stale leader writes.
func NewConflictEpoch(current, observed int64) *Error {
	return &Error{
		Kind:    KindConflictEpoch,
		Message: fmt.Sprintf("write from epoch %d rejected, current epoch is %d", observed, current),
	}
}

// NewDependencyMissing creates a DependencyMissing error with an install hint.
func NewDependencyMissing(plugin, dependency, hint string) *Error {
	return &Error{
		Kind:       KindDependencyMissing,
		Message:    fmt.Sprintf("plugin %q requires %s", plugin, dependency),
		Suggestion: hint,
	}
}

// NewUnknown wraps an unclassified error.
func NewUnknown(op string, cause error) *Error {
	msg := "unclassified failure"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Kind:    KindUnknown,
		Op:      op,
		Message: msg,
		Err:     cause,
	}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// KindOf extracts the Kind from an error, unwrapping as needed.
// Plain errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsError extracts the structured *Error from err, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsNotFound returns true for both record-level and key-level misses.
func IsNotFound(err error) bool {
	k := KindOf(err)
	return k == KindNotFound || k == KindNoSuchKey
}

// IsRetryable returns true for kinds the blob client retries transparently.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindThrottled || k == KindTransientNetwork
}

// IsPermission returns true for access failures.
func IsPermission(err error) bool {
	return KindOf(err) == KindPermission
}

// IsValidation returns true for schema validation failures.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsFieldOverflow returns true for metadata cap violations.
func IsFieldOverflow(err error) bool {
	return KindOf(err) == KindFieldOverflow
}

// IsConflictEpoch returns true for stale leadership writes.
func IsConflictEpoch(err error) bool {
	return KindOf(err) == KindConflictEpoch
}
