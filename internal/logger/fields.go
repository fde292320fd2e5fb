package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Database & Resource Operations
	// ========================================================================
	KeyOperation = "operation" // Operation name: insert, get, update, delete, list, etc.
	KeyResource  = "resource"  // Resource name: users, orders, etc.
	KeyRecordID  = "record_id" // Record identifier
	KeyPartition = "partition" // Partition name
	KeyVersion   = "version"   // Schema version
	KeyNamespace = "namespace" // Key prefix namespace inside the bucket
	KeyCount     = "count"     // Generic item count

	// ========================================================================
	// Blob Storage
	// ========================================================================
	KeyBucket     = "bucket"      // Bucket name
	KeyKey        = "key"         // Object key
	KeyPrefix     = "prefix"      // Key prefix for list operations
	KeyRegion     = "region"      // Cloud region
	KeyEndpoint   = "endpoint"    // Custom endpoint (MinIO, LocalStack)
	KeySize       = "size"        // Object body size in bytes
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyAWSCode    = "aws_code"    // Provider error code (NoSuchKey, SlowDown, ...)
	KeyRequestID  = "request_id"  // Provider request ID for support correlation

	// ========================================================================
	// Codec & Metadata Mapping
	// ========================================================================
	KeyBehavior    = "behavior"     // Metadata limit behavior in effect
	KeyMetaBytes   = "meta_bytes"   // Effective metadata size in bytes
	KeyOverflow    = "overflow"     // Whether fields overflowed to the body
	KeyTruncated   = "truncated"    // Whether fields were truncated
	KeyCompressed  = "compressed"   // Whether the mapped form is compressed
	KeySavedBytes  = "saved_bytes"  // Bytes saved by compression
	KeySecretField = "secret_field" // Attribute path of an encrypted field

	// ========================================================================
	// Coordination
	// ========================================================================
	KeyWorkerID = "worker_id" // Worker/process identifier
	KeyLeaderID = "leader_id" // Current leader identifier
	KeyEpoch    = "epoch"     // Leadership epoch
	KeyLease    = "lease"     // Lease key

	// ========================================================================
	// Queue
	// ========================================================================
	KeyQueue      = "queue"       // Queue resource name
	KeyMessageID  = "message_id"  // Queue message identifier
	KeyReceipt    = "receipt"     // In-flight receipt handle
	KeyAttempts   = "attempts"    // Delivery attempt count
	KeyVisibility = "visibility"  // Visibility timeout
	KeyDeadLetter = "dead_letter" // Dead-letter resource name

	// ========================================================================
	// Replication
	// ========================================================================
	KeyTarget    = "target"    // Replication target identifier
	KeyDriver    = "driver"    // Replication driver name
	KeyEntryID   = "entry_id"  // Replication log entry identifier
	KeyAction    = "action"    // Replicated action: insert, update, delete
	KeyRetries   = "retries"   // Replication retry count
	KeyBatchSize = "batch_size"

	// ========================================================================
	// Counters & Analytics
	// ========================================================================
	KeyField   = "field"   // Counter field name
	KeyDelta   = "delta"   // Counter delta amount
	KeyCohort  = "cohort"  // Analytics cohort (day, month)
	KeyApplied = "applied" // Number of transactions applied

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorKind  = "error_kind"  // Stable error kind from the taxonomy
	KeyEvent      = "event"       // Event name emitted on the bus
	KeyPlugin     = "plugin"      // Plugin name

	// ========================================================================
	// Cost Tracking
	// ========================================================================
	KeyCommand  = "command"   // Provider command name (PutObject, GetObject, ...)
	KeyRequests = "requests"  // Total request count
	KeyCostUSD  = "cost_usd"  // Estimated cost in USD
	KeyEvents   = "events_in" // Events consumed
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Database & Resource Operations
// ----------------------------------------------------------------------------

// Operation returns a slog.Attr for the operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Resource returns a slog.Attr for the resource name
func Resource(name string) slog.Attr {
	return slog.String(KeyResource, name)
}

// RecordID returns a slog.Attr for the record identifier
func RecordID(id string) slog.Attr {
	return slog.String(KeyRecordID, id)
}

// Partition returns a slog.Attr for a partition name
func Partition(name string) slog.Attr {
	return slog.String(KeyPartition, name)
}

// Version returns a slog.Attr for a schema version
func Version(v string) slog.Attr {
	return slog.String(KeyVersion, v)
}

// Count returns a slog.Attr for a generic item count
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// ----------------------------------------------------------------------------
// Blob Storage
// ----------------------------------------------------------------------------

// Bucket returns a slog.Attr for the bucket name
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// Key returns a slog.Attr for an object key
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// Prefix returns a slog.Attr for a list prefix
func Prefix(p string) slog.Attr {
	return slog.String(KeyPrefix, p)
}

// Region returns a slog.Attr for a cloud region
func Region(r string) slog.Attr {
	return slog.String(KeyRegion, r)
}

// Size returns a slog.Attr for object size in bytes
func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// AWSCode returns a slog.Attr for a provider error code
func AWSCode(code string) slog.Attr {
	return slog.String(KeyAWSCode, code)
}

// ----------------------------------------------------------------------------
// Coordination
// ----------------------------------------------------------------------------

// WorkerID returns a slog.Attr for a worker identifier
func WorkerID(id string) slog.Attr {
	return slog.String(KeyWorkerID, id)
}

// LeaderID returns a slog.Attr for the current leader identifier
func LeaderID(id string) slog.Attr {
	return slog.String(KeyLeaderID, id)
}

// Epoch returns a slog.Attr for a leadership epoch
func Epoch(e int64) slog.Attr {
	return slog.Int64(KeyEpoch, e)
}

// ----------------------------------------------------------------------------
// Queue
// ----------------------------------------------------------------------------

// Queue returns a slog.Attr for a queue resource name
func Queue(name string) slog.Attr {
	return slog.String(KeyQueue, name)
}

// MessageID returns a slog.Attr for a queue message identifier
func MessageID(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

// Attempts returns a slog.Attr for a delivery attempt count
func Attempts(n int) slog.Attr {
	return slog.Int(KeyAttempts, n)
}

// ----------------------------------------------------------------------------
// Replication
// ----------------------------------------------------------------------------

// Target returns a slog.Attr for a replication target
func Target(id string) slog.Attr {
	return slog.String(KeyTarget, id)
}

// Driver returns a slog.Attr for a replication driver name
func Driver(name string) slog.Attr {
	return slog.String(KeyDriver, name)
}

// Action returns a slog.Attr for a replicated action
func Action(a string) slog.Attr {
	return slog.String(KeyAction, a)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorKind returns a slog.Attr for a stable error kind
func ErrorKind(kind string) slog.Attr {
	return slog.String(KeyErrorKind, kind)
}

// Event returns a slog.Attr for an event name
func Event(name string) slog.Attr {
	return slog.String(KeyEvent, name)
}

// Plugin returns a slog.Attr for a plugin name
func Plugin(name string) slog.Attr {
	return slog.String(KeyPlugin, name)
}

// ----------------------------------------------------------------------------
// Cost Tracking
// ----------------------------------------------------------------------------

// Command returns a slog.Attr for a provider command name
func Command(name string) slog.Attr {
	return slog.String(KeyCommand, name)
}

// CostUSD returns a slog.Attr for an estimated cost
func CostUSD(usd float64) slog.Attr {
	return slog.Float64(KeyCostUSD, usd)
}
