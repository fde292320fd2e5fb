package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys. Storage keys follow OpenTelemetry semantic
// conventions where applicable; s3db-specific keys use their own prefix.
const (
	// ========================================================================
	// Blob store attributes
	// ========================================================================
	AttrBucket  = "storage.bucket"
	AttrKey     = "storage.key"
	AttrRegion  = "storage.region"
	AttrCommand = "storage.command" // provider command, e.g. PutObject
	AttrAttempt = "storage.attempt"
	AttrBytes   = "storage.bytes"

	// ========================================================================
	// Record / resource attributes
	// ========================================================================
	AttrResource  = "s3db.resource"
	AttrRecordID  = "s3db.record_id"
	AttrOperation = "s3db.operation"
	AttrSchemaVer = "s3db.schema_version"
	AttrBehavior  = "s3db.behavior"
	AttrPartition = "s3db.partition"

	// ========================================================================
	// Coordination attributes
	// ========================================================================
	AttrNamespace = "s3db.namespace"
	AttrEpoch     = "s3db.epoch"
	AttrLeaderID  = "s3db.leader_id"

	// ========================================================================
	// Queue / replication attributes
	// ========================================================================
	AttrQueueState = "s3db.queue_state"
	AttrAttempts   = "s3db.attempts"
	AttrTarget     = "s3db.target"
	AttrDriver     = "s3db.driver"

	// ========================================================================
	// Cache attributes
	// ========================================================================
	AttrCacheHit = "cache.hit"
)

// Span names. Format: <component>.<operation>.
const (
	SpanBlobGet    = "blob.get"
	SpanBlobPut    = "blob.put"
	SpanBlobList   = "blob.list"
	SpanBlobDelete = "blob.delete"

	SpanManifestSave = "manifest.save"
	SpanConsolidate  = "counter.consolidate"
	SpanReplicate    = "replicator.apply"
	SpanCoordTick    = "coordinator.tick"
)

// Bucket returns an attribute for the bucket name.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for the object key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Command returns an attribute for the provider command name.
func Command(name string) attribute.KeyValue {
	return attribute.String(AttrCommand, name)
}

// Resource returns an attribute for the resource name.
func Resource(name string) attribute.KeyValue {
	return attribute.String(AttrResource, name)
}

// RecordID returns an attribute for the record id.
func RecordID(id string) attribute.KeyValue {
	return attribute.String(AttrRecordID, id)
}

// Operation returns an attribute for the resource operation name.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// SchemaVersion returns an attribute for the schema version id.
func SchemaVersion(v string) attribute.KeyValue {
	return attribute.String(AttrSchemaVer, v)
}

// Namespace returns an attribute for the coordination namespace.
func Namespace(ns string) attribute.KeyValue {
	return attribute.String(AttrNamespace, ns)
}

// Epoch returns an attribute for the lease epoch.
func Epoch(epoch int64) attribute.KeyValue {
	return attribute.Int64(AttrEpoch, epoch)
}

// Target returns an attribute for a replication target id.
func Target(id string) attribute.KeyValue {
	return attribute.String(AttrTarget, id)
}

// CacheHit returns an attribute for the cache hit indicator.
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// StartBlobSpan starts a span for one blob store command.
func StartBlobSpan(ctx context.Context, span, command, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{Command(command), StorageKey(key)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, span, trace.WithAttributes(allAttrs...))
}

// StartResourceSpan starts a span for a resource operation.
func StartResourceSpan(ctx context.Context, resource, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{Resource(resource), Operation(op)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "resource."+op, trace.WithAttributes(allAttrs...))
}

// StartReplicationSpan starts a span for one replication apply.
func StartReplicationSpan(ctx context.Context, target, driver string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Target(target),
		attribute.String(AttrDriver, driver),
	}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, SpanReplicate, trace.WithAttributes(allAttrs...))
}
