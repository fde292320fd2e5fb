package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Kind.String() Tests
// ============================================================================

func TestKind_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want string
	}{
		{KindNoSuchKey, "NoSuchKey"},
		{KindNoSuchBucket, "NoSuchBucket"},
		{KindNotFound, "NotFound"},
		{KindPermission, "Permission"},
		{KindThrottled, "Throttled"},
		{KindTransientNetwork, "TransientNetwork"},
		{KindContentMismatch, "ContentMismatch"},
		{KindValidation, "ValidationError"},
		{KindFieldOverflow, "FieldOverflow"},
		{KindDecryptionFailed, "DecryptionFailed"},
		{KindManifestCorrupted, "ManifestCorrupted"},
		{KindConflictEpoch, "ConflictEpoch"},
		{KindDependencyMissing, "DependencyMissing"},
		{KindUnknown, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}

	t.Run("out of range kind", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "Unknown(99)", Kind(99).String())
	})
}

// ============================================================================
// Error.Error() Tests
// ============================================================================

func TestError_Error(t *testing.T) {
	t.Parallel()

	t.Run("kind and message only", func(t *testing.T) {
		t.Parallel()
		err := &Error{Kind: KindNotFound, Message: "record \"u1\" not found"}
		assert.Equal(t, `NotFound: record "u1" not found`, err.Error())
	})

	t.Run("includes bucket and key", func(t *testing.T) {
		t.Parallel()
		err := &Error{
			Kind:    KindNoSuchKey,
			Bucket:  "my-bucket",
			Key:     "data/users/u1",
			Message: "object does not exist",
		}
		assert.Equal(t, "NoSuchKey: object does not exist (bucket: my-bucket, key: data/users/u1)", err.Error())
	})

	t.Run("includes suggestion", func(t *testing.T) {
		t.Parallel()
		err := &Error{
			Kind:       KindFieldOverflow,
			Message:    "metadata size 2100B exceeds limit 2047B",
			Suggestion: "switch the resource to the body-overflow behavior or trim the record",
		}
		assert.Contains(t, err.Error(), " - switch the resource")
	})

	t.Run("includes field errors", func(t *testing.T) {
		t.Parallel()
		err := NewValidation("users", []FieldError{
			{Field: "email", Rule: "required", Message: "is required"},
			{Field: "age", Rule: "min", Message: "must be >= 0"},
		})
		assert.Contains(t, err.Error(), "email: is required")
		assert.Contains(t, err.Error(), "age: must be >= 0")
	})

	t.Run("includes op", func(t *testing.T) {
		t.Parallel()
		err := NewUnknown("resource.insert", errors.New("boom"))
		assert.Equal(t, "Unknown: resource.insert: boom", err.Error())
	})
}

// ============================================================================
// Factory Function Tests
// ============================================================================

func TestFactories(t *testing.T) {
	t.Parallel()

	t.Run("NewNoSuchKey", func(t *testing.T) {
		t.Parallel()
		err := NewNoSuchKey("b", "data/users/u1")
		assert.Equal(t, KindNoSuchKey, err.Kind)
		assert.Equal(t, "b", err.Bucket)
		assert.Equal(t, "data/users/u1", err.Key)
	})

	t.Run("NewNoSuchBucket carries suggestion", func(t *testing.T) {
		t.Parallel()
		err := NewNoSuchBucket("missing-bucket")
		assert.Equal(t, KindNoSuchBucket, err.Kind)
		assert.NotEmpty(t, err.Suggestion)
	})

	t.Run("NewNotFound names the record", func(t *testing.T) {
		t.Parallel()
		err := NewNotFound("users", "u17")
		assert.Equal(t, KindNotFound, err.Kind)
		assert.Equal(t, "users", err.Resource)
		assert.Contains(t, err.Message, "u17")
	})

	t.Run("NewThrottled wraps the cause", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("SlowDown")
		err := NewThrottled("b", "k", cause)
		assert.Equal(t, KindThrottled, err.Kind)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("NewFieldOverflow reports sizes", func(t *testing.T) {
		t.Parallel()
		err := NewFieldOverflow("users", 2100, 2047)
		assert.Contains(t, err.Message, "2100B")
		assert.Contains(t, err.Message, "2047B")
	})

	t.Run("NewConflictEpoch reports both epochs", func(t *testing.T) {
		t.Parallel()
		err := NewConflictEpoch(5, 3)
		assert.Contains(t, err.Message, "epoch 3")
		assert.Contains(t, err.Message, "epoch is 5")
	})

	t.Run("NewDependencyMissing includes install hint", func(t *testing.T) {
		t.Parallel()
		err := NewDependencyMissing("cache", "badger", "enable the badger driver in the config")
		assert.Equal(t, KindDependencyMissing, err.Kind)
		assert.Equal(t, "enable the badger driver in the config", err.Suggestion)
	})

	t.Run("NewUnknown with nil cause", func(t *testing.T) {
		t.Parallel()
		err := NewUnknown("op", nil)
		assert.Equal(t, KindUnknown, err.Kind)
		assert.Equal(t, "unclassified failure", err.Message)
	})
}

// ============================================================================
// Unwrap / errors.As Tests
// ============================================================================

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := NewTransientNetwork("b", "k", cause)

	require.ErrorIs(t, err, cause)

	var structured *Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, KindTransientNetwork, structured.Kind)
}

func TestKindOf_UnwrapsNestedErrors(t *testing.T) {
	t.Parallel()

	inner := NewNoSuchKey("b", "k")
	wrapped := fmt.Errorf("loading record: %w", inner)

	assert.Equal(t, KindNoSuchKey, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

// ============================================================================
// Helper Tests
// ============================================================================

func TestHelpers(t *testing.T) {
	t.Parallel()

	t.Run("IsNotFound matches both miss flavors", func(t *testing.T) {
		t.Parallel()
		assert.True(t, IsNotFound(NewNotFound("users", "u1")))
		assert.True(t, IsNotFound(NewNoSuchKey("b", "k")))
		assert.False(t, IsNotFound(NewNoSuchBucket("b")))
	})

	t.Run("IsRetryable matches throttle and network kinds", func(t *testing.T) {
		t.Parallel()
		assert.True(t, IsRetryable(NewThrottled("b", "k", nil)))
		assert.True(t, IsRetryable(NewTransientNetwork("b", "k", nil)))
		assert.False(t, IsRetryable(NewPermission("b", "k", nil)))
		assert.False(t, IsRetryable(NewNoSuchKey("b", "k")))
	})

	t.Run("IsValidation", func(t *testing.T) {
		t.Parallel()
		assert.True(t, IsValidation(NewValidation("users", nil)))
		assert.False(t, IsValidation(NewNotFound("users", "u1")))
	})

	t.Run("IsFieldOverflow", func(t *testing.T) {
		t.Parallel()
		assert.True(t, IsFieldOverflow(NewFieldOverflow("users", 2100, 2047)))
	})

	t.Run("IsConflictEpoch", func(t *testing.T) {
		t.Parallel()
		assert.True(t, IsConflictEpoch(NewConflictEpoch(5, 3)))
	})

	t.Run("AsError returns nil for plain errors", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, AsError(errors.New("plain")))
		assert.NotNil(t, AsError(NewNotFound("users", "u1")))
	})
}
