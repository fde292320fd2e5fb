// Package blob defines the typed client surface over S3-compatible object
// storage that every higher layer builds on.
//
// The interface is deliberately small and record-shaped: objects handled by
// the database are metadata-heavy and body-light (a few KB at most), so Get
// returns a fully-read body instead of a stream. Implementations live in
// subpackages: blob/s3 talks to any S3-compatible endpoint, blob/memory is
// the in-process mock selected by memory:// connection strings.
package blob

import (
	"context"
	"strings"
)

// MetadataSizeLimit is the provider cap on user-metadata bytes per object,
// counted as the sum of key and value lengths. AWS enforces 2 KB.
const MetadataSizeLimit = 2048

// Metadata is the user-metadata attached to an object. Keys must be
// lowercase; values must be printable ASCII (the codec escapes anything
// else before it reaches this layer).
type Metadata map[string]string

// Size returns the metadata size the provider charges against the cap.
func (m Metadata) Size() int {
	total := 0
	for k, v := range m {
		total += len(k) + len(v)
	}
	return total
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Object is a stored object together with the fields callers need.
// Body is nil for Head responses.
type Object struct {
	Key           string
	Body          []byte
	Metadata      Metadata
	ContentType   string
	ContentLength int64
	ETag          string
}

// PutInput describes a write.
type PutInput struct {
	Key         string
	Body        []byte
	Metadata    Metadata
	ContentType string
}

// ListInput describes a paginated key listing.
type ListInput struct {
	Prefix            string
	MaxKeys           int32 // 0 means provider default (1000)
	ContinuationToken string
	Delimiter         string
}

// ListOutput is one page of a listing.
type ListOutput struct {
	Keys           []string
	CommonPrefixes []string
	NextToken      string
	Truncated      bool
}

// Store is the typed blob client. All keys are relative to the store's
// configured prefix; implementations prepend it transparently.
//
// Every method honors context cancellation and normalizes provider
// failures into *errs.Error values with a stable Kind.
type Store interface {
	// Put writes an object, overwriting any previous version.
	Put(ctx context.Context, in PutInput) error

	// Get returns the object with its body fully read.
	Get(ctx context.Context, key string) (*Object, error)

	// Head returns object metadata without the body.
	Head(ctx context.Context, key string) (*Object, error)

	// Exists reports whether the key is present. A missing key is not
	// an error.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes up to 1000 keys per provider batch.
	DeleteMany(ctx context.Context, keys []string) error

	// List returns one page of keys under a prefix.
	List(ctx context.Context, in ListInput) (*ListOutput, error)

	// Copy duplicates src to dst, replacing metadata when replace is non-nil.
	Copy(ctx context.Context, src, dst string, replace Metadata) error

	// Bucket returns the bucket name for logging and error context.
	Bucket() string

	// Costs returns the request cost meter for this store.
	Costs() *Costs
}

// ListAll walks every page under prefix and returns all keys.
func ListAll(ctx context.Context, s Store, prefix string) ([]string, error) {
	var keys []string
	var token string
	for {
		page, err := s.List(ctx, ListInput{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		keys = append(keys, page.Keys...)
		if !page.Truncated {
			return keys, nil
		}
		token = page.NextToken
	}
}

// Count returns the number of keys under prefix.
func Count(ctx context.Context, s Store, prefix string) (int64, error) {
	var n int64
	var token string
	for {
		page, err := s.List(ctx, ListInput{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return 0, err
		}
		n += int64(len(page.Keys))
		if !page.Truncated {
			return n, nil
		}
		token = page.NextToken
	}
}

// DeleteAll removes every object under prefix in provider-sized batches.
// Returns the number of keys deleted.
func DeleteAll(ctx context.Context, s Store, prefix string) (int, error) {
	keys, err := ListAll(ctx, s, prefix)
	if err != nil {
		return 0, err
	}
	const batch = 1000
	for i := 0; i < len(keys); i += batch {
		end := min(i+batch, len(keys))
		if err := s.DeleteMany(ctx, keys[i:end]); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

// JoinKey joins key segments with "/" while collapsing empty parts,
// so prefix handling stays uniform across implementations.
func JoinKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}
