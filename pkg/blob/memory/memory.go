// Package memory implements blob.Store in process memory. It backs the
// memory:// connection scheme and every unit test in the repository.
//
// The store mimics the provider semantics the higher layers depend on:
// lexicographic listing with continuation tokens and delimiters, last
// writer wins on concurrent puts, and metadata returned by reference-free
// copies so callers cannot mutate stored state.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/errs"
)

// buckets is the process-level registry behind Open. Two stores opened on
// the same bucket name share objects, which is how multi-process scenarios
// (leader election, queue contention) are simulated in tests.
var (
	bucketsMu sync.Mutex
	buckets   = make(map[string]*bucket)
)

type bucket struct {
	mu      sync.RWMutex
	objects map[string]storedObject
}

type storedObject struct {
	body        []byte
	metadata    blob.Metadata
	contentType string
	etag        string
}

// Store implements blob.Store over a shared in-memory bucket.
type Store struct {
	bucket    *bucket
	name      string
	keyPrefix string
	costs     *blob.Costs
	etagSeq   uint64
	etagMu    sync.Mutex
}

// Open returns a store on the named in-memory bucket, creating the bucket
// on first use. Stores opened on the same name share state.
func Open(bucketName, keyPrefix string) *Store {
	bucketsMu.Lock()
	b, ok := buckets[bucketName]
	if !ok {
		b = &bucket{objects: make(map[string]storedObject)}
		buckets[bucketName] = b
	}
	bucketsMu.Unlock()

	return &Store{
		bucket:    b,
		name:      bucketName,
		keyPrefix: strings.Trim(keyPrefix, "/"),
		costs:     blob.NewCosts(),
	}
}

// New returns a store on a private bucket that no other Open call can
// reach. Convenient for tests that want isolation without unique names.
func New() *Store {
	return &Store{
		bucket: &bucket{objects: make(map[string]storedObject)},
		name:   "memory",
		costs:  blob.NewCosts(),
	}
}

// Reset drops every registered shared bucket. Test helper.
func Reset() {
	bucketsMu.Lock()
	buckets = make(map[string]*bucket)
	bucketsMu.Unlock()
}

func (s *Store) fullKey(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return s.keyPrefix + "/" + key
}

func (s *Store) relativeKey(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.keyPrefix+"/")
}

func (s *Store) nextETag() string {
	s.etagMu.Lock()
	defer s.etagMu.Unlock()
	s.etagSeq++
	return "\"mem-" + s.name + "-" + itoa(s.etagSeq) + "\""
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Put stores an object. Body and metadata are copied.
func (s *Store) Put(ctx context.Context, in blob.PutInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.costs.Add(blob.ClassPut)

	body := make([]byte, len(in.Body))
	copy(body, in.Body)

	s.bucket.mu.Lock()
	s.bucket.objects[s.fullKey(in.Key)] = storedObject{
		body:        body,
		metadata:    in.Metadata.Clone(),
		contentType: in.ContentType,
		etag:        s.nextETag(),
	}
	s.bucket.mu.Unlock()
	return nil
}

// Get returns the object or a NoSuchKey error.
func (s *Store) Get(ctx context.Context, key string) (*blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.costs.Add(blob.ClassGet)

	s.bucket.mu.RLock()
	obj, ok := s.bucket.objects[s.fullKey(key)]
	s.bucket.mu.RUnlock()
	if !ok {
		return nil, errs.NewNoSuchKey(s.name, key)
	}

	body := make([]byte, len(obj.body))
	copy(body, obj.body)

	return &blob.Object{
		Key:           key,
		Body:          body,
		Metadata:      obj.metadata.Clone(),
		ContentType:   obj.contentType,
		ContentLength: int64(len(body)),
		ETag:          obj.etag,
	}, nil
}

// Head returns object metadata without the body.
func (s *Store) Head(ctx context.Context, key string) (*blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.costs.Add(blob.ClassHead)

	s.bucket.mu.RLock()
	obj, ok := s.bucket.objects[s.fullKey(key)]
	s.bucket.mu.RUnlock()
	if !ok {
		return nil, errs.NewNoSuchKey(s.name, key)
	}

	return &blob.Object{
		Key:           key,
		Metadata:      obj.metadata.Clone(),
		ContentType:   obj.contentType,
		ContentLength: int64(len(obj.body)),
		ETag:          obj.etag,
	}, nil
}

// Exists reports key presence without an error on miss.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.costs.Add(blob.ClassHead)

	s.bucket.mu.RLock()
	_, ok := s.bucket.objects[s.fullKey(key)]
	s.bucket.mu.RUnlock()
	return ok, nil
}

// Delete removes an object; deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.costs.Add(blob.ClassDelete)

	s.bucket.mu.Lock()
	delete(s.bucket.objects, s.fullKey(key))
	s.bucket.mu.Unlock()
	return nil
}

// DeleteMany removes a batch of keys.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	s.costs.Add(blob.ClassDelete)

	s.bucket.mu.Lock()
	for _, k := range keys {
		delete(s.bucket.objects, s.fullKey(k))
	}
	s.bucket.mu.Unlock()
	return nil
}

// List returns one lexicographically ordered page of keys under a prefix,
// honoring MaxKeys, continuation tokens, and the delimiter grouping the
// provider applies.
func (s *Store) List(ctx context.Context, in blob.ListInput) (*blob.ListOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.costs.Add(blob.ClassList)

	wirePrefix := s.fullKey(in.Prefix)
	maxKeys := int(in.MaxKeys)
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	s.bucket.mu.RLock()
	all := make([]string, 0, len(s.bucket.objects))
	for k := range s.bucket.objects {
		if strings.HasPrefix(k, wirePrefix) {
			all = append(all, k)
		}
	}
	s.bucket.mu.RUnlock()
	sort.Strings(all)

	out := &blob.ListOutput{}
	seenPrefixes := make(map[string]bool)
	count := 0

	for _, k := range all {
		// Continuation token is the last key of the previous page.
		if in.ContinuationToken != "" && k <= in.ContinuationToken {
			continue
		}

		if in.Delimiter != "" {
			rest := strings.TrimPrefix(k, wirePrefix)
			if idx := strings.Index(rest, in.Delimiter); idx >= 0 {
				cp := wirePrefix + rest[:idx+len(in.Delimiter)]
				if !seenPrefixes[cp] {
					seenPrefixes[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, s.relativeKey(cp))
					count++
					if count >= maxKeys {
						out.Truncated = true
						// Skip the rest of the group on resume.
						out.NextToken = cp + "\xff"
						return out, nil
					}
				}
				continue
			}
		}

		out.Keys = append(out.Keys, s.relativeKey(k))
		count++
		if count >= maxKeys {
			out.Truncated = true
			out.NextToken = k
			return out, nil
		}
	}

	return out, nil
}

// Copy duplicates src to dst, replacing metadata when replace is non-nil.
func (s *Store) Copy(ctx context.Context, src, dst string, replace blob.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.costs.Add(blob.ClassPut)

	s.bucket.mu.Lock()
	defer s.bucket.mu.Unlock()

	obj, ok := s.bucket.objects[s.fullKey(src)]
	if !ok {
		return errs.NewNoSuchKey(s.name, src)
	}

	body := make([]byte, len(obj.body))
	copy(body, obj.body)

	meta := obj.metadata.Clone()
	if replace != nil {
		meta = replace.Clone()
	}

	s.bucket.objects[s.fullKey(dst)] = storedObject{
		body:        body,
		metadata:    meta,
		contentType: obj.contentType,
		etag:        s.nextETag(),
	}
	return nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string {
	return s.name
}

// Costs returns the request cost meter.
func (s *Store) Costs() *blob.Costs {
	return s.costs
}
