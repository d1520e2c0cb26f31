package natsclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/pkg/retry"
)

var (
	ErrKVKeyNotFound      = stderrors.New("kv: key not found")
	ErrKVKeyExists        = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch = stderrors.New("kv: revision mismatch")
)

// KVEntry is one stored value and the revision it was written at
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore adds revision-checked writes and error mapping to a bucket
type KVStore struct {
	bucket jetstream.KeyValue
	logger *slog.Logger
	retry  retry.Policy
}

// NewKVStore wraps bucket
func NewKVStore(bucket jetstream.KeyValue, logger *slog.Logger) *KVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{
		bucket: bucket,
		logger: logger.With("component", "kv", "bucket", bucket.Bucket()),
		retry:  retry.Default(),
	}
}

// Bucket returns the bucket name
func (s *KVStore) Bucket() string {
	return s.bucket.Bucket()
}

// Get returns the current entry for key
func (s *KVStore) Get(ctx context.Context, key string) (KVEntry, error) {
	e, err := s.bucket.Get(ctx, key)
	if err != nil {
		return KVEntry{}, s.mapErr(err, "Get", key)
	}
	return KVEntry{Key: e.Key(), Value: e.Value(), Revision: e.Revision()}, nil
}

// Put writes value unconditionally
func (s *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, s.mapErr(err, "Put", key)
	}
	return rev, nil
}

// Create writes value only if key does not exist
func (s *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.bucket.Create(ctx, key, value)
	if err != nil {
		return 0, s.mapErr(err, "Create", key)
	}
	return rev, nil
}

// Update writes value only if key is still at revision
func (s *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := s.bucket.Update(ctx, key, value, revision)
	if err != nil {
		return 0, s.mapErr(err, "Update", key)
	}
	return rev, nil
}

// UpdateJSON reads key into a T, applies fn and writes the result back with
// a revision check, rereading on conflicts
func UpdateJSON[T any](ctx context.Context, s *KVStore, key string, fn func(*T) error) (uint64, error) {
	return retry.DoValue(ctx, s.retry, func(attempt int) (uint64, error) {
		entry, err := s.Get(ctx, key)
		if err != nil {
			return 0, retry.Permanent(err)
		}
		var v T
		if err := json.Unmarshal(entry.Value, &v); err != nil {
			return 0, retry.Permanent(errors.WrapInvalid(errors.ErrDataCorrupted, "kv", "UpdateJSON", "decode "+key))
		}
		if err := fn(&v); err != nil {
			return 0, retry.Permanent(err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return 0, retry.Permanent(errors.WrapInvalid(err, "kv", "UpdateJSON", "encode "+key))
		}
		rev, err := s.Update(ctx, key, data, entry.Revision)
		if err != nil && !stderrors.Is(err, ErrKVRevisionMismatch) {
			return 0, retry.Permanent(err)
		}
		if err != nil {
			s.logger.Debug("revision conflict, retrying", "key", key, "attempt", attempt)
		}
		return rev, err
	})
}

// Delete removes key
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil {
		return s.mapErr(err, "Delete", key)
	}
	return nil
}

// Keys lists every live key. An empty bucket yields no keys and no error.
func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		return nil, s.mapErr(err, "Keys", "")
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

// Watch streams updates for keys matching pattern until ctx ends
func (s *KVStore) Watch(ctx context.Context, pattern string) (<-chan KVEntry, error) {
	w, err := s.bucket.Watch(ctx, pattern, jetstream.UpdatesOnly())
	if err != nil {
		return nil, s.mapErr(err, "Watch", pattern)
	}
	out := make(chan KVEntry)
	go func() {
		defer close(out)
		defer func() { _ = w.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Updates():
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				entry := KVEntry{Key: e.Key(), Revision: e.Revision()}
				if e.Operation() == jetstream.KeyValuePut {
					entry.Value = e.Value()
				}
				select {
				case out <- entry:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *KVStore) mapErr(err error, op, key string) error {
	switch {
	case IsKVNotFoundError(err):
		return errors.WrapInvalid(ErrKVKeyNotFound, "kv", op, "key "+key)
	case stderrors.Is(err, jetstream.ErrKeyExists) || wrongSequence(err):
		if op == "Create" {
			return errors.WrapInvalid(ErrKVKeyExists, "kv", op, "key "+key)
		}
		return errors.WrapInvalid(ErrKVRevisionMismatch, "kv", op, "key "+key)
	case stderrors.Is(err, jetstream.ErrNoKeysFound):
		return nil
	}
	return errors.WrapTransient(err, "kv", op, "key "+key)
}

// IsKVNotFoundError reports whether err means the key is absent or deleted
func IsKVNotFoundError(err error) bool {
	return stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyDeleted) ||
		stderrors.Is(err, ErrKVKeyNotFound)
}

// IsKVConflictError reports whether err is a failed create or revision check
func IsKVConflictError(err error) bool {
	return stderrors.Is(err, ErrKVKeyExists) ||
		stderrors.Is(err, ErrKVRevisionMismatch) ||
		stderrors.Is(err, jetstream.ErrKeyExists) ||
		wrongSequence(err)
}

// wrongSequence catches revision failures surfaced as raw publish errors
func wrongSequence(err error) bool {
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}
