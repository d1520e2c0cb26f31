package flowstore

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/natsclient"
	"github.com/c360/flowcanvas/scheduler"
)

const (
	// DefaultBucket holds one entry per document, keyed by document id
	DefaultBucket = "flowcanvas_documents"

	bucketHistory = 10
	listParallel  = 8
)

// KV is the part of natsclient.KVStore the document store needs
type KV interface {
	Get(ctx context.Context, key string) (natsclient.KVEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// BucketCreator opens or creates a JetStream key-value bucket
type BucketCreator interface {
	CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error)
}

// KVStore keeps documents in a NATS key-value bucket. Updates are checked
// twice: the document version against the caller's, and the entry revision
// against the one read, so concurrent writers cannot both win.
type KVStore struct {
	kv     KV
	clock  scheduler.Clock
	logger *slog.Logger
}

// OpenKVStore creates or opens bucket and returns a store over it
func OpenKVStore(ctx context.Context, nc BucketCreator, bucket string, clock scheduler.Clock, logger *slog.Logger) (*KVStore, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(errors.Newf(errors.ErrInvalidArgument, "nats client is nil"),
			"flowstore", "OpenKVStore", "validate client")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := nc.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "flowcanvas documents",
		History:     bucketHistory,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "OpenKVStore", "open bucket "+bucket)
	}
	return NewKVStore(natsclient.NewKVStore(kv, logger), clock, logger), nil
}

// NewKVStore returns a store over kv
func NewKVStore(kv KV, clock scheduler.Clock, logger *slog.Logger) *KVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{
		kv:     kv,
		clock:  scheduler.OrReal(clock),
		logger: logger.With("component", "flowstore", "backend", "kv"),
	}
}

// Create stores a new document; an existing id is a conflict
func (s *KVStore) Create(ctx context.Context, doc *model.Document) error {
	if err := prepareCreate("Create", doc, s.clock.Now()); err != nil {
		return err
	}
	data, err := encode("Create", doc)
	if err != nil {
		return err
	}
	if _, err := s.kv.Create(ctx, doc.ID, data); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapInvalid(errors.Newf(errors.ErrConflict, "document %s already exists", doc.ID),
				"flowstore", "Create", "store document")
		}
		return errors.WrapTransient(err, "flowstore", "Create", "store document")
	}
	s.logger.Debug("document created", "document_id", doc.ID)
	return nil
}

func (s *KVStore) load(ctx context.Context, op, id string) (*model.Document, uint64, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, 0, notFound(op, id)
		}
		return nil, 0, errors.WrapTransient(err, "flowstore", op, "load document")
	}
	doc, err := decodeStored(op, entry.Value)
	if err != nil {
		return nil, 0, err
	}
	return doc, entry.Revision, nil
}

// Get returns the stored document
func (s *KVStore) Get(ctx context.Context, id string) (*model.Document, error) {
	if err := checkID("Get", id); err != nil {
		return nil, err
	}
	doc, _, err := s.load(ctx, "Get", id)
	return doc, err
}

// Update replaces the document if doc.Version matches the stored version
func (s *KVStore) Update(ctx context.Context, doc *model.Document) error {
	if err := checkDoc("Update", doc); err != nil {
		return err
	}
	current, rev, err := s.load(ctx, "Update", doc.ID)
	if err != nil {
		return err
	}

	next := *doc
	if err := prepareUpdate("Update", &next, current, s.clock.Now()); err != nil {
		return err
	}
	data, err := encode("Update", &next)
	if err != nil {
		return err
	}
	if _, err := s.kv.Update(ctx, doc.ID, data, rev); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapInvalid(errors.Newf(errors.ErrConflict, "document %s changed concurrently", doc.ID),
				"flowstore", "Update", "store document")
		}
		return errors.WrapTransient(err, "flowstore", "Update", "store document")
	}
	*doc = next
	s.logger.Debug("document updated", "document_id", doc.ID, "version", doc.Version)
	return nil
}

// Delete removes the document
func (s *KVStore) Delete(ctx context.Context, id string) error {
	if err := checkID("Delete", id); err != nil {
		return err
	}
	if _, _, err := s.load(ctx, "Delete", id); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, id); err != nil {
		return errors.WrapTransient(err, "flowstore", "Delete", "delete document")
	}
	s.logger.Debug("document deleted", "document_id", id)
	return nil
}

// List loads every document concurrently, ordered by id. Keys deleted
// between listing and loading are skipped.
func (s *KVStore) List(ctx context.Context) ([]*model.Document, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "List", "list keys")
	}

	var (
		mu   sync.Mutex
		docs = make([]*model.Document, 0, len(keys))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listParallel)
	for _, key := range keys {
		g.Go(func() error {
			doc, _, err := s.load(gctx, "List", key)
			if stderrors.Is(err, errors.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			docs = append(docs, doc)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sortByID(docs)
	return docs, nil
}
