package flowstore

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/scheduler"
)

// DefaultRedisPrefix namespaces keys when no prefix is configured
const DefaultRedisPrefix = "flowcanvas"

// Each document is a hash {version, data}. An index set lists the ids.
// All keys share one hash tag so the scripts stay on a single cluster slot.
var (
	redisCreate = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[1], "data", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
return 1
`)

	// returns -1 when the document is gone, 0 when the version moved
	redisUpdate = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[2], "data", ARGV[3])
return 1
`)

	redisDelete = redis.NewScript(`
local removed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return removed
`)
)

// RedisStore keeps documents in Redis. Writes run as scripts that compare
// the stored version, so a stale writer is told about the conflict instead
// of overwriting.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	clock  scheduler.Clock
	logger *slog.Logger
}

// OpenRedis connects to the redis:// URL and checks the server answers
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.WrapInvalid(errors.Newf(errors.ErrInvalidConfig, "redis url: %v", err),
			"flowstore", "OpenRedis", "parse url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.WrapTransient(err, "flowstore", "OpenRedis", "ping "+opts.Addr)
	}
	return rdb, nil
}

// NewRedisStore returns a store over rdb with keys under prefix
func NewRedisStore(rdb redis.UniversalClient, prefix string, clock scheduler.Clock, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		clock:  scheduler.OrReal(clock),
		logger: logger.With("component", "flowstore", "backend", "redis"),
	}
}

func (s *RedisStore) docKey(id string) string {
	return "{" + s.prefix + "}:doc:" + id
}

func (s *RedisStore) indexKey() string {
	return "{" + s.prefix + "}:index"
}

// Create stores a new document; an existing id is a conflict
func (s *RedisStore) Create(ctx context.Context, doc *model.Document) error {
	if err := prepareCreate("Create", doc, s.clock.Now()); err != nil {
		return err
	}
	data, err := encode("Create", doc)
	if err != nil {
		return err
	}
	created, err := redisCreate.Run(ctx, s.rdb, []string{s.docKey(doc.ID), s.indexKey()},
		doc.Version, data, doc.ID).Int()
	if err != nil {
		return errors.WrapTransient(err, "flowstore", "Create", "store document")
	}
	if created == 0 {
		return errors.WrapInvalid(errors.Newf(errors.ErrConflict, "document %s already exists", doc.ID),
			"flowstore", "Create", "store document")
	}
	s.logger.Debug("document created", "document_id", doc.ID)
	return nil
}

func (s *RedisStore) load(ctx context.Context, op, id string) (*model.Document, error) {
	data, err := s.rdb.HGet(ctx, s.docKey(id), "data").Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, notFound(op, id)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", op, "load document")
	}
	return decodeStored(op, data)
}

// Get returns the stored document
func (s *RedisStore) Get(ctx context.Context, id string) (*model.Document, error) {
	if err := checkID("Get", id); err != nil {
		return nil, err
	}
	return s.load(ctx, "Get", id)
}

// Update replaces the document if doc.Version matches the stored version
func (s *RedisStore) Update(ctx context.Context, doc *model.Document) error {
	if err := checkDoc("Update", doc); err != nil {
		return err
	}
	current, err := s.load(ctx, "Update", doc.ID)
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
	res, err := redisUpdate.Run(ctx, s.rdb, []string{s.docKey(doc.ID)},
		current.Version, next.Version, data).Int()
	if err != nil {
		return errors.WrapTransient(err, "flowstore", "Update", "store document")
	}
	switch res {
	case -1:
		return notFound("Update", doc.ID)
	case 0:
		return errors.WrapInvalid(errors.Newf(errors.ErrConflict, "document %s changed concurrently", doc.ID),
			"flowstore", "Update", "store document")
	}
	*doc = next
	s.logger.Debug("document updated", "document_id", doc.ID, "version", doc.Version)
	return nil
}

// Delete removes the document
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := checkID("Delete", id); err != nil {
		return err
	}
	removed, err := redisDelete.Run(ctx, s.rdb, []string{s.docKey(id), s.indexKey()}, id).Int()
	if err != nil {
		return errors.WrapTransient(err, "flowstore", "Delete", "delete document")
	}
	if removed == 0 {
		return notFound("Delete", id)
	}
	s.logger.Debug("document deleted", "document_id", id)
	return nil
}

// List reads every indexed document in one pipeline, ordered by id. Ids
// whose document vanished since the index was read are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*model.Document, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "List", "read index")
	}
	docs := make([]*model.Document, 0, len(ids))
	if len(ids) == 0 {
		return docs, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGet(ctx, s.docKey(id), "data")
		}
		return nil
	})
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return nil, errors.WrapTransient(err, "flowstore", "List", "load documents")
	}
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if stderrors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, errors.WrapTransient(err, "flowstore", "List", "load documents")
		}
		doc, err := decodeStored("List", data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	sortByID(docs)
	return docs, nil
}
