package flowstore

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/scheduler"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(c scheduler.Clock) Store {
		_, rdb := newMiniRedis(t)
		return NewRedisStore(rdb, "", c, nil)
	}})
}

// beforeScript runs fn once, ahead of the first script call
type beforeScript struct {
	fn func()
}

func (h *beforeScript) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *beforeScript) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if h.fn != nil && strings.HasPrefix(cmd.Name(), "eval") {
			fn := h.fn
			h.fn = nil
			fn()
		}
		return next(ctx, cmd)
	}
}

func (h *beforeScript) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisStore_ConcurrentWriterConflicts(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	store := NewRedisStore(rdb, "test", scheduler.NewManualClock(epoch), nil)
	ctx := context.Background()

	doc := journey("j1")
	require.NoError(t, store.Create(ctx, doc))

	// another writer moves the version between our read and our write
	rdb.AddHook(&beforeScript{fn: func() {
		mr.HSet("{test}:doc:j1", "version", "2")
	}})

	doc.Name = "mine"
	err := store.Update(ctx, doc)
	assert.ErrorIs(t, err, errors.ErrConflict)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, "2", mr.HGet("{test}:doc:j1", "version"))
}

func TestRedisStore_DeletedDuringUpdate(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	store := NewRedisStore(rdb, "", scheduler.NewManualClock(epoch), nil)
	ctx := context.Background()

	doc := journey("j1")
	require.NoError(t, store.Create(ctx, doc))
	rdb.AddHook(&beforeScript{fn: func() { mr.Del("{flowcanvas}:doc:j1") }})

	assert.ErrorIs(t, store.Update(ctx, doc), errors.ErrNotFound)
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	store := NewRedisStore(rdb, "tenant-a", scheduler.NewManualClock(epoch), nil)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, journey("j1")))
	assert.True(t, mr.Exists("{tenant-a}:doc:j1"))
	members, err := mr.SMembers("{tenant-a}:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, members)

	require.NoError(t, store.Delete(ctx, "j1"))
	assert.False(t, mr.Exists("{tenant-a}:doc:j1"))
	assert.False(t, mr.Exists("{tenant-a}:index"))
}

func TestRedisStore_ListSkipsStaleIndex(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	store := NewRedisStore(rdb, "", scheduler.NewManualClock(epoch), nil)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, journey("a")))
	_, err := mr.SAdd("{flowcanvas}:index", "ghost")
	require.NoError(t, err)

	docs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
}

func TestRedisStore_CorruptedDocument(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	store := NewRedisStore(rdb, "", nil, nil)
	mr.HSet("{flowcanvas}:doc:bad", "version", "1", "data", "{not json")

	_, err := store.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, errors.ErrDataCorrupted)
	assert.True(t, errors.IsFatal(err))
}

func TestRedisStore_ServerDown(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	store := NewRedisStore(rdb, "", nil, nil)
	mr.Close()

	_, err := store.Get(context.Background(), "j1")
	assert.True(t, errors.IsTransient(err))
}

func TestOpenRedis(t *testing.T) {
	ctx := context.Background()

	_, err := OpenRedis(ctx, "http://nope")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	mr := miniredis.RunT(t)
	rdb, err := OpenRedis(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	_, err = OpenRedis(ctx, "redis://"+addr)
	assert.True(t, errors.IsTransient(err))
}
