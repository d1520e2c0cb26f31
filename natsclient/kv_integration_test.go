//go:build integration

package natsclient

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStore_RevisionChecks(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("kv_revisions"))
	kv := NewKVStore(tc.Bucket(t, "kv_revisions"), nil)
	ctx := context.Background()

	rev, err := kv.Create(ctx, "doc", []byte(`{"n":1}`))
	require.NoError(t, err)

	_, err = kv.Create(ctx, "doc", []byte(`{"n":2}`))
	assert.ErrorIs(t, err, ErrKVKeyExists)
	assert.True(t, IsKVConflictError(err))

	rev2, err := kv.Update(ctx, "doc", []byte(`{"n":2}`), rev)
	require.NoError(t, err)
	assert.Greater(t, rev2, rev)

	_, err = kv.Update(ctx, "doc", []byte(`{"n":3}`), rev)
	assert.ErrorIs(t, err, ErrKVRevisionMismatch)

	entry, err := kv.Get(ctx, "doc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(entry.Value))

	require.NoError(t, kv.Delete(ctx, "doc"))
	_, err = kv.Get(ctx, "doc")
	assert.True(t, IsKVNotFoundError(err))
}

func TestKVStore_UpdateJSONConcurrent(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("kv_counter"))
	kv := NewKVStore(tc.Bucket(t, "kv_counter"), nil)
	kv.retry.Attempts = 50
	ctx := context.Background()

	type counter struct{ N int }
	data, _ := json.Marshal(counter{})
	_, err := kv.Create(ctx, "c", data)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := UpdateJSON(ctx, kv, "c", func(c *counter) error {
				c.N++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entry, err := kv.Get(ctx, "c")
	require.NoError(t, err)
	var got counter
	require.NoError(t, json.Unmarshal(entry.Value, &got))
	assert.Equal(t, 5, got.N)
}

func TestKVStore_KeysAndWatch(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("kv_watch"))
	kv := NewKVStore(tc.Bucket(t, "kv_watch"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	updates, err := kv.Watch(ctx, ">")
	require.NoError(t, err)

	_, err = kv.Put(ctx, "a", []byte("1"))
	require.NoError(t, err)

	select {
	case e := <-updates:
		assert.Equal(t, "a", e.Key)
		assert.Equal(t, []byte("1"), e.Value)
	case <-ctx.Done():
		t.Fatal("no watch update")
	}

	keys, err = kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)
}

func TestClient_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "flowcanvas.events.>", func(_ context.Context, data []byte) {
		got <- data
	}))
	require.NoError(t, tc.Client.Publish(ctx, "flowcanvas.events.node.added", []byte(`{"id":"n1"}`)))

	select {
	case data := <-got:
		assert.JSONEq(t, `{"id":"n1"}`, string(data))
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}
