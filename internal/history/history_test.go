package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestAppendAndSnapshotKeepOrder(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewStore(client, 50, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "s1", Message{Role: "user", Text: "what is a sealed class?"}))
	require.NoError(t, store.Append(ctx, "s1", Message{Role: "assistant", Text: "A class that restricts which types may extend it."}))

	messages, err := store.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, Message{Role: "user", Text: "what is a sealed class?"}, messages[0])
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestAppendTrimsToMaxEntries(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewStore(client, 3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, "s1", Message{Role: "user", Text: fmt.Sprintf("q%d", i)}))
	}

	messages, err := store.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "q2", messages[0].Text)
	assert.Equal(t, "q4", messages[2].Text)
}

func TestAppendSetsTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewStore(client, 50, time.Hour)

	require.NoError(t, store.Append(context.Background(), "s1", Message{Role: "user", Text: "hi"}))

	assert.Equal(t, time.Hour, mr.TTL("chat:history:s1"))
}

func TestSnapshotSkipsCorruptEntries(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewStore(client, 50, time.Hour)
	ctx := context.Background()

	require.NoError(t, client.RPush(ctx, "chat:history:s1", "{not json").Err())
	require.NoError(t, store.Append(ctx, "s1", Message{Role: "user", Text: "still readable"}))

	messages, err := store.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "still readable", messages[0].Text)
}

func TestSnapshotEmptySession(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewStore(client, 50, time.Hour)

	messages, err := store.Snapshot(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestClear(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewStore(client, 50, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "s1", Message{Role: "user", Text: "hi"}))
	require.NoError(t, store.Clear(ctx, "s1"))

	messages, err := store.Snapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestAppendValidatesInput(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewStore(client, 50, time.Hour)
	ctx := context.Background()

	assert.Error(t, store.Append(ctx, "", Message{Role: "user", Text: "hi"}))
	assert.Error(t, store.Append(ctx, "s1", Message{Text: "no role"}))
}

func TestFormat(t *testing.T) {
	out := Format([]Message{
		{Role: "user", Text: "what is a record?"},
		{Role: "assistant", Text: "A transparent carrier for immutable data."},
		{Role: "system", Text: "note"},
	})
	assert.Equal(t,
		"User: what is a record?\nAssistant: A transparent carrier for immutable data.\nsystem: note\n",
		out)
	assert.Empty(t, Format(nil))
}
