package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLockOwnerIDsAreUnique(t *testing.T) {
	_, client := setupTestRedis(t)
	assert.NotEqual(t, NewLock(client).OwnerID(), NewLock(client).OwnerID())
}

func TestLockAcquireRelease(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	ok, err := a.Acquire(ctx, "pages", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "pages", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// another owner cannot release
	require.NoError(t, b.Release(ctx, "pages"))
	assert.True(t, mr.Exists(lockPrefix+"pages"))

	require.NoError(t, a.Release(ctx, "pages"))
	assert.False(t, mr.Exists(lockPrefix+"pages"))

	// releasing a lock that is not held is fine
	require.NoError(t, a.Release(ctx, "pages"))
}

func TestLockExpiresAndExtends(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	ok, err := a.Acquire(ctx, "pages", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, "pages", time.Minute))
	assert.Error(t, b.Extend(ctx, "pages", time.Minute))

	mr.FastForward(2 * time.Second)
	assert.True(t, mr.Exists(lockPrefix+"pages"))

	mr.FastForward(time.Minute)
	ok, err = b.Acquire(ctx, "pages", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockHold(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	release, err := a.Hold(ctx, "pages", 3*time.Second)
	require.NoError(t, err)

	_, err = b.Hold(ctx, "pages", 3*time.Second)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(lockPrefix+"pages"))

	release, err = b.Hold(ctx, "pages", 3*time.Second)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestDial(t *testing.T) {
	mr, _ := setupTestRedis(t)
	client, err := Dial(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, NewLock(client).Ping(context.Background()))

	_, err = Dial(context.Background(), "not-a-url")
	assert.Error(t, err)
}
