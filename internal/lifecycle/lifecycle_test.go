package lifecycle

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/warp/posync/internal/fetch"
)

func TestAttachDetachAndBroadcast(t *testing.T) {
	c := New("v1", zerolog.Nop())

	id, ch := c.Attach()
	c.BroadcastSyncCompleted(3, 2)

	msg := <-ch
	require.Equal(t, MsgSyncCompleted, msg.Type)
	require.Equal(t, 3, msg.Attempted)
	require.Equal(t, 2, msg.Synced)

	c.Detach(id)
	_, ok := <-ch
	require.False(t, ok, "channel should be closed after Detach")
}

func TestDisableFlag(t *testing.T) {
	c := New("v1", zerolog.Nop())
	require.False(t, c.Disabled())

	cache, err := fetch.OpenCacheStore(filepath.Join(t.TempDir(), "cache.db"), "v1")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	require.NoError(t, c.HandleDisable(cache))
	require.True(t, c.Disabled())
	require.True(t, c.DisabledFlag().Load())

	c.HandleEnable()
	require.False(t, c.Disabled())
}

func TestClearCache(t *testing.T) {
	c := New("v1", zerolog.Nop())
	cache, err := fetch.OpenCacheStore(filepath.Join(t.TempDir(), "cache.db"), "v1")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	require.NoError(t, cache.Put(fetch.CacheAppShell, "http://backend/", fetch.CachedResponse{Status: 200}))
	require.NoError(t, c.HandleClearCache(cache))

	_, ok, err := cache.Get(fetch.CacheAppShell, "http://backend/")
	require.NoError(t, err)
	require.False(t, ok)
}

type fakeSyncer struct{ drained bool }

func (f *fakeSyncer) Drain(ctx context.Context) { f.drained = true }

func TestHandleTrySync(t *testing.T) {
	c := New("v1", zerolog.Nop())
	syncer := &fakeSyncer{}
	c.HandleTrySync(context.Background(), syncer)
	require.True(t, syncer.drained)
}

func TestIsDevHost(t *testing.T) {
	require.True(t, IsDevHost("localhost:8080"))
	require.True(t, IsDevHost("127.0.0.1:8080"))
	require.True(t, IsDevHost("::1"))
	require.False(t, IsDevHost("api.example.com"))
}
