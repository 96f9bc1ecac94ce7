package fetch

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestCache(t *testing.T) *CacheStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	cs, err := OpenCacheStore(path, "v1")
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestClassify(t *testing.T) {
	cases := []struct {
		method, path, accept string
		want                 Classification
	}{
		{"POST", "/api/orders", "", ClassNonGET},
		{"GET", "/api/products", "", ClassCacheableAPI},
		{"GET", "/api/sales/recent", "", ClassOfflineEligibleAPI},
		{"GET", "/api/pos/sales", "", ClassCriticalOffline},
		{"POST", "/api/pos/sales", "", ClassCriticalOffline},
		{"GET", "/api/products/barcode/123", "", ClassCriticalOffline},
		{"GET", "/assets/app.js", "", ClassStaticAsset},
		{"GET", "/dashboard", "text/html", ClassNavigation},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "http://backend"+tc.path, nil)
		if tc.accept != "" {
			req.Header.Set("Accept", tc.accept)
		}
		require.Equal(t, tc.want, Classify(req), tc.path)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body any) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}

func TestCriticalOfflineSynthesizes503OnFailure(t *testing.T) {
	cache := newTestCache(t)
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: network unreachable")
	})
	ic := NewInterceptor(next, cache, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "http://backend/api/pos/sales", nil)
	resp, err := ic.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "offline", payload["status"])
}

func TestCacheableAPIServesStaleOnFailure(t *testing.T) {
	cache := newTestCache(t)
	var calls int32
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return jsonResponse(200, map[string]string{"name": "Widget"}), nil
		}
		return nil, errors.New("network down")
	})
	ic := NewInterceptor(next, cache, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "http://backend/api/products/p1", nil)
	resp, err := ic.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	resp, err = ic.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "Widget", payload["name"])
}

func TestDisabledInterceptorPassesThrough(t *testing.T) {
	cache := newTestCache(t)
	var called bool
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return jsonResponse(200, map[string]string{}), nil
	})
	disabled := &atomic.Bool{}
	disabled.Store(true)
	ic := NewInterceptor(next, cache, disabled, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "http://backend/api/pos/sales", nil)
	_, err := ic.RoundTrip(req)
	require.NoError(t, err)
	require.True(t, called)
}

func TestGCExpiredKeepsZeroDateEntries(t *testing.T) {
	cache := newTestCache(t)

	require.NoError(t, cache.Put(CacheOfflineAPI, "http://backend/api/sales/old", CachedResponse{
		Status: 200, Date: time.Now().Add(-10 * 24 * time.Hour),
	}))
	require.NoError(t, cache.Put(CacheOfflineAPI, "http://backend/api/sales/no-date", CachedResponse{
		Status: 200,
	}))
	require.NoError(t, cache.Put(CacheOfflineAPI, "http://backend/api/sales/fresh", CachedResponse{
		Status: 200, Date: time.Now(),
	}))

	evicted, err := cache.GCExpired(MaxCacheEntryAge)
	require.NoError(t, err)
	require.Equal(t, 1, evicted)

	_, ok, _ := cache.Get(CacheOfflineAPI, "http://backend/api/sales/no-date")
	require.True(t, ok, "zero-Date entries must be kept, not evicted")
	_, ok, _ = cache.Get(CacheOfflineAPI, "http://backend/api/sales/fresh")
	require.True(t, ok)
	_, ok, _ = cache.Get(CacheOfflineAPI, "http://backend/api/sales/old")
	require.False(t, ok)
}

func TestActivateDeletesStaleVersionBuckets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	csV1, err := OpenCacheStore(path, "v1")
	require.NoError(t, err)
	require.NoError(t, csV1.Put(CacheAppShell, "http://backend/", CachedResponse{Status: 200}))
	require.NoError(t, csV1.Close())

	csV2, err := OpenCacheStore(path, "v2")
	require.NoError(t, err)
	t.Cleanup(func() { csV2.Close() })

	require.NoError(t, csV2.Activate())
	_, ok, err := csV2.Get(CacheAppShell, "http://backend/")
	require.NoError(t, err)
	require.False(t, ok, "v1 bucket should have been deleted on activate")
	require.NoError(t, csV2.db.View(func(tx *bolt.Tx) error {
		require.Nil(t, tx.Bucket([]byte(CacheAppShell+"-v1")), "v1 bucket should have been deleted on activate")
		return nil
	}))
}
