package fetch

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Interceptor is an http.RoundTripper decorator implementing spec
// §4.D's classify-then-policy contract: cache-first for static assets,
// network-first for every other class, with cache writes/reads and
// synthesized failures depending on Classify's verdict. Disabled entirely when disabled is set (spec
// §4.F DISABLE message).
type Interceptor struct {
	next     http.RoundTripper
	cache    *CacheStore
	disabled *atomic.Bool
	log      zerolog.Logger
}

// NewInterceptor wraps next (typically http.DefaultTransport).
func NewInterceptor(next http.RoundTripper, cache *CacheStore, disabled *atomic.Bool, log zerolog.Logger) *Interceptor {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Interceptor{next: next, cache: cache, disabled: disabled, log: log}
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	if i.disabled != nil && i.disabled.Load() {
		return i.next.RoundTrip(req)
	}

	class := Classify(req)
	key := req.URL.String()

	switch class {
	case ClassNonGET:
		return i.next.RoundTrip(req)

	case ClassStaticAsset:
		if resp, ok := i.cacheLookup(CacheAppShell, key); ok {
			return resp, nil
		}
		netResp, err := i.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		i.cacheStore(CacheAppShell, key, netResp)
		return netResp, nil

	case ClassCacheableAPI:
		netResp, err := i.next.RoundTrip(req)
		if err != nil {
			if resp, ok := i.cacheLookup(CacheOfflineAPI, key); ok {
				return resp, nil
			}
			return nil, err
		}
		if netResp.StatusCode >= 200 && netResp.StatusCode < 300 {
			i.cacheStore(CacheOfflineAPI, key, netResp)
		}
		return netResp, nil

	case ClassOfflineEligibleAPI:
		netResp, err := i.next.RoundTrip(req)
		if err == nil && netResp.StatusCode < 500 {
			return netResp, nil
		}
		if resp, ok := i.cacheLookup(CacheOfflineAPI, key); ok {
			i.log.Info().Str("url", key).Msg("serving cached response after network failure")
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		return netResp, nil

	case ClassCriticalOffline:
		netResp, err := i.next.RoundTrip(req)
		if err == nil && netResp.StatusCode < 500 {
			return netResp, nil
		}
		i.log.Warn().Str("url", key).Msg("critical endpoint unreachable, synthesizing offline response")
		return synthesizeOffline(req), nil

	case ClassNavigation:
		netResp, err := i.next.RoundTrip(req)
		if err == nil {
			i.cacheStore(CacheAppShell, key, netResp)
			return netResp, nil
		}
		if resp, ok := i.cacheLookup(CacheAppShell, key); ok {
			return resp, nil
		}
		return nil, err
	}

	return i.next.RoundTrip(req)
}

func (i *Interceptor) cacheLookup(cache, key string) (*http.Response, bool) {
	cached, ok, err := i.cache.Get(cache, key)
	if err != nil || !ok {
		return nil, false
	}
	return &http.Response{
		StatusCode: cached.Status,
		Header:     cached.Header,
		Body:       io.NopCloser(bytes.NewReader(cached.Body)),
	}, true
}

func (i *Interceptor) cacheStore(cache, key string, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	date := resp.Header.Get("Date")
	var parsed time.Time
	if date != "" {
		parsed, _ = http.ParseTime(date)
	}
	_ = i.cache.Put(cache, key, CachedResponse{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
		Date:   parsed,
	})
}

// synthesizeOffline builds the 503 {"status":"offline"} response spec
// §4.D mandates for an unreachable critical endpoint. Never fabricate
// a 200: the UI relies on this exact signal to trigger enqueue.
func synthesizeOffline(req *http.Request) *http.Response {
	body, _ := json.Marshal(map[string]string{"status": "offline"})
	return &http.Response{
		StatusCode: http.StatusServiceUnavailable,
		Status:     "503 Service Unavailable",
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
}
