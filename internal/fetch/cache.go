/*
Package fetch implements the Fetch Interceptor (spec §4.D, component D):
an http.RoundTripper decorator classifying outbound requests and
serving cached responses on failure, backed by two versioned bbolt
buckets standing in for the browser's named Cache Storage entries.

Grounded on store/sqlite/sqlite.go's single-file-store convention,
translated to bbolt since the cached payloads here are opaque byte
blobs keyed by URL rather than relational rows.
*/
package fetch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Cache names, versioned per spec §4.D / §4.F "activate deletes caches
// not matching the current tag."
const (
	CacheAppShell  = "app-shell"
	CacheOfflineAPI = "offline-api"
)

// CachedResponse is the on-disk shape of one cached HTTP response.
type CachedResponse struct {
	Status int
	Header http.Header
	Body   []byte
	Date   time.Time
}

// CacheStore owns the bbolt-backed named caches.
type CacheStore struct {
	db      *bolt.DB
	version string
}

// OpenCacheStore opens (creating if necessary) the bbolt file at path
// and tags every bucket created in this process with version.
func OpenCacheStore(path, version string) (*CacheStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("fetch: open cache store: %w", err)
	}
	cs := &CacheStore{db: db, version: version}
	for _, name := range []string{CacheAppShell, CacheOfflineAPI} {
		if err := cs.ensureBucket(name); err != nil {
			db.Close()
			return nil, err
		}
	}
	return cs, nil
}

func (cs *CacheStore) Close() error {
	return cs.db.Close()
}

func (cs *CacheStore) bucketName(cache string) []byte {
	return []byte(cache + "-" + cs.version)
}

func (cs *CacheStore) ensureBucket(cache string) error {
	return cs.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cs.bucketName(cache))
		return err
	})
}

// Put writes a response into cache, keyed by key (typically the
// request URL).
func (cs *CacheStore) Put(cache, key string, resp CachedResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("fetch: marshal cached response: %w", err)
	}
	return cs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cs.bucketName(cache))
		if b == nil {
			return fmt.Errorf("fetch: no such cache bucket %q", cache)
		}
		return b.Put([]byte(key), data)
	})
}

// Get returns the cached response for key, or ok=false if absent.
func (cs *CacheStore) Get(cache, key string) (resp CachedResponse, ok bool, err error) {
	err = cs.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cs.bucketName(cache))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &resp)
	})
	return resp, ok, err
}

// Activate deletes every bucket whose suffix doesn't match the current
// version tag (spec §4.F "activate deletes caches not matching the
// current tag").
func (cs *CacheStore) Activate() error {
	current := map[string]bool{
		string(cs.bucketName(CacheAppShell)):   true,
		string(cs.bucketName(CacheOfflineAPI)): true,
	}
	return cs.db.Update(func(tx *bolt.Tx) error {
		var stale [][]byte
		err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if !current[string(name)] {
				stale = append(stale, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearAll drops every entry from both named caches (spec §4.F
// CLEAR_CACHE), recreating empty buckets rather than deleting them so
// subsequent Put calls don't need to re-ensure the bucket first.
func (cs *CacheStore) ClearAll() error {
	return cs.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{CacheAppShell, CacheOfflineAPI} {
			bucket := cs.bucketName(name)
			if tx.Bucket(bucket) != nil {
				if err := tx.DeleteBucket(bucket); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

// GCExpired deletes entries from the offline-api cache whose stored
// Date is older than maxAge. Entries with a zero Date (the server
// never sent one) are kept — see DESIGN.md Open Question (b).
func (cs *CacheStore) GCExpired(maxAge time.Duration) (evicted int, err error) {
	cutoff := time.Now().Add(-maxAge)
	err = cs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cs.bucketName(CacheOfflineAPI))
		if b == nil {
			return nil
		}
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var resp CachedResponse
			if err := json.Unmarshal(v, &resp); err != nil {
				continue
			}
			if resp.Date.IsZero() {
				continue
			}
			if resp.Date.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		evicted = len(stale)
		return nil
	})
	return evicted, err
}
