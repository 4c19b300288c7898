package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	keyPrefix      = "cityweather:"
	maxKeyLength   = 250
	maxRelativeExp = 30 * 24 * time.Hour
)

// NewMemcachedClient creates a client for a comma-separated address list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and
// maxIdleConns use package defaults when zero.
func NewMemcachedClient(addrs string, timeout time.Duration, maxIdleConns int) *memcache.Client {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return client
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// MemcachedStore implements Store on memcached with JSON-encoded entries.
// Keys live under a namespace whose generation counter is bumped by Flush,
// so a flush only orphans this store's keys instead of the whole server.
type MemcachedStore[T any] struct {
	client    *memcache.Client
	namespace string
	ttl       time.Duration
	retention time.Duration
	now       Clock
}

type memcachedEntry[T any] struct {
	Value     T     `json:"v"`
	Timestamp int64 `json:"ts"`
}

// NewMemcachedStore creates a store in namespace. retention bounds how long
// memcached keeps an item (and therefore how long stale fallback is possible);
// zero keeps items until evicted by memcached itself.
func NewMemcachedStore[T any](client *memcache.Client, namespace string, ttl, retention time.Duration, now Clock) *MemcachedStore[T] {
	return &MemcachedStore[T]{
		client:    client,
		namespace: namespace,
		ttl:       ttlOrDefault(ttl),
		retention: retention,
		now:       clockOrDefault(now),
	}
}

func (c *MemcachedStore[T]) generationKey() string {
	return keyPrefix + c.namespace + ":gen"
}

func (c *MemcachedStore[T]) generation() (string, error) {
	item, err := c.client.Get(c.generationKey())
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return "0", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(item.Value)), nil
}

func (c *MemcachedStore[T]) itemKey(key string) (string, error) {
	gen, err := c.generation()
	if err != nil {
		return "", err
	}
	k := keyPrefix + c.namespace + ":" + gen + ":" + url.QueryEscape(key)
	if len(k) > maxKeyLength {
		sum := sha1.Sum([]byte(key))
		k = keyPrefix + c.namespace + ":" + gen + ":h:" + hex.EncodeToString(sum[:])
	}
	return k, nil
}

// Get implements Store.Get. Returns false, nil on miss; false, err on backend error.
func (c *MemcachedStore[T]) Get(ctx context.Context, key string) (Entry[T], bool, error) {
	if ctx.Err() != nil {
		return Entry[T]{}, false, ctx.Err()
	}
	k, err := c.itemKey(key)
	if err != nil {
		return Entry[T]{}, false, err
	}
	item, err := c.client.Get(k)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return Entry[T]{}, false, nil
		}
		return Entry[T]{}, false, err
	}
	var stored memcachedEntry[T]
	if err := json.Unmarshal(item.Value, &stored); err != nil {
		return Entry[T]{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return Entry[T]{Value: stored.Value, Timestamp: time.Unix(0, stored.Timestamp)}, true, nil
}

func (c *MemcachedStore[T]) IsValid(entry Entry[T]) bool {
	return isFresh(entry.Timestamp, c.ttl, c.now())
}

// Put implements Store.Put.
func (c *MemcachedStore[T]) Put(ctx context.Context, key string, value T) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	k, err := c.itemKey(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(memcachedEntry[T]{Value: value, Timestamp: c.now().UnixNano()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return c.client.Set(&memcache.Item{
		Key:        k,
		Value:      raw,
		Expiration: expirationSeconds(c.retention),
	})
}

// Delete implements Store.Delete. Deleting a missing key is not an error.
func (c *MemcachedStore[T]) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	k, err := c.itemKey(key)
	if err != nil {
		return err
	}
	if err := c.client.Delete(k); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return nil
}

// Flush implements Store.Flush by advancing the namespace generation.
func (c *MemcachedStore[T]) Flush(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	genKey := c.generationKey()
	_, err := c.client.Increment(genKey, 1)
	if err == nil {
		return nil
	}
	if !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	err = c.client.Add(&memcache.Item{Key: genKey, Value: []byte("1")})
	if errors.Is(err, memcache.ErrNotStored) {
		// Another writer created the counter first.
		_, err = c.client.Increment(genKey, 1)
	}
	return err
}

// expirationSeconds converts retention to memcached's relative expiration.
// Zero means no expiry; memcached treats values above 30 days as absolute
// unix times, so longer retentions are capped.
func expirationSeconds(retention time.Duration) int32 {
	if retention <= 0 {
		return 0
	}
	if retention > maxRelativeExp {
		retention = maxRelativeExp
	}
	sec := int32(retention / time.Second)
	if sec == 0 {
		sec = 1
	}
	return sec
}
