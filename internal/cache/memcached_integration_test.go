//go:build integration

package cache

import (
	"fmt"
	"os"
	"testing"
	"time"
)

// Run with: go test -tags=integration ./internal/cache/...
// Requires memcached on MEMCACHED_ADDRS (default localhost:11211).
func TestMemcachedStore(t *testing.T) {
	addrs := os.Getenv("MEMCACHED_ADDRS")
	if addrs == "" {
		addrs = "localhost:11211"
	}
	client := NewMemcachedClient(addrs, time.Second, 2)
	if err := client.Ping(); err != nil {
		t.Skipf("memcached not reachable at %s: %v", addrs, err)
	}
	run := 0
	storeContract(t, func(ttl time.Duration, now Clock) Store[string] {
		run++
		ns := fmt.Sprintf("test-%d-%d", time.Now().UnixNano(), run)
		return NewMemcachedStore[string](client, ns, ttl, time.Hour, now)
	})
}
