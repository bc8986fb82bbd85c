package cache

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisStoreKeyAndExpiry(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	store := newRedisStore(client, "breakoutradar:", 0)
	if got := store.key("search:amazon.com:x"); got != "breakoutradar:search:amazon.com:x" {
		t.Fatalf("key = %q", got)
	}
	if got := store.expiry(Entry{TTL: 15 * time.Minute}); got != 24*time.Hour {
		t.Fatalf("short ttl should be retained for the fallback window, got %v", got)
	}
	if got := store.expiry(Entry{TTL: 48 * time.Hour}); got != 48*time.Hour {
		t.Fatalf("long ttl should win, got %v", got)
	}
}

func TestEntryExpired(t *testing.T) {
	captured := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	e := Entry{CapturedAt: captured, TTL: time.Hour}
	if e.Expired(captured.Add(time.Hour)) {
		t.Fatal("entry must not be expired at exactly capturedAt+ttl")
	}
	if !e.Expired(captured.Add(time.Hour + time.Nanosecond)) {
		t.Fatal("entry must be expired after capturedAt+ttl")
	}
}
