package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("internal/cache")

// Store is a key/value store whose entries expire. Expiry is checked on
// read: an expired entry is reported as absent and may be overwritten.
type Store interface {
	Get(ctx context.Context, key string) (payload []byte, found bool, err error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// Invalidate removes every entry whose key matches pattern, `*` is the
	// only wildcard and matches any run of characters.
	Invalidate(ctx context.Context, pattern string) (int, error)
}

// CacheError wraps a failure of the storage backend.
type CacheError struct {
	Op  string
	Err error
}

func (e CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e CacheError) Unwrap() error {
	return e.Err
}

// MatchPattern reports whether key matches a pattern where `*` matches any
// (possibly empty) run of characters.
func MatchPattern(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}

	first := parts[0]
	last := parts[len(parts)-1]
	if !strings.HasPrefix(key, first) {
		return false
	}
	key = key[len(first):]
	if len(key) < len(last) || !strings.HasSuffix(key, last) {
		return false
	}
	key = key[:len(key)-len(last)]

	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(key, part)
		if idx < 0 {
			return false
		}
		key = key[idx+len(part):]
	}
	return true
}

// literalPrefix returns the part of the pattern before the first wildcard.
func literalPrefix(pattern string) string {
	prefix, _, _ := strings.Cut(pattern, "*")
	return prefix
}

func expiresAt(now time.Time, ttl time.Duration) int64 {
	return now.Add(ttl).UnixMilli()
}

func expired(now time.Time, expiresAtMs int64) bool {
	return now.After(time.UnixMilli(expiresAtMs))
}
