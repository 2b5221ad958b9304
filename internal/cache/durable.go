package cache

import (
	"context"
	"time"
)

// Durable is the persistent key/value tier. Values are opaque strings; the
// Store owns their encoding. ttl is advisory: backends with native expiry use
// it, others rely on the Store's own age check.
type Durable interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}
