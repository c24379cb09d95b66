package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"toolchat/internal/storage"
)

const DefaultTTL = time.Hour

type entry struct {
	StoredAt time.Time       `json:"stored_at"`
	Payload  json.RawMessage `json:"payload"`
}

// Cache keeps JSON payloads in the store until they are older than the TTL.
type Cache struct {
	store storage.Store
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
}

func New(store storage.Store, ttl time.Duration, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{store: store, ttl: ttl, now: time.Now, log: log}
}

// Key derives a stable key from a namespace and JSON-encodable arguments.
// Map keys are encoded in sorted order, so equal argument maps share a key.
func Key(namespace string, args any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprint(args))
	}
	sum := sha1.Sum(raw)
	return namespace + ":" + hex.EncodeToString(sum[:])
}

// Get decodes a fresh entry into dst. Expired entries are deleted and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.store.GetCache(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		_ = c.store.DeleteCache(ctx, key)
		return false, nil
	}
	if c.now().Sub(e.StoredAt) > c.ttl {
		_ = c.store.DeleteCache(ctx, key)
		return false, nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	c.log.Debug("cache hit", zap.String("key", key))
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(entry{StoredAt: c.now().UTC(), Payload: payload})
	if err != nil {
		return err
	}
	return c.store.PutCache(ctx, key, raw)
}

// Prune removes expired and unreadable entries.
func (c *Cache) Prune(ctx context.Context) (int, error) {
	now := c.now()
	n, err := c.store.PruneCache(ctx, func(data []byte) bool {
		if !gjson.ValidBytes(data) {
			return true
		}
		stored := gjson.GetBytes(data, "stored_at")
		if !stored.Exists() {
			return true
		}
		return now.Sub(stored.Time()) > c.ttl
	})
	if err == nil && n > 0 {
		c.log.Info("cache pruned", zap.Int("removed", n))
	}
	return n, err
}
