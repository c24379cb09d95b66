package storage

import "context"

// Store is the embedded persistence used for tool result caching and the
// chat history log.
type Store interface {
	PutCache(ctx context.Context, key string, data []byte) error
	GetCache(ctx context.Context, key string) ([]byte, error)
	DeleteCache(ctx context.Context, key string) error
	// PruneCache deletes every cache entry for which expired returns true.
	PruneCache(ctx context.Context, expired func(data []byte) bool) (int, error)

	AppendHistory(ctx context.Context, data []byte) (uint64, error)
	// ListHistory returns up to limit entries, newest first.
	ListHistory(ctx context.Context, limit int) ([][]byte, error)
	ClearHistory(ctx context.Context) error
}
