package harnessports

import "context"

// Cache provides idempotent memoization, e.g. query text → embedding.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
