package ipfs

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Cache keeps recently fetched documents in memory. Documents are content
// addressed, so entries never go stale. Concurrent fetches of one CID share
// a single request.
type Cache struct {
	next  Fetcher
	docs  *lru.Cache[string, []byte]
	group singleflight.Group
}

// NewCache wraps next with an LRU of the given size.
func NewCache(next Fetcher, size int) (*Cache, error) {
	docs, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("ipfs: cache: %w", err)
	}
	return &Cache{next: next, docs: docs}, nil
}

// Fetch implements Fetcher. Callers must not modify the returned slice.
func (c *Cache) Fetch(ctx context.Context, cid string) ([]byte, error) {
	if doc, ok := c.docs.Get(cid); ok {
		return doc, nil
	}
	v, err, _ := c.group.Do(cid, func() (any, error) {
		doc, err := c.next.Fetch(ctx, cid)
		if err != nil {
			return nil, err
		}
		c.docs.Add(cid, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	return c.docs.Len()
}
