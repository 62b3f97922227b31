package tokenizer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes merge results per literal chunk. Implementations must be
// safe for concurrent use and must not retain or hand out the slices passed
// to Add; Tokenizer copies on both sides.
type Cache interface {
	Get(chunk []byte) ([]int32, bool)
	Add(chunk []byte, ids []int32)
	Len() int
}

type mapCache struct {
	mu      sync.RWMutex
	entries map[string][]int32
}

// NewMapCache returns an unbounded cache.
func NewMapCache() Cache {
	return &mapCache{entries: make(map[string][]int32)}
}

func (c *mapCache) Get(chunk []byte) ([]int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids, ok := c.entries[string(chunk)]
	return ids, ok
}

func (c *mapCache) Add(chunk []byte, ids []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[string(chunk)]; !ok {
		c.entries[string(chunk)] = ids
	}
}

func (c *mapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

type lruCache struct {
	*lru.Cache[string, []int32]
}

// NewLRUCache returns a cache holding at most size entries.
func NewLRUCache(size int) (Cache, error) {
	c, err := lru.New[string, []int32](size)
	if err != nil {
		return nil, err
	}

	return lruCache{c}, nil
}

func (c lruCache) Get(chunk []byte) ([]int32, bool) {
	return c.Cache.Get(string(chunk))
}

func (c lruCache) Add(chunk []byte, ids []int32) {
	c.Cache.ContainsOrAdd(string(chunk), ids)
}

type noCache struct{}

// NoCache disables memoization.
var NoCache Cache = noCache{}

func (noCache) Get([]byte) ([]int32, bool) { return nil, false }
func (noCache) Add([]byte, []int32)        {}
func (noCache) Len() int                   { return 0 }
