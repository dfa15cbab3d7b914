// Package cache implements a short-TTL, process-wide cache of resolved
// upstream message metadata (the Upstream Client Handle's GetMessage
// result, including the current FileLocator). Grounded on the donor's
// internal/cache package, which wrapped the same freecache library
// around a single hardcoded type; generalized here to cache any gob-
// encodable value so internal/upstream can reuse it for types.Message.
package cache

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/coocood/freecache"
	"go.uber.org/zap"
)

var cache *Cache

type Cache struct {
	cache *freecache.Cache
	mu    sync.RWMutex
	log   *zap.Logger
}

// InitCache allocates the process-wide cache. Callers that will store a
// type with interface-typed fields (e.g. types.FileLocator.Location)
// must gob.Register every concrete type that can appear in that field
// before storing a value of that type.
func InitCache(log *zap.Logger) {
	log = log.Named("cache")
	defer log.Sugar().Info("Initialized")
	// 100MB cache shared across workers; large enough to hold resolved
	// locators for every file touched by concurrent streams.
	cache = &Cache{cache: freecache.NewCache(100 * 1024 * 1024), log: log}
}

func GetCache() *Cache {
	return cache
}

// Get decodes the cached value for key into value, which must be a
// pointer. Returns freecache's not-found error on a cache miss.
func (c *Cache) Get(key string, value any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := c.cache.Get([]byte(key))
	if err != nil {
		return err
	}
	dec := gob.NewDecoder(bytes.NewReader(data))
	return dec.Decode(value)
}

// Set gob-encodes value and stores it under key for expireSeconds.
func (c *Cache) Set(key string, value any, expireSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return err
	}
	return c.cache.Set([]byte(key), buf.Bytes(), expireSeconds)
}

func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Del([]byte(key))
	return nil
}
