package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CacheService provides in-memory keys with TTL.
type CacheService struct {
	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	expiresAt time.Time
}

// NewCacheService creates a new cache service.
func NewCacheService() *CacheService {
	cs := &CacheService{
		cache: make(map[string]*cacheEntry),
	}

	// Start background cleanup goroutine
	go cs.cleanup()

	return cs
}

// TryAcquire stores the key only if it is absent or expired.
// Returns false when another caller holds the key.
func (cs *CacheService) TryAcquire(key string, ttl time.Duration) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := time.Now()
	if entry, exists := cs.cache[key]; exists && now.Before(entry.expiresAt) {
		return false
	}
	cs.cache[key] = &cacheEntry{expiresAt: now.Add(ttl)}
	return true
}

// Delete removes a key from cache.
func (cs *CacheService) Delete(key string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	delete(cs.cache, key)
}

// cleanup removes expired entries periodically.
func (cs *CacheService) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cs.mu.Lock()
		now := time.Now()
		for key, entry := range cs.cache {
			if now.After(entry.expiresAt) {
				delete(cs.cache, key)
			}
		}
		cs.mu.Unlock()
	}
}

// ReconcileThrottleKey ключ ограничения частоты синхронной сверки депозитов пользователя.
func ReconcileThrottleKey(userID uuid.UUID) string {
	return "reconcile:" + userID.String()
}
