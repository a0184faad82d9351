// Dedup and ordering guards are ambient additions grounded in
// pkg/agent/core/message/dedupe/detector.go's TTL'd seen-hash cache,
// adapted from a ControlHeader field subset to the envelope's own
// content hash since Shinkai's Message carries no control header.
package router

import (
	"sync"
	"time"
)

// dedupeDetector tracks recently-seen message hashes so a retried
// packet the router already acknowledged is not processed twice.
type dedupeDetector struct {
	ttl             time.Duration
	mu              sync.RWMutex
	seenHashes      map[string]time.Time
	cleanupInterval time.Duration
	stop            chan struct{}
	done            chan struct{}
}

// newDedupeDetector starts a detector with a background cleanup loop.
// Callers must call close() when done to stop the loop.
func newDedupeDetector(ttl, cleanupInterval time.Duration) *dedupeDetector {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	dd := &dedupeDetector{
		ttl:             ttl,
		seenHashes:      make(map[string]time.Time),
		cleanupInterval: cleanupInterval,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	go dd.cleanupLoop()
	return dd
}

// isDuplicate reports whether hash was already marked seen within ttl.
// An expired entry is treated as not-a-duplicate and evicted.
func (dd *dedupeDetector) isDuplicate(hash string) bool {
	dd.mu.RLock()
	seenAt, exists := dd.seenHashes[hash]
	dd.mu.RUnlock()
	if !exists {
		return false
	}
	if time.Since(seenAt) > dd.ttl {
		dd.mu.Lock()
		delete(dd.seenHashes, hash)
		dd.mu.Unlock()
		return false
	}
	return true
}

// markSeen records hash as processed.
func (dd *dedupeDetector) markSeen(hash string) {
	dd.mu.Lock()
	defer dd.mu.Unlock()
	dd.seenHashes[hash] = time.Now()
}

func (dd *dedupeDetector) seenCount() int {
	dd.mu.RLock()
	defer dd.mu.RUnlock()
	return len(dd.seenHashes)
}

func (dd *dedupeDetector) cleanupLoop() {
	ticker := time.NewTicker(dd.cleanupInterval)
	defer ticker.Stop()
	defer close(dd.done)
	for {
		select {
		case <-ticker.C:
			dd.performCleanup()
		case <-dd.stop:
			return
		}
	}
}

func (dd *dedupeDetector) performCleanup() {
	dd.mu.Lock()
	defer dd.mu.Unlock()
	now := time.Now()
	for hash, seenAt := range dd.seenHashes {
		if now.Sub(seenAt) > dd.ttl {
			delete(dd.seenHashes, hash)
		}
	}
}

func (dd *dedupeDetector) close() {
	close(dd.stop)
	<-dd.done
}
