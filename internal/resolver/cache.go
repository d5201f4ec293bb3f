package resolver

import (
	"sync"
	"time"

	"github.com/hitoshi/membersync/internal/model"
)

// cacheEntry は解決結果と有効期限を保持する。
type cacheEntry struct {
	record    *model.MembershipRecord
	expiresAt time.Time
}

// resultCache は正規化済みメールアドレスをキーとする解決結果のTTLキャッシュ。
// エントリは全値置換のみで、同一キーへの同時書き込みは後勝ちで許容される。
// スケジューラからの能動的な無効化は行わない（TTL経過による失効のみ）。
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration

	stopCh chan struct{}
}

// newResultCache は新しいresultCacheを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func newResultCache(ttl, cleanupInterval time.Duration) *resultCache {
	c := &resultCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go c.cleanupLoop(cleanupInterval)

	return c
}

// get はキーに対応する未失効の解決結果を返す。
func (c *resultCache) get(key string) (*model.MembershipRecord, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.record, true
}

// set はキーに解決結果を登録する。既存エントリは全値置換される。
func (c *resultCache) set(key string, record *model.MembershipRecord) {
	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		record:    record,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (c *resultCache) stop() {
	close(c.stopCh)
}

// cleanupLoop は定期的に期限切れエントリを削除する。
func (c *resultCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired は期限切れエントリをまとめて削除する。
func (c *resultCache) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
