package feed

import (
	"sync"
	"time"
)

// DefaultCacheTTL はレンダリング結果の有効期間。
const DefaultCacheTTL = 30 * time.Second

// CacheEntry は1フィード分のレンダリング結果とバリデータメタデータ。
// 再生成のたびに丸ごと置き換えられ、部分更新はされない。
type CacheEntry struct {
	// Payload はレンダリング済みiCalendarドキュメント。
	Payload string
	// ETag はPayloadのバイト列のみから決まるコンテンツハッシュ（引用符付き）。
	ETag string
	// LastModified はPayloadが実際に変化した時刻。バイト同一の再生成では
	// 前回の値が引き継がれる。
	LastModified time.Time
	// Fingerprint は生成時点のフィード設定フィンガープリント。
	Fingerprint string
	// EventCount はログ用の出力イベント数。
	EventCount int

	expiresAt time.Time
}

// Cache はフィードIDをキーとする1エントリずつのレンダリングキャッシュ。
// TTLの判定には注入されたクロックのtime.Timeが持つ単調時刻成分を使うため、
// システム時計の調整で期限が飛んだり二重になったりしない。
type Cache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache はキャッシュを生成する。nowがnilの場合はtime.Nowを使う。
// ttlが0以下の場合はDefaultCacheTTLを使う。
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]CacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Get はフィードのキャッシュエントリを返す。
// 保存されたエントリのフィンガープリントが一致しない場合は、期限に
// かかわらず何も返さない（設定変更直後の古いデータを使わせない）。
// allowExpiredが真の場合、期限切れでもフィンガープリントが一致する
// エントリは返す。鮮度の確認は呼び出し側の責務で、引き継ぎ用バリデータの
// 取得に使う。
func (c *Cache) Get(feedID, fingerprint string, allowExpired bool) (CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[feedID]
	c.mu.RUnlock()

	if !ok {
		return CacheEntry{}, false
	}
	if entry.Fingerprint != fingerprint {
		return CacheEntry{}, false
	}
	if !allowExpired && c.now().After(entry.expiresAt) {
		return CacheEntry{}, false
	}
	return entry, true
}

// Set はフィードのエントリを置き換える（last write wins）。
// 期限は保存時点からTTL経過後となる。
func (c *Cache) Set(feedID string, entry CacheEntry) {
	entry.expiresAt = c.now().Add(c.ttl)

	c.mu.Lock()
	c.entries[feedID] = entry
	c.mu.Unlock()
}
