// Package source はカレンダーイベントの取得元を抽象化する。
//
// フィードコアはEventSourceインターフェースだけを消費し、取得元が
// 上流ICS購読（source/ics）か設定ファイル内の固定イベント
// （source/static）かを区別しない。
package source

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/calfeed/internal/model"
)

// EventSource は1つのカレンダーからイベントを取得するインターフェース。
type EventSource interface {
	// GetEvents は[start, end)に重なるイベントを返す。
	// ブロックする可能性があるためctxのキャンセルを尊重すること。
	GetEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error)
}

// Registry はカレンダーIDからEventSourceと表示名を解決する。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	source EventSource
	name   string
}

// NewRegistry は空のレジストリを生成する。
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register はカレンダーを登録する。同一IDの再登録は上書きする。
func (r *Registry) Register(calendarID, name string, src EventSource) {
	r.mu.Lock()
	r.entries[calendarID] = registryEntry{source: src, name: name}
	r.mu.Unlock()
}

// Lookup はカレンダーIDのEventSourceを返す。
func (r *Registry) Lookup(calendarID string) (EventSource, bool) {
	r.mu.RLock()
	entry, ok := r.entries[calendarID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.source, true
}

// DisplayName はカレンダーの人間可読な名前を返す。
// 未登録または名前未設定の場合はIDをそのまま返す（診断・ログ用途）。
func (r *Registry) DisplayName(calendarID string) string {
	r.mu.RLock()
	entry, ok := r.entries[calendarID]
	r.mu.RUnlock()
	if !ok || entry.name == "" {
		return calendarID
	}
	return entry.name
}

// IDs は登録済みカレンダーIDをソートして返す。
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
