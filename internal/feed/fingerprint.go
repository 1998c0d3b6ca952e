package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/hitoshi/calfeed/internal/model"
)

// Fingerprint はフィード設定から安定したハッシュを導出する。
// キーをソートした余分な空白のない正準JSONをSHA-256でハッシュする。
// カレンダーIDはハッシュ前に辞書順ソートするため、メンバーシップを
// 変えない並べ替えはキャッシュを無効化しない。
//
// SUMMARYの書き換え・除外規則は出力バイト列に影響するため、
// フィンガープリント対象に含める。
func Fingerprint(cfg model.FeedConfig) string {
	calendars := make([]string, len(cfg.Calendars))
	copy(calendars, cfg.Calendars)
	sort.Strings(calendars)

	canonical := map[string]any{
		"calendars":         calendars,
		"filter_regex":      cfg.FilterRegex,
		"future_days":       cfg.FutureDays,
		"past_days":         cfg.PastDays,
		"title":             cfg.Title,
		"title_regex":       cfg.TitleRegex,
		"title_replacement": cfg.TitleReplacement,
	}

	// mapのMarshalはキーをソートして出力するため、これで正準形になる。
	data, err := json.Marshal(canonical)
	if err != nil {
		// 上記のmapは常にMarshal可能。到達した場合は設定の同一性を
		// 保証できないため、空フィンガープリントで常にミス扱いにする。
		return ""
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
