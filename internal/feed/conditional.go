package feed

import (
	"net/http"
	"strings"
	"time"
)

// ConditionalHeaders はクライアントが送る条件付きリクエストのバリデータ。
type ConditionalHeaders struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// NotModified は現在のバリデータ（ETag・Last-Modified）に対して
// 条件付きリクエストが「未変更」を示すかを判定する。
//
//   - If-None-Matchがある場合: リテラル`*`は常に一致。それ以外はカンマで
//     分割・トリムし、現在のETagがそのまま含まれていれば一致。
//     If-Modified-Sinceは評価しない。
//   - If-Modified-Sinceのみの場合: HTTP日付としてパースし、失敗したら
//     不一致として扱う。現在のLast-Modified（UTC正規化）がその時刻以前なら一致。
//   - どちらもない場合は不一致。
//
// 一致はボディなしの304と同一バリデータヘッダーでの応答を意味する。
func NotModified(h ConditionalHeaders, etag string, lastModified time.Time) bool {
	if h.IfNoneMatch != "" {
		if strings.TrimSpace(h.IfNoneMatch) == "*" {
			return true
		}
		for _, candidate := range strings.Split(h.IfNoneMatch, ",") {
			if strings.TrimSpace(candidate) == etag {
				return true
			}
		}
		return false
	}

	if h.IfModifiedSince != "" {
		since, err := http.ParseTime(h.IfModifiedSince)
		if err != nil {
			// 不正なヘッダーはエラーにせず不一致として扱う。
			return false
		}
		return !lastModified.UTC().After(since)
	}

	return false
}
