package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は購読カレンダー由来のテキストをプレーンテキスト化する
// 機能のインターフェースを定義する。
// Google CalendarやOutlookが出力するICSのDESCRIPTIONには
// HTMLが混入することがあり、そのまま配信フィードへ埋め込むと
// 購読側クライアントでの表示が崩れる。
type TextSanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグを除去し、
	// エンティティ参照を復元したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを一切持たないため、全タグが除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からHTMLタグを除去したプレーンテキストを返す。
// bluemondayはタグ除去後のテキストをHTMLエスケープして返すため、
// html.UnescapeStringでエンティティ参照を元の文字へ戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.ContainsAny(raw, "<&") {
		return raw
	}
	return html.UnescapeString(s.policy.Sanitize(raw))
}
