package feed

import (
	"crypto/subtle"
	"strings"

	"github.com/hitoshi/calfeed/internal/model"
)

// ResolveFeed はパスのシークレットとスラグから設定済みフィードを解決する。
// シークレットの比較はタイミングサイドチャネルによる復元を防ぐため
// 定数時間で行い、最初に一致したフィードを採用する。一致したフィードの
// スラグが要求スラグと異なる場合も不一致とする。
//
// 「シークレット違い」と「スラグ違い」を応答で区別しないことで、
// スラグの列挙を防ぐ。
func ResolveFeed(feeds []model.FeedConfig, secret, slug string) (model.FeedConfig, bool) {
	for _, cfg := range feeds {
		// シークレット未設定のフィードは照合対象にしない。
		if cfg.Secret == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(secret), []byte(cfg.Secret)) != 1 {
			continue
		}
		if FeedSlug(cfg) != slug {
			return model.FeedConfig{}, false
		}
		return cfg, true
	}
	return model.FeedConfig{}, false
}

// FeedSlug はフィードタイトルからURL安全なスラグを導出する。
// 英数字以外の連続はアンダースコア1つに畳み、前後のアンダースコアは
// 取り除く。有効なスラグが得られない場合はフィードIDを返す。
func FeedSlug(cfg model.FeedConfig) string {
	slug := Slugify(cfg.Title)
	if slug == "" || slug == "unknown" {
		return cfg.ID
	}
	return slug
}

// Slugify は任意の文字列を小文字英数字とアンダースコアのみに変換する。
func Slugify(s string) string {
	var b strings.Builder
	lastUnderscore := true // 先頭のアンダースコアを抑制する
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
