package feed

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/hitoshi/calfeed/internal/model"
)

// FeedBasePath はフィードエンドポイントのベースパス。
const FeedBasePath = "/ical"

// ICalExtension はフィードURLの拡張子。
const ICalExtension = ".ics"

// GenerateSecret は共有URLに使う512ビットのURL安全なシークレットを生成する。
// パディングなしのurlsafe base64で返す。
func GenerateSecret() (string, error) {
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// BuildFeedURL はフィードを指すURLを組み立てる。
// baseURLが空の場合はパスのみを返す。
func BuildFeedURL(baseURL string, cfg model.FeedConfig) string {
	path := FeedBasePath + "/" + cfg.Secret + "/" + FeedSlug(cfg) + ICalExtension
	if baseURL == "" {
		return path
	}
	return strings.TrimRight(baseURL, "/") + path
}

// MaskFeedURL はログ・診断用にシークレットを難読化したURLを返す。
// 6文字以下のシークレットは全体を`***`に、それ以外は先頭4文字と
// 末尾4文字だけを残す。
func MaskFeedURL(url string) string {
	if url == "" {
		return ""
	}
	const marker = FeedBasePath + "/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return url
	}
	prefix := url[:idx]
	remainder := url[idx+len(marker):]

	parts := strings.SplitN(remainder, "/", 3)
	if len(parts) < 2 {
		return url
	}
	secret := parts[0]
	if len(secret) <= 6 {
		parts[0] = "***"
	} else {
		parts[0] = secret[:4] + "…" + secret[len(secret)-4:]
	}
	return prefix + marker + strings.Join(parts, "/")
}
