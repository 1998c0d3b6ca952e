package feed

import (
	"testing"

	"github.com/hitoshi/calfeed/internal/model"
)

func baseConfig() model.FeedConfig {
	return model.FeedConfig{
		ID:         "feed-1",
		Title:      "Family",
		Secret:     "s3cret",
		Calendars:  []string{"calendar.a", "calendar.b"},
		PastDays:   7,
		FutureDays: 30,
	}
}

// カレンダーIDの並べ替えはフィンガープリントを変えない。
func TestFingerprint_InvariantUnderCalendarPermutation(t *testing.T) {
	cfg1 := baseConfig()
	cfg2 := baseConfig()
	cfg2.Calendars = []string{"calendar.b", "calendar.a"}

	if Fingerprint(cfg1) != Fingerprint(cfg2) {
		t.Error("fingerprint must be invariant under calendar id permutation")
	}
}

func TestFingerprint_VariesWithConfig(t *testing.T) {
	base := Fingerprint(baseConfig())

	tests := []struct {
		name   string
		mutate func(*model.FeedConfig)
	}{
		{name: "タイトル変更", mutate: func(c *model.FeedConfig) { c.Title = "Other" }},
		{name: "過去ウィンドウ変更", mutate: func(c *model.FeedConfig) { c.PastDays = 1 }},
		{name: "未来ウィンドウ変更", mutate: func(c *model.FeedConfig) { c.FutureDays = 1 }},
		{name: "カレンダー追加", mutate: func(c *model.FeedConfig) { c.Calendars = append(c.Calendars, "calendar.c") }},
		{name: "カレンダー削除", mutate: func(c *model.FeedConfig) { c.Calendars = c.Calendars[:1] }},
		{name: "書き換え規則変更", mutate: func(c *model.FeedConfig) { c.TitleRegex = "x" }},
		{name: "除外規則変更", mutate: func(c *model.FeedConfig) { c.FilterRegex = "y" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			if Fingerprint(cfg) == base {
				t.Error("fingerprint did not change")
			}
		})
	}
}

// シークレットとIDは出力バイト列に影響しないためフィンガープリント対象外。
func TestFingerprint_IgnoresSecretAndID(t *testing.T) {
	cfg := baseConfig()
	cfg.Secret = "other-secret"
	cfg.ID = "feed-2"

	if Fingerprint(cfg) != Fingerprint(baseConfig()) {
		t.Error("secret and id must not affect the fingerprint")
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	if Fingerprint(baseConfig()) != Fingerprint(baseConfig()) {
		t.Error("fingerprint is not deterministic")
	}
}
