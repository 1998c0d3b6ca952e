package feed

import (
	"regexp"

	"github.com/hitoshi/calfeed/internal/model"
)

// SummaryRules はフィードごとのSUMMARY書き換え・除外規則。
// 書き換えを先に適用し、書き換え後のSUMMARYに対して除外判定を行う。
type SummaryRules struct {
	rewrite     *regexp.Regexp
	replacement string
	filter      *regexp.Regexp
}

// CompileSummaryRules はフィード設定から規則をコンパイルする。
// どちらの正規表現も任意で、空文字列は規則なしを意味する。
func CompileSummaryRules(cfg model.FeedConfig) (SummaryRules, error) {
	var rules SummaryRules

	if cfg.TitleRegex != "" {
		re, err := regexp.Compile(cfg.TitleRegex)
		if err != nil {
			return SummaryRules{}, model.NewInvalidRegexError("title_regex", cfg.TitleRegex)
		}
		rules.rewrite = re
		rules.replacement = cfg.TitleReplacement
	}

	if cfg.FilterRegex != "" {
		re, err := regexp.Compile(cfg.FilterRegex)
		if err != nil {
			return SummaryRules{}, model.NewInvalidRegexError("filter_regex", cfg.FilterRegex)
		}
		rules.filter = re
	}

	return rules, nil
}

// Apply は書き換え後の表示SUMMARYと、イベントを除外すべきかを返す。
// 空のSUMMARYは除外判定の対象にしない。
func (r SummaryRules) Apply(summary string) (string, bool) {
	if r.rewrite != nil {
		summary = r.rewrite.ReplaceAllString(summary, r.replacement)
	}
	if r.filter != nil && summary != "" && r.filter.MatchString(summary) {
		return summary, true
	}
	return summary, false
}
