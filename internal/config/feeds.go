package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/calfeed/internal/feed"
	"github.com/hitoshi/calfeed/internal/model"
	"github.com/hitoshi/calfeed/internal/security"
	"github.com/hitoshi/calfeed/internal/source/static"
)

// カレンダー定義の種別。
const (
	CalendarTypeICS    = "ics"
	CalendarTypeStatic = "static"
)

// CalendarConfig は設定ファイル上の1カレンダー定義。
type CalendarConfig struct {
	// ID はフィード定義から参照されるカレンダー識別子。
	ID string `yaml:"id"`
	// Name は表示名。空の場合はIDを表示名として使用する。
	Name string `yaml:"name"`
	// Type はics/staticのいずれか。空の場合はURLの有無から推定する。
	Type string `yaml:"type"`
	// URL はics種別の購読URL。
	URL string `yaml:"url"`
	// Events はstatic種別の固定イベント列。
	Events []static.Event `yaml:"events"`
}

// feedEntry はYAML上のフィード定義。ウィンドウ日数の明示的な0と
// 未指定を区別するためポインタで受ける。
type feedEntry struct {
	ID               string   `yaml:"id"`
	Title            string   `yaml:"title"`
	Secret           string   `yaml:"secret"`
	Calendars        []string `yaml:"calendars"`
	PastDays         *int     `yaml:"past_days"`
	FutureDays       *int     `yaml:"future_days"`
	TitleRegex       string   `yaml:"title_regex"`
	TitleReplacement string   `yaml:"title_replacement"`
	FilterRegex      string   `yaml:"filter_regex"`
}

// feedsFile は設定ファイル全体の形状。
type feedsFile struct {
	Calendars []CalendarConfig `yaml:"calendars"`
	Feeds     []feedEntry      `yaml:"feeds"`
}

// Store は検証済みのフィード・カレンダー定義を保持する。
// 読み込み後は変更されないため、複数goroutineから安全に参照できる。
type Store struct {
	feeds     []model.FeedConfig
	calendars []CalendarConfig
}

// ListFeeds は全フィード定義のコピーを返す。feed.FeedListerを実装する。
func (s *Store) ListFeeds() []model.FeedConfig {
	out := make([]model.FeedConfig, len(s.feeds))
	copy(out, s.feeds)
	return out
}

// Calendars は全カレンダー定義のコピーを返す。
func (s *Store) Calendars() []CalendarConfig {
	out := make([]CalendarConfig, len(s.calendars))
	copy(out, s.calendars)
	return out
}

// LoadOptions はLoadFeedsの動作パラメータ。
type LoadOptions struct {
	// BaseURL はシークレット自動生成時にログへ出すフィードURLの組み立てに使う。
	BaseURL string
	// AllowPrivate はプライベートネットワーク上のカレンダーURLを許可する。
	AllowPrivate bool
	// Logger は構造化ロガー。nilの場合はslog.Defaultを使用する。
	Logger *slog.Logger
}

// LoadFeeds はYAML設定ファイルを読み込み、検証済みのStoreを返す。
//
// フィードのIDとシークレットは省略可能で、省略時はそれぞれUUIDと
// ランダムシークレットを生成する。生成したシークレットは再起動で
// 変わるため、マスク済みのフィードURLをログに出して利用者へ知らせる。
func LoadFeeds(path string, opts LoadOptions) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewInvalidConfigError(fmt.Sprintf("設定ファイルを読み込めません: %v", err))
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file feedsFile
	if err := dec.Decode(&file); err != nil {
		return nil, model.NewInvalidConfigError(fmt.Sprintf("YAMLを解析できません: %v", err))
	}

	calendars, err := validateCalendars(file.Calendars, opts.AllowPrivate)
	if err != nil {
		return nil, err
	}

	knownCalendars := make(map[string]bool, len(calendars))
	for _, cal := range calendars {
		knownCalendars[cal.ID] = true
	}

	feeds := make([]model.FeedConfig, 0, len(file.Feeds))
	seenSecrets := make(map[string]string)
	for i, entry := range file.Feeds {
		cfg, err := buildFeedConfig(entry, i, knownCalendars, opts, logger)
		if err != nil {
			return nil, err
		}

		if prev, dup := seenSecrets[cfg.Secret]; dup {
			logger.Warn("複数のフィードが同じシークレットを共有しています",
				slog.String("feed_id", cfg.ID),
				slog.String("other_feed_id", prev),
			)
		}
		seenSecrets[cfg.Secret] = cfg.ID

		feeds = append(feeds, cfg)
	}

	logger.Info("設定ファイルを読み込みました",
		slog.String("path", path),
		slog.Int("calendar_count", len(calendars)),
		slog.Int("feed_count", len(feeds)),
	)
	return &Store{feeds: feeds, calendars: calendars}, nil
}

func validateCalendars(calendars []CalendarConfig, allowPrivate bool) ([]CalendarConfig, error) {
	guard := security.NewSSRFGuard(allowPrivate)
	seen := make(map[string]bool, len(calendars))

	out := make([]CalendarConfig, 0, len(calendars))
	for i, cal := range calendars {
		if cal.ID == "" {
			return nil, model.NewInvalidConfigError(fmt.Sprintf("calendars[%d]: idは必須です", i))
		}
		if seen[cal.ID] {
			return nil, model.NewInvalidConfigError(fmt.Sprintf("カレンダーIDが重複しています: %s", cal.ID))
		}
		seen[cal.ID] = true

		if cal.Type == "" {
			if cal.URL != "" {
				cal.Type = CalendarTypeICS
			} else {
				cal.Type = CalendarTypeStatic
			}
		}

		switch cal.Type {
		case CalendarTypeICS:
			if cal.URL == "" {
				return nil, model.NewInvalidConfigError(fmt.Sprintf("カレンダー %s: ics種別にはurlが必要です", cal.ID))
			}
			if err := guard.ValidateURL(cal.URL); err != nil {
				return nil, model.NewSSRFBlockedError(cal.ID)
			}
		case CalendarTypeStatic:
			// イベント0件のstaticカレンダーも許容する。
		default:
			return nil, model.NewInvalidConfigError(fmt.Sprintf("カレンダー %s: 未知の種別です: %s", cal.ID, cal.Type))
		}

		out = append(out, cal)
	}
	return out, nil
}

func buildFeedConfig(entry feedEntry, index int, knownCalendars map[string]bool, opts LoadOptions, logger *slog.Logger) (model.FeedConfig, error) {
	cfg := model.FeedConfig{
		ID:               entry.ID,
		Title:            entry.Title,
		Secret:           entry.Secret,
		Calendars:        entry.Calendars,
		TitleRegex:       entry.TitleRegex,
		TitleReplacement: entry.TitleReplacement,
		FilterRegex:      entry.FilterRegex,
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	cfg.PastDays = windowDays(entry.PastDays, model.DefaultPastDays, cfg.ID, "past_days", logger)
	cfg.FutureDays = windowDays(entry.FutureDays, model.DefaultFutureDays, cfg.ID, "future_days", logger)

	if _, err := feed.CompileSummaryRules(cfg); err != nil {
		return model.FeedConfig{}, err
	}

	for _, calendarID := range cfg.Calendars {
		if !knownCalendars[calendarID] {
			logger.Warn("フィードが未登録のカレンダーを参照しています",
				slog.String("feed_id", cfg.ID),
				slog.String("calendar_id", calendarID),
			)
		}
	}

	if cfg.Secret == "" {
		secret, err := feed.GenerateSecret()
		if err != nil {
			return model.FeedConfig{}, fmt.Errorf("feeds[%d]: シークレットを生成できません: %w", index, err)
		}
		cfg.Secret = secret
		logger.Info("フィードのシークレットを生成しました。再起動で変わるため設定ファイルへの固定を推奨します",
			slog.String("feed_id", cfg.ID),
			slog.String("feed_url", feed.MaskFeedURL(feed.BuildFeedURL(opts.BaseURL, cfg))),
		)
	}

	return cfg, nil
}

// windowDays はウィンドウ日数を解決する。未指定は既定値、
// 範囲外は0〜365へ丸めて警告を出す。
func windowDays(v *int, defaultVal int, feedID, field string, logger *slog.Logger) int {
	if v == nil {
		return defaultVal
	}
	days := *v
	if days < 0 || days > model.MaxWindowDays {
		clamped := min(max(days, 0), model.MaxWindowDays)
		logger.Warn("ウィンドウ日数が範囲外のため丸めました",
			slog.String("feed_id", feedID),
			slog.String("field", field),
			slog.Int("value", days),
			slog.Int("clamped", clamped),
		)
		return clamped
	}
	return days
}
