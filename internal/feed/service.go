package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/calfeed/internal/model"
	"github.com/hitoshi/calfeed/internal/source"
)

// FeedLister は設定済みフィード定義の一覧を提供するインターフェース。
// 設定が変わると次のリクエストでフィンガープリントが変わり、キャッシュは
// 自然にミスするため、明示的な無効化の呼び出しは不要。
type FeedLister interface {
	ListFeeds() []model.FeedConfig
}

// MetricsRecorder はフィード配信のメトリクス収集のインターフェース。
type MetricsRecorder interface {
	RecordFeedRequest(status int)
	RecordCacheHit()
	RecordCacheMiss()
	RecordNotModified()
	RecordRenderLatency(d time.Duration)
	RecordCalendarFetchFailure(calendarID string)
	RecordEventsRendered(count int)
}

// nopMetrics はメトリクス未接続時のダミー実装。
type nopMetrics struct{}

func (nopMetrics) RecordFeedRequest(int)             {}
func (nopMetrics) RecordCacheHit()                   {}
func (nopMetrics) RecordCacheMiss()                  {}
func (nopMetrics) RecordNotModified()                {}
func (nopMetrics) RecordRenderLatency(time.Duration) {}
func (nopMetrics) RecordCalendarFetchFailure(string) {}
func (nopMetrics) RecordEventsRendered(int)          {}

// ServiceConfig はServiceの動作設定。
type ServiceConfig struct {
	// Location は暦日をタイムスタンプへ解決する際の基準タイムゾーン。
	// nilの場合はtime.Local。
	Location *time.Location
	// Now は注入クロック。nilの場合はtime.Now。
	Now func() time.Time
	// BaseURL はログに出すフィードURLの組み立てに使う（シークレットはマスクされる）。
	BaseURL string
}

// Service はフィード生成とキャッシュのパイプラインを編成する。
type Service struct {
	feeds   FeedLister
	sources *source.Registry
	cache   *Cache
	metrics MetricsRecorder
	logger  *slog.Logger
	loc     *time.Location
	now     func() time.Time
	baseURL string
}

// NewService はServiceを生成する。metricsがnilの場合は記録しない。
func NewService(
	feeds FeedLister,
	sources *source.Registry,
	cache *Cache,
	metrics MetricsRecorder,
	logger *slog.Logger,
	cfg ServiceConfig,
) *Service {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		feeds:   feeds,
		sources: sources,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		loc:     loc,
		now:     now,
		baseURL: cfg.BaseURL,
	}
}

// ServeResult はフィード配信の結果。Statusは200・304・404のいずれか。
type ServeResult struct {
	Status       int
	Payload      string
	ETag         string
	LastModified time.Time
	EventCount   int
}

// Serve は1リクエスト分のフィード配信を処理する。
// 解決 → フィンガープリント → キャッシュ照会 →（ミス時）再生成 →
// 条件付きリクエスト評価の順。エラーを返すのはキャンセル時のみで、
// カレンダー単位の失敗はフィードを失敗させない。
func (s *Service) Serve(ctx context.Context, secret, slug string, cond ConditionalHeaders) (*ServeResult, error) {
	cfg, ok := ResolveFeed(s.feeds.ListFeeds(), secret, slug)
	if !ok {
		s.metrics.RecordFeedRequest(http.StatusNotFound)
		return &ServeResult{Status: http.StatusNotFound}, nil
	}

	fingerprint := Fingerprint(cfg)

	if entry, ok := s.cache.Get(cfg.ID, fingerprint, false); ok {
		s.metrics.RecordCacheHit()
		return s.respond(entry, cond), nil
	}
	s.metrics.RecordCacheMiss()

	entry, err := s.regenerate(ctx, cfg, fingerprint)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cfg.ID, *entry)
	return s.respond(*entry, cond), nil
}

// respond はバリデータを評価し、304または200の結果を組み立てる。
func (s *Service) respond(entry CacheEntry, cond ConditionalHeaders) *ServeResult {
	if NotModified(cond, entry.ETag, entry.LastModified) {
		s.metrics.RecordNotModified()
		s.metrics.RecordFeedRequest(http.StatusNotModified)
		return &ServeResult{
			Status:       http.StatusNotModified,
			ETag:         entry.ETag,
			LastModified: entry.LastModified,
		}
	}
	s.metrics.RecordFeedRequest(http.StatusOK)
	return &ServeResult{
		Status:       http.StatusOK,
		Payload:      entry.Payload,
		ETag:         entry.ETag,
		LastModified: entry.LastModified,
		EventCount:   entry.EventCount,
	}
}

// fetchOutcome は1カレンダー分の取得結果。
type fetchOutcome struct {
	events  []model.CalendarEvent
	err     error
	fetched bool
}

// regenerate はフィードを再レンダリングし、新しいキャッシュエントリを返す。
//
// 各カレンダーの取得は並行に発行して合流する。1カレンダーの失敗は
// ログに残してそのカレンダーを0件として扱うが、キャンセルは部分失敗に
// 吸収せず即座に伝播させる。
func (s *Service) regenerate(ctx context.Context, cfg model.FeedConfig, fingerprint string) (*CacheEntry, error) {
	now := s.now()
	windowStart := now.AddDate(0, 0, -cfg.PastDays)
	windowEnd := now.AddDate(0, 0, cfg.FutureDays)

	rules, err := CompileSummaryRules(cfg)
	if err != nil {
		// 正規表現は設定ロード時に検証済み。到達した場合は規則なしで続行する。
		s.logger.Warn("SUMMARY規則のコンパイルに失敗しました",
			slog.String("feed_id", cfg.ID),
			slog.String("error", err.Error()),
		)
		rules = SummaryRules{}
	}

	outcomes := make([]fetchOutcome, len(cfg.Calendars))
	var wg sync.WaitGroup
	for i, calendarID := range cfg.Calendars {
		src, ok := s.sources.Lookup(calendarID)
		if !ok {
			s.logger.Debug("未登録のカレンダーをスキップします",
				slog.String("feed_id", cfg.ID),
				slog.String("calendar_id", calendarID),
			)
			continue
		}
		wg.Add(1)
		go func(i int, src source.EventSource) {
			defer wg.Done()
			events, err := src.GetEvents(ctx, windowStart, windowEnd)
			outcomes[i] = fetchOutcome{events: events, err: err, fetched: true}
		}(i, src)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := make([]RenderItem, 0)
	for i, calendarID := range cfg.Calendars {
		outcome := outcomes[i]
		if !outcome.fetched {
			continue
		}
		if outcome.err != nil {
			if errors.Is(outcome.err, context.Canceled) || errors.Is(outcome.err, context.DeadlineExceeded) {
				return nil, outcome.err
			}
			s.metrics.RecordCalendarFetchFailure(calendarID)
			var apiErr *model.APIError
			if errors.As(outcome.err, &apiErr) {
				// ドメインレベルの失敗は想定内のため低い冗長度で記録する。
				s.logger.Debug("カレンダーの取得に失敗しました",
					slog.String("feed_id", cfg.ID),
					slog.String("calendar_id", calendarID),
					slog.String("error", outcome.err.Error()),
				)
			} else {
				s.logger.Warn("カレンダーの取得で予期しないエラーが発生しました",
					slog.String("feed_id", cfg.ID),
					slog.String("calendar_id", calendarID),
					slog.String("error", outcome.err.Error()),
				)
			}
			continue
		}
		for _, ev := range outcome.events {
			summary, skip := rules.Apply(ev.Summary)
			if skip {
				continue
			}
			items = append(items, RenderItem{
				Event:   Normalize(calendarID, ev, s.loc, now),
				Summary: summary,
			})
		}
	}

	payload, count := Render(feedTitle(cfg), items, now, s.loc)
	etag := PayloadETag(payload)

	// バイト同一の再生成ではLast-Modifiedを引き継ぎ、クライアントキャッシュの
	// 正しさを保つ。期限切れエントリもバリデータの引き継ぎ元として参照する。
	lastModified := now.UTC().Truncate(time.Second)
	if prev, ok := s.cache.Get(cfg.ID, fingerprint, true); ok && prev.ETag == etag {
		lastModified = prev.LastModified
	}

	s.metrics.RecordRenderLatency(s.now().Sub(now))
	s.metrics.RecordEventsRendered(count)

	s.logger.Info("フィードを生成しました",
		slog.String("feed", feedTitle(cfg)),
		slog.Int("event_count", count),
		slog.String("url", MaskFeedURL(BuildFeedURL(s.baseURL, cfg))),
	)

	return &CacheEntry{
		Payload:      payload,
		ETag:         etag,
		LastModified: lastModified,
		Fingerprint:  fingerprint,
		EventCount:   count,
	}, nil
}

// PayloadETag はレンダリング済みペイロードのエンティティタグを返す。
// ペイロードのバイト列のみから決まるため、同一出力は生成時刻に
// かかわらず同一のバリデータを得る。強いETagとして引用符付きで返す。
func PayloadETag(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// feedTitle は表示用のフィードタイトルを返す。
func feedTitle(cfg model.FeedConfig) string {
	if cfg.Title != "" {
		return cfg.Title
	}
	return "Calendar Feed"
}
