package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/calfeed/internal/model"
	"github.com/hitoshi/calfeed/internal/source"
)

// --- モック定義 ---

// mockFeedLister はFeedListerのモック実装。
type mockFeedLister struct {
	feeds []model.FeedConfig
}

func (m *mockFeedLister) ListFeeds() []model.FeedConfig { return m.feeds }

// mockSource はsource.EventSourceのモック実装。
type mockSource struct {
	getEventsFn func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error)
	calls       int
}

func (m *mockSource) GetEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	m.calls++
	if m.getEventsFn != nil {
		return m.getEventsFn(ctx, start, end)
	}
	return nil, nil
}

// --- テストヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func timedEvent(summary string, start time.Time, dur time.Duration) model.CalendarEvent {
	return model.CalendarEvent{
		Start:   model.NewDateTime(start),
		End:     model.NewDateTime(start.Add(dur)),
		Summary: summary,
	}
}

// newTestService はフィード1件とカレンダー1件の標準構成を組み立てる。
func newTestService(t *testing.T, cfg model.FeedConfig, src source.EventSource, clock *fakeClock) *Service {
	t.Helper()
	registry := source.NewRegistry()
	for _, id := range cfg.Calendars {
		registry.Register(id, id, src)
	}
	return NewService(
		&mockFeedLister{feeds: []model.FeedConfig{cfg}},
		registry,
		NewCache(30*time.Second, clock.Now),
		nil,
		discardLogger(),
		ServiceConfig{Location: time.UTC, Now: clock.Now},
	)
}

func TestService_Serve_NotFound(t *testing.T) {
	clock := newFakeClock()
	cfg := model.FeedConfig{ID: "feed-1", Title: "Family", Secret: "good-secret", Calendars: []string{"calendar.a"}}
	svc := newTestService(t, cfg, &mockSource{}, clock)

	res, err := svc.Serve(context.Background(), "bad-secret", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != 404 {
		t.Errorf("status = %d, want 404", res.Status)
	}
	// 404にバリデータもボディも付けない。
	if res.Payload != "" || res.ETag != "" {
		t.Errorf("not-found result must be empty, got %+v", res)
	}
}

// 仕様シナリオ: past_days=1, future_days=1、フィルタなしのフィードは
// "Ignore me" と "Original title" の両方を開始時刻昇順で含む。
func TestService_Serve_RendersEventsInStartOrder(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()

	src := &mockSource{
		getEventsFn: func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
			// 取得ウィンドウはnow±1日。
			if !start.Equal(now.AddDate(0, 0, -1)) || !end.Equal(now.AddDate(0, 0, 1)) {
				t.Errorf("window = [%v, %v), want [%v, %v)", start, end, now.AddDate(0, 0, -1), now.AddDate(0, 0, 1))
			}
			return []model.CalendarEvent{
				timedEvent("Original title", now.Add(2*time.Hour), time.Hour),
				timedEvent("Ignore me", now.Add(time.Hour), time.Hour),
			}, nil
		},
	}
	cfg := model.FeedConfig{
		ID: "feed-1", Title: "Family", Secret: "s",
		Calendars: []string{"calendar.a"}, PastDays: 1, FutureDays: 1,
	}
	svc := newTestService(t, cfg, src, clock)

	res, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != 200 {
		t.Fatalf("status = %d, want 200", res.Status)
	}
	if res.EventCount != 2 {
		t.Errorf("event count = %d, want 2", res.EventCount)
	}

	iIgnore := strings.Index(res.Payload, "SUMMARY:Ignore me")
	iOriginal := strings.Index(res.Payload, "SUMMARY:Original title")
	if iIgnore < 0 || iOriginal < 0 {
		t.Fatalf("missing summaries in payload:\n%s", res.Payload)
	}
	if iIgnore > iOriginal {
		t.Error("events are not in start-time order")
	}
}

func TestService_Serve_FilterRegex(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()

	src := &mockSource{
		getEventsFn: func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
			return []model.CalendarEvent{
				timedEvent("Ignore me", now.Add(time.Hour), time.Hour),
				timedEvent("Keep me", now.Add(2*time.Hour), time.Hour),
			}, nil
		},
	}
	cfg := model.FeedConfig{
		ID: "feed-1", Title: "Family", Secret: "s",
		Calendars: []string{"calendar.a"}, PastDays: 1, FutureDays: 1,
		FilterRegex: "Ignore",
	}
	svc := newTestService(t, cfg, src, clock)

	res, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(res.Payload, "Ignore me") {
		t.Error("filtered event leaked into the payload")
	}
	if !strings.Contains(res.Payload, "SUMMARY:Keep me") {
		t.Error("unfiltered event is missing")
	}
	if res.EventCount != 1 {
		t.Errorf("event count = %d, want 1", res.EventCount)
	}
}

// TTL内の再リクエストはキャッシュからバイト同一のペイロードと同一ETagを返し、
// 上流カレンダーへの再フェッチは発生しない。
func TestService_Serve_CacheHitWithinTTL(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()

	src := &mockSource{
		getEventsFn: func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
			return []model.CalendarEvent{timedEvent("ev", now.Add(time.Hour), time.Hour)}, nil
		},
	}
	cfg := model.FeedConfig{ID: "feed-1", Title: "Family", Secret: "s", Calendars: []string{"calendar.a"}, PastDays: 1, FutureDays: 1}
	svc := newTestService(t, cfg, src, clock)

	first, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(10 * time.Second)
	second, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1 (second serve must hit the cache)", src.calls)
	}
	if first.Payload != second.Payload {
		t.Error("cached payload differs from fresh render")
	}
	if first.ETag != second.ETag {
		t.Errorf("etag changed: %q -> %q", first.ETag, second.ETag)
	}
}

// 設定変更はTTL内でもキャッシュを無効化する（フィンガープリントが変わる）。
func TestService_Serve_ConfigChangeInvalidatesCache(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()

	src := &mockSource{
		getEventsFn: func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
			return []model.CalendarEvent{timedEvent("ev", now.Add(time.Hour), time.Hour)}, nil
		},
	}
	lister := &mockFeedLister{feeds: []model.FeedConfig{{
		ID: "feed-1", Title: "Family", Secret: "s", Calendars: []string{"calendar.a"}, PastDays: 1, FutureDays: 1,
	}}}
	registry := source.NewRegistry()
	registry.Register("calendar.a", "calendar.a", src)
	svc := NewService(lister, registry, NewCache(30*time.Second, clock.Now), nil, discardLogger(),
		ServiceConfig{Location: time.UTC, Now: clock.Now})

	if _, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// ウィンドウを変更した次のリクエストは自然にキャッシュミスする。
	lister.feeds[0].FutureDays = 2
	if _, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2 (config change must bypass the cache)", src.calls)
	}
}

// 仕様シナリオ: 現在のETagと一致するIf-None-Matchは304、ボディなし。
func TestService_Serve_NotModified(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()

	src := &mockSource{
		getEventsFn: func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
			return []model.CalendarEvent{timedEvent("ev", now.Add(time.Hour), time.Hour)}, nil
		},
	}
	cfg := model.FeedConfig{ID: "feed-1", Title: "Family", Secret: "s", Calendars: []string{"calendar.a"}, PastDays: 1, FutureDays: 1}
	svc := newTestService(t, cfg, src, clock)

	first, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{IfNoneMatch: first.ETag})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Status != 304 {
		t.Fatalf("status = %d, want 304", second.Status)
	}
	if second.Payload != "" {
		t.Error("304 must not carry a body")
	}
	// バリデータは同一のものを返す。
	if second.ETag != first.ETag || !second.LastModified.Equal(first.LastModified) {
		t.Errorf("validators changed: %+v vs %+v", second, first)
	}
}

// 1カレンダーの失敗はフィード全体を失敗させず、そのカレンダーを0件として扱う。
func TestService_Serve_PartialCalendarFailure(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()

	failing := &mockSource{
		getEventsFn: func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
			return nil, model.NewCalendarFetchError("calendar.bad", "boom")
		},
	}
	healthy := &mockSource{
		getEventsFn: func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
			return []model.CalendarEvent{timedEvent("survivor", now.Add(time.Hour), time.Hour)}, nil
		},
	}

	registry := source.NewRegistry()
	registry.Register("calendar.bad", "Bad", failing)
	registry.Register("calendar.good", "Good", healthy)

	cfg := model.FeedConfig{
		ID: "feed-1", Title: "Family", Secret: "s",
		Calendars: []string{"calendar.bad", "calendar.good"}, PastDays: 1, FutureDays: 1,
	}
	svc := NewService(&mockFeedLister{feeds: []model.FeedConfig{cfg}}, registry,
		NewCache(30*time.Second, clock.Now), nil, discardLogger(),
		ServiceConfig{Location: time.UTC, Now: clock.Now})

	res, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != 200 {
		t.Fatalf("status = %d, want 200", res.Status)
	}
	if !strings.Contains(res.Payload, "SUMMARY:survivor") {
		t.Error("healthy calendar's event is missing")
	}
	if res.EventCount != 1 {
		t.Errorf("event count = %d, want 1", res.EventCount)
	}
}

// キャンセルは部分失敗に吸収せず、そのまま伝播させる。
func TestService_Serve_CancellationPropagates(t *testing.T) {
	clock := newFakeClock()

	src := &mockSource{
		getEventsFn: func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
			return nil, ctx.Err()
		},
	}
	cfg := model.FeedConfig{ID: "feed-1", Title: "Family", Secret: "s", Calendars: []string{"calendar.a"}, PastDays: 1, FutureDays: 1}
	svc := newTestService(t, cfg, src, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Serve(ctx, "s", "family", ConditionalHeaders{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// バイト同一の再生成ではLast-Modifiedが引き継がれ、出力が変わると前進する。
func TestService_Serve_LastModifiedCarryOver(t *testing.T) {
	clock := newFakeClock()
	eventStart := clock.Now().Add(time.Hour)
	summary := "stable"

	src := &mockSource{
		getEventsFn: func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
			return []model.CalendarEvent{timedEvent(summary, eventStart, time.Hour)}, nil
		},
	}
	cfg := model.FeedConfig{ID: "feed-1", Title: "Family", Secret: "s", Calendars: []string{"calendar.a"}, PastDays: 1, FutureDays: 1}
	svc := newTestService(t, cfg, src, clock)

	// DTSTAMPが生成秒を含むため、バイト同一の再生成はクロックの秒が
	// 変わらない範囲でだけ起こる。短いTTLでその状況を作る。
	svc.cache = NewCache(5*time.Millisecond, clock.Now)

	first, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Last-Modifiedだけが過去を指す期限切れエントリを仕込む。
	older := clock.Now().Add(-10 * time.Minute).UTC().Truncate(time.Second)
	svc.cache.Set("feed-1", CacheEntry{
		Payload:      first.Payload,
		ETag:         first.ETag,
		LastModified: older,
		Fingerprint:  Fingerprint(cfg),
	})
	clock.Advance(10 * time.Millisecond) // TTL切れ。DTSTAMPの秒は変わらない。

	second, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ETag != first.ETag {
		t.Fatalf("etag changed for identical output: %q -> %q", first.ETag, second.ETag)
	}
	if !second.LastModified.Equal(older) {
		t.Errorf("last modified not carried over: got %v, want %v", second.LastModified, older)
	}

	// 出力が変わるとLast-Modifiedは前進する。
	clock.Advance(time.Minute)
	summary = "changed"
	third, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.ETag == first.ETag {
		t.Error("etag should change when the payload changes")
	}
	if !third.LastModified.After(older) {
		t.Errorf("last modified did not advance: %v -> %v", older, third.LastModified)
	}
}

// 未登録カレンダーはスキップされ、残りのカレンダーだけでフィードが生成される。
func TestService_Serve_UnknownCalendarSkipped(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()

	src := &mockSource{
		getEventsFn: func(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
			return []model.CalendarEvent{timedEvent("present", now.Add(time.Hour), time.Hour)}, nil
		},
	}
	registry := source.NewRegistry()
	registry.Register("calendar.known", "Known", src)

	cfg := model.FeedConfig{
		ID: "feed-1", Title: "Family", Secret: "s",
		Calendars: []string{"calendar.missing", "calendar.known"}, PastDays: 1, FutureDays: 1,
	}
	svc := NewService(&mockFeedLister{feeds: []model.FeedConfig{cfg}}, registry,
		NewCache(30*time.Second, clock.Now), nil, discardLogger(),
		ServiceConfig{Location: time.UTC, Now: clock.Now})

	res, err := svc.Serve(context.Background(), "s", "family", ConditionalHeaders{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EventCount != 1 {
		t.Errorf("event count = %d, want 1", res.EventCount)
	}
}
