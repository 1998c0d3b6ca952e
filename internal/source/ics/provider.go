// Package ics はHTTPで公開されているiCalendarフィードを購読し、
// イベントソースとして提供する。
//
// 取得時はETag/Last-Modifiedによる条件付きGETを行い、
// 304応答や一時的なネットワーク障害時は前回取得済みの本文へ
// フォールバックする。RRULEによる繰り返しイベントは
// 要求ウィンドウ内の個別イベントへ展開される。
package ics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/calfeed/internal/model"
	"github.com/hitoshi/calfeed/internal/security"
)

const (
	// DefaultTimeout は上流ICSフェッチの既定タイムアウト。
	DefaultTimeout = 15 * time.Second

	// DefaultMaxBodySize は上流ICS本文の既定最大サイズ (5MiB)。
	DefaultMaxBodySize = 5 * 1024 * 1024

	// defaultMaxOccurrences は1イベントあたりの繰り返し展開上限。
	defaultMaxOccurrences = 1000
)

// Options はSourceの生成パラメータ。ゼロ値のフィールドには既定値が適用される。
type Options struct {
	// Timeout はフェッチ全体のタイムアウト。
	Timeout time.Duration

	// MaxBodySize は受け入れる本文の最大バイト数。
	MaxBodySize int64

	// MaxOccurrences は1イベントあたりの繰り返し展開上限。
	MaxOccurrences int

	// Location は全日イベントの暦日を解決する基準タイムゾーン。
	// nilの場合はtime.Localを使用する。
	Location *time.Location

	// Logger は構造化ロガー。nilの場合はslog.Defaultを使用する。
	Logger *slog.Logger

	// Client はHTTPクライアントの差し替え用。nilの場合は
	// SSRF防止機能付きクライアントを生成する。
	Client *http.Client

	// AllowPrivate はプライベートネットワーク上のカレンダー購読を許可する。
	// Clientが指定されている場合は無視される。
	AllowPrivate bool
}

// Source は単一の購読カレンダーを表すEventSource実装。
// フェッチ状態 (ETag/Last-Modified/前回本文) を保持するため、
// カレンダーごとに1インスタンスを生成して使い回す。
type Source struct {
	calendarID string
	url        string
	client     *http.Client
	sanitizer  security.TextSanitizerService
	logger     *slog.Logger
	loc        *time.Location

	maxBodySize    int64
	maxOccurrences int

	mu           sync.Mutex
	etag         string
	lastModified string
	cachedBody   []byte
}

// New はSourceを生成する。
func New(calendarID, url string, opts Options) *Source {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = defaultMaxOccurrences
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client == nil {
		guard := security.NewSSRFGuard(opts.AllowPrivate)
		opts.Client = guard.NewSafeClient(opts.Timeout, opts.MaxBodySize)
	}

	return &Source{
		calendarID:     calendarID,
		url:            url,
		client:         opts.Client,
		sanitizer:      security.NewTextSanitizer(),
		logger:         opts.Logger,
		loc:            opts.Location,
		maxBodySize:    opts.MaxBodySize,
		maxOccurrences: opts.MaxOccurrences,
	}
}

// GetEvents は[start, end)に重なるイベントを返す。
// 繰り返しイベントはウィンドウ内の個別イベントへ展開済みの状態で返る。
func (s *Source) GetEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	body, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.NewCalendarFetchError(s.calendarID, err.Error())
	}

	parsed, err := s.parseBody(body)
	if err != nil {
		s.logger.Warn("ICSペイロードの解析に失敗しました",
			slog.String("calendar_id", s.calendarID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewICSParseError(s.calendarID)
	}

	occurrences := s.expand(parsed, start, end)

	events := make([]model.CalendarEvent, 0, len(occurrences))
	for _, occ := range occurrences {
		events = append(events, s.toCalendarEvent(occ))
	}

	s.logger.Debug("購読カレンダーからイベントを取得しました",
		slog.String("calendar_id", s.calendarID),
		slog.Int("event_count", len(events)),
	)
	return events, nil
}

// toCalendarEvent は展開済みイベントをモデルへ変換する。
// DESCRIPTIONに混入したHTMLはプレーンテキスト化する。
func (s *Source) toCalendarEvent(occ occurrence) model.CalendarEvent {
	uid := occ.event.UID
	if occ.event.RawRRule != "" {
		// 繰り返しの各回はUIDを開始時刻で修飾して一意化する。
		uid = fmt.Sprintf("%s-%s", uid, occ.start.UTC().Format("20060102T150405Z"))
	}

	return model.CalendarEvent{
		Start:       model.NewDateTime(occ.start),
		End:         model.NewDateTime(occ.end),
		Summary:     occ.event.Summary,
		Description: s.sanitizer.Sanitize(occ.event.Description),
		Location:    occ.event.Location,
		UID:         uid,
		AllDay:      occ.event.AllDay,
	}
}
