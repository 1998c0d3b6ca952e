// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/calfeed/internal/feed"
)

// FeedServerInterface はフィードハンドラーが必要とするサービスインターフェース。
type FeedServerInterface interface {
	// Serve は1リクエスト分のフィード配信を処理する。
	Serve(ctx context.Context, secret, slug string, cond feed.ConditionalHeaders) (*feed.ServeResult, error)
}

// FeedHandler はiCalendarフィード配信のHTTPハンドラー。
type FeedHandler struct {
	service FeedServerInterface
	logger  *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service FeedServerInterface, logger *slog.Logger) *FeedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandler{
		service: service,
		logger:  logger,
	}
}

// ServeFeed はフィード取得を処理する。
// GET /ical/{secret}/{feed}.ics
//
// シークレット不一致・スラグ不一致・拡張子なしはすべて同一の404を返し、
// フィードの存在有無を外部から観測できないようにする。
func (h *FeedHandler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "secret")
	filename := chi.URLParam(r, "feed")

	slug, ok := strings.CutSuffix(filename, feed.ICalExtension)
	if !ok || slug == "" {
		http.NotFound(w, r)
		return
	}

	cond := feed.ConditionalHeaders{
		IfNoneMatch:     r.Header.Get("If-None-Match"),
		IfModifiedSince: r.Header.Get("If-Modified-Since"),
	}

	result, err := h.service.Serve(r.Context(), secret, slug, cond)
	if err != nil {
		// クライアント切断によるキャンセルは応答不要。
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		h.logger.Error("フィード配信に失敗しました",
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	switch result.Status {
	case http.StatusNotFound:
		http.NotFound(w, r)

	case http.StatusNotModified:
		writeValidators(w, result)
		w.WriteHeader(http.StatusNotModified)

	default:
		writeValidators(w, result)
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, result.Payload)
	}
}

// writeValidators はETag/Last-Modifiedとキャッシュ制御ヘッダーを書き込む。
// フィードはシークレット付きURLで配信されるため共有キャッシュには載せない。
func writeValidators(w http.ResponseWriter, result *feed.ServeResult) {
	if result.ETag != "" {
		w.Header().Set("ETag", result.ETag)
	}
	if !result.LastModified.IsZero() {
		w.Header().Set("Last-Modified", result.LastModified.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")
}

// Health はヘルスチェックを処理する。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, `{"status":"ok"}`)
}
