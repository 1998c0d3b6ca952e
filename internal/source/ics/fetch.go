package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// fetch は上流ICSを条件付きGETで取得する。
// 前回取得時のETag/Last-Modifiedを送信し、304応答時は保持している本文を返す。
// ネットワーク障害や非200応答でも本文を保持していればそれへフォールバックし、
// 上流の一時的な不調でフィード配信が止まらないようにする。
func (s *Source) fetch(ctx context.Context) ([]byte, error) {
	if s.url == "" {
		return nil, errors.New("calendar URL is empty")
	}

	s.mu.Lock()
	etag := s.etag
	lastModified := s.lastModified
	cached := s.cachedBody
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if len(cached) > 0 {
			s.logger.Warn("上流ICSの取得に失敗したため前回の本文を使用します",
				slog.String("calendar_id", s.calendarID),
				slog.String("error", err.Error()),
			)
			return cached, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := s.readBody(resp.Body)
		if readErr != nil {
			return nil, readErr
		}

		s.mu.Lock()
		s.etag = resp.Header.Get("ETag")
		s.lastModified = resp.Header.Get("Last-Modified")
		s.cachedBody = body
		s.mu.Unlock()

		return body, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		s.logger.Debug("上流ICSは未更新のため前回の本文を使用します",
			slog.String("calendar_id", s.calendarID),
		)
		return cached, nil

	default:
		if len(cached) > 0 {
			s.logger.Warn("上流ICSが異常応答を返したため前回の本文を使用します",
				slog.String("calendar_id", s.calendarID),
				slog.Int("status", resp.StatusCode),
			)
			return cached, nil
		}
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
}

// readBody は最大サイズを超えない範囲で本文を読み取る。
// 上限を超える本文は巨大なカレンダーの誤設定か攻撃とみなして拒否する。
func (s *Source) readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, s.maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.maxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", s.maxBodySize)
	}
	return body, nil
}
