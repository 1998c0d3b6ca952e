// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// feed.MetricsRecorderを実装する。
type Collector struct {
	feedRequests     *prometheus.CounterVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	notModified      prometheus.Counter
	renderLatency    prometheus.Histogram
	calendarFailures *prometheus.CounterVec
	eventsRendered   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		feedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calfeed_feed_requests_total",
			Help: "HTTPステータスコード別のフィードリクエスト数",
		}, []string{"status_code"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calfeed_cache_hits_total",
			Help: "フィードキャッシュヒットの合計数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calfeed_cache_misses_total",
			Help: "フィードキャッシュミスの合計数",
		}),
		notModified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calfeed_not_modified_total",
			Help: "条件付きリクエストに304を返した合計数",
		}),
		renderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calfeed_render_latency_seconds",
			Help:    "フィード生成（取得・正規化・レンダリング）のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		calendarFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calfeed_calendar_fetch_failures_total",
			Help: "カレンダー別のイベント取得失敗数",
		}, []string{"calendar_id"}),
		eventsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calfeed_events_rendered_total",
			Help: "フィードへレンダリングされたイベントの合計数",
		}),
	}

	reg.MustRegister(
		c.feedRequests,
		c.cacheHits,
		c.cacheMisses,
		c.notModified,
		c.renderLatency,
		c.calendarFailures,
		c.eventsRendered,
	)

	return c
}

// RecordFeedRequest はフィードリクエストの応答ステータスを記録する。
func (c *Collector) RecordFeedRequest(status int) {
	c.feedRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordNotModified は304応答を記録する。
func (c *Collector) RecordNotModified() {
	c.notModified.Inc()
}

// RecordRenderLatency はフィード生成のレイテンシを記録する。
func (c *Collector) RecordRenderLatency(duration time.Duration) {
	c.renderLatency.Observe(duration.Seconds())
}

// RecordCalendarFetchFailure はカレンダー取得失敗を記録する。
func (c *Collector) RecordCalendarFetchFailure(calendarID string) {
	c.calendarFailures.WithLabelValues(calendarID).Inc()
}

// RecordEventsRendered はレンダリングされたイベント数を記録する。
func (c *Collector) RecordEventsRendered(count int) {
	c.eventsRendered.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
