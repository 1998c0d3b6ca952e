package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/calfeed/internal/config"
	"github.com/hitoshi/calfeed/internal/feed"
	"github.com/hitoshi/calfeed/internal/handler"
	"github.com/hitoshi/calfeed/internal/logger"
	"github.com/hitoshi/calfeed/internal/metrics"
	"github.com/hitoshi/calfeed/internal/middleware"
	"github.com/hitoshi/calfeed/internal/source"
	"github.com/hitoshi/calfeed/internal/source/ics"
	"github.com/hitoshi/calfeed/internal/source/static"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("feeds_file", cfg.FeedsFile),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandDiagnose:
		return runDiagnose(cfg, w)
	default:
		return runServe(cfg)
	}
}

// runServe はフィードサーバーモードで起動する。
// 設定ファイルを読み込み、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. タイムゾーンの解決
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("failed to resolve timezone: %w", err)
	}

	// 2. フィード・カレンダー定義の読み込み
	store, err := config.LoadFeeds(cfg.FeedsFile, config.LoadOptions{
		BaseURL:      cfg.BaseURL,
		AllowPrivate: cfg.AllowPrivateCalendars,
		Logger:       slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to load feeds file: %w", err)
	}

	// 3. イベントソースの登録
	registry := buildRegistry(store.Calendars(), cfg, loc)

	slog.Info("event sources registered",
		slog.Int("calendar_count", len(registry.IDs())),
	)

	// 4. メトリクスの初期化
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	// 5. フィードサービスの構築
	cache := feed.NewCache(cfg.CacheTTL, nil)
	feedService := feed.NewService(store, registry, cache, collector, slog.Default(), feed.ServiceConfig{
		Location: loc,
		BaseURL:  cfg.BaseURL,
	})

	// 6. ルーターの構築
	// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.Rate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.Burst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		FeedService: feedService,
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),
		Gatherer:    promReg,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("feed server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down feed server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("feed server stopped gracefully")
	return nil
}

// buildRegistry はカレンダー定義からイベントソースを生成して登録する。
func buildRegistry(calendars []config.CalendarConfig, cfg *config.Config, loc *time.Location) *source.Registry {
	registry := source.NewRegistry()
	for _, cal := range calendars {
		switch cal.Type {
		case config.CalendarTypeICS:
			registry.Register(cal.ID, cal.Name, ics.New(cal.ID, cal.URL, ics.Options{
				Timeout:      cfg.FetchTimeout,
				MaxBodySize:  cfg.FetchMaxSize,
				Location:     loc,
				Logger:       slog.Default(),
				AllowPrivate: cfg.AllowPrivateCalendars,
			}))
		case config.CalendarTypeStatic:
			registry.Register(cal.ID, cal.Name, static.New(cal.Events, loc))
		}
	}
	return registry
}

// feedDiagnosis はdiagnose出力の1フィード分。シークレットを含まない。
type feedDiagnosis struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	Calendars  []string `json:"calendars"`
	PastDays   int      `json:"past_days"`
	FutureDays int      `json:"future_days"`
	HasRewrite bool     `json:"has_rewrite"`
	HasFilter  bool     `json:"has_filter"`
}

// runDiagnose は設定ファイルを検証し、フィードの要約をJSONで出力する。
// 設定に問題があればフィード読み込みと同じエラーで失敗するため、
// デプロイ前の検証に使用できる。
func runDiagnose(cfg *config.Config, w io.Writer) error {
	store, err := config.LoadFeeds(cfg.FeedsFile, config.LoadOptions{
		BaseURL:      cfg.BaseURL,
		AllowPrivate: cfg.AllowPrivateCalendars,
		Logger:       slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("feeds file validation failed: %w", err)
	}

	diagnoses := make([]feedDiagnosis, 0, len(store.ListFeeds()))
	for _, fc := range store.ListFeeds() {
		diagnoses = append(diagnoses, feedDiagnosis{
			ID:         fc.ID,
			Title:      fc.Title,
			URL:        feed.MaskFeedURL(feed.BuildFeedURL(cfg.BaseURL, fc)),
			Calendars:  fc.Calendars,
			PastDays:   fc.PastDays,
			FutureDays: fc.FutureDays,
			HasRewrite: fc.TitleRegex != "",
			HasFilter:  fc.FilterRegex != "",
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(diagnoses); err != nil {
		return fmt.Errorf("failed to encode diagnosis: %w", err)
	}

	slog.Info("configuration valid",
		slog.Int("calendar_count", len(store.Calendars())),
		slog.Int("feed_count", len(diagnoses)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
