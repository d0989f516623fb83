package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/confessional/internal/abuse"
	"github.com/hitoshi/confessional/internal/feed"
	"github.com/hitoshi/confessional/internal/metrics"
	"github.com/hitoshi/confessional/internal/middleware"
	"github.com/hitoshi/confessional/internal/upload"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	TrustProxyHeaders bool
	Logger            *slog.Logger
	RateLimiter       *middleware.RateLimiter

	// 濫用対策
	AbuseGate middleware.AbuseAdmitter
	AuditLog  abuse.Auditor

	// メトリクス
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// 投稿
	ConfessionService ConfessionServiceInterface
	HealthChecker     HealthChecker
	MaxUploadSize     int64
	FeedInfo          feed.ChannelInfo

	// UploadDir が空の場合は/uploadsを公開しない
	UploadDir string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	ClientKey → Metrics → Logging → Recovery → SecurityHeaders → CORS
//
// 読み取りAPI（一覧・RSS）にはトークンバケットのレート制限を、
// 書き込みAPI（投稿・いいね・チャレンジ検証）には操作ごとの濫用ゲートを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// ClientKeyを最上位に置き、ログとレート制限が同じキーを参照できるようにする
	r.Use(middleware.NewClientKeyMiddleware(deps.TrustProxyHeaders))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(upload.DefaultPublicPath))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	h := NewConfessionHandler(deps.ConfessionService, deps.MaxUploadSize, deps.FeedInfo)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 読み取りAPI ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Get("/confessions", h.ListConfessions)
		r.Get("/confessions.rss", h.RSS)

		if deps.UploadDir != "" {
			r.Handle(upload.DefaultPublicPath+"/*", NewUploadsHandler(deps.UploadDir, upload.DefaultPublicPath))
		}
	})

	// --- 書き込みAPI ---
	gate := func(scope string) func(http.Handler) http.Handler {
		if deps.AbuseGate == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return middleware.NewAbuseGateMiddleware(deps.AbuseGate, scope, deps.AuditLog, collector)
	}

	r.With(gate(abuse.ScopeConfess)).Post("/confess", h.Post)
	r.With(gate(abuse.ScopeLike)).Post("/confess/{id}/like", h.Like)
	r.With(gate(abuse.ScopeVerify)).Post("/verify-turnstile", h.VerifyTurnstile)

	return r
}
