package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/confessional/internal/abuse"
	"github.com/hitoshi/confessional/internal/challenge"
	"github.com/hitoshi/confessional/internal/confession"
	"github.com/hitoshi/confessional/internal/config"
	"github.com/hitoshi/confessional/internal/feed"
	"github.com/hitoshi/confessional/internal/handler"
	"github.com/hitoshi/confessional/internal/logger"
	"github.com/hitoshi/confessional/internal/metrics"
	"github.com/hitoshi/confessional/internal/middleware"
	"github.com/hitoshi/confessional/internal/security"
	"github.com/hitoshi/confessional/internal/upload"
	"github.com/hitoshi/confessional/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMを受信するとRunContextのコンテキストをキャンセルする。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return RunContext(ctx, w, args)
}

// RunContext はコマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// serveモードはctxがキャンセルされるまでブロックする。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

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
		slog.String("base_url", cfg.BaseURL),
		slog.String("store_driver", cfg.StoreDriver),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// application はserveモードで組み立てた依存関係。
type application struct {
	handler http.Handler
	sweeper *cleanup.OrphanSweeper
	closers []func() error
}

// Close は組み立てた依存関係を逆順に解放する。
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildApplication はストア、濫用ゲート、チャレンジ検証、メトリクスをワイヤリングし、
// ルーターを構築する。
func buildApplication(cfg *config.Config) (app *application, err error) {
	built := &application{}
	defer func() {
		if err != nil {
			built.Close()
		}
	}()

	// 1. ストア
	repo, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	built.closers = append(built.closers, closeStore)

	// 2. 画像の検証と保存
	storage, err := upload.NewDiskStorage(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	uploadValidator := upload.NewValidator(upload.Config{MaxSize: cfg.UploadMaxSize})

	// 3. チャレンジ検証（外部呼び出しはSSRF対策済みクライアントで行う）
	if err := security.ValidateOutboundURL(cfg.TurnstileVerifyURL); err != nil {
		return nil, fmt.Errorf("invalid TURNSTILE_VERIFY_URL: %w", err)
	}
	verifier := challenge.NewTurnstileVerifier(
		security.NewOutboundClient(cfg.TurnstileTimeout),
		slog.Default(),
		challenge.Config{
			Secret:   cfg.TurnstileSecretKey,
			Endpoint: cfg.TurnstileVerifyURL,
			Timeout:  cfg.TurnstileTimeout,
		},
	)

	// 4. 濫用対策
	gate := abuse.NewGate(abuse.Config{Window: cfg.AbuseWindow, Limit: cfg.AbuseLimit})
	built.closers = append(built.closers, func() error { gate.Stop(); return nil })

	auditLog, err := abuse.OpenAuditLog(cfg.AbuseLogPath)
	if err != nil {
		return nil, err
	}
	built.closers = append(built.closers, auditLog.Close)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.ReadRatePerMin))
	built.closers = append(built.closers, func() error { rateLimiter.Stop(); return nil })

	// 5. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 6. ドメインサービス
	service := confession.NewService(
		security.NewMessageSanitizer(),
		uploadValidator,
		storage,
		repo,
		verifier,
		collector,
		confession.Options{
			MaxMessageLength: cfg.MessageMaxLength,
			RequireChallenge: cfg.ChallengeOnPost,
		},
	)

	sweeper := cleanup.NewOrphanSweeper(storage.Dir(), service, slog.Default())
	sweeper.Grace = cfg.UploadOrphanGrace
	built.sweeper = sweeper

	// 7. ルーター
	built.handler = handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Logger:            slog.Default(),
		RateLimiter:       rateLimiter,
		AbuseGate:         gate,
		AuditLog:          auditLog,
		Metrics:           collector,
		MetricsGatherer:   registry,
		ConfessionService: service,
		HealthChecker:     service,
		MaxUploadSize:     cfg.UploadMaxSize,
		FeedInfo: feed.ChannelInfo{
			Title:       "confessional",
			Description: "匿名の告白",
			BaseURL:     cfg.BaseURL,
		},
		UploadDir: storage.Dir(),
	})

	return built, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	app, err := buildApplication(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("failed to release resources", slog.String("error", err.Error()))
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 孤立画像クリーンアップをバックグラウンドで実行
	sweepCtx, stopSweep := context.WithCancel(ctx)
	var sweepDone sync.WaitGroup
	if cfg.UploadSweepInterval > 0 {
		sweepDone.Add(1)
		go func() {
			defer sweepDone.Done()
			app.sweeper.Start(sweepCtx, cfg.UploadSweepInterval)
		}()
	}
	// ストアを閉じる前にクリーンアップを止める
	defer sweepDone.Wait()
	defer stopSweep()

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", ln.Addr().String()),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はストアのスキーママイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if err := migrateStore(cfg); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
