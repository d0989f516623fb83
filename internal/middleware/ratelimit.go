package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/confessional/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	Rate            rate.Limit    // クライアントごとのレート（req/sec）。120/60 = 2 req/sec
	Burst           int           // バーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 読み取りAPI 120 req/min/client。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            rate.Limit(120.0 / 60.0), // 2 req/sec
		Burst:           120,
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimiterConfigPerMinute は1分あたりのリクエスト数からRateLimiterConfigを生成する。
// バーストサイズは1分ぶんとする。
func RateLimiterConfigPerMinute(perMinute int) RateLimiterConfig {
	cfg := DefaultRateLimiterConfig()
	if perMinute > 0 {
		cfg.Rate = rate.Limit(float64(perMinute) / 60.0)
		cfg.Burst = perMinute
	}
	return cfg
}

// clientLimiter はクライアントごとのトークンバケットと最終アクセス時刻（UnixNano）を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64
}

func (cl *clientLimiter) touch(now time.Time) {
	cl.lastAccess.Store(now.UnixNano())
}

// admit はトークンを1つ消費できればtrueを返す。
// 消費できない場合は予約を取り消し、次のトークンが補充されるまでの時間を返す。
func (cl *clientLimiter) admit(now time.Time) (bool, time.Duration) {
	res := cl.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	res.CancelAt(now)
	return false, delay
}

// RateLimiter はクライアントごとのトークンバケット型レート制限を管理する。
// 投稿系の操作は濫用ゲート（固定ウィンドウ）で制限し、こちらは一覧・RSSなど読み取り系に使う。
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.RWMutex
	limiters map[string]*clientLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware はクライアントごとのレート制限ミドルウェアを返す。
// リクエストコンテキストにクライアントキーが含まれている必要がある（ClientKeyミドルウェアの後に配置）。
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := ClientKeyFromContext(r.Context())
			now := time.Now()

			allowed, retryAfter := rl.getOrCreateLimiter(clientKey, now).admit(now)
			if !allowed {
				slog.Warn("rate limit exceeded",
					slog.String("client_key", clientKey),
					slog.String("path", r.URL.Path),
					slog.Duration("retry_after", retryAfter),
				)
				WriteTooManyRequests(w, model.NewRateLimitedError(), retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// getOrCreateLimiter はクライアントのリミッターを取得または作成する。
// 既存エントリの参照は読み取りロックのみで行い、最終アクセス時刻はatomicに更新する。
func (rl *RateLimiter) getOrCreateLimiter(clientKey string, now time.Time) *clientLimiter {
	rl.mu.RLock()
	cl, exists := rl.limiters[clientKey]
	rl.mu.RUnlock()
	if exists {
		cl.touch(now)
		return cl
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, exists := rl.limiters[clientKey]; exists {
		cl.touch(now)
		return cl
	}

	cl = &clientLimiter{limiter: rate.NewLimiter(rl.config.Rate, rl.config.Burst)}
	cl.touch(now)
	rl.limiters[clientKey] = cl
	return cl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			rl.cleanup(now)
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-2 * rl.config.CleanupInterval).UnixNano()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if cl.lastAccess.Load() < cutoff {
			delete(rl.limiters, key)
		}
	}
}
