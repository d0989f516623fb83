// Package abuse はクライアントアドレス単位の固定ウィンドウ型レート制限と、
// 制限超過時の監査記録を提供する。
//
// Gateはレスポンスの整形を行わない。ブロック時に返されるRecordの監査ログへの書き込みと
// 429レスポンスの送出は呼び出し側（middleware.NewAbuseGateMiddleware）の責務とする。
package abuse

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// 制限対象の操作。操作ごとに独立したウィンドウで数える。
const (
	ScopeConfess = "confess"
	ScopeLike    = "like"
	ScopeVerify  = "verify"
)

// Config はGateの設定。
type Config struct {
	Window          time.Duration // 固定ウィンドウの長さ
	Limit           int           // ウィンドウあたりの最大リクエスト数
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultConfig はデフォルトの設定（10秒あたり5リクエスト）を返す。
func DefaultConfig() Config {
	return Config{
		Window:          10 * time.Second,
		Limit:           5,
		CleanupInterval: time.Minute,
	}
}

// Hint はリクエストから得られる補助情報。監査記録にそのまま残す。
type Hint struct {
	Scope     string // 制限対象の操作（confess, like, verify）
	Country   string // CF-IPCountry等の国コードヘッダー
	UserAgent string
	Path      string
}

// Record はブロックしたリクエストの監査記録。
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ClientKey string    `json:"client_key"`
	Scope     string    `json:"scope"`
	Country   string    `json:"country,omitempty"`
	UserAgent string    `json:"user_agent"`
	Path      string    `json:"path"`
	Reason    string    `json:"reason"`
	Count     int       `json:"count"`
}

// Decision はAdmitの判定結果。
type Decision struct {
	Allowed    bool
	Record     *Record       // ブロック時のみ設定される
	RetryAfter time.Duration // ブロック時、現在のウィンドウが終わるまでの時間
}

// window はキーごとのカウンタ。muで増分と境界判定を原子的に行う。
type window struct {
	mu         sync.Mutex
	start      time.Time
	count      int
	lastAccess time.Time
	evicted    bool // cleanupでマップから外された。以後このカウンタで数えてはならない
}

// Gate はキー（スコープ+クライアントアドレス）ごとの固定ウィンドウカウンタを管理する。
type Gate struct {
	config Config
	now    func() time.Time

	mu      sync.RWMutex
	windows map[string]*window

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewGate は新しいGateを生成し、期限切れエントリのクリーンアップを開始する。
func NewGate(config Config) *Gate {
	return newGate(config, time.Now)
}

func newGate(config Config, now func() time.Time) *Gate {
	defaults := DefaultConfig()
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.Limit <= 0 {
		config.Limit = defaults.Limit
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	g := &Gate{
		config:  config,
		now:     now,
		windows: make(map[string]*window),
		stopCh:  make(chan struct{}),
	}

	go g.cleanupLoop()

	return g
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (g *Gate) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

// Config はGateの設定を返す。
func (g *Gate) Config() Config {
	return g.config
}

// Admit はclientKeyのリクエストを1件数え、許可するかを判定する。
// 現在のウィンドウ内でLimitを超えたリクエストはすべてブロックされる。
// ウィンドウの開始からWindowが経過するとカウントは0に戻る。
func (g *Gate) Admit(clientKey string, hint Hint) Decision {
	now := g.now()
	key := hint.Scope + "|" + clientKey

	var count int
	var retryAfter time.Duration
	for {
		var ok bool
		count, retryAfter, ok = g.count(g.getOrCreate(key, now), now)
		if ok {
			break
		}
	}

	if count <= g.config.Limit {
		return Decision{Allowed: true}
	}

	return Decision{
		Allowed:    false,
		RetryAfter: retryAfter,
		Record: &Record{
			ID:        uuid.NewString(),
			Timestamp: now.UTC(),
			ClientKey: clientKey,
			Scope:     hint.Scope,
			Country:   hint.Country,
			UserAgent: hint.UserAgent,
			Path:      hint.Path,
			Reason:    "rate limit exceeded",
			Count:     count,
		},
	}
}

// count はwに1件加算し、加算後の件数とウィンドウ終了までの時間を返す。
// wが既にcleanupで削除されていた場合は数えずにfalseを返すので、呼び出し側はマップから取り直すこと。
func (g *Gate) count(w *window, now time.Time) (int, time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.evicted {
		return 0, 0, false
	}
	if now.Sub(w.start) >= g.config.Window {
		w.start = now
		w.count = 0
	}
	w.count++
	w.lastAccess = now
	return w.count, w.start.Add(g.config.Window).Sub(now), true
}

// KeyCount は現在管理されているキーの数を返す。テストおよびメトリクス用。
func (g *Gate) KeyCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.windows)
}

// getOrCreate はキーのカウンタを取得または作成する。
func (g *Gate) getOrCreate(key string, now time.Time) *window {
	g.mu.RLock()
	w, exists := g.windows[key]
	g.mu.RUnlock()
	if exists {
		return w
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// ダブルチェック
	if w, exists := g.windows[key]; exists {
		return w
	}

	w = &window{start: now, lastAccess: now}
	g.windows[key] = w
	return w
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (g *Gate) cleanupLoop() {
	ticker := time.NewTicker(g.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.cleanup()
		case <-g.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからWindowの2倍以上経過したエントリを削除する。
// 削除時点でウィンドウは既に終了しているため、次のリクエストは新しいウィンドウとして数えられる。
func (g *Gate) cleanup() {
	ttl := g.config.Window * 2
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for key, w := range g.windows {
		w.mu.Lock()
		if now.Sub(w.lastAccess) > ttl {
			w.evicted = true
			delete(g.windows, key)
		}
		w.mu.Unlock()
	}
}
