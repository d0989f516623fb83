package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/confessional/internal/abuse"
	"github.com/hitoshi/confessional/internal/model"
)

// AbuseAdmitter はリクエストの許可判定を行うインターフェース。
// abuse.Gateを抽象化してテスタビリティを向上させる。
type AbuseAdmitter interface {
	Admit(clientKey string, hint abuse.Hint) abuse.Decision
}

// AbuseRecorder はブロック件数を記録するインターフェース。
// metrics.MetricsCollectorの部分集合として定義する。
type AbuseRecorder interface {
	RecordAbuseBlocked(scope string)
}

// NewAbuseGateMiddleware は固定ウィンドウの濫用ゲートを適用するミドルウェアを返す。
// ブロックしたリクエストは監査ログに記録してから429 BLOCKEDで応答する。
// クライアントキーはClientKeyミドルウェアで注入されたものを使う。
func NewAbuseGateMiddleware(gate AbuseAdmitter, scope string, auditor abuse.Auditor, recorder AbuseRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := ClientKeyFromContext(r.Context())

			decision := gate.Admit(clientKey, abuse.Hint{
				Scope:     scope,
				Country:   r.Header.Get("CF-IPCountry"),
				UserAgent: r.UserAgent(),
				Path:      r.URL.Path,
			})
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if decision.Record != nil && auditor != nil {
				auditor.Record(r.Context(), decision.Record)
			}
			if recorder != nil {
				recorder.RecordAbuseBlocked(scope)
			}
			slog.Warn("abuse gate blocked request",
				slog.String("client_key", clientKey),
				slog.String("scope", scope),
				slog.String("path", r.URL.Path),
			)

			WriteTooManyRequests(w, model.NewBlockedError(), decision.RetryAfter)
		})
	}
}
