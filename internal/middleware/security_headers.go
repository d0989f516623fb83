package middleware

import (
	"net/http"
	"strings"
)

// securityHeaders は全レスポンスに付与するヘッダー。
// APIはJSON・RSS・画像のみを返すため、CSPでスクリプトの実行を一切許可しない。
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'"},
}

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// uploadsPrefix配下の画像は別オリジンのフロントエンドから<img>で読み込まれるため
// Cross-Origin-Resource-Policyをcross-originとし、それ以外はsame-originに制限する。
func NewSecurityHeadersMiddleware(uploadsPrefix string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			if uploadsPrefix != "" && strings.HasPrefix(r.URL.Path, uploadsPrefix+"/") {
				h.Set("Cross-Origin-Resource-Policy", "cross-origin")
			} else {
				h.Set("Cross-Origin-Resource-Policy", "same-origin")
			}
			next.ServeHTTP(w, r)
		})
	}
}
