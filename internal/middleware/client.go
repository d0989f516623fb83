// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// clientKeyContextKey はリクエストコンテキストにクライアントキーを格納するためのキー。
var clientKeyContextKey = contextKey("client_key")

// unknownClientKey はアドレスを特定できない場合のクライアントキー。
// 特定できないクライアントはすべて同じキーとして数える。
const unknownClientKey = "unknown"

// NewClientKeyMiddleware はリクエストの送信元アドレスをクライアントキーとして
// リクエストコンテキストに注入するミドルウェアを返す。
//
// trustProxyHeadersがtrueの場合のみCF-Connecting-IPとX-Forwarded-Forを参照する。
// プロキシ配下でない環境でこれらのヘッダーを信頼すると、クライアントが任意のキーを名乗れてしまう。
func NewClientKeyMiddleware(trustProxyHeaders bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r, trustProxyHeaders)
			ctx := context.WithValue(r.Context(), clientKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientKey はリクエストからクライアントキーを導出する。
func ClientKey(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip := parseIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		// 先頭が元のクライアント、以降は経由したプロキシ
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := parseIP(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := parseIP(host); ip != "" {
		return ip
	}
	return unknownClientKey
}

// parseIP は文字列がIPアドレスであれば正規化した表記を返す。
func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

// ClientKeyFromContext はリクエストコンテキストからクライアントキーを取得する。
// ClientKeyミドルウェアを通過していない場合は"unknown"を返す。
func ClientKeyFromContext(ctx context.Context) string {
	key, ok := ctx.Value(clientKeyContextKey).(string)
	if !ok || key == "" {
		return unknownClientKey
	}
	return key
}

// ContextWithClientKey はコンテキストにクライアントキーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyContextKey, key)
}
