package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Content-Type"
	corsExposeHeaders = "Retry-After"
	corsMaxAge        = "86400"
)

// NewCORSMiddleware はCORSミドルウェアを返す。
// allowedOriginsはカンマ区切りで複数指定でき、"*"は任意のオリジンを許可する。
// リクエストのOriginが許可リストにあればそのまま返し、Originを送らないクライアントには先頭のオリジンを返す。
// 匿名APIのためcredentialsは許可しない。429応答のRetry-Afterをフロントエンドから参照できるよう公開する。
// OPTIONSプリフライトには常に204で応答し、後段のハンドラーを呼ばない。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := origins.match(r.Header.Get("Origin")); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type originList []string

func parseOrigins(s string) originList {
	var list originList
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			list = append(list, o)
		}
	}
	return list
}

// match はAccess-Control-Allow-Originに設定する値を返す。許可しない場合は空文字列。
func (l originList) match(origin string) string {
	if len(l) == 0 {
		return ""
	}
	if origin == "" {
		return l[0]
	}
	for _, o := range l {
		if o == "*" {
			return "*"
		}
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
