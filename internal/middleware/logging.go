package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseRecorder はhttp.ResponseWriterをラップし、ステータスコードと書き込みバイト数を記録する。
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
	started    bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	if rec, ok := w.(*responseRecorder); ok {
		return rec
	}
	return &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.started {
		rr.statusCode = code
		rr.started = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.started = true
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += int64(n)
	return n, err
}

// Unwrap はhttp.ResponseControllerから元のResponseWriterを参照できるようにする。
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// quietPaths は成功時にDebugレベルで記録するパス。コンテナのヘルスチェックでログが埋まらないようにする。
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// NewLoggingMiddleware はリクエストごとにJSON構造化ログを1行出力するミドルウェアを返す。
// method、path、status、bytes、duration_msに加え、ClientKeyミドルウェアを通過していればclientを含む。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newResponseRecorder(w)

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Int64("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
			}
			if key, ok := r.Context().Value(clientKeyContextKey).(string); ok && key != "" {
				attrs = append(attrs, slog.String("client", key))
			}
			if ua := r.UserAgent(); ua != "" {
				attrs = append(attrs, slog.String("user_agent", ua))
			}

			logger.LogAttrs(r.Context(), levelFor(r.URL.Path, rec.statusCode), "http_request", attrs...)
		})
	}
}

func levelFor(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case quietPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
