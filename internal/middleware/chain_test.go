package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockHTTPRecorder struct {
	mu        sync.Mutex
	statuses  []int
	latencies []time.Duration
}

func (m *mockHTTPRecorder) RecordHTTPStatus(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statusCode)
}

func (m *mockHTTPRecorder) RecordRequestLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, d)
}

// TestRecoveryMiddleware_ReturnsUnifiedError はpanic時に統一フォーマットの500が返ることを検証する。
func TestRecoveryMiddleware_ReturnsUnifiedError(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodPost, "/confess", nil)
	req = req.WithContext(ContextWithClientKey(req.Context(), "198.51.100.7"))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}

	logged := logBuf.String()
	for _, want := range []string{`"panic":"boom"`, `"client":"198.51.100.7"`, `"stack"`} {
		if !strings.Contains(logged, want) {
			t.Errorf("log should contain %s, got %s", want, logged)
		}
	}
}

func TestRecoveryMiddleware_ResponseAlreadyStarted(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<rss>"))
		panic("mid-stream")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/confessions.rss", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (already sent)", w.Code, http.StatusOK)
	}
	if got := w.Body.String(); got != "<rss>" {
		t.Errorf("body = %q, want only the partial response", got)
	}
}

func TestRecoveryMiddleware_PropagatesAbortHandler(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", v)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

// TestSecurityHeadersMiddleware_SetsHeaders はセキュリティヘッダーが付与されることを検証する。
func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	handler := NewSecurityHeadersMiddleware("/uploads")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		path     string
		wantCORP string
	}{
		{"APIはsame-origin", "/confessions", "same-origin"},
		{"アップロード画像はcross-origin", "/uploads/1-1.png", "cross-origin"},
		{"接頭辞だけ一致するパスはsame-origin", "/uploadsx/1.png", "same-origin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			for _, kv := range securityHeaders {
				if got := w.Header().Get(kv[0]); got != kv[1] {
					t.Errorf("%s = %q, want %q", kv[0], got, kv[1])
				}
			}
			if got := w.Header().Get("Cross-Origin-Resource-Policy"); got != tt.wantCORP {
				t.Errorf("Cross-Origin-Resource-Policy = %q, want %q", got, tt.wantCORP)
			}
		})
	}
	if got := securityHeaders[4][1]; !strings.Contains(got, "default-src 'none'") {
		t.Errorf("CSP = %q, should deny by default", got)
	}
}

// TestMetricsMiddleware_RecordsStatusAndLatency はステータスとレイテンシが記録されることを検証する。
func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	recorder := &mockHTTPRecorder{}

	mux := http.NewServeMux()
	mux.HandleFunc("/created", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/implicit", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler := NewMetricsMiddleware(recorder)(mux)

	for _, path := range []string{"/created", "/implicit", "/missing"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	want := []int{http.StatusCreated, http.StatusOK, http.StatusNotFound}
	if len(recorder.statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", recorder.statuses, want)
	}
	for i := range want {
		if recorder.statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %d, want %d", i, recorder.statuses[i], want[i])
		}
	}
	if len(recorder.latencies) != 3 {
		t.Errorf("latencies = %d, want 3", len(recorder.latencies))
	}
}

// TestMiddlewareChain_PanicIsLoggedAndCounted はRecoveryの外側のミドルウェアが500を観測することを検証する。
func TestMiddlewareChain_PanicIsLoggedAndCounted(t *testing.T) {
	recorder := &mockHTTPRecorder{}

	// Metrics -> Recovery -> Handler
	handler := NewMetricsMiddleware(recorder)(NewRecoveryMiddleware(slog.New(slog.NewJSONHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected")
	})))

	req := httptest.NewRequest(http.MethodGet, "/confessions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if len(recorder.statuses) != 1 || recorder.statuses[0] != http.StatusInternalServerError {
		t.Errorf("statuses = %v, want [500]", recorder.statuses)
	}
}
