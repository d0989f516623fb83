package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestUploadsHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "1-1.png"), []byte("PNGDATA"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	h := NewUploadsHandler(dir, "/uploads")

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"保存済みファイル", "/uploads/1-1.png", http.StatusOK},
		{"存在しないファイル", "/uploads/nope.png", http.StatusNotFound},
		{"ルートディレクトリの一覧", "/uploads/", http.StatusNotFound},
		{"サブディレクトリの一覧", "/uploads/sub/", http.StatusNotFound},
		{"ディレクトリトラバーサル", "/uploads/../../etc/passwd", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && w.Body.String() != "PNGDATA" {
				t.Errorf("body = %q", w.Body.String())
			}
		})
	}
}
