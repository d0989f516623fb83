package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
)

// setTestEnv はテスト用の環境変数を設定する。データはすべてt.TempDir配下に置く。
func setTestEnv(t *testing.T, driver string) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("TURNSTILE_SECRET_KEY", "test-secret")
	t.Setenv("STORE_DRIVER", driver)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "db", "confessional.db"))
	t.Setenv("DATA_FILE", filepath.Join(dir, "data", "confessions.json"))
	t.Setenv("UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("ABUSE_LOG_PATH", filepath.Join(dir, "log", "abuse.log"))
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("LOG_LEVEL", "")
	return dir
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	setTestEnv(t, "file")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.StoreDriver != "file" {
		t.Errorf("StoreDriver = %q, want %q", cfg.StoreDriver, "file")
	}

	// Verify that slog global logger is configured for JSON output
	slog.Default().Info("init test")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	setTestEnv(t, "file")
	t.Setenv("LOG_LEVEL", "error")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Warn("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("WARN should be filtered at error level, got %s", buf.String())
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	setTestEnv(t, "file")
	t.Setenv("TURNSTILE_SECRET_KEY", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"パスワードを伏せる", "postgres://user:secret@db:5432/confessional?sslmode=disable", "postgres://user:xxxxx@db:5432/confessional?sslmode=disable"},
		{"認証情報なし", "postgres://db:5432/confessional", "postgres://db:5432/confessional"},
		{"URLでない", "host=db password=secret", "***"},
		{"空", "", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskDatabaseURL(tt.in); got != tt.want {
				t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
