package abuse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hitoshi/confessional/internal/logger"
)

// Auditor はブロックしたリクエストの監査記録を書き込むインターフェース。
type Auditor interface {
	Record(ctx context.Context, rec *Record)
}

// AuditLog は監査記録を追記専用のJSON Linesとして出力する。
// 書き込みはslogのJSONハンドラーを通すため、並行呼び出しでも行が混ざらない。
type AuditLog struct {
	logger *slog.Logger
	closer io.Closer
}

// NewAuditLog はwに監査記録を出力するAuditLogを生成する。
func NewAuditLog(w io.Writer) *AuditLog {
	return &AuditLog{logger: logger.Setup(w)}
}

// OpenAuditLog はpathのファイルを追記モードで開き、AuditLogを生成する。
// 既存の記録は変更しない。
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &AuditLog{logger: logger.Setup(f), closer: f}, nil
}

// Record は監査記録を1行書き込む。
// 書き込みに失敗した場合はリクエストを止めず、アプリケーションログにエラーを残す。
func (a *AuditLog) Record(ctx context.Context, rec *Record) {
	h := a.logger.Handler()
	if !h.Enabled(ctx, slog.LevelWarn) {
		return
	}

	r := slog.NewRecord(time.Now(), slog.LevelWarn, "abuse_blocked", 0)
	r.AddAttrs(
		slog.String("id", rec.ID),
		slog.Time("timestamp", rec.Timestamp),
		slog.String("client_key", rec.ClientKey),
		slog.String("scope", rec.Scope),
		slog.String("country", rec.Country),
		slog.String("user_agent", rec.UserAgent),
		slog.String("path", rec.Path),
		slog.String("reason", rec.Reason),
		slog.Int("count", rec.Count),
	)
	if err := h.Handle(ctx, r); err != nil {
		slog.ErrorContext(ctx, "監査ログの書き込みに失敗",
			slog.String("id", rec.ID),
			slog.String("scope", rec.Scope),
			slog.String("error", err.Error()),
		)
	}
}

// Close は監査ログファイルを閉じる。
func (a *AuditLog) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
