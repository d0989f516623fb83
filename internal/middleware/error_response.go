package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/confessional/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// Errorsはチャレンジ検証の失敗理由など上流から受け取った詳細コードで、
// nilの場合のみ省略する（空配列はそのまま返す）。
type ErrorResponseBody struct {
	Success  bool     `json:"success"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Category string   `json:"category"`
	Action   string   `json:"action"`
	Errors   []string `json:"errors,omitzero"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	body := ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Errors:   apiErr.Errors,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("エラーレスポンスの書き込みに失敗",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
}

// WriteTooManyRequests は429を書き込む。Retry-Afterには再試行可能になるまでの秒数（切り上げ、最小1秒）を設定する。
func WriteTooManyRequests(w http.ResponseWriter, apiErr *model.APIError, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
	WriteErrorResponse(w, http.StatusTooManyRequests, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

func retryAfterSeconds(d time.Duration) int {
	sec := int(math.Ceil(d.Seconds()))
	if sec < 1 {
		sec = 1
	}
	return sec
}
