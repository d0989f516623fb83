package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/confessional/internal/middleware"
	"github.com/hitoshi/confessional/internal/model"
)

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		if statusCode == http.StatusInternalServerError {
			slog.Error("service error", slog.String("code", apiErr.Code), slog.String("error", err.Error()))
		}
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeEmptyContent,
		model.ErrCodeMessageTooLong,
		model.ErrCodeInvalidID,
		model.ErrCodeInvalidRequest,
		model.ErrCodeMissingToken:
		return http.StatusBadRequest
	case model.ErrCodeUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case model.ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeBlocked, model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeChallengeFailed:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
