package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/confessional/internal/middleware"
	"github.com/hitoshi/confessional/internal/model"
	"github.com/hitoshi/confessional/internal/validation"
)

// maxVerifyBodySize はチャレンジ検証リクエストのボディ上限。
const maxVerifyBodySize int64 = 8 << 10

// verifyRequest はチャレンジ検証リクエストのボディ。
// Turnstileのトークンは最大2048文字。
type verifyRequest struct {
	Token string `json:"token" validate:"required,max=2048"`
}

// successResponse は本文のない成功レスポンス。
type successResponse struct {
	Success bool `json:"success"`
}

// VerifyTurnstile はクライアントから受け取ったチャレンジトークンを検証する。
// POST /verify-turnstile
func (h *ConfessionHandler) VerifyTurnstile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVerifyBodySize)

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONを解析できません"))
		return
	}

	if err := validation.Get().Struct(req); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) && verr.Has("token", "required") {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingTokenError())
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
		return
	}

	clientKey := middleware.ClientKeyFromContext(r.Context())
	if err := h.service.VerifyChallenge(r.Context(), req.Token, clientKey); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
