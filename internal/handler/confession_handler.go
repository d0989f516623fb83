package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/confessional/internal/confession"
	"github.com/hitoshi/confessional/internal/feed"
	"github.com/hitoshi/confessional/internal/middleware"
	"github.com/hitoshi/confessional/internal/model"
	"github.com/hitoshi/confessional/internal/upload"
)

// multipartOverhead は添付画像以外のフィールドとmultipartの境界に許容するバイト数。
const multipartOverhead int64 = 1 << 20

// フォームフィールド名
const (
	fieldMessage        = "message"
	fieldPhoto          = "photo"
	fieldChallengeToken = "cf-turnstile-response"
)

// ConfessionServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type ConfessionServiceInterface interface {
	// Post は投稿を受け付けて永続化する。
	Post(ctx context.Context, in confession.PostInput) (*model.Confession, error)
	// Like はいいね数を1増やして増加後の値を返す。
	Like(ctx context.Context, id int64) (int64, error)
	// List は全投稿を新しい順に返す。
	List(ctx context.Context) ([]*model.Confession, error)
	// Recent は新しい順に最大limit件の投稿を返す。
	Recent(ctx context.Context, limit int) ([]*model.Confession, error)
	// VerifyChallenge はチャレンジトークンを検証する。
	VerifyChallenge(ctx context.Context, token, clientKey string) error
}

// ConfessionHandler は投稿関連のHTTPハンドラー。
type ConfessionHandler struct {
	service       ConfessionServiceInterface
	maxUploadSize int64
	feedInfo      feed.ChannelInfo
}

// NewConfessionHandler はConfessionHandlerを生成する。
// maxUploadSizeが0以下の場合はupload.DefaultMaxSizeを使う。
func NewConfessionHandler(service ConfessionServiceInterface, maxUploadSize int64, feedInfo feed.ChannelInfo) *ConfessionHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = upload.DefaultMaxSize
	}
	return &ConfessionHandler{
		service:       service,
		maxUploadSize: maxUploadSize,
		feedInfo:      feedInfo,
	}
}

// postResponse は投稿成功時のレスポンス。
type postResponse struct {
	Success    bool              `json:"success"`
	Confession *model.Confession `json:"confession"`
}

// likeResponse はいいね成功時のレスポンス。
type likeResponse struct {
	Success bool  `json:"success"`
	Likes   int64 `json:"likes"`
}

// ListConfessions は投稿一覧を新しい順に返す。
// GET /confessions
func (h *ConfessionHandler) ListConfessions(w http.ResponseWriter, r *http.Request) {
	confessions, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if confessions == nil {
		confessions = []*model.Confession{}
	}
	writeJSON(w, http.StatusOK, confessions)
}

// Post は投稿を受け付ける。
// POST /confess
//
// multipart/form-dataのmessageとphoto（任意）を受け取る。
// application/x-www-form-urlencodedの場合は本文のみを受け付ける。
func (h *ConfessionHandler) Post(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)

	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		if isBodyTooLarge(err) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewPayloadTooLargeError(h.maxUploadSize))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("フォームを解析できません"))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	in := confession.PostInput{
		Message:        r.PostFormValue(fieldMessage),
		ChallengeToken: r.PostFormValue(fieldChallengeToken),
		ClientKey:      middleware.ClientKeyFromContext(r.Context()),
	}

	if r.MultipartForm != nil {
		file, header, err := r.FormFile(fieldPhoto)
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("添付ファイルを読み込めません"))
			return
		default:
			defer file.Close()
			in.Photo = &confession.PhotoInput{
				FileMeta: upload.FileMeta{
					DeclaredType: header.Header.Get("Content-Type"),
					Size:         header.Size,
					OriginalName: header.Filename,
				},
				Body: file,
			}
		}
	}

	c, err := h.service.Post(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, postResponse{Success: true, Confession: c})
}

// Like は投稿のいいね数を1増やす。
// POST /confess/{id}/like
func (h *ConfessionHandler) Like(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidIDError(raw))
		return
	}

	likes, err := h.service.Like(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, likeResponse{Success: true, Likes: likes})
}

// RSS は最新の投稿をRSS 2.0で返す。
// GET /confessions.rss
func (h *ConfessionHandler) RSS(w http.ResponseWriter, r *http.Request) {
	confessions, err := h.service.Recent(r.Context(), feed.DefaultItemLimit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	body, err := feed.BuildRSS(h.feedInfo, confessions)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Warn("failed to write rss", slog.String("error", err.Error()))
	}
}

// isBodyTooLarge はリクエストボディの上限超過によるエラーかを判定する。
func isBodyTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr) || errors.Is(err, multipart.ErrMessageTooLarge)
}
