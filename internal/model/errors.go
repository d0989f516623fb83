package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string   // エラーコード
	Message  string   // エラーメッセージ
	Category string   // カテゴリ: validation, abuse, challenge, system
	Action   string   // ユーザー向け対処方法
	Errors   []string // 外部サービスから返された詳細コード（チャレンジ失敗時のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeEmptyContent         = "EMPTY_CONTENT"
	ErrCodeMessageTooLong       = "MESSAGE_TOO_LONG"
	ErrCodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	ErrCodeInvalidID            = "INVALID_ID"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeBlocked              = "BLOCKED"
	ErrCodeMissingToken         = "MISSING_TOKEN"
	ErrCodeChallengeFailed      = "CHALLENGE_FAILED"
	ErrCodeVerificationError    = "VERIFICATION_ERROR"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInternal             = "INTERNAL_ERROR"
	ErrCodeRateLimited          = "RATE_LIMITED"
)

// NewEmptyContentError は本文が空の場合のエラーを生成する。
func NewEmptyContentError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyContent,
		Message:  "本文が空です。",
		Category: "validation",
		Action:   "投稿内容を入力してください。",
	}
}

// NewMessageTooLongError は本文が上限文字数を超えた場合のエラーを生成する。
func NewMessageTooLongError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeMessageTooLong,
		Message:  fmt.Sprintf("本文が長すぎます（上限%d文字）。", max),
		Category: "validation",
		Action:   "本文を短くしてから再度投稿してください。",
	}
}

// NewUnsupportedMediaTypeError は許可されていないファイル形式のエラーを生成する。
func NewUnsupportedMediaTypeError(declaredType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedMediaType,
		Message:  fmt.Sprintf("対応していないファイル形式です: %s", declaredType),
		Category: "validation",
		Action:   "JPEG、PNG、GIF、WEBPのいずれかの画像を添付してください。",
	}
}

// NewPayloadTooLargeError はファイルサイズ超過のエラーを生成する。
func NewPayloadTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodePayloadTooLarge,
		Message:  fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", maxBytes),
		Category: "validation",
		Action:   "より小さい画像を添付してください。",
	}
}

// NewInvalidIDError は不正な投稿IDのエラーを生成する。
func NewInvalidIDError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidID,
		Message:  fmt.Sprintf("無効な投稿IDです: %s", raw),
		Category: "validation",
		Action:   "投稿IDには正の整数を指定してください。",
	}
}

// NewNotFoundError は投稿が見つからない場合のエラーを生成する。
func NewNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %d", id),
		Category: "validation",
		Action:   "投稿IDを確認してください。",
	}
}

// NewBlockedError はレート制限超過のエラーを生成する。
func NewBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeBlocked,
		Message:  "短時間にリクエストが集中したため、一時的にブロックされました。",
		Category: "abuse",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewMissingTokenError はチャレンジトークン未指定のエラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingToken,
		Message:  "認証トークンが指定されていません。",
		Category: "challenge",
		Action:   "ボット判定を完了してから送信してください。",
	}
}

// NewChallengeFailedError はチャレンジ検証に失敗した場合のエラーを生成する。
// errorCodesには検証サービスが返したエラーコードを格納する。
func NewChallengeFailedError(errorCodes []string) *APIError {
	if errorCodes == nil {
		errorCodes = []string{}
	}
	return &APIError{
		Code:     ErrCodeChallengeFailed,
		Message:  "ボット判定に失敗しました。",
		Category: "challenge",
		Action:   "ページを再読み込みしてもう一度お試しください。",
		Errors:   errorCodes,
	}
}

// NewVerificationError は検証サービスに到達できない場合のエラーを生成する。
func NewVerificationError() *APIError {
	return &APIError{
		Code:     ErrCodeVerificationError,
		Message:  "ボット判定サービスとの通信に失敗しました。",
		Category: "challenge",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストの解析に失敗しました: %s", reason),
		Category: "validation",
		Action:   "正しい形式でリクエストしてください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError は読み取りAPIのレート制限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "指定された時間が経過してから再度お試しください。",
	}
}
