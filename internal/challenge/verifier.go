// Package challenge は外部のボット判定サービス（Cloudflare Turnstile）による
// チャレンジトークンの検証を提供する。
//
// 検証は常にフェイルクローズで扱う。通信エラーやタイムアウトを成功とみなすことはない。
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/confessional/internal/model"
)

const (
	// DefaultEndpoint はTurnstileの検証APIのエンドポイント。
	DefaultEndpoint = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	// DefaultTimeout は検証APIの呼び出しタイムアウト。
	DefaultTimeout = 5 * time.Second
	// maxResponseSize は検証APIのレスポンスとして読み込む最大バイト数。
	maxResponseSize = 64 << 10
)

// Verifier はチャレンジトークン検証のインターフェース。
// 検証失敗は*model.APIError（MISSING_TOKEN, CHALLENGE_FAILED, VERIFICATION_ERROR）として返す。
type Verifier interface {
	Verify(ctx context.Context, token, clientKey string) error
}

// Config はTurnstileVerifierの設定。
type Config struct {
	Secret   string
	Endpoint string
	Timeout  time.Duration
}

// siteverifyResponse は検証APIのレスポンス。
type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

// TurnstileVerifier はTurnstileの検証APIを呼び出すVerifierの実装。
type TurnstileVerifier struct {
	httpClient *http.Client
	logger     *slog.Logger
	secret     string
	endpoint   string
	timeout    time.Duration
}

// NewTurnstileVerifier はTurnstileVerifierを生成する。
// httpClientには本番ではsecurity.NewOutboundClientで生成したクライアントを渡す。
func NewTurnstileVerifier(httpClient *http.Client, logger *slog.Logger, cfg Config) *TurnstileVerifier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &TurnstileVerifier{
		httpClient: httpClient,
		logger:     logger,
		secret:     cfg.Secret,
		endpoint:   cfg.Endpoint,
		timeout:    cfg.Timeout,
	}
}

// Verify はトークンを検証する。
//   - トークンが空: 外部呼び出しを行わずMISSING_TOKENを返す
//   - success=false: CHALLENGE_FAILED（検証APIのエラーコード付き）
//   - 通信エラー、タイムアウト、不正なレスポンス: VERIFICATION_ERROR
func (v *TurnstileVerifier) Verify(ctx context.Context, token, clientKey string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.NewMissingTokenError()
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if clientKey != "" {
		form.Set("remoteip", clientKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		v.logger.Error("検証リクエストの作成に失敗しました", slog.String("error", err.Error()))
		return model.NewVerificationError()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Error("検証APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
		)
		return model.NewVerificationError()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		v.logger.Error("検証APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return model.NewVerificationError()
	}

	result, err := decodeResponse(resp.Body)
	if err != nil {
		v.logger.Error("検証APIのレスポンスのパースに失敗しました", slog.String("error", err.Error()))
		return model.NewVerificationError()
	}

	if !result.Success {
		v.logger.Info("チャレンジ検証に失敗しました",
			slog.String("client", clientKey),
			slog.Any("error_codes", result.ErrorCodes),
		)
		return model.NewChallengeFailedError(result.ErrorCodes)
	}

	return nil
}

func decodeResponse(body io.Reader) (*siteverifyResponse, error) {
	var result siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(body, maxResponseSize)).Decode(&result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return &result, nil
}
