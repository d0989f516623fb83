// Package confession は投稿の受付・いいね・一覧取得のドメインロジックを提供する。
package confession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/confessional/internal/challenge"
	"github.com/hitoshi/confessional/internal/metrics"
	"github.com/hitoshi/confessional/internal/model"
	"github.com/hitoshi/confessional/internal/repository"
	"github.com/hitoshi/confessional/internal/security"
	"github.com/hitoshi/confessional/internal/upload"
)

// DefaultMaxMessageLength は本文の最大文字数（rune数）のデフォルト値。
const DefaultMaxMessageLength = 2000

// PhotoInput は添付画像のメタ情報と本体。
type PhotoInput struct {
	upload.FileMeta
	Body io.Reader
}

// PostInput は投稿リクエストの入力。
type PostInput struct {
	Message        string
	ChallengeToken string
	ClientKey      string
	Photo          *PhotoInput
}

// Options はServiceの動作設定。
type Options struct {
	// MaxMessageLength は本文の最大文字数。0以下で無制限。
	MaxMessageLength int
	// RequireChallenge がtrueの場合、投稿時にチャレンジトークンの検証を必須にする。
	RequireChallenge bool
	// Now は投稿時刻の取得に使う。nilの場合はtime.Now。
	Now func() time.Time
}

// Service は投稿受付パイプラインのサービス層。
// サニタイズ、添付検証、画像保存、永続化を順に行う。
type Service struct {
	sanitizer security.MessageSanitizerService
	validator *upload.Validator
	storage   upload.Storage
	repo      repository.ConfessionRepository
	verifier  challenge.Verifier
	metrics   metrics.MetricsCollector

	maxMessageLength int
	requireChallenge bool
	now              func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// verifierはRequireChallengeとVerifyChallengeで使用する。collectorがnilの場合は記録しない。
func NewService(
	sanitizer security.MessageSanitizerService,
	validator *upload.Validator,
	storage upload.Storage,
	repo repository.ConfessionRepository,
	verifier challenge.Verifier,
	collector metrics.MetricsCollector,
	opts Options,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		sanitizer:        sanitizer,
		validator:        validator,
		storage:          storage,
		repo:             repo,
		verifier:         verifier,
		metrics:          collector,
		maxMessageLength: opts.MaxMessageLength,
		requireChallenge: opts.RequireChallenge,
		now:              opts.Now,
	}
}

// Post は投稿を受け付けて永続化する。
//
// 画像は投稿の永続化より先に保存する。永続化に失敗した場合は保存した画像を削除し、
// どの投稿からも参照されない画像を残さない。
func (s *Service) Post(ctx context.Context, in PostInput) (*model.Confession, error) {
	if s.requireChallenge {
		if err := s.VerifyChallenge(ctx, in.ChallengeToken, in.ClientKey); err != nil {
			return nil, s.reject(err)
		}
	}

	message, err := s.sanitizer.Sanitize(in.Message)
	if err != nil {
		return nil, s.reject(err)
	}
	if s.maxMessageLength > 0 && utf8.RuneCountInString(message) > s.maxMessageLength {
		return nil, s.reject(model.NewMessageTooLongError(s.maxMessageLength))
	}

	var ref *upload.StoredRef
	if in.Photo != nil {
		ref, err = s.validator.Validate(&in.Photo.FileMeta)
		if err != nil {
			return nil, s.reject(err)
		}
		if err := s.storage.Save(ctx, ref.Name, in.Photo.Body); err != nil {
			return nil, fmt.Errorf("画像の保存に失敗しました: %w", err)
		}
	}

	c := &model.Confession{
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	if ref != nil {
		c.PhotoRef = ref.URL
	}

	if err := s.repo.Append(ctx, c); err != nil {
		if ref != nil {
			if rmErr := s.storage.Remove(ref.Name); rmErr != nil {
				slog.Error("孤立した画像の削除に失敗",
					slog.String("name", ref.Name),
					slog.String("error", rmErr.Error()),
				)
			}
		}
		return nil, fmt.Errorf("投稿の保存に失敗しました: %w", err)
	}

	s.metrics.RecordConfessionCreated(c.HasPhoto())
	slog.Info("投稿を受け付けました",
		slog.Int64("id", c.ID),
		slog.Bool("photo", c.HasPhoto()),
	)
	return c, nil
}

// Like は指定IDの投稿のいいね数を1増やし、増加後の値を返す。
func (s *Service) Like(ctx context.Context, id int64) (int64, error) {
	if id <= 0 {
		return 0, model.NewInvalidIDError(strconv.FormatInt(id, 10))
	}

	likes, err := s.repo.IncrementLikes(ctx, id)
	if errors.Is(err, repository.ErrConfessionNotFound) {
		return 0, model.NewNotFoundError(id)
	}
	if err != nil {
		return 0, fmt.Errorf("いいねの更新に失敗しました: %w", err)
	}

	s.metrics.RecordLike()
	return likes, nil
}

// List は全投稿を新しい順に返す。
func (s *Service) List(ctx context.Context) ([]*model.Confession, error) {
	confessions, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return confessions, nil
}

// Recent は新しい順に最大limit件の投稿を返す。limitが0以下の場合は全件。
func (s *Service) Recent(ctx context.Context, limit int) ([]*model.Confession, error) {
	confessions, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(confessions) > limit {
		confessions = confessions[:limit]
	}
	return confessions, nil
}

// VerifyChallenge はチャレンジトークンを検証し、結果をメトリクスに記録する。
func (s *Service) VerifyChallenge(ctx context.Context, token, clientKey string) error {
	if s.verifier == nil {
		return model.NewVerificationError()
	}

	err := s.verifier.Verify(ctx, token, clientKey)
	switch {
	case err == nil:
		s.metrics.RecordChallenge(metrics.ChallengeResultPassed)
	case isCode(err, model.ErrCodeVerificationError):
		s.metrics.RecordChallenge(metrics.ChallengeResultError)
	default:
		s.metrics.RecordChallenge(metrics.ChallengeResultFailed)
	}
	return err
}

// Ping はストアの疎通を確認する。
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// reject は検証エラーをエラーコード別に記録してそのまま返す。
func (s *Service) reject(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		s.metrics.RecordConfessionRejected(apiErr.Code)
	}
	return err
}

func isCode(err error, code string) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
