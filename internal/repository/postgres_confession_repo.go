package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/confessional/internal/model"
)

// PostgresConfessionRepo はPostgreSQLを使用した投稿リポジトリ。
// IDはBIGSERIALで採番し、いいね数の増加は行ロックを伴う単一のUPDATEで行う。
type PostgresConfessionRepo struct {
	db *sql.DB
}

// NewPostgresConfessionRepo はPostgresConfessionRepoを生成する。
func NewPostgresConfessionRepo(db *sql.DB) *PostgresConfessionRepo {
	return &PostgresConfessionRepo{db: db}
}

// Append は投稿をINSERTし、採番されたIDを設定する。
func (r *PostgresConfessionRepo) Append(ctx context.Context, c *model.Confession) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO confessions (message, created_at, photo_ref, likes)
		 VALUES ($1, $2, $3, 0)
		 RETURNING id, likes`,
		c.Message, c.CreatedAt.UTC(), nullString(c.PhotoRef),
	).Scan(&c.ID, &c.Likes)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// IncrementLikes はいいね数を1増やす。
// UPDATE ... SET likes = likes + 1 は対象行のみをロックするため、
// 同一投稿への同時実行でも増分が失われない。
func (r *PostgresConfessionRepo) IncrementLikes(ctx context.Context, id int64) (int64, error) {
	var likes int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE confessions SET likes = likes + 1 WHERE id = $1 RETURNING likes`,
		id,
	).Scan(&likes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrConfessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("いいね数の更新に失敗しました: %w", err)
	}
	return likes, nil
}

// List は全投稿をID降順で返す。
func (r *PostgresConfessionRepo) List(ctx context.Context) ([]*model.Confession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+confessionColumns+` FROM confessions ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return scanConfessions(rows)
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresConfessionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
