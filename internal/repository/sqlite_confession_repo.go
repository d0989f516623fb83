package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/confessional/internal/model"
)

// SQLiteConfessionRepo はSQLiteを使用した投稿リポジトリ。
// IDはINTEGER PRIMARY KEY AUTOINCREMENTで採番するため、削除があっても再利用されない。
type SQLiteConfessionRepo struct {
	db *sql.DB
}

// NewSQLiteConfessionRepo はSQLiteConfessionRepoを生成する。
// dbはdatabase.OpenSQLiteで開いた接続を渡すこと。
func NewSQLiteConfessionRepo(db *sql.DB) *SQLiteConfessionRepo {
	return &SQLiteConfessionRepo{db: db}
}

// Append は投稿をINSERTし、採番されたIDを設定する。
func (r *SQLiteConfessionRepo) Append(ctx context.Context, c *model.Confession) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO confessions (message, created_at, photo_ref, likes)
		 VALUES (?, ?, ?, 0)
		 RETURNING id, likes`,
		c.Message, c.CreatedAt.UTC(), nullString(c.PhotoRef),
	).Scan(&c.ID, &c.Likes)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// IncrementLikes はいいね数を1増やす。
// SQLiteは書き込みをデータベース単位で直列化するため、増分が失われることはない。
func (r *SQLiteConfessionRepo) IncrementLikes(ctx context.Context, id int64) (int64, error) {
	var likes int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE confessions SET likes = likes + 1 WHERE id = ? RETURNING likes`,
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
func (r *SQLiteConfessionRepo) List(ctx context.Context) ([]*model.Confession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+confessionColumns+` FROM confessions ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return scanConfessions(rows)
}

// Ping はデータベースへの疎通を確認する。
func (r *SQLiteConfessionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
