// Package repository はデータ永続化のインターフェースと実装を定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/confessional/internal/model"
)

// ErrConfessionNotFound は指定IDの投稿が存在しない場合に返される。
var ErrConfessionNotFound = errors.New("confession not found")

// ConfessionRepository は投稿データの永続化インターフェース。
// 投稿コレクションを排他的に所有し、すべての変更はこのインターフェースの操作を通して行う。
type ConfessionRepository interface {
	// Append は投稿を永続化し、新しいIDを割り当てる。
	// 成功時にはc.IDとc.Likes(=0)が設定されている。
	// 永続化が完了するまで成功を返さない。
	Append(ctx context.Context, c *model.Confession) error

	// IncrementLikes は指定IDの投稿のいいね数を原子的に1増やし、増加後の値を返す。
	// 投稿が存在しない場合はErrConfessionNotFoundを返し、状態を変更しない。
	IncrementLikes(ctx context.Context, id int64) (int64, error)

	// List は全投稿を新しい順（ID降順）で返す。
	// 返却値は呼び出し側が自由に変更してよいスナップショット。
	List(ctx context.Context) ([]*model.Confession, error)

	// Ping はストレージへの疎通を確認する。ヘルスチェック用。
	Ping(ctx context.Context) error
}
