package repository

import (
	"database/sql"
	"fmt"

	"github.com/hitoshi/confessional/internal/model"
)

// confessionColumns はSELECT対象のカラム。scanConfessionsの順序と一致させること。
const confessionColumns = `id, message, created_at, photo_ref, likes`

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanConfessions はrowsから投稿一覧を読み込む。
func scanConfessions(rows *sql.Rows) ([]*model.Confession, error) {
	defer rows.Close()

	confessions := make([]*model.Confession, 0)
	for rows.Next() {
		c := &model.Confession{}
		var photoRef sql.NullString
		if err := rows.Scan(&c.ID, &c.Message, &c.CreatedAt, &photoRef, &c.Likes); err != nil {
			return nil, fmt.Errorf("投稿の読み込みに失敗しました: %w", err)
		}
		c.PhotoRef = photoRef.String
		c.CreatedAt = c.CreatedAt.UTC()
		confessions = append(confessions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}

	return confessions, nil
}
