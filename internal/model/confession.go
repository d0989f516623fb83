// Package model はドメインモデルを定義する。
package model

import "time"

// Confession は匿名投稿（告白）1件を表す。
// 作成後に変更されるのはLikesのみで、それ以外のフィールドはイミュータブルとして扱う。
type Confession struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"` // サニタイズ済みプレーンテキスト
	CreatedAt time.Time `json:"createdAt"`
	PhotoRef  string    `json:"photoRef,omitempty"` // 画像の公開URL。画像なしの場合は空
	Likes     int64     `json:"likes"`
}

// HasPhoto は画像が添付されているかを返す。
func (c *Confession) HasPhoto() bool {
	return c.PhotoRef != ""
}
