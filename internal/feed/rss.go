// Package feed は投稿一覧のRSSフィード生成を提供する。
package feed

import (
	"fmt"
	"mime"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/feeds"
	"github.com/hitoshi/confessional/internal/model"
)

// DefaultItemLimit はRSSに含める投稿数のデフォルト値。
const DefaultItemLimit = 50

// titleMaxRunes はアイテムタイトルに使う本文の最大文字数。
const titleMaxRunes = 40

// ChannelInfo はRSSチャンネルのメタ情報。
type ChannelInfo struct {
	Title       string
	Description string
	// BaseURL は公開URLのベース（例: https://example.com）。リンクとエンクロージャーの絶対URL化に使う。
	BaseURL string
}

// BuildRSS は投稿一覧からRSS 2.0文書を生成する。
// confessionsは新しい順に並んでいること。本文はXMLエスケープされてそのまま出力される。
func BuildRSS(info ChannelInfo, confessions []*model.Confession) ([]byte, error) {
	base := strings.TrimRight(info.BaseURL, "/")

	f := &feeds.Feed{
		Title:       info.Title,
		Link:        &feeds.Link{Href: base + "/"},
		Description: info.Description,
		Items:       make([]*feeds.Item, 0, len(confessions)),
	}
	if len(confessions) > 0 {
		f.Updated = confessions[0].CreatedAt.UTC()
	}

	for _, c := range confessions {
		id := strconv.FormatInt(c.ID, 10)
		item := &feeds.Item{
			Title:       itemTitle(c.Message),
			Link:        &feeds.Link{Href: base + "/confessions#" + id},
			Description: c.Message,
			Id:          "confession-" + id,
			IsPermaLink: "false",
			Created:     c.CreatedAt.UTC(),
		}
		if c.HasPhoto() {
			// サイズは保持していないため0とする。lengthが空だとエンクロージャー自体が出力されない
			item.Enclosure = &feeds.Enclosure{
				Url:    base + c.PhotoRef,
				Length: "0",
				Type:   enclosureType(c.PhotoRef),
			}
		}
		f.Items = append(f.Items, item)
	}

	rss, err := f.ToRss()
	if err != nil {
		return nil, fmt.Errorf("RSSの生成に失敗しました: %w", err)
	}
	return []byte(rss), nil
}

// itemTitle は本文の先頭をタイトルとして切り出す。
func itemTitle(message string) string {
	line, _, _ := strings.Cut(message, "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= titleMaxRunes {
		return line
	}
	runes := []rune(line)
	return string(runes[:titleMaxRunes]) + "…"
}

func enclosureType(ref string) string {
	if t := mime.TypeByExtension(path.Ext(ref)); t != "" {
		return t
	}
	return "application/octet-stream"
}
