// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer は匿名投稿の本文からすべてのマークアップを除去し、
// プレーンテキストのみを保存するためのサニタイザー。
// bluemondayのStrictPolicyを使用し、タグと属性を一切通過させない。
package security

import (
	"strings"

	"github.com/hitoshi/confessional/internal/model"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// maxSanitizePasses は除去を繰り返す最大回数。
// タグの除去で前後の文字がつながり新しいタグになる入力（例: "<<b>i>"）でも有限回で終了させる。
const maxSanitizePasses = 4

// MessageSanitizerService は投稿本文のサニタイズ機能のインターフェースを定義する。
type MessageSanitizerService interface {
	// Sanitize は本文からマークアップを除去したプレーンテキストを返す。
	// 前後の空白を除去した結果が空の場合はEMPTY_CONTENTエラーを返す。
	// 長さの上限はここでは検証しない。
	Sanitize(raw string) (string, error)
}

// MessageSanitizer はMessageSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので、1インスタンスを共有して使う。
type MessageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerの新しいインスタンスを生成する。
func NewMessageSanitizer() *MessageSanitizer {
	return &MessageSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は本文からタグと属性を除去する。
//
// bluemondayはテキストをHTMLエスケープして返すため、除去後にエンティティを1回だけデコードして
// 元の文字（&や引用符など）を復元する。デコード後の文字列をHTMLとして読んだときにタグが
// 含まれる場合に限り、もう一度除去する。エンティティ自体は文字として扱うので、
// "&amp;lt;b&amp;gt;" は "&lt;b&gt;" として残り、"&lt;b&gt;" はタグとして除去される。
// タグを構成しない "<" や ">" はそのまま残す。
func (s *MessageSanitizer) Sanitize(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", model.NewEmptyContentError()
	}

	text = html.UnescapeString(s.policy.Sanitize(text))
	for i := 1; containsMarkup(text); i++ {
		if i >= maxSanitizePasses {
			// 打ち切り時はエスケープしたまま返し、タグを残さない
			text = s.policy.Sanitize(text)
			break
		}
		text = html.UnescapeString(s.policy.Sanitize(text))
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", model.NewEmptyContentError()
	}

	return text, nil
}

// containsMarkup はtextをHTMLとしてトークン化したときに、テキスト以外のトークン
// （タグ、コメント、DOCTYPE）が現れるかを返す。
func containsMarkup(text string) bool {
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.TextToken:
			continue
		default:
			return true
		}
	}
}
