// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// StorySanitizer はユーザー投稿の体験談HTMLを許可リスト方式で無害化する。
// 許可するのは段落・改行・リスト・引用・強調・見出し(h3, h4)・httpsリンクのみ。
// 画像、script、iframe、style、on*属性は除去される。
type StorySanitizer struct {
	policy *bluemonday.Policy
}

// NewStorySanitizer はStorySanitizerを生成する。
func NewStorySanitizer() *StorySanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "strong", "em", "h3", "h4",
	)

	// リンクはhttpsの絶対URLのみ。外部サイトは別タブで開く。
	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &StorySanitizer{policy: p}
}

// Sanitize は無害化したHTMLを返す。前後の空白は除去する。
func (s *StorySanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}

// PlainText はタグをすべて除去したテキストを返す。本文が空かどうかの判定に使う。
func (s *StorySanitizer) PlainText(rawHTML string) string {
	return strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(rawHTML))
}
