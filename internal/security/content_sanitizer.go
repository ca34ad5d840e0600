// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer はルーム名と説明からマークアップを除去する。
// チャットのメッセージ本文は対象外で、トリムのみで保存、配信される。bluemondayのStrictPolicyで全タグを取り除き、
// 結果はプレーンテキストとして扱う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はユーザー投稿テキストのサニタイズ機能のインターフェースを定義する。
// ルーム作成時に使用される。
type ContentSanitizer interface {
	// Sanitize はテキストから全てのHTMLタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// script, styleタグは中身ごと除去される。
	// 空文字列の入力には空文字列を返す。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので複数のgoroutineから共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerの新しいインスタンスを生成する。
func NewContentSanitizer() ContentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はテキストからマークアップを除去する。
// StrictPolicyはテキスト中の記号をエンティティ化するため、最後にアンエスケープして
// 「a < b」のような本文を元の表記に戻す。
func (s *contentSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
