// Package model はドメインモデルを定義する。
package model

import "time"

// MessageType はメッセージ種別。現状はテキストのみ。
type MessageType string

// MessageTypeText はテキストメッセージ。
const MessageTypeText MessageType = "text"

// Message はルームに投稿されたメッセージを表す。
// 永続化後はイミュータブルとして扱う。
type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Content   string
	Type      MessageType
	Edited    bool
	Deleted   bool
	CreatedAt time.Time
}

// MessageWithSender はメッセージと送信者情報を結合したモデル。
// usersテーブルとJOINして取得される。送信者が削除済みの場合Senderはnilとなる。
type MessageWithSender struct {
	Message
	Sender *UserSummary
}

// UserSummary はメッセージやイベントに埋め込む公開用のユーザー情報。
type UserSummary struct {
	ID          string
	Username    string
	DisplayName string
}
