// Package model はドメインモデルを定義する。
package model

import "time"

// User はチャットを利用するユーザーを表す。
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	DisplayName  string
	AvatarURL    string
	IsOnline     bool // プレゼンスのベストエフォートなミラー。正はメモリ上のPresenceTracker
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
