// Package model はドメインモデルを定義する。
package model

import "time"

// RoomType はルームの公開種別を表す。
type RoomType string

const (
	// RoomTypePublic は認証済みユーザーなら誰でも参加できるルーム。
	RoomTypePublic RoomType = "public"
	// RoomTypePrivate はメンバーまたは参加コード保持者のみ参加できるルーム。
	RoomTypePrivate RoomType = "private"
)

// MemberRole はルーム内でのメンバーの役割を表す。
type MemberRole string

const (
	// RoleAdmin はルーム作成者に付与される役割。
	RoleAdmin MemberRole = "admin"
	// RoleMember は参加によって付与される役割。
	RoleMember MemberRole = "member"
)

// JoinCodeLength はプライベートルームの参加コードの長さ。
const JoinCodeLength = 8

// Room はチャットルームを表す。
type Room struct {
	ID          string
	Name        string
	Description string
	Type        RoomType
	JoinCode    string // プライベートルームのみ。パブリックルームでは空
	OwnerID     string
	MaxMembers  *int
	IsActive    bool
	MemberCount int // 一覧取得時のみ設定される
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPrivate はルームがプライベートかどうかを返す。
func (r *Room) IsPrivate() bool {
	return r.Type == RoomTypePrivate
}

// RoomMember は永続化されたルームメンバーシップを表す。
// ソケット上の購読（一時的）とは別概念で、明示的な退会まで残る。
type RoomMember struct {
	RoomID   string
	UserID   string
	Role     MemberRole
	JoinedAt time.Time
}
