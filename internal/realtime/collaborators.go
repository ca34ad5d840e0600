package realtime

import (
	"context"
	"errors"

	"github.com/hitoshi/chatroom/internal/model"
)

// Identity は認証済み接続に紐づくユーザー情報。
type Identity struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// ErrInvalidCredential は資格情報が拒否されたことを表す。
// Verifierはこれ以外のエラーを基盤障害として返す。
var ErrInvalidCredential = errors.New("invalid credential")

// Verifier はauthenticateイベントの資格情報をIdentityに解決する。
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// Store はルーターが利用する永続化層。
// 見つからない場合は(nil, nil)を返す。
type Store interface {
	FindRoom(ctx context.Context, roomID string) (*model.Room, error)
	ResolveRoomByCode(ctx context.Context, code string) (*model.Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	AddMember(ctx context.Context, roomID, userID string, role model.MemberRole) (bool, error)
	PersistMessage(ctx context.Context, msg *model.Message) (string, error)
	SetOnline(ctx context.Context, userID string, online bool) error
}

// MessageLimiter はユーザー単位のメッセージ送信レートを判定する。
type MessageLimiter interface {
	Allow(key string) bool
}
