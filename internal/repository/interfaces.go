// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/chatroom/internal/model"
)

var (
	// ErrDuplicate は一意制約違反（ユーザー名・メールアドレス・パブリックルーム名）を表す。
	ErrDuplicate = errors.New("duplicate key")
	// ErrJoinCodeTaken は生成した参加コードが既存ルームと衝突したことを表す。
	// 呼び出し側はコードを再生成してリトライする。
	ErrJoinCodeTaken = errors.New("join code already taken")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。ユーザー名かメールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// ExistsByUsernameOrEmail はユーザー名またはメールアドレスが使用済みかを返す。
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)

	// SetOnline はオンラインフラグとlast_seenを更新する。
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error

	// ResetOnline は全ユーザーのオンラインフラグを落とし、更新件数を返す。
	ResetOnline(ctx context.Context) (int64, error)
}

// RoomRepository はルームとメンバーシップの永続化インターフェース。
type RoomRepository interface {
	// CreateWithOwner はルームと作成者のadminメンバーシップを同一トランザクションで作成する。
	// パブリックルーム名の重複はErrDuplicate、参加コードの衝突はErrJoinCodeTakenを返す。
	CreateWithOwner(ctx context.Context, room *model.Room) error

	// FindByID は指定IDのアクティブなルームを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Room, error)

	// FindByJoinCode は参加コードでアクティブなプライベートルームを取得する。見つからない場合はnilを返す。
	FindByJoinCode(ctx context.Context, code string) (*model.Room, error)

	// FindPublicByName は名前でパブリックルームを取得する。見つからない場合はnilを返す。
	FindPublicByName(ctx context.Context, name string) (*model.Room, error)

	// ListPublic はアクティブなパブリックルームをメンバー数付きで返す。
	ListPublic(ctx context.Context) ([]*model.Room, error)

	// ListPrivateByMember は指定ユーザーがメンバーのプライベートルームを返す。
	ListPrivateByMember(ctx context.Context, userID string) ([]*model.Room, error)

	// IsMember は指定ユーザーがルームのメンバーかを返す。
	IsMember(ctx context.Context, roomID, userID string) (bool, error)

	// AddMember はメンバーシップを冪等に追加する。新規に追加された場合trueを返す。
	AddMember(ctx context.Context, roomID, userID string, role model.MemberRole) (bool, error)
}

// MessageRepository はメッセージの永続化インターフェース。
type MessageRepository interface {
	// Create はメッセージを保存する。IDとCreatedAtは呼び出し側で設定する。
	Create(ctx context.Context, msg *model.Message) error

	// ListByRoom はルームの削除されていないメッセージを新しい順にoffsetからlimit件取得し、
	// 時系列順（古い順）に並べ替えて返す。
	ListByRoom(ctx context.Context, roomID string, offset, limit int) ([]model.MessageWithSender, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
