package room

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/chatroom/internal/model"
	"github.com/hitoshi/chatroom/internal/realtime"
	"github.com/hitoshi/chatroom/internal/repository"
)

// Store はリポジトリ群をリアルタイム層の永続化インターフェースに適合させる。
// メッセージのIDとタイムスタンプはここで確定する。
type Store struct {
	users    repository.UserRepository
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	now      func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(
	users repository.UserRepository,
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
) *Store {
	return &Store{users: users, rooms: rooms, messages: messages, now: time.Now}
}

// FindRoom はアクティブなルームを返す。
func (s *Store) FindRoom(ctx context.Context, roomID string) (*model.Room, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	return room, nil
}

// ResolveRoomByCode は参加コードに一致するプライベートルームを返す。
func (s *Store) ResolveRoomByCode(ctx context.Context, code string) (*model.Room, error) {
	room, err := s.rooms.FindByJoinCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve join code: %w", err)
	}
	return room, nil
}

// IsMember はユーザーがルームのメンバーかを返す。
func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	ok, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

// AddMember はメンバーシップを冪等に追加する。
func (s *Store) AddMember(ctx context.Context, roomID, userID string, role model.MemberRole) (bool, error) {
	added, err := s.rooms.AddMember(ctx, roomID, userID, role)
	if err != nil {
		return false, fmt.Errorf("failed to add member: %w", err)
	}
	return added, nil
}

// PersistMessage はメッセージにIDとタイムスタンプを割り当てて保存する。
func (s *Store) PersistMessage(ctx context.Context, msg *model.Message) (string, error) {
	msg.ID = uuid.New().String()
	msg.CreatedAt = s.now().UTC()
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to persist message: %w", err)
	}
	return msg.ID, nil
}

// SetOnline はオンラインフラグのミラーを更新する。
func (s *Store) SetOnline(ctx context.Context, userID string, online bool) error {
	if err := s.users.SetOnline(ctx, userID, online, s.now()); err != nil {
		return fmt.Errorf("failed to set online status: %w", err)
	}
	return nil
}

// compile-time interface check
var _ realtime.Store = (*Store)(nil)
