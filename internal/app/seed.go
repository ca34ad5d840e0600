package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/chatroom/internal/model"
	"github.com/hitoshi/chatroom/internal/repository"
	"github.com/hitoshi/chatroom/internal/room"
)

// PasswordHasher はシード用ユーザーのパスワードをハッシュ化する。
type PasswordHasher interface {
	Hash(password string) (string, error)
}

type seedUser struct {
	username    string
	email       string
	password    string
	displayName string
}

type seedRoom struct {
	name        string
	description string
	roomType    model.RoomType
	maxMembers  *int
}

var seedUsers = []seedUser{
	{"admin", "admin@chatapp.com", "admin123", "Administrator"},
	{"john_doe", "john@example.com", "password123", "John Doe"},
	{"jane_smith", "jane@example.com", "password123", "Jane Smith"},
	{"bob_wilson", "bob@example.com", "password123", "Bob Wilson"},
}

var teamMaxMembers = 10

var seedRooms = []seedRoom{
	{"General", "General discussion room for everyone", model.RoomTypePublic, nil},
	{"Technology", "Discuss the latest in technology and programming", model.RoomTypePublic, nil},
	{"Random", "Random conversations and off-topic discussions", model.RoomTypePublic, nil},
	{"Team Private", "Private room for team discussions", model.RoomTypePrivate, &teamMaxMembers},
}

// seedMessages はGeneralルームに投入するメッセージ（送信者のユーザー名と本文）。
var seedMessages = []struct {
	sender  string
	content string
}{
	{"admin", "Welcome to the chat application! Feel free to start conversations here."},
	{"john_doe", "Hello everyone! Great to be here. This chat app looks amazing!"},
	{"admin", "Thanks! The app supports real-time messaging, multiple rooms, and user authentication."},
}

// Seeder はサンプルのユーザー・ルーム・メッセージを投入する。
// 既に存在するユーザーとルームはスキップするため、繰り返し実行できる。
type Seeder struct {
	users    repository.UserRepository
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	hasher   PasswordHasher
	codes    room.CodeGenerator
	now      func() time.Time
}

// NewSeeder はSeederを生成する。
func NewSeeder(
	users repository.UserRepository,
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	hasher PasswordHasher,
	codes room.CodeGenerator,
) *Seeder {
	return &Seeder{
		users:    users,
		rooms:    rooms,
		messages: messages,
		hasher:   hasher,
		codes:    codes,
		now:      time.Now,
	}
}

// Run はユーザー、ルーム、メッセージの順に投入する。
// メッセージはGeneralルームを新規作成した場合のみ投入する。
func (s *Seeder) Run(ctx context.Context) error {
	userIDs, err := s.seedUsers(ctx)
	if err != nil {
		return err
	}

	adminID := userIDs["admin"]
	generalID, created, err := s.seedRooms(ctx, adminID)
	if err != nil {
		return err
	}
	if !created {
		slog.Info("general room already exists, skipping messages")
		return nil
	}
	return s.seedMessages(ctx, generalID, userIDs)
}

func (s *Seeder) seedUsers(ctx context.Context) (map[string]string, error) {
	ids := make(map[string]string, len(seedUsers))
	for _, su := range seedUsers {
		existing, err := s.users.FindByUsername(ctx, su.username)
		if err != nil {
			return nil, fmt.Errorf("failed to find user %s: %w", su.username, err)
		}
		if existing != nil {
			slog.Info("user already exists, skipping", slog.String("username", su.username))
			ids[su.username] = existing.ID
			continue
		}

		hash, err := s.hasher.Hash(su.password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		now := s.now().UTC()
		user := &model.User{
			ID:           uuid.New().String(),
			Username:     su.username,
			Email:        su.email,
			PasswordHash: hash,
			DisplayName:  su.displayName,
			LastSeen:     now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create user %s: %w", su.username, err)
		}
		slog.Info("created user", slog.String("username", su.username), slog.String("user_id", user.ID))
		ids[su.username] = user.ID
	}
	return ids, nil
}

// seedRooms はルームを投入し、GeneralルームのIDと新規作成したかを返す。
func (s *Seeder) seedRooms(ctx context.Context, ownerID string) (string, bool, error) {
	var generalID string
	var generalCreated bool

	for _, sr := range seedRooms {
		existing, err := s.findRoom(ctx, sr, ownerID)
		if err != nil {
			return "", false, err
		}
		if existing != nil {
			slog.Info("room already exists, skipping", slog.String("name", sr.name))
			if sr.name == "General" {
				generalID = existing.ID
			}
			continue
		}

		now := s.now().UTC()
		r := &model.Room{
			ID:          uuid.New().String(),
			Name:        sr.name,
			Description: sr.description,
			Type:        sr.roomType,
			OwnerID:     ownerID,
			MaxMembers:  sr.maxMembers,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if r.IsPrivate() {
			r.JoinCode = s.codes()
		}
		if err := s.rooms.CreateWithOwner(ctx, r); err != nil {
			return "", false, fmt.Errorf("failed to create room %s: %w", sr.name, err)
		}
		slog.Info("created room",
			slog.String("name", r.Name),
			slog.String("room_id", r.ID),
			slog.String("type", string(r.Type)),
		)
		if sr.name == "General" {
			generalID = r.ID
			generalCreated = true
		}
	}
	return generalID, generalCreated, nil
}

// findRoom は同名のルームを探す。プライベートルームは所有者がメンバーのものから探す。
func (s *Seeder) findRoom(ctx context.Context, sr seedRoom, ownerID string) (*model.Room, error) {
	if sr.roomType == model.RoomTypePublic {
		r, err := s.rooms.FindPublicByName(ctx, sr.name)
		if err != nil {
			return nil, fmt.Errorf("failed to find room %s: %w", sr.name, err)
		}
		return r, nil
	}

	private, err := s.rooms.ListPrivateByMember(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list private rooms: %w", err)
	}
	for _, r := range private {
		if r.Name == sr.name {
			return r, nil
		}
	}
	return nil, nil
}

func (s *Seeder) seedMessages(ctx context.Context, roomID string, userIDs map[string]string) error {
	base := s.now().UTC()
	for i, sm := range seedMessages {
		msg := &model.Message{
			ID:       uuid.New().String(),
			RoomID:   roomID,
			SenderID: userIDs[sm.sender],
			Content:  sm.content,
			Type:     model.MessageTypeText,
			// 並び順を保つため1秒ずつずらす
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.messages.Create(ctx, msg); err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
	}
	slog.Info("created messages", slog.Int("count", len(seedMessages)))
	return nil
}
