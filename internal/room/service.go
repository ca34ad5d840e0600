// Package room はルームの作成・一覧・参加コードによる参加・メッセージ履歴取得のドメインロジックを提供する。
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/chatroom/internal/model"
	"github.com/hitoshi/chatroom/internal/repository"
	"github.com/hitoshi/chatroom/internal/security"
)

const (
	// maxCodeAttempts は参加コード衝突時の再生成回数の上限。
	maxCodeAttempts = 5

	defaultPageSize      = 50
	maxPageSize          = 100
	maxDescriptionLength = 500
)

// Config はルームサービスの設定。
type Config struct {
	MaxRoomNameLength int
}

// CreateInput はルーム作成の入力。
type CreateInput struct {
	Name        string
	Description string
	Type        model.RoomType // 空の場合はpublic
	MaxMembers  *int
}

// JoinResult は参加コードによる参加の結果。
type JoinResult struct {
	Room          *model.Room
	AlreadyMember bool
}

// Service はルーム管理のサービス層。
type Service struct {
	rooms     repository.RoomRepository
	messages  repository.MessageRepository
	sanitizer security.ContentSanitizer
	codes     CodeGenerator
	config    Config
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	sanitizer security.ContentSanitizer,
	codes CodeGenerator,
	config Config,
) *Service {
	return &Service{
		rooms:     rooms,
		messages:  messages,
		sanitizer: sanitizer,
		codes:     codes,
		config:    config,
		now:       time.Now,
	}
}

// ListAll はパブリックルームと、ユーザーがメンバーのプライベートルームを返す。
func (s *Service) ListAll(ctx context.Context, userID string) ([]*model.Room, error) {
	public, err := s.ListPublic(ctx)
	if err != nil {
		return nil, err
	}
	private, err := s.ListPrivate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(public, private...), nil
}

// ListPublic はアクティブなパブリックルームを返す。
func (s *Service) ListPublic(ctx context.Context) ([]*model.Room, error) {
	rooms, err := s.rooms.ListPublic(ctx)
	if err != nil {
		return nil, fmt.Errorf("パブリックルーム一覧の取得に失敗しました: %w", err)
	}
	return rooms, nil
}

// ListPrivate はユーザーがメンバーのプライベートルームを返す。
func (s *Service) ListPrivate(ctx context.Context, userID string) ([]*model.Room, error) {
	rooms, err := s.rooms.ListPrivateByMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プライベートルーム一覧の取得に失敗しました: %w", err)
	}
	return rooms, nil
}

// Create はルームを作成し、作成者をadminとして登録する。
// プライベートルームには一意な参加コードを割り当てる。
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*model.Room, error) {
	name := s.sanitizer.Sanitize(strings.TrimSpace(in.Name))
	description := s.sanitizer.Sanitize(strings.TrimSpace(in.Description))

	if name == "" {
		return nil, model.NewValidationError("ルーム名は必須です")
	}
	if utf8.RuneCountInString(name) > s.config.MaxRoomNameLength {
		return nil, model.NewValidationError(fmt.Sprintf("ルーム名は%d文字以内で指定してください", s.config.MaxRoomNameLength))
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, model.NewValidationError(fmt.Sprintf("説明は%d文字以内で指定してください", maxDescriptionLength))
	}

	roomType := in.Type
	if roomType == "" {
		roomType = model.RoomTypePublic
	}
	if roomType != model.RoomTypePublic && roomType != model.RoomTypePrivate {
		return nil, model.NewValidationError("ルーム種別はpublicまたはprivateを指定してください")
	}
	if in.MaxMembers != nil && *in.MaxMembers < 1 {
		return nil, model.NewValidationError("最大メンバー数は1以上を指定してください")
	}

	if roomType == model.RoomTypePublic {
		existing, err := s.rooms.FindPublicByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("ルーム名の重複確認に失敗しました: %w", err)
		}
		if existing != nil {
			return nil, model.NewDuplicateRoomNameError(name)
		}
	}

	now := s.now()
	room := &model.Room{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Type:        roomType,
		OwnerID:     ownerID,
		MaxMembers:  in.MaxMembers,
		IsActive:    true,
		MemberCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for attempt := 1; ; attempt++ {
		if room.IsPrivate() {
			room.JoinCode = s.codes()
		}

		err := s.rooms.CreateWithOwner(ctx, room)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, model.NewDuplicateRoomNameError(name)
		case errors.Is(err, repository.ErrJoinCodeTaken) && attempt < maxCodeAttempts:
			slog.Warn("join code collision, regenerating",
				slog.Int("attempt", attempt),
			)
			continue
		default:
			return nil, fmt.Errorf("ルームの作成に失敗しました: %w", err)
		}
	}

	slog.Info("room created",
		slog.String("room_id", room.ID),
		slog.String("owner_id", ownerID),
		slog.String("type", string(room.Type)),
	)
	return room, nil
}

// JoinByCode は参加コードでプライベートルームに参加する。
// コードは大文字に正規化する。既にメンバーの場合もエラーにはしない。
func (s *Service) JoinByCode(ctx context.Context, userID, code string) (*JoinResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, model.NewValidationError("参加コードは必須です")
	}
	if utf8.RuneCountInString(code) != model.JoinCodeLength {
		return nil, model.NewValidationError(fmt.Sprintf("参加コードは%d文字です", model.JoinCodeLength))
	}

	room, err := s.rooms.FindByJoinCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("ルームの取得に失敗しました: %w", err)
	}
	if room == nil {
		return nil, model.NewInvalidRoomCodeError()
	}

	added, err := s.rooms.AddMember(ctx, room.ID, userID, model.RoleMember)
	if err != nil {
		return nil, fmt.Errorf("メンバーの追加に失敗しました: %w", err)
	}
	return &JoinResult{Room: room, AlreadyMember: !added}, nil
}

// Messages はルームのメッセージを時系列順に1ページ分返す。pageは1始まり。
// プライベートルームはメンバーのみ閲覧できる。
func (s *Service) Messages(ctx context.Context, userID, roomID string, page, limit int) ([]model.MessageWithSender, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return nil, model.NewValidationError("ルームIDの形式が不正です")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("ルームの取得に失敗しました: %w", err)
	}
	if room == nil {
		return nil, model.NewRoomNotFoundError(roomID)
	}
	if room.IsPrivate() {
		member, err := s.rooms.IsMember(ctx, roomID, userID)
		if err != nil {
			return nil, fmt.Errorf("メンバーシップの確認に失敗しました: %w", err)
		}
		if !member {
			return nil, model.NewAccessDeniedError()
		}
	}

	msgs, err := s.messages.ListByRoom(ctx, roomID, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}
	return msgs, nil
}
