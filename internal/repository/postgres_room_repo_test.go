package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/chatroom/internal/model"
)

func newTestRoom(owner *model.User, name string, roomType model.RoomType, code string) *model.Room {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.Room{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      roomType,
		JoinCode:  code,
		OwnerID:   owner.ID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgresRoomRepo_CreateWithOwner(t *testing.T) {
	db := setupRepoDB(t)
	users := NewPostgresUserRepo(db)
	rooms := NewPostgresRoomRepo(db)
	ctx := context.Background()
	owner := createTestUser(t, users, "owner")

	room := newTestRoom(owner, "General", model.RoomTypePublic, "")
	if err := rooms.CreateWithOwner(ctx, room); err != nil {
		t.Fatalf("CreateWithOwner returned error: %v", err)
	}

	isMember, err := rooms.IsMember(ctx, room.ID, owner.ID)
	if err != nil {
		t.Fatalf("IsMember returned error: %v", err)
	}
	if !isMember {
		t.Error("owner should be a member after creation")
	}

	got, err := rooms.FindByID(ctx, room.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID = %v, %v", got, err)
	}
	if got.JoinCode != "" {
		t.Errorf("public room should have no join code, got %q", got.JoinCode)
	}
	if got.MaxMembers != nil {
		t.Errorf("MaxMembers = %v, want nil", *got.MaxMembers)
	}
}

func TestPostgresRoomRepo_CreateWithOwner_DuplicatePublicName(t *testing.T) {
	db := setupRepoDB(t)
	users := NewPostgresUserRepo(db)
	rooms := NewPostgresRoomRepo(db)
	ctx := context.Background()
	owner := createTestUser(t, users, "owner")

	if err := rooms.CreateWithOwner(ctx, newTestRoom(owner, "General", model.RoomTypePublic, "")); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	err := rooms.CreateWithOwner(ctx, newTestRoom(owner, "General", model.RoomTypePublic, ""))
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	// プライベートルームは同名でも作成できる
	if err := rooms.CreateWithOwner(ctx, newTestRoom(owner, "General", model.RoomTypePrivate, "ABCD1234")); err != nil {
		t.Errorf("private room with same name should be allowed: %v", err)
	}
}

func TestPostgresRoomRepo_CreateWithOwner_JoinCodeCollision(t *testing.T) {
	db := setupRepoDB(t)
	users := NewPostgresUserRepo(db)
	rooms := NewPostgresRoomRepo(db)
	ctx := context.Background()
	owner := createTestUser(t, users, "owner")

	if err := rooms.CreateWithOwner(ctx, newTestRoom(owner, "a", model.RoomTypePrivate, "ABCD1234")); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	err := rooms.CreateWithOwner(ctx, newTestRoom(owner, "b", model.RoomTypePrivate, "ABCD1234"))
	if !errors.Is(err, ErrJoinCodeTaken) {
		t.Errorf("expected ErrJoinCodeTaken, got %v", err)
	}
}

func TestPostgresRoomRepo_FindByJoinCode(t *testing.T) {
	db := setupRepoDB(t)
	users := NewPostgresUserRepo(db)
	rooms := NewPostgresRoomRepo(db)
	ctx := context.Background()
	owner := createTestUser(t, users, "owner")

	room := newTestRoom(owner, "Team", model.RoomTypePrivate, "TEAM0001")
	if err := rooms.CreateWithOwner(ctx, room); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := rooms.FindByJoinCode(ctx, "TEAM0001")
	if err != nil || got == nil || got.ID != room.ID {
		t.Fatalf("FindByJoinCode = %v, %v", got, err)
	}

	got, err = rooms.FindByJoinCode(ctx, "NOPE0000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown code, got %+v", got)
	}
}

func TestPostgresRoomRepo_AddMember_Idempotent(t *testing.T) {
	db := setupRepoDB(t)
	users := NewPostgresUserRepo(db)
	rooms := NewPostgresRoomRepo(db)
	ctx := context.Background()
	owner := createTestUser(t, users, "owner")
	guest := createTestUser(t, users, "guest")

	room := newTestRoom(owner, "Team", model.RoomTypePrivate, "TEAM0001")
	if err := rooms.CreateWithOwner(ctx, room); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	added, err := rooms.AddMember(ctx, room.ID, guest.ID, model.RoleMember)
	if err != nil || !added {
		t.Fatalf("first AddMember = %v, %v; want true, nil", added, err)
	}
	added, err = rooms.AddMember(ctx, room.ID, guest.ID, model.RoleMember)
	if err != nil || added {
		t.Fatalf("second AddMember = %v, %v; want false, nil", added, err)
	}

	private, err := rooms.ListPrivateByMember(ctx, guest.ID)
	if err != nil {
		t.Fatalf("ListPrivateByMember returned error: %v", err)
	}
	if len(private) != 1 || private[0].MemberCount != 2 {
		t.Fatalf("ListPrivateByMember = %+v, want 1 room with 2 members", private)
	}
}

func TestPostgresRoomRepo_ListPublic(t *testing.T) {
	db := setupRepoDB(t)
	users := NewPostgresUserRepo(db)
	rooms := NewPostgresRoomRepo(db)
	ctx := context.Background()
	owner := createTestUser(t, users, "owner")

	for _, r := range []*model.Room{
		newTestRoom(owner, "General", model.RoomTypePublic, ""),
		newTestRoom(owner, "Random", model.RoomTypePublic, ""),
		newTestRoom(owner, "Secret", model.RoomTypePrivate, "SECRET01"),
	} {
		if err := rooms.CreateWithOwner(ctx, r); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	public, err := rooms.ListPublic(ctx)
	if err != nil {
		t.Fatalf("ListPublic returned error: %v", err)
	}
	if len(public) != 2 {
		t.Fatalf("ListPublic returned %d rooms, want 2", len(public))
	}
	for _, r := range public {
		if r.IsPrivate() {
			t.Errorf("private room %q listed as public", r.Name)
		}
		if r.MemberCount != 1 {
			t.Errorf("room %q member count = %d, want 1", r.Name, r.MemberCount)
		}
	}
}
