package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/chatroom/internal/model"
	"github.com/hitoshi/chatroom/internal/repository"
)

type mockUserRepo struct {
	setOnlineFn func(ctx context.Context, id string, online bool, at time.Time) error
}

func (m *mockUserRepo) Create(context.Context, *model.User) error { return nil }
func (m *mockUserRepo) FindByID(context.Context, string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) FindByUsername(context.Context, string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) ExistsByUsernameOrEmail(context.Context, string, string) (bool, error) {
	return false, nil
}
func (m *mockUserRepo) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	if m.setOnlineFn != nil {
		return m.setOnlineFn(ctx, id, online, at)
	}
	return nil
}
func (m *mockUserRepo) ResetOnline(context.Context) (int64, error) { return 0, nil }

var _ repository.UserRepository = (*mockUserRepo)(nil)

func TestStore_PersistMessage_AssignsIDAndTimestamp(t *testing.T) {
	var saved *model.Message
	msgs := &mockMessageRepo{
		createFn: func(_ context.Context, msg *model.Message) error {
			saved = msg
			return nil
		},
	}
	store := NewStore(&mockUserRepo{}, &mockRoomRepo{}, msgs)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("JST", 9*60*60))
	store.now = func() time.Time { return fixed }

	msg := &model.Message{RoomID: testRoomID, SenderID: testUserID, Content: "hi"}
	id, err := store.PersistMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("PersistMessage returned error: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("id %q is not a uuid", id)
	}
	if saved == nil || saved.ID != id {
		t.Fatalf("saved message = %+v, want id %s", saved, id)
	}
	if !msg.CreatedAt.Equal(fixed) || msg.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want %v in UTC", msg.CreatedAt, fixed)
	}
	if msg.Type != model.MessageTypeText {
		t.Errorf("Type = %q, want text", msg.Type)
	}
}

func TestStore_PersistMessage_Error(t *testing.T) {
	msgs := &mockMessageRepo{
		createFn: func(context.Context, *model.Message) error { return errors.New("db down") },
	}
	store := NewStore(&mockUserRepo{}, &mockRoomRepo{}, msgs)

	if _, err := store.PersistMessage(context.Background(), &model.Message{}); err == nil {
		t.Error("PersistMessage returned nil error")
	}
}

func TestStore_DelegatesToRepositories(t *testing.T) {
	var onlineCalls []bool
	users := &mockUserRepo{
		setOnlineFn: func(_ context.Context, id string, online bool, _ time.Time) error {
			if id != testUserID {
				t.Errorf("SetOnline id = %q", id)
			}
			onlineCalls = append(onlineCalls, online)
			return nil
		},
	}
	rooms := &mockRoomRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Room, error) {
			return &model.Room{ID: id}, nil
		},
		findByJoinCodeFn: func(_ context.Context, code string) (*model.Room, error) {
			if code == "ABCD1234" {
				return &model.Room{ID: testRoomID, JoinCode: code}, nil
			}
			return nil, nil
		},
		isMemberFn: func(context.Context, string, string) (bool, error) { return true, nil },
	}
	store := NewStore(users, rooms, &mockMessageRepo{})
	ctx := context.Background()

	if r, err := store.FindRoom(ctx, testRoomID); err != nil || r.ID != testRoomID {
		t.Errorf("FindRoom = %+v, %v", r, err)
	}
	if r, err := store.ResolveRoomByCode(ctx, "ABCD1234"); err != nil || r == nil {
		t.Errorf("ResolveRoomByCode = %+v, %v", r, err)
	}
	if r, err := store.ResolveRoomByCode(ctx, "ZZZZ0000"); err != nil || r != nil {
		t.Errorf("ResolveRoomByCode(unknown) = %+v, %v; want nil, nil", r, err)
	}
	if ok, err := store.IsMember(ctx, testRoomID, testUserID); err != nil || !ok {
		t.Errorf("IsMember = %v, %v", ok, err)
	}
	if added, err := store.AddMember(ctx, testRoomID, testUserID, model.RoleMember); err != nil || !added {
		t.Errorf("AddMember = %v, %v", added, err)
	}
	if err := store.SetOnline(ctx, testUserID, true); err != nil {
		t.Errorf("SetOnline returned error: %v", err)
	}
	if err := store.SetOnline(ctx, testUserID, false); err != nil {
		t.Errorf("SetOnline returned error: %v", err)
	}
	if len(onlineCalls) != 2 || !onlineCalls[0] || onlineCalls[1] {
		t.Errorf("SetOnline calls = %v, want [true false]", onlineCalls)
	}
}
