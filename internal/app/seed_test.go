package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/chatroom/internal/model"
	"github.com/hitoshi/chatroom/internal/repository"
)

// --- モック定義 ---

type fakeUsers struct {
	byName    map[string]*model.User
	createErr error
}

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.byName[u.Username] = u
	return nil
}
func (f *fakeUsers) FindByID(context.Context, string) (*model.User, error) { return nil, nil }
func (f *fakeUsers) FindByUsername(_ context.Context, name string) (*model.User, error) {
	return f.byName[name], nil
}
func (f *fakeUsers) ExistsByUsernameOrEmail(context.Context, string, string) (bool, error) {
	return false, nil
}
func (f *fakeUsers) SetOnline(context.Context, string, bool, time.Time) error { return nil }
func (f *fakeUsers) ResetOnline(context.Context) (int64, error)               { return 0, nil }

type fakeRooms struct {
	rooms []*model.Room
}

func (f *fakeRooms) CreateWithOwner(_ context.Context, r *model.Room) error {
	f.rooms = append(f.rooms, r)
	return nil
}
func (f *fakeRooms) FindByID(context.Context, string) (*model.Room, error)       { return nil, nil }
func (f *fakeRooms) FindByJoinCode(context.Context, string) (*model.Room, error) { return nil, nil }
func (f *fakeRooms) FindPublicByName(_ context.Context, name string) (*model.Room, error) {
	for _, r := range f.rooms {
		if !r.IsPrivate() && r.Name == name {
			return r, nil
		}
	}
	return nil, nil
}
func (f *fakeRooms) ListPublic(context.Context) ([]*model.Room, error) { return nil, nil }
func (f *fakeRooms) ListPrivateByMember(_ context.Context, userID string) ([]*model.Room, error) {
	var out []*model.Room
	for _, r := range f.rooms {
		if r.IsPrivate() && r.OwnerID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeRooms) IsMember(context.Context, string, string) (bool, error) { return true, nil }
func (f *fakeRooms) AddMember(context.Context, string, string, model.MemberRole) (bool, error) {
	return true, nil
}

type fakeMessages struct {
	messages []*model.Message
}

func (f *fakeMessages) Create(_ context.Context, m *model.Message) error {
	f.messages = append(f.messages, m)
	return nil
}
func (f *fakeMessages) ListByRoom(context.Context, string, int, int) ([]model.MessageWithSender, error) {
	return nil, nil
}

var (
	_ repository.UserRepository    = (*fakeUsers)(nil)
	_ repository.RoomRepository    = (*fakeRooms)(nil)
	_ repository.MessageRepository = (*fakeMessages)(nil)
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func newTestSeeder() (*Seeder, *fakeUsers, *fakeRooms, *fakeMessages) {
	users := &fakeUsers{byName: map[string]*model.User{}}
	rooms := &fakeRooms{}
	msgs := &fakeMessages{}
	s := NewSeeder(users, rooms, msgs, plainHasher{}, func() string { return "TEAM0001" })
	return s, users, rooms, msgs
}

// --- テスト ---

func TestSeeder_Run_CreatesSampleData(t *testing.T) {
	s, users, rooms, msgs := newTestSeeder()

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	for _, name := range []string{"admin", "john_doe", "jane_smith", "bob_wilson"} {
		u, ok := users.byName[name]
		if !ok {
			t.Errorf("user %s was not created", name)
			continue
		}
		if !strings.HasPrefix(u.PasswordHash, "hashed:") {
			t.Errorf("user %s password was not hashed", name)
		}
	}

	if len(rooms.rooms) != 4 {
		t.Fatalf("rooms = %d, want 4", len(rooms.rooms))
	}
	admin := users.byName["admin"]
	for _, r := range rooms.rooms {
		if r.OwnerID != admin.ID {
			t.Errorf("room %s owner = %s, want admin", r.Name, r.OwnerID)
		}
	}
	team := rooms.rooms[3]
	if team.Name != "Team Private" || !team.IsPrivate() || team.JoinCode != "TEAM0001" {
		t.Errorf("private room = %+v", team)
	}
	if team.MaxMembers == nil || *team.MaxMembers != 10 {
		t.Errorf("private room max_members = %v, want 10", team.MaxMembers)
	}

	if len(msgs.messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs.messages))
	}
	general := rooms.rooms[0]
	for i, m := range msgs.messages {
		if m.RoomID != general.ID {
			t.Errorf("message %d room = %s, want General", i, m.RoomID)
		}
		if i > 0 && !m.CreatedAt.After(msgs.messages[i-1].CreatedAt) {
			t.Errorf("message %d is not after the previous one", i)
		}
	}
	if msgs.messages[1].SenderID != users.byName["john_doe"].ID {
		t.Error("second message should be sent by john_doe")
	}
}

func TestSeeder_Run_IsIdempotent(t *testing.T) {
	s, users, rooms, msgs := newTestSeeder()
	ctx := context.Background()

	if err := s.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(ctx); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}

	if len(users.byName) != 4 {
		t.Errorf("users = %d, want 4", len(users.byName))
	}
	if len(rooms.rooms) != 4 {
		t.Errorf("rooms = %d, want 4", len(rooms.rooms))
	}
	if len(msgs.messages) != 3 {
		t.Errorf("messages = %d, want 3", len(msgs.messages))
	}
}

func TestSeeder_Run_CreateUserError(t *testing.T) {
	s, users, _, _ := newTestSeeder()
	users.createErr = errors.New("db down")

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run returned nil error")
	}
}
