package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/chatroom/internal/model"
	"github.com/hitoshi/chatroom/internal/realtime"
)

const generalRoomID = "6a1c1d44-0c8e-4f7e-9d27-3b1f5d0c9a01"

// --- モック定義 ---

type mockVerifier struct{}

func (mockVerifier) Verify(_ context.Context, credential string) (*realtime.Identity, error) {
	name, ok := strings.CutPrefix(credential, "token-")
	if !ok {
		return nil, realtime.ErrInvalidCredential
	}
	return &realtime.Identity{UserID: "user-" + name, Username: name, DisplayName: strings.ToUpper(name)}, nil
}

type mockStore struct {
	mu  sync.Mutex
	seq int
}

func (s *mockStore) FindRoom(_ context.Context, roomID string) (*model.Room, error) {
	if roomID != generalRoomID {
		return nil, nil
	}
	return &model.Room{ID: generalRoomID, Name: "General", Type: model.RoomTypePublic, IsActive: true}, nil
}

func (s *mockStore) ResolveRoomByCode(context.Context, string) (*model.Room, error) {
	return nil, nil
}

func (s *mockStore) IsMember(context.Context, string, string) (bool, error) { return true, nil }

func (s *mockStore) AddMember(context.Context, string, string, model.MemberRole) (bool, error) {
	return false, nil
}

func (s *mockStore) PersistMessage(_ context.Context, msg *model.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg.ID = fmt.Sprintf("msg-%d", s.seq)
	msg.CreatedAt = time.Now().UTC()
	return msg.ID, nil
}

func (s *mockStore) SetOnline(context.Context, string, bool) error { return nil }

var (
	_ realtime.Verifier = mockVerifier{}
	_ realtime.Store    = (*mockStore)(nil)
)

// --- テストヘルパー ---

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *Handler) {
	t.Helper()
	router := realtime.NewRouter(realtime.RouterDeps{
		Hub:      realtime.NewHub(64, nil, nil),
		Verifier: mockVerifier{},
		Store:    &mockStore{},
	}, realtime.RouterConfig{})
	h := NewHandler(router, cfg, nil, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, h
}

func defaultConfig() Config {
	return Config{
		PingInterval:   time.Second,
		PongTimeout:    2 * time.Second,
		MaxMessageSize: 1024,
		AllowedOrigin:  "http://localhost:3000",
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if f := read(t, conn); f.Type != realtime.OutConnected {
		t.Fatalf("first frame = %s, want connected", f.Type)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

// readUntil は指定種別のフレームが届くまで読み進める。
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := read(t, conn); f.Type == eventType {
			return f
		}
	}
	t.Fatalf("did not receive %s", eventType)
	return frame{}
}

func send(t *testing.T, conn *websocket.Conn, eventType string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": eventType, "data": data}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// --- テスト ---

func TestHandler_ChatFlow(t *testing.T) {
	srv, _ := newTestServer(t, defaultConfig())

	alice := dial(t, srv)
	send(t, alice, realtime.InAuthenticate, map[string]string{"token": "token-alice"})
	readUntil(t, alice, realtime.OutAuthenticated)
	send(t, alice, realtime.InJoinRoom, map[string]string{"room_id": generalRoomID})
	readUntil(t, alice, realtime.OutRoomJoined)

	bob := dial(t, srv)
	send(t, bob, realtime.InAuthenticate, map[string]string{"token": "token-bob"})
	readUntil(t, bob, realtime.OutAuthenticated)
	send(t, bob, realtime.InJoinRoom, map[string]string{"room_id": generalRoomID})
	readUntil(t, bob, realtime.OutRoomJoined)
	readUntil(t, alice, realtime.OutUserJoinedRoom)

	send(t, alice, realtime.InSendMessage, map[string]string{"room_id": generalRoomID, "content": "hi"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		f := readUntil(t, conn, realtime.OutNewMessage)
		var msg struct {
			Content string `json:"content"`
			Sender  struct {
				ID string `json:"id"`
			} `json:"sender"`
		}
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Content != "hi" || msg.Sender.ID != "user-alice" {
			t.Errorf("new_message = %s", f.Data)
		}
	}

	bob.Close()

	f := readUntil(t, alice, realtime.OutUserLeftRoom)
	if !strings.Contains(string(f.Data), `"user_id":"user-bob"`) {
		t.Errorf("user_left_room = %s", f.Data)
	}
	f = readUntil(t, alice, realtime.OutUserOffline)
	if !strings.Contains(string(f.Data), `"user_id":"user-bob"`) {
		t.Errorf("user_offline = %s", f.Data)
	}
}

func TestHandler_MalformedFrame(t *testing.T) {
	srv, _ := newTestServer(t, defaultConfig())
	conn := dial(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	f := read(t, conn)
	if f.Type != realtime.OutError || !strings.Contains(string(f.Data), model.ErrCodeValidation) {
		t.Errorf("got %s %s, want VALIDATION_ERROR", f.Type, f.Data)
	}

	// 接続は維持される
	send(t, conn, realtime.InJoinRoom, map[string]string{"room_id": generalRoomID})
	f = read(t, conn)
	if !strings.Contains(string(f.Data), model.ErrCodeAuthenticationRequired) {
		t.Errorf("got %s, want AUTHENTICATION_REQUIRED", f.Data)
	}
}

func TestHandler_MessageTooLargeClosesConnection(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxMessageSize = 64
	srv, _ := newTestServer(t, cfg)
	conn := dial(t, srv)

	send(t, conn, realtime.InAuthenticate, map[string]string{"token": strings.Repeat("x", 200)})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatal("connection was not closed after an oversized frame")
			}
			return
		}
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	srv, _ := newTestServer(t, defaultConfig())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial with a foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	header = http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial with the allowed origin failed: %v", err)
	}
	conn.Close()
}

func TestHandler_CloseShutsDownConnections(t *testing.T) {
	srv, h := newTestServer(t, defaultConfig())
	conn := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- h.Close(ctx) }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read error = %v, want close 1001", err)
	}
	conn.Close()

	if err := <-errCh; err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

func TestHandler_RespondsToPing(t *testing.T) {
	cfg := defaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	srv, _ := newTestServer(t, cfg)
	conn := dial(t, srv)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// 制御フレームはReadの中で処理される
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not send a ping")
	}
}
