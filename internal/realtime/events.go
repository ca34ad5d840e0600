package realtime

import (
	"encoding/json"
	"time"
)

// 受信イベント種別
const (
	InAuthenticate = "authenticate"
	InJoinRoom     = "join_room"
	InLeaveRoom    = "leave_room"
	InSendMessage  = "send_message"
	InTyping       = "typing"
	InStopTyping   = "stop_typing"
)

// 送信イベント種別
const (
	OutConnected      = "connected"
	OutAuthenticated  = "authenticated"
	OutAuthError      = "auth_error"
	OutRoomJoined     = "room_joined"
	OutRoomLeft       = "room_left"
	OutUserJoinedRoom = "user_joined_room"
	OutUserLeftRoom   = "user_left_room"
	OutNewMessage     = "new_message"
	OutUserTyping     = "user_typing"
	OutUserStopTyping = "user_stop_typing"
	OutUserOnline     = "user_online"
	OutUserOffline    = "user_offline"
	OutError          = "error"
)

// Inbound はクライアントから受信したイベント。
// Dataはイベント種別ごとのペイロードとして遅延デコードする。
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event は接続に送信するイベント。1イベントで完結したペイロードを持つ。
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Delivery は送信先の接続とイベントの組。
type Delivery struct {
	Conn  ConnID
	Event Event
}

type authenticatePayload struct {
	Token string `json:"token"`
}

type joinRoomPayload struct {
	RoomID   string `json:"room_id"`
	RoomCode string `json:"room_code"`
}

type roomPayload struct {
	RoomID string `json:"room_id"`
}

type sendMessagePayload struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

// ConnectedData はconnectedイベントのペイロード。
type ConnectedData struct {
	Message string `json:"message"`
}

// AuthenticatedData はauthenticatedイベントのペイロード。
type AuthenticatedData struct {
	User Identity `json:"user"`
}

// ErrorData はerror/auth_errorイベントのペイロード。
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoomJoinedData はroom_joinedイベントのペイロード。
type RoomJoinedData struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

// RoomLeftData はroom_leftイベントのペイロード。
type RoomLeftData struct {
	RoomID string `json:"room_id"`
}

// RoomUserData はuser_joined_room, user_left_room, user_typing, user_stop_typingのペイロード。
type RoomUserData struct {
	Identity
	RoomID string `json:"room_id"`
}

// PresenceData はuser_online/user_offlineのペイロード。
// user_offlineではDisplayNameを省略する。
type PresenceData struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// MessageData はnew_messageイベントのペイロード。
type MessageData struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender はnew_messageに埋め込む送信者情報。
type Sender struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}
