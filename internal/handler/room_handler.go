package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/chatroom/internal/middleware"
	"github.com/hitoshi/chatroom/internal/model"
	"github.com/hitoshi/chatroom/internal/room"
)

// RoomServiceInterface はルームハンドラーが必要とするサービスインターフェース。
type RoomServiceInterface interface {
	ListAll(ctx context.Context, userID string) ([]*model.Room, error)
	ListPublic(ctx context.Context) ([]*model.Room, error)
	ListPrivate(ctx context.Context, userID string) ([]*model.Room, error)
	Create(ctx context.Context, ownerID string, in room.CreateInput) (*model.Room, error)
	JoinByCode(ctx context.Context, userID, code string) (*room.JoinResult, error)
	Messages(ctx context.Context, userID, roomID string, page, limit int) ([]model.MessageWithSender, error)
}

// RoomHandler はルーム管理のHTTPハンドラー。
type RoomHandler struct {
	service RoomServiceInterface
}

// NewRoomHandler はRoomHandlerを生成する。
func NewRoomHandler(service RoomServiceInterface) *RoomHandler {
	return &RoomHandler{service: service}
}

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	MaxMembers  *int   `json:"max_members"`
}

// joinByCodeRequest のroom_idはルームIDではなく8文字の参加コード。
type joinByCodeRequest struct {
	RoomCode string `json:"room_id"`
}

type roomListResponse struct {
	Rooms []roomResponse `json:"rooms"`
}

type roomResultResponse struct {
	Message string       `json:"message"`
	Room    roomResponse `json:"room"`
}

// ListRooms はパブリックルームと参加中のプライベートルームを返す。
// GET /api/rooms
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	rooms, err := h.service.ListAll(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomListResponse{Rooms: toRoomResponses(rooms)})
}

// ListPublicRooms はパブリックルームを返す。
// GET /api/rooms/public
func (h *RoomHandler) ListPublicRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.service.ListPublic(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomListResponse{Rooms: toRoomResponses(rooms)})
}

// ListPrivateRooms は参加中のプライベートルームを返す。
// GET /api/rooms/private
func (h *RoomHandler) ListPrivateRooms(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	rooms, err := h.service.ListPrivate(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomListResponse{Rooms: toRoomResponses(rooms)})
}

// CreateRoom はルームを作成する。作成者はadminとして登録される。
// POST /api/rooms
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	created, err := h.service.Create(r.Context(), userID, room.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Type:        model.RoomType(req.Type),
		MaxMembers:  req.MaxMembers,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, roomResultResponse{
		Message: "Room created successfully",
		Room:    toRoomResponse(created),
	})
}

// JoinByCode は参加コードでプライベートルームに参加する。
// POST /api/rooms/join-by-id
func (h *RoomHandler) JoinByCode(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req joinByCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	result, err := h.service.JoinByCode(r.Context(), userID, req.RoomCode)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	message := "Successfully joined the private room!"
	if result.AlreadyMember {
		message = "You are already a member of this room"
	}
	writeJSON(w, http.StatusOK, roomResultResponse{
		Message: message,
		Room:    toRoomResponse(result.Room),
	})
}

// ListMessages はルームのメッセージ履歴を時系列順に返す。
// GET /api/rooms/{id}/messages?page=1&limit=50
func (h *RoomHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	page, ok := queryInt(r, "page", 1)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("pageは整数で指定してください"))
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("limitは整数で指定してください"))
		return
	}

	msgs, err := h.service.Messages(r.Context(), userID, chi.URLParam(r, "id"), page, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]messageResponse{"messages": toMessageResponses(msgs)})
}

// queryInt はクエリパラメータを整数として読む。未指定の場合はdefaultValを返す。
func queryInt(r *http.Request, key string, defaultVal int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
