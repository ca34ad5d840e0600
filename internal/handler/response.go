package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/chatroom/internal/middleware"
	"github.com/hitoshi/chatroom/internal/model"
)

// --- レスポンス型 ---

type userResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url"`
	IsOnline    *bool      `json:"is_online,omitempty"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

type roomResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	RoomCode    string     `json:"room_id,omitempty"` // プライベートルームの参加コード
	OwnerID     string     `json:"owner_id,omitempty"`
	MemberCount *int       `json:"member_count,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

type senderResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type messageResponse struct {
	ID        string          `json:"id"`
	Content   string          `json:"content"`
	Sender    *senderResponse `json:"sender"`
	Timestamp time.Time       `json:"timestamp"`
	Edited    bool            `json:"edited"`
}

// --- 変換 ---

// toUserResponse はmodel.UserからAPIレスポンスに変換する。
// detailがtrueの場合はプロフィール用の項目も含める。
func toUserResponse(u *model.User, detail bool) userResponse {
	resp := userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
	if detail {
		online := u.IsOnline
		lastSeen := u.LastSeen.UTC()
		createdAt := u.CreatedAt.UTC()
		resp.IsOnline = &online
		resp.LastSeen = &lastSeen
		resp.CreatedAt = &createdAt
	}
	return resp
}

// toRoomResponse は一覧用のルームレスポンスを組み立てる。
// 参加コードと所有者はプライベートルームでのみ返す。
func toRoomResponse(r *model.Room) roomResponse {
	count := r.MemberCount
	createdAt := r.CreatedAt.UTC()
	resp := roomResponse{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Type:        string(r.Type),
		MemberCount: &count,
		CreatedAt:   &createdAt,
	}
	if r.IsPrivate() {
		resp.RoomCode = r.JoinCode
		resp.OwnerID = r.OwnerID
	}
	return resp
}

func toRoomResponses(rooms []*model.Room) []roomResponse {
	out := make([]roomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, toRoomResponse(r))
	}
	return out
}

func toMessageResponses(msgs []model.MessageWithSender) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp := messageResponse{
			ID:        m.ID,
			Content:   m.Content,
			Timestamp: m.CreatedAt.UTC(),
			Edited:    m.Edited,
		}
		// 送信者が削除済みの場合はnull
		if m.Sender != nil {
			resp.Sender = &senderResponse{
				ID:          m.Sender.ID,
				Username:    m.Sender.Username,
				DisplayName: m.Sender.DisplayName,
			}
		}
		out = append(out, resp)
	}
	return out
}

// --- ヘルパー関数 ---

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

func writeInvalidBody(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
}

func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationRequiredError())
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredential, model.ErrCodeAuthenticationRequired:
		return http.StatusUnauthorized
	case model.ErrCodeAccessDenied:
		return http.StatusForbidden
	case model.ErrCodeRoomNotFound, model.ErrCodeInvalidRoomCode, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateAccount, model.ErrCodeDuplicateRoomName:
		return http.StatusConflict
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
