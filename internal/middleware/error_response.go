package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/chatroom/internal/model"
)

// ErrorResponseBody はREST APIのエラーレスポンス形式。
// code と message はソケットのerrorイベントと同じ値を使う。
// retry_after はレート制限時のみ設定する（秒）。
type ErrorResponseBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Category   string `json:"category"`
	Action     string `json:"action"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func newErrorResponseBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

func writeErrorBody(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode error response",
			slog.String("code", body.Code),
			slog.String("error", err.Error()),
		)
	}
}

// WriteErrorResponse はAPIErrorをJSONで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeErrorBody(w, statusCode, newErrorResponseBody(apiErr))
}

// WriteRateLimited は429とRetry-Afterヘッダーを書き込む。待ち時間は秒に切り上げ、最低1秒とする。
func WriteRateLimited(w http.ResponseWriter, wait time.Duration) {
	sec := int(math.Ceil(wait.Seconds()))
	if sec < 1 {
		sec = 1
	}
	body := newErrorResponseBody(model.NewRateLimitedError())
	body.RetryAfter = sec

	w.Header().Set("Retry-After", strconv.Itoa(sec))
	writeErrorBody(w, http.StatusTooManyRequests, body)
}

// WriteInternalServerError は500を書き込む。原因はレスポンスに含めない。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
